package replication

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"
	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"
	"go.nanomsg.org/mangos/v3/protocol/sub"
	_ "go.nanomsg.org/mangos/v3/transport/all"

	"github.com/serengeti-db/serengeti/internal/catalog"
	"github.com/serengeti-db/serengeti/internal/cluster"
	"github.com/serengeti-db/serengeti/internal/logging"
	"github.com/serengeti-db/serengeti/internal/metrics"
)

// Config configures the transport's listen ports and timeouts.
type Config struct {
	SelfID        string
	ZMQPort       int // REQ/REP point-to-point port
	BroadcastPort int // PUB/SUB fan-out port
	SendTimeout   time.Duration
}

// DefaultConfig fills reasonable transport ports and a 2.5s send timeout.
func DefaultConfig(selfID string) Config {
	return Config{SelfID: selfID, ZMQPort: 5555, BroadcastPort: 5556, SendTimeout: 2500 * time.Millisecond}
}

// Transport is Serengeti's replication RPC layer: a ZeroMQ REP server
// answering targeted sends, a nanomsg PUB socket for broadcasts, and a
// SUB socket consuming every peer's broadcasts.
type Transport struct {
	cfg        Config
	membership *cluster.Membership
	applier    Applier
	metrics    *metrics.Registry
	log        *logging.Logger

	repSocket *zmq.Socket
	pubSocket mangos.Socket
	subSocket mangos.Socket

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Transport bound to membership and applier.
func New(cfg Config, membership *cluster.Membership, applier Applier, reg *metrics.Registry, log *logging.Logger) *Transport {
	if log == nil {
		log = logging.Nop()
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 2500 * time.Millisecond
	}
	return &Transport{
		cfg:        cfg,
		membership: membership,
		applier:    applier,
		metrics:    reg,
		log:        log.Component("replication"),
		stopCh:     make(chan struct{}),
	}
}

// Start binds the REP/PUB sockets, creates a SUB socket subscribed to
// every topic, and launches the serve loops. It dials no peer; each
// peer's broadcast port is dialed later through DialPeerBroadcast.
func (t *Transport) Start() error {
	rep, err := zmq.NewSocket(zmq.REP)
	if err != nil {
		return fmt.Errorf("create REP socket: %w", err)
	}
	if err := rep.Bind(fmt.Sprintf("tcp://*:%d", t.cfg.ZMQPort)); err != nil {
		rep.Close()
		return fmt.Errorf("bind REP socket: %w", err)
	}
	t.repSocket = rep

	pubSock, err := pub.NewSocket()
	if err != nil {
		rep.Close()
		return fmt.Errorf("create PUB socket: %w", err)
	}
	if err := pubSock.Listen(fmt.Sprintf("tcp://*:%d", t.cfg.BroadcastPort)); err != nil {
		pubSock.Close()
		rep.Close()
		return fmt.Errorf("bind PUB socket: %w", err)
	}
	t.pubSocket = pubSock

	subSock, err := sub.NewSocket()
	if err != nil {
		pubSock.Close()
		rep.Close()
		return fmt.Errorf("create SUB socket: %w", err)
	}
	if err := subSock.SetOption(mangos.OptionSubscribe, []byte("")); err != nil {
		subSock.Close()
		pubSock.Close()
		rep.Close()
		return fmt.Errorf("subscribe SUB socket: %w", err)
	}
	t.subSocket = subSock

	t.wg.Add(2)
	go t.serveREP()
	go t.consumeBroadcasts()

	t.log.Info("replication transport started",
		logging.F("zmq_port", t.cfg.ZMQPort), logging.F("broadcast_port", t.cfg.BroadcastPort))
	return nil
}

// Stop closes all sockets and waits for both serve loops to exit.
func (t *Transport) Stop() {
	close(t.stopCh)
	if t.repSocket != nil {
		t.repSocket.Close()
	}
	if t.pubSocket != nil {
		t.pubSocket.Close()
	}
	if t.subSocket != nil {
		t.subSocket.Close()
	}
	t.wg.Wait()
}

// DialPeerBroadcast connects the SUB socket to ip's broadcast port,
// called once per newly discovered peer.
func (t *Transport) DialPeerBroadcast(ip string) error {
	if t.subSocket == nil {
		return nil
	}
	return t.subSocket.Dial(fmt.Sprintf("tcp://%s:%d", ip, t.cfg.BroadcastPort))
}

// serveREP handles inbound point-to-point sends one at a time over a
// single REQ/REP socket.
func (t *Transport) serveREP() {
	defer t.wg.Done()
	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		raw, err := t.repSocket.RecvBytes(0)
		if err != nil {
			select {
			case <-t.stopCh:
				return
			default:
				continue
			}
		}

		ack := t.handleEnvelope(raw)
		data, _ := json.Marshal(ack)
		t.repSocket.SendBytes(data, 0)
	}
}

// consumeBroadcasts applies PlacementUpdate/MetaSync messages that
// arrive fire-and-forget over the SUB socket.
func (t *Transport) consumeBroadcasts() {
	defer t.wg.Done()
	for {
		raw, err := t.subSocket.Recv()
		if err != nil {
			select {
			case <-t.stopCh:
				return
			default:
				continue
			}
		}
		t.handleEnvelope(raw)
	}
}

func (t *Transport) handleEnvelope(raw []byte) Ack {
	env, err := unmarshalEnvelope(raw)
	if err != nil {
		return Ack{OK: false, Error: "malformed envelope: " + err.Error()}
	}
	return t.Apply(env)
}

// Apply processes one inbound envelope directly, bypassing the wire
// transport. The HTTP `/post` boundary receives its message already
// JSON-decoded rather than over ZMQ/mangos, so it builds an Envelope
// itself and calls this instead of handleEnvelope.
func (t *Transport) Apply(env Envelope) Ack {
	var applyErr error
	switch env.Type {
	case MsgReplicateInsert:
		applyErr = t.applyRow(env, t.applier.ApplyReplicatedInsert)
	case MsgReplicateUpdate:
		applyErr = t.applyRow(env, t.applier.ApplyReplicatedUpdate)
	case MsgReplicateDelete:
		applyErr = t.applyTableOnly(env, func(db, table string) error {
			return t.applier.ApplyReplicatedDelete(db, table, env.RowID)
		})
	case MsgPlacementUpdate:
		if env.Placement == nil {
			return Ack{OK: false, Error: "PlacementUpdate missing placement"}
		}
		applyErr = t.applyTableOnly(env, func(db, table string) error {
			return t.applier.ApplyReplicatedPlacement(db, table, env.RowID, *env.Placement)
		})
	case MsgJoinCluster, MsgMetaSync:
		// advisory only in this module; acknowledged without local effect.
	default:
		return Ack{OK: false, Error: "unknown message type: " + string(env.Type)}
	}

	if applyErr != nil {
		if t.metrics != nil {
			t.metrics.RecordReplicationFailure()
		}
		return Ack{OK: false, Error: applyErr.Error()}
	}
	return Ack{OK: true}
}

func (t *Transport) applyRow(env Envelope, apply func(db, table string, row catalog.Row) error) error {
	if env.Row == nil {
		return fmt.Errorf("%s missing row", env.Type)
	}
	if err := t.applier.EnsureDatabase(env.DB); err != nil {
		return err
	}
	if err := t.applier.EnsureTable(env.DB, env.Table); err != nil {
		return err
	}
	return apply(env.DB, env.Table, *env.Row)
}

func (t *Transport) applyTableOnly(env Envelope, apply func(db, table string) error) error {
	if err := t.applier.EnsureDatabase(env.DB); err != nil {
		return err
	}
	if err := t.applier.EnsureTable(env.DB, env.Table); err != nil {
		return err
	}
	return apply(env.DB, env.Table)
}

func cryptoRandBool() bool {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	if err != nil {
		return true
	}
	return n.Int64() == 0
}
