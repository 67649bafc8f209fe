package replication

import (
	"encoding/json"
	"fmt"

	zmq "github.com/pebbe/zmq4"

	"github.com/serengeti-db/serengeti/internal/catalog"
	"github.com/serengeti-db/serengeti/internal/logging"
)

// sendToNode opens a short-lived REQ socket to nodeID's ip:ZMQPort,
// sends env, and waits for an Ack within cfg.SendTimeout. Returns false
// on any network error or a negative ack.
func (t *Transport) sendToNode(nodeID string, env Envelope) bool {
	ip, ok := t.membership.IP(nodeID)
	if !ok {
		return false
	}

	sock, err := zmq.NewSocket(zmq.REQ)
	if err != nil {
		t.log.Warn("sendToNode: create REQ socket failed", logging.F("error", err.Error()))
		return false
	}
	defer sock.Close()

	sock.SetSndtimeo(t.cfg.SendTimeout)
	sock.SetRcvtimeo(t.cfg.SendTimeout)
	sock.SetLinger(0)

	if err := sock.Connect(fmt.Sprintf("tcp://%s:%d", ip, t.cfg.ZMQPort)); err != nil {
		t.recordFailure()
		return false
	}

	data, err := env.marshal()
	if err != nil {
		return false
	}
	if _, err := sock.SendBytes(data, 0); err != nil {
		t.recordFailure()
		return false
	}

	reply, err := sock.RecvBytes(0)
	if err != nil {
		t.recordFailure()
		return false
	}

	var ack Ack
	if err := json.Unmarshal(reply, &ack); err != nil {
		return false
	}
	if !ack.OK {
		t.recordFailure()
	} else if t.metrics != nil {
		t.metrics.RecordReplicationSuccess()
	}
	return ack.OK
}

func (t *Transport) recordFailure() {
	if t.metrics != nil {
		t.metrics.RecordReplicationFailure()
	}
}

// broadcastAllNodes fire-and-forgets env to every current member except
// self over the PUB socket.
func (t *Transport) broadcastAllNodes(env Envelope) {
	if t.pubSocket == nil {
		return
	}
	data, err := env.marshal()
	if err != nil {
		return
	}
	if err := t.pubSocket.Send(data); err != nil {
		t.recordFailure()
		t.log.Warn("broadcast failed", logging.F("error", err.Error()))
		return
	}
	if t.metrics != nil {
		t.metrics.RecordBroadcast()
	}
}

// PickPrimarySecondary returns two distinct members when |members| >= 2:
// the first two entries of the current membership list, swapped or not
// by a cryptographic coin flip per call. With a single member it returns
// that member as primary and no secondary.
func (t *Transport) PickPrimarySecondary() (primary, secondary catalog.NodeID, err error) {
	all := t.membership.All()
	if len(all) == 0 {
		return "", "", fmt.Errorf("no members known")
	}
	if len(all) == 1 {
		return all[0].ID, "", nil
	}

	idx := make([]int, len(all))
	for i := range idx {
		idx[i] = i
	}
	if cryptoRandBool() {
		idx[0], idx[1] = idx[1], idx[0]
	}
	return all[idx[0]].ID, all[idx[1]].ID, nil
}

// BroadcastPlacement announces a row's new placement to the cluster.
func (t *Transport) BroadcastPlacement(db, table, rowID string, p catalog.Placement) {
	t.broadcastAllNodes(Envelope{
		Type:      MsgPlacementUpdate,
		DB:        db,
		Table:     table,
		RowID:     rowID,
		Placement: &p,
	})
}

// SendReplicateInsert forwards row to nodeID.
func (t *Transport) SendReplicateInsert(nodeID, db, table string, row catalog.Row) bool {
	if nodeID == "" || nodeID == t.cfg.SelfID {
		return true
	}
	return t.sendToNode(nodeID, Envelope{Type: MsgReplicateInsert, DB: db, Table: table, RowID: row.RowID, Row: &row})
}

// SendReplicateUpdate forwards an updated row to nodeID.
func (t *Transport) SendReplicateUpdate(nodeID, db, table string, row catalog.Row) bool {
	if nodeID == "" || nodeID == t.cfg.SelfID {
		return true
	}
	return t.sendToNode(nodeID, Envelope{Type: MsgReplicateUpdate, DB: db, Table: table, RowID: row.RowID, Row: &row})
}

// SendReplicateDelete forwards a tombstone to nodeID.
func (t *Transport) SendReplicateDelete(nodeID, db, table, rowID string) bool {
	if nodeID == "" || nodeID == t.cfg.SelfID {
		return true
	}
	return t.sendToNode(nodeID, Envelope{Type: MsgReplicateDelete, DB: db, Table: table, RowID: rowID})
}

// IPFromNodeID looks up nodeID's current address.
func (t *Transport) IPFromNodeID(nodeID string) (string, bool) {
	return t.membership.IP(nodeID)
}
