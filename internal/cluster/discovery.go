package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/serengeti-db/serengeti/internal/logging"
)

// probeResponse is the shape of `GET /` this package expects from a
// reachable peer: fetch `/` and parse `{this: {id, ip}}`.
type probeResponse struct {
	This struct {
		ID string `json:"id"`
		IP string `json:"ip"`
	} `json:"this"`
}

// ReshuffleHandler is notified once per evicted node, after the
// configured debounce window, so a single flaky sweep does not trigger
// unnecessary data movement.
type ReshuffleHandler interface {
	HandleNodeLost(id NodeID)
}

// Discovery runs the periodic subnet sweep and coordinator election: an
// active /24 probe rather than seed-node announcement.
type Discovery struct {
	cfg        Config
	membership *Membership
	reshuffle  ReshuffleHandler
	client     *http.Client
	log        *logging.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	pendingMu sync.Mutex
	pending   map[NodeID]*time.Timer

	coordMu     sync.RWMutex
	coordinator NodeID
}

// NewDiscovery builds a Discovery bound to membership. reshuffle may be
// nil in tests that do not exercise data movement.
func NewDiscovery(cfg Config, membership *Membership, reshuffle ReshuffleHandler, log *logging.Logger) *Discovery {
	if log == nil {
		log = logging.Nop()
	}
	return &Discovery{
		cfg:        cfg,
		membership: membership,
		reshuffle:  reshuffle,
		client:     &http.Client{Timeout: cfg.NetworkTimeout},
		log:        log.Component("discovery"),
		stopCh:     make(chan struct{}),
		pending:    make(map[NodeID]*time.Timer),
	}
}

// Start launches the sweep loop.
func (d *Discovery) Start() {
	d.wg.Add(1)
	go d.loop()
}

// Stop cancels the loop and any pending debounced reshuffles.
func (d *Discovery) Stop() {
	close(d.stopCh)
	d.wg.Wait()

	d.pendingMu.Lock()
	for _, t := range d.pending {
		t.Stop()
	}
	d.pendingMu.Unlock()
}

func (d *Discovery) loop() {
	defer d.wg.Done()
	d.sweep()

	ticker := time.NewTicker(d.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.sweep()
		case <-d.stopCh:
			return
		}
	}
}

// sweep probes every host in the local /24 concurrently, merges
// reachable peers into membership, evicts anything stale, and
// re-elects the coordinator.
func (d *Discovery) sweep() {
	sweepStart := time.Now().UnixMilli()
	d.membership.TouchSelf(sweepStart)

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PingInterval)
	defer cancel()

	hosts, err := localSubnetHosts(d.cfg.SelfIP)
	if err != nil {
		d.log.Warn("could not determine local subnet", logging.F("error", err.Error()))
		return
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, 64)
	for _, ip := range hosts {
		if ip == d.cfg.SelfIP {
			continue
		}
		ip := ip
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			d.probe(ctx, ip, sweepStart)
		}()
	}
	wg.Wait()

	lost := d.membership.EvictStale(sweepStart)
	for _, id := range lost {
		d.scheduleReshuffle(id)
	}

	d.electCoordinator()
}

func (d *Discovery) probe(ctx context.Context, ip string, sweepStart int64) {
	url := fmt.Sprintf("http://%s:%d/", ip, d.cfg.DiscoveryPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	var body probeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return
	}
	if body.This.ID == "" {
		return
	}

	d.membership.Upsert(body.This.ID, ip, sweepStart)
}

// scheduleReshuffle debounces a lost-node notification by
// cfg.ReshuffleDebounce, so a node that reappears before the timer
// fires never triggers data movement.
func (d *Discovery) scheduleReshuffle(id NodeID) {
	if d.reshuffle == nil {
		return
	}

	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	if t, ok := d.pending[id]; ok {
		t.Stop()
	}
	d.pending[id] = time.AfterFunc(d.cfg.ReshuffleDebounce, func() {
		d.pendingMu.Lock()
		delete(d.pending, id)
		d.pendingMu.Unlock()

		if _, stillKnown := d.membership.IP(id); stillKnown {
			return // node rejoined before the debounce window elapsed
		}
		d.reshuffle.HandleNodeLost(id)
	})
}

func (d *Discovery) electCoordinator() {
	c := d.membership.Coordinator()
	d.coordMu.Lock()
	d.coordinator = c
	d.coordMu.Unlock()
}

// Coordinator returns the most recently elected coordinator id.
func (d *Discovery) Coordinator() NodeID {
	d.coordMu.RLock()
	defer d.coordMu.RUnlock()
	return d.coordinator
}

// IsOnline reports whether the membership table has any entry; used by
// the persistence scheduler's offline-skip check. The table holds this
// node's own entry, so this reports true whether or not a sweep has
// completed.
func (d *Discovery) IsOnline() bool {
	return d.membership.Size() > 0
}

// localSubnetHosts enumerates every host address in ip's /24, e.g.
// "10.0.1.1".."10.0.1.254" for ip "10.0.1.7" (the network and broadcast
// addresses are left out).
func localSubnetHosts(ip string) ([]string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return nil, fmt.Errorf("not an IPv4 address: %q", ip)
	}
	parts := strings.Split(parsed.To4().String(), ".")
	if len(parts) != 4 {
		return nil, fmt.Errorf("malformed IPv4 address: %q", ip)
	}

	base := parts[0] + "." + parts[1] + "." + parts[2] + "."
	hosts := make([]string, 0, 254)
	for i := 1; i <= 254; i++ {
		hosts = append(hosts, base+strconv.Itoa(i))
	}
	return hosts, nil
}

// LocalIPv4 returns this host's first non-loopback IPv4 address,
// used to seed Config.SelfIP when not explicitly configured.
func LocalIPv4() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return "", fmt.Errorf("no non-loopback IPv4 address found")
}
