package cluster

import "testing"

func TestUpsertFiresOnNewPeerForOthersNotSelf(t *testing.T) {
	m := NewMembership("self", "10.0.0.1", nil)

	var dialed []string
	m.OnNewPeer(func(ip string) { dialed = append(dialed, ip) })

	m.Upsert("self", "10.0.0.1", 1)
	if len(dialed) != 0 {
		t.Fatalf("expected no callback for self, got %v", dialed)
	}

	m.Upsert("peer-a", "10.0.0.2", 1)
	if len(dialed) != 1 || dialed[0] != "10.0.0.2" {
		t.Fatalf("expected callback with peer-a's ip, got %v", dialed)
	}

	m.Upsert("peer-a", "10.0.0.2", 2)
	if len(dialed) != 1 {
		t.Fatalf("expected no callback on refresh of an existing peer, got %v", dialed)
	}
}

func TestEvictStaleRemovesOnlyOldMembers(t *testing.T) {
	m := NewMembership("self", "10.0.0.1", nil)
	m.Upsert("peer-a", "10.0.0.2", 5)
	m.Upsert("peer-b", "10.0.0.3", 10)

	lost := m.EvictStale(10)
	if len(lost) != 1 || lost[0] != "peer-a" {
		t.Fatalf("expected peer-a evicted, got %v", lost)
	}
	if m.Size() != 2 { // self + peer-b
		t.Fatalf("expected size 2 after eviction, got %d", m.Size())
	}
}

func TestCoordinatorPicksLowestIP(t *testing.T) {
	m := NewMembership("self", "10.0.0.9", nil)
	m.Upsert("peer-a", "10.0.0.2", 1)
	m.Upsert("peer-b", "10.0.0.10", 1)

	if got := m.Coordinator(); got != "peer-a" {
		t.Fatalf("expected peer-a (10.0.0.2) as coordinator, got %v", got)
	}
}
