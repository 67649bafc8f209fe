// Package replication implements Serengeti's transport layer:
// point-to-point RPC over ZeroMQ REQ/REP for targeted sends, and a
// fire-and-forget PUB/SUB broadcast over nanomsg for cluster-wide
// announcements.
package replication

import (
	"encoding/json"

	"github.com/serengeti-db/serengeti/internal/catalog"
)

// MessageType tags every envelope on the wire: all messages are JSON
// objects with a `type` field.
type MessageType string

const (
	MsgReplicateInsert MessageType = "ReplicateInsert"
	MsgReplicateUpdate MessageType = "ReplicateUpdate"
	MsgReplicateDelete MessageType = "ReplicateDelete"
	MsgPlacementUpdate MessageType = "PlacementUpdate"
	MsgMetaSync        MessageType = "MetaSync"
	MsgJoinCluster     MessageType = "JoinCluster"
)

// Envelope is the single wire message shape for both transports.
type Envelope struct {
	Type      MessageType        `json:"type"`
	DB        string             `json:"db,omitempty"`
	Table     string             `json:"table,omitempty"`
	RowID     string             `json:"rowId,omitempty"`
	Row       *catalog.Row       `json:"row,omitempty"`
	Placement *catalog.Placement `json:"placement,omitempty"`
	NodeID    string             `json:"nodeId,omitempty"`
	IP        string             `json:"ip,omitempty"`
}

// Ack is the REP-side reply to a point-to-point send.
type Ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (e Envelope) marshal() ([]byte, error) { return json.Marshal(e) }

func unmarshalEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(data, &e)
	return e, err
}
