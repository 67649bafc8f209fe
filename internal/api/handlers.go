package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/serengeti-db/serengeti/internal/catalog"
	"github.com/serengeti-db/serengeti/internal/errs"
	"github.com/serengeti-db/serengeti/internal/executor"
	"github.com/serengeti-db/serengeti/internal/query"
	"github.com/serengeti-db/serengeti/internal/replication"
)

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

// httpStatusFor maps the errs.Kind taxonomy onto HTTP status codes,
// matching the style the executor's Result.Error already surfaces but
// giving each kind a status code for HTTP callers.
func httpStatusFor(err error) int {
	kind, ok := errs.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case errs.KindParse:
		return http.StatusBadRequest
	case errs.KindCatalogConflict:
		return http.StatusConflict
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindCancellation:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// handleRoot answers `GET /`: node identity plus a coarse view of the
// cluster it currently sees.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	self := s.membership.Self()
	var resp RootResponse
	resp.This.ID = self.ID
	resp.This.IP = self.IP
	resp.This.Version = Version
	resp.Cluster.Size = s.membership.Size()
	resp.Cluster.Coordinator = s.membership.Coordinator()
	respondJSON(w, http.StatusOK, resp)
}

// handleHealth answers `GET /health`. DOWN when the membership table
// (which includes this node's own entry) is empty, DEGRADED when the
// persistence scheduler's last pass failed, UP otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "UP"
	httpStatus := http.StatusOK

	if s.membership.Size() == 0 {
		status = "DOWN"
		httpStatus = http.StatusServiceUnavailable
	} else if s.scheduler != nil && !s.scheduler.HealthSnapshot().LastPassOK {
		status = "DEGRADED"
		httpStatus = http.StatusOK
	}

	respondJSON(w, httpStatus, HealthResponse{Status: status})
}

// handleAdmin answers `GET /admin`: a fixed description of the
// administrative surface, gated by requireAdmin.
func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, AdminResponse{
		Commands: []string{"GET /admin", "POST /admin/token", "GET /meta", "POST /post", "POST /query"},
	})
}

// handleAdminToken answers `POST /admin/token`: trade the configured
// admin secret for a short-lived JWT.
func (s *Server) handleAdminToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req AdminTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if s.admin == nil {
		respondError(w, http.StatusServiceUnavailable, "admin auth not configured")
		return
	}
	token, expiresAt, err := s.admin.MintToken(req.Secret)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, AdminTokenResponse{Token: token, ExpiresAt: expiresAt.Format(time.RFC3339)})
}

// handleMeta answers `GET /meta`: every database's table list, for
// clients that want the catalog shape without issuing SHOW statements.
func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	out := make(map[string][]string)
	for _, db := range s.catalog.ListDatabases() {
		tables, err := s.catalog.ListTables(db)
		if err != nil {
			respondError(w, httpStatusFor(err), err.Error())
			return
		}
		out[db] = tables
	}
	respondJSON(w, http.StatusOK, out)
}

// postTypeToMessageType translates the HTTP boundary's literal
// wire-message type strings onto the internal replication.MessageType
// consts the transport already speaks over ZMQ/mangos.
func postTypeToMessageType(t string) (replication.MessageType, bool) {
	switch t {
	case "ReplicateInsertObject":
		return replication.MsgReplicateInsert, true
	case "ReplicateUpdateObject":
		return replication.MsgReplicateUpdate, true
	case "ReplicateDeleteObject":
		return replication.MsgReplicateDelete, true
	case "TableReplicaObject", "TableReplicaObjectInsertOrReplace":
		// ApplyReplicatedPlacement is already an idempotent map-set, so
		// both the "first assignment" and "insert or replace" message
		// variants resolve to the same internal op.
		return replication.MsgPlacementUpdate, true
	case "MetaRequest":
		return replication.MsgMetaSync, true
	case "JoinCluster":
		return replication.MsgJoinCluster, true
	default:
		return "", false
	}
}

// handlePost answers `POST /post`: the cluster-internal replication/
// control-message endpoint, receiving over HTTP the same envelope
// shape the ZMQ/mangos transport carries on the wire.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var msg PostMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	msgType, ok := postTypeToMessageType(msg.Type)
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown message type: "+msg.Type)
		return
	}

	env := replication.Envelope{
		Type:   msgType,
		DB:     msg.DB,
		Table:  msg.Table,
		RowID:  msg.RowID,
		NodeID: msg.NodeID,
		IP:     msg.IP,
	}

	switch msgType {
	case replication.MsgReplicateInsert, replication.MsgReplicateUpdate:
		columns := make(map[string]catalog.Value, len(msg.JSON))
		for k, v := range msg.JSON {
			columns[k] = catalog.ValueFromJSON(v)
		}
		env.Row = &catalog.Row{RowID: msg.RowID, Columns: columns}

	case replication.MsgPlacementUpdate:
		placement := catalog.Placement{Primary: msg.NodeID}
		if primary, ok := msg.JSON["primary"].(string); ok {
			placement.Primary = primary
		}
		if secondary, ok := msg.JSON["secondary"].(string); ok {
			placement.Secondary = secondary
		}
		env.Placement = &placement
	}

	ack := s.transport.Apply(env)
	if !ack.OK {
		respondJSON(w, http.StatusUnprocessableEntity, PostResponse{OK: false, Error: ack.Error})
		return
	}
	respondJSON(w, http.StatusOK, PostResponse{OK: true})
}

// handleQuery answers `POST /query`: a `;`-separated batch of
// statements, each parsed and executed independently so one
// statement's parse failure surfaces as its own {executed:false,error}
// entry instead of aborting the whole batch (unlike query.Parse, which
// returns on the first error).
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	body, err := readBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	statements := query.SplitStatements(string(body))
	if len(statements) == 0 {
		respondError(w, http.StatusBadRequest, "empty query")
		return
	}

	results := make([]executor.Result, 0, len(statements))
	for _, raw := range statements {
		if raw == "" {
			continue
		}
		results = append(results, s.runStatement(r.Context(), raw))
	}
	respondJSON(w, http.StatusOK, results)
}

// runStatement lexes, parses, and executes exactly one statement,
// isolating its failure from the rest of the /query batch.
func (s *Server) runStatement(ctx context.Context, raw string) executor.Result {
	lexer := query.NewLexer(raw)
	tokens, err := lexer.Tokenize()
	if err != nil {
		return executor.Result{Executed: false, Error: "lex error: " + err.Error()}
	}
	parser := query.NewParser(tokens)
	stmt, err := parser.ParseOne()
	if err != nil {
		return executor.Result{Executed: false, Error: err.Error()}
	}

	results := s.executor.ExecuteBatch(ctx, []query.Statement{stmt})
	if len(results) == 0 {
		return executor.Result{Executed: false, Error: "no result produced"}
	}
	return results[0]
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
