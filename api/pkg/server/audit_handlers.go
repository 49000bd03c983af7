package server

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/imagedesk/imagedesk/api/pkg/store"
	"github.com/imagedesk/imagedesk/api/pkg/types"
)

type auditListResponse struct {
	Entries []*types.AuditEntry `json:"entries"`
	Total   int64               `json:"total"`
}

// listAuditEntries serves the admin audit query API. Filters by actor,
// action, session and time range; entries come back in timestamp order
// so a session's history reads top to bottom.
func (apiServer *APIServer) listAuditEntries(rw http.ResponseWriter, req *http.Request) {
	q, err := auditQueryFromRequest(req)
	if err != nil {
		writeErrResponse(rw, req, err, http.StatusBadRequest)
		return
	}

	entries, total, err := apiServer.Store.ListAuditEntries(req.Context(), q)
	if err != nil {
		writeErrResponse(rw, req, err, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, &auditListResponse{Entries: entries, Total: total}, http.StatusOK)
}

// exportAuditEntries streams the filtered audit trail as CSV for
// compliance reviews.
func (apiServer *APIServer) exportAuditEntries(rw http.ResponseWriter, req *http.Request) {
	q, err := auditQueryFromRequest(req)
	if err != nil {
		writeErrResponse(rw, req, err, http.StatusBadRequest)
		return
	}
	// export means everything that matches, not one page
	q.Offset = 0
	q.Limit = 0

	entries, _, err := apiServer.Store.ListAuditEntries(req.Context(), q)
	if err != nil {
		writeErrResponse(rw, req, err, http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "text/csv")
	rw.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=audit-%s.csv", time.Now().Format("2006-01-02")))

	writer := csv.NewWriter(rw)
	header := []string{"id", "timestamp", "actor_id", "actor_role", "action", "session_id", "outcome", "ip_address", "details"}
	if err := writer.Write(header); err != nil {
		log.Err(err).Msg("error writing csv header")
		return
	}
	for _, entry := range entries {
		details := ""
		if len(entry.Details) > 0 {
			raw, err := json.Marshal(entry.Details)
			if err == nil {
				details = string(raw)
			}
		}
		record := []string{
			entry.ID,
			entry.Timestamp.UTC().Format(time.RFC3339),
			entry.ActorID,
			string(entry.ActorRole),
			entry.Action,
			entry.SessionID,
			entry.Outcome,
			entry.IPAddress,
			details,
		}
		if err := writer.Write(record); err != nil {
			log.Err(err).Msg("error writing csv record")
			return
		}
	}
	writer.Flush()
}

func auditQueryFromRequest(req *http.Request) (store.ListAuditQuery, error) {
	q := store.ListAuditQuery{
		ActorID:   req.URL.Query().Get("actor_id"),
		Action:    req.URL.Query().Get("action"),
		SessionID: req.URL.Query().Get("session_id"),
		Offset:    parseIntParam(req, "offset", 0),
		Limit:     parseIntParam(req, "limit", 100),
	}
	if raw := req.URL.Query().Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, fmt.Errorf("invalid from timestamp: %w", err)
		}
		q.From = from
	}
	if raw := req.URL.Query().Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, fmt.Errorf("invalid to timestamp: %w", err)
		}
		q.To = to
	}
	return q, nil
}
