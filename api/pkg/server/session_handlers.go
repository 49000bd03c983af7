package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/imagedesk/imagedesk/api/pkg/orchestrator"
	"github.com/imagedesk/imagedesk/api/pkg/pool"
	"github.com/imagedesk/imagedesk/api/pkg/store"
	"github.com/imagedesk/imagedesk/api/pkg/system"
	"github.com/imagedesk/imagedesk/api/pkg/types"
)

const MEGABYTE = 1024 * 1024

// createSession starts a new remote imaging session for the calling
// doctor. Responds 201 with the record in creating state; 409 when the
// doctor already has a live session; 429 when every host slot is taken.
func (apiServer *APIServer) createSession(rw http.ResponseWriter, req *http.Request) {
	var createReq types.CreateSessionRequest
	err := json.NewDecoder(io.LimitReader(req.Body, 1*MEGABYTE)).Decode(&createReq)
	if err != nil {
		http.Error(rw, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	user := getRequestUser(req)
	session, err := apiServer.Orchestrator.CreateSession(req.Context(), user, &createReq, getClientIP(req))
	if err != nil {
		writeSessionError(rw, req, err)
		return
	}

	writeResponse(rw, session, http.StatusCreated)
}

func (apiServer *APIServer) getSession(rw http.ResponseWriter, req *http.Request) {
	user := getRequestUser(req)
	id := mux.Vars(req)["id"]

	session, err := apiServer.Orchestrator.GetSession(req.Context(), user, id)
	if err != nil {
		writeSessionError(rw, req, err)
		return
	}

	writeResponse(rw, session, http.StatusOK)
}

// getActiveSession returns the caller's current live session so the
// frontend can resume it after a page reload.
func (apiServer *APIServer) getActiveSession(rw http.ResponseWriter, req *http.Request) {
	user := getRequestUser(req)

	session, err := apiServer.Orchestrator.GetActiveSession(req.Context(), user)
	if err != nil {
		writeSessionError(rw, req, err)
		return
	}

	writeResponse(rw, session, http.StatusOK)
}

func (apiServer *APIServer) listSessions(rw http.ResponseWriter, req *http.Request) {
	user := getRequestUser(req)

	q := store.ListSessionsQuery{
		NonTerminal: req.URL.Query().Get("non_terminal") == "true",
		Offset:      parseIntParam(req, "offset", 0),
		Limit:       parseIntParam(req, "limit", 100),
	}
	if user.IsAdmin() {
		q.DoctorID = req.URL.Query().Get("doctor_id")
	}

	sessions, err := apiServer.Orchestrator.ListSessions(req.Context(), user, q)
	if err != nil {
		writeErrResponse(rw, req, err, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, sessions, http.StatusOK)
}

// deleteSession ends a session. Idempotent: deleting an already
// terminated session still returns 204.
func (apiServer *APIServer) deleteSession(rw http.ResponseWriter, req *http.Request) {
	user := getRequestUser(req)
	id := mux.Vars(req)["id"]

	if err := apiServer.Orchestrator.EndSession(req.Context(), user, id, getClientIP(req)); err != nil {
		writeSessionError(rw, req, err)
		return
	}

	rw.WriteHeader(http.StatusNoContent)
}

func (apiServer *APIServer) recordActivity(rw http.ResponseWriter, req *http.Request) {
	user := getRequestUser(req)
	id := mux.Vars(req)["id"]

	_, err := apiServer.Orchestrator.RecordActivity(req.Context(), user, id, getClientIP(req))
	if err != nil {
		writeSessionError(rw, req, err)
		return
	}

	// activity pings are fire-and-forget from the client's perspective
	rw.WriteHeader(http.StatusNoContent)
}

func (apiServer *APIServer) getConnection(rw http.ResponseWriter, req *http.Request) {
	user := getRequestUser(req)
	id := mux.Vars(req)["id"]

	url, err := apiServer.Orchestrator.ConnectionURL(req.Context(), user, id)
	if err != nil {
		writeSessionError(rw, req, err)
		return
	}

	writeResponse(rw, &types.ConnectionResponse{URL: url}, http.StatusOK)
}

func (apiServer *APIServer) triggerSweep(rw http.ResponseWriter, req *http.Request) {
	if apiServer.Sweeper == nil {
		writeErrResponse(rw, req, errors.New("sweeper not configured"), http.StatusServiceUnavailable)
		return
	}
	if err := apiServer.Sweeper.Sweep(req.Context()); err != nil {
		writeErrResponse(rw, req, err, http.StatusInternalServerError)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (apiServer *APIServer) poolStatus(rw http.ResponseWriter, req *http.Request) {
	p := apiServer.Orchestrator.Pool()
	writeResponse(rw, map[string]interface{}{
		"capacity": p.Capacity(),
		"bound":    p.BoundCount(),
		"slots":    p.Snapshot(),
	}, http.StatusOK)
}

// writeSessionError maps orchestrator errors to the API status codes.
func writeSessionError(rw http.ResponseWriter, req *http.Request, err error) {
	var httpErr *system.HTTPError
	switch {
	case errors.As(err, &httpErr):
		writeErrResponse(rw, req, err, httpErr.StatusCode)
	case errors.Is(err, orchestrator.ErrAlreadyActive):
		writeErrResponse(rw, req, err, http.StatusConflict)
	case errors.Is(err, pool.ErrExhausted):
		writeErrResponse(rw, req, err, http.StatusTooManyRequests)
	case errors.Is(err, store.ErrNotFound):
		writeErrResponse(rw, req, err, http.StatusNotFound)
	case errors.Is(err, orchestrator.ErrForbidden):
		writeErrResponse(rw, req, err, http.StatusForbidden)
	default:
		writeErrResponse(rw, req, err, http.StatusInternalServerError)
	}
}

func parseIntParam(req *http.Request, name string, fallback int) int {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func writeResponse(rw http.ResponseWriter, data interface{}, statusCode int) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(statusCode)

	if data == nil {
		return
	}

	err := json.NewEncoder(rw).Encode(data)
	if err != nil {
		log.Err(err).Msg("error writing response")
	}
}

func writeErrResponse(rw http.ResponseWriter, req *http.Request, err error, statusCode int) {
	httpErr := &system.HTTPError{
		StatusCode: statusCode,
		Message:    err.Error(),
	}
	if statusCode >= http.StatusInternalServerError {
		system.ReportHTTPError(httpErr, req)
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(statusCode)

	_ = json.NewEncoder(rw).Encode(httpErr)
}
