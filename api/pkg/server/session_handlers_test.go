package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/imagedesk/imagedesk/api/pkg/auth"
	"github.com/imagedesk/imagedesk/api/pkg/config"
	"github.com/imagedesk/imagedesk/api/pkg/display"
	"github.com/imagedesk/imagedesk/api/pkg/execution"
	"github.com/imagedesk/imagedesk/api/pkg/orchestrator"
	"github.com/imagedesk/imagedesk/api/pkg/store"
	"github.com/imagedesk/imagedesk/api/pkg/types"
)

func TestSessionHandlersSuite(t *testing.T) {
	suite.Run(t, new(SessionHandlersSuite))
}

type SessionHandlersSuite struct {
	suite.Suite

	ctx     context.Context
	ctrl    *gomock.Controller
	db      store.Store
	exec    *execution.MockClient
	display *display.MockGateway
	orch    *orchestrator.Orchestrator
	server  *httptest.Server
}

func (s *SessionHandlersSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())

	db, err := store.NewSQLiteStore(filepath.Join(s.T().TempDir(), "test.db"), true)
	s.Require().NoError(err)
	s.db = db

	s.exec = execution.NewMockClient(s.ctrl)
	s.display = display.NewMockGateway(s.ctrl)

	cfg := &config.ServerConfig{}
	cfg.WebServer.URL = "http://localhost:8844"
	cfg.WebServer.Host = "localhost"
	cfg.WebServer.Port = 8844
	cfg.Execution.PoolUsers = []string{"imaging01"}
	cfg.Execution.RequestTimeout = time.Second
	cfg.Sessions.IdleTimeout = time.Hour
	cfg.Sessions.GracePeriod = time.Hour
	cfg.Sessions.HardTimeout = 2 * time.Hour

	orch, err := orchestrator.New(orchestrator.Options{
		Config:  cfg,
		Store:   s.db,
		Exec:    s.exec,
		Display: s.display,
	})
	s.Require().NoError(err)
	s.orch = orch

	authenticator := auth.NewMockAuthenticator(
		&types.User{ID: "doc_1", Email: "doctor@clinic.example", Role: types.ActorRoleDoctor, Token: "doctor-token"},
		&types.User{ID: "doc_2", Email: "other@clinic.example", Role: types.ActorRoleDoctor, Token: "other-token"},
		&types.User{ID: "adm_1", Email: "admin@clinic.example", Role: types.ActorRoleAdmin, Token: "admin-token"},
	)

	apiServer, err := NewServer(Options{
		Config:        cfg,
		Store:         s.db,
		Orchestrator:  orch,
		Exec:          s.exec,
		Authenticator: authenticator,
	})
	s.Require().NoError(err)

	router, err := apiServer.Router(s.ctx)
	s.Require().NoError(err)
	s.server = httptest.NewServer(router)
}

func (s *SessionHandlersSuite) TearDownTest() {
	s.server.Close()
	s.db.Close()
}

func (s *SessionHandlersSuite) request(method, path, token string, body any) *http.Response {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.server.URL+APIPrefix+path, reader)
	s.Require().NoError(err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	return resp
}

func (s *SessionHandlersSuite) decodeSession(resp *http.Response) *types.Session {
	defer resp.Body.Close()
	var session types.Session
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&session))
	return &session
}

func (s *SessionHandlersSuite) expectProvisionSuccess() {
	s.exec.EXPECT().CreateRemoteSession(gomock.Any(), gomock.Any(), gomock.Any()).Return("rds-1", nil)
	s.exec.EXPECT().LaunchApplication(gomock.Any(), "rds-1", gomock.Any()).Return("proc-1", nil)
	s.display.EXPECT().CreateConnection(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("conn-1", nil)
}

func (s *SessionHandlersSuite) waitForStatus(id string, status types.SessionStatus) {
	s.Require().Eventually(func() bool {
		session, err := s.db.GetSession(s.ctx, id)
		return err == nil && session.Status == status
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *SessionHandlersSuite) TestCreateSessionRequiresAuth() {
	resp := s.request(http.MethodPost, "/sessions", "", &types.CreateSessionRequest{PatientID: "pat_1"})
	defer resp.Body.Close()
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *SessionHandlersSuite) TestCreateSession() {
	s.expectProvisionSuccess()

	resp := s.request(http.MethodPost, "/sessions", "doctor-token", &types.CreateSessionRequest{PatientID: "pat_1"})
	s.Equal(http.StatusCreated, resp.StatusCode)
	session := s.decodeSession(resp)
	s.Equal(types.SessionStatusCreating, session.Status)
	s.Equal("doc_1", session.DoctorID)

	s.waitForStatus(session.ID, types.SessionStatusActive)
}

func (s *SessionHandlersSuite) TestCreateSessionConflict() {
	s.expectProvisionSuccess()

	resp := s.request(http.MethodPost, "/sessions", "doctor-token", &types.CreateSessionRequest{PatientID: "pat_1"})
	session := s.decodeSession(resp)
	s.waitForStatus(session.ID, types.SessionStatusActive)

	resp = s.request(http.MethodPost, "/sessions", "doctor-token", &types.CreateSessionRequest{PatientID: "pat_2"})
	defer resp.Body.Close()
	s.Equal(http.StatusConflict, resp.StatusCode)
}

func (s *SessionHandlersSuite) TestCreateSessionPoolExhausted() {
	s.expectProvisionSuccess()

	// the single slot goes to the first doctor
	resp := s.request(http.MethodPost, "/sessions", "doctor-token", &types.CreateSessionRequest{PatientID: "pat_1"})
	session := s.decodeSession(resp)
	s.waitForStatus(session.ID, types.SessionStatusActive)

	resp = s.request(http.MethodPost, "/sessions", "other-token", &types.CreateSessionRequest{PatientID: "pat_2"})
	defer resp.Body.Close()
	s.Equal(http.StatusTooManyRequests, resp.StatusCode)
}

func (s *SessionHandlersSuite) TestCreateSessionBadBody() {
	resp := s.request(http.MethodPost, "/sessions", "doctor-token", map[string]any{})
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *SessionHandlersSuite) TestGetSessionVisibility() {
	s.expectProvisionSuccess()

	resp := s.request(http.MethodPost, "/sessions", "doctor-token", &types.CreateSessionRequest{PatientID: "pat_1"})
	session := s.decodeSession(resp)
	s.waitForStatus(session.ID, types.SessionStatusActive)

	resp = s.request(http.MethodGet, "/sessions/"+session.ID, "doctor-token", nil)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	// another doctor cannot even learn the session exists
	resp = s.request(http.MethodGet, "/sessions/"+session.ID, "other-token", nil)
	defer resp.Body.Close()
	s.Equal(http.StatusNotFound, resp.StatusCode)

	resp = s.request(http.MethodGet, "/sessions/"+session.ID, "admin-token", nil)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	resp = s.request(http.MethodGet, "/sessions/ses_nope", "doctor-token", nil)
	defer resp.Body.Close()
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *SessionHandlersSuite) TestGetActiveSession() {
	resp := s.request(http.MethodGet, "/sessions/active", "doctor-token", nil)
	defer resp.Body.Close()
	s.Equal(http.StatusNotFound, resp.StatusCode)

	s.expectProvisionSuccess()
	created := s.decodeSession(s.request(http.MethodPost, "/sessions", "doctor-token", &types.CreateSessionRequest{PatientID: "pat_1"}))
	s.waitForStatus(created.ID, types.SessionStatusActive)

	resp = s.request(http.MethodGet, "/sessions/active", "doctor-token", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	active := s.decodeSession(resp)
	s.Equal(created.ID, active.ID)
}

func (s *SessionHandlersSuite) TestListSessionsRoleScoped() {
	s.expectProvisionSuccess()

	resp := s.request(http.MethodPost, "/sessions", "doctor-token", &types.CreateSessionRequest{PatientID: "pat_1"})
	session := s.decodeSession(resp)
	s.waitForStatus(session.ID, types.SessionStatusActive)

	var mine []*types.Session
	resp = s.request(http.MethodGet, "/sessions", "doctor-token", nil)
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&mine))
	resp.Body.Close()
	s.Len(mine, 1)

	var theirs []*types.Session
	resp = s.request(http.MethodGet, "/sessions", "other-token", nil)
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&theirs))
	resp.Body.Close()
	s.Empty(theirs)

	var all []*types.Session
	resp = s.request(http.MethodGet, "/sessions", "admin-token", nil)
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&all))
	resp.Body.Close()
	s.Len(all, 1)
}

func (s *SessionHandlersSuite) TestDeleteSessionIdempotent() {
	s.expectProvisionSuccess()
	s.exec.EXPECT().CleanupRemoteSession(gomock.Any(), "rds-1").Return(nil)
	s.display.EXPECT().DeleteConnection(gomock.Any(), "conn-1").Return(nil)

	resp := s.request(http.MethodPost, "/sessions", "doctor-token", &types.CreateSessionRequest{PatientID: "pat_1"})
	session := s.decodeSession(resp)
	s.waitForStatus(session.ID, types.SessionStatusActive)

	resp = s.request(http.MethodDelete, "/sessions/"+session.ID, "doctor-token", nil)
	defer resp.Body.Close()
	s.Equal(http.StatusNoContent, resp.StatusCode)
	s.waitForStatus(session.ID, types.SessionStatusTerminated)

	// deleting again still succeeds
	resp = s.request(http.MethodDelete, "/sessions/"+session.ID, "doctor-token", nil)
	defer resp.Body.Close()
	s.Equal(http.StatusNoContent, resp.StatusCode)
}

func (s *SessionHandlersSuite) TestActivity() {
	s.expectProvisionSuccess()

	resp := s.request(http.MethodPost, "/sessions", "doctor-token", &types.CreateSessionRequest{PatientID: "pat_1"})
	session := s.decodeSession(resp)
	s.waitForStatus(session.ID, types.SessionStatusActive)

	resp = s.request(http.MethodPost, fmt.Sprintf("/sessions/%s/activity", session.ID), "doctor-token", nil)
	s.Equal(http.StatusNoContent, resp.StatusCode)

	stored, err := s.db.GetSession(context.Background(), session.ID)
	s.NoError(err)
	s.Equal(types.SessionStatusActive, stored.Status)

	// admins monitor sessions, they do not keep them alive
	resp = s.request(http.MethodPost, fmt.Sprintf("/sessions/%s/activity", session.ID), "admin-token", nil)
	s.Equal(http.StatusForbidden, resp.StatusCode)
}

func (s *SessionHandlersSuite) TestConnectionURL() {
	s.expectProvisionSuccess()
	s.display.EXPECT().ClientURL(gomock.Any(), "conn-1").Return("http://guac/#/client/conn-1?token=tok", nil)

	resp := s.request(http.MethodPost, "/sessions", "doctor-token", &types.CreateSessionRequest{PatientID: "pat_1"})
	session := s.decodeSession(resp)
	s.waitForStatus(session.ID, types.SessionStatusActive)

	resp = s.request(http.MethodGet, fmt.Sprintf("/sessions/%s/connection", session.ID), "doctor-token", nil)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	var conn types.ConnectionResponse
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&conn))
	s.Equal("http://guac/#/client/conn-1?token=tok", conn.URL)
}

func (s *SessionHandlersSuite) TestAuditRequiresAdmin() {
	resp := s.request(http.MethodGet, "/audit", "doctor-token", nil)
	defer resp.Body.Close()
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	resp = s.request(http.MethodGet, "/audit", "admin-token", nil)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
}

func (s *SessionHandlersSuite) TestAuditListAndExport() {
	s.expectProvisionSuccess()

	resp := s.request(http.MethodPost, "/sessions", "doctor-token", &types.CreateSessionRequest{PatientID: "pat_1"})
	session := s.decodeSession(resp)
	s.waitForStatus(session.ID, types.SessionStatusActive)

	resp = s.request(http.MethodGet, "/audit?session_id="+session.ID, "admin-token", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	var list auditListResponse
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	s.Equal(int64(2), list.Total)
	s.Equal(types.AuditActionSessionCreate, list.Entries[0].Action)

	resp = s.request(http.MethodGet, "/audit/export?session_id="+session.ID, "admin-token", nil)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("text/csv", resp.Header.Get("Content-Type"))
}

func (s *SessionHandlersSuite) TestHealthz() {
	s.exec.EXPECT().Ping(gomock.Any()).Return(nil)

	resp, err := http.Get(s.server.URL + APIPrefix + "/healthz")
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	var health types.HealthStatus
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&health))
	s.Equal("ok", health.Status)
}

func (s *SessionHandlersSuite) TestHealthzDegraded() {
	s.exec.EXPECT().Ping(gomock.Any()).Return(execution.ErrUnreachable)

	resp, err := http.Get(s.server.URL + APIPrefix + "/healthz")
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusServiceUnavailable, resp.StatusCode)
}

func (s *SessionHandlersSuite) TestPoolStatusAdminOnly() {
	resp := s.request(http.MethodGet, "/admin/pool", "doctor-token", nil)
	defer resp.Body.Close()
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	resp = s.request(http.MethodGet, "/admin/pool", "admin-token", nil)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
}
