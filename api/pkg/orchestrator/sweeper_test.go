package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/imagedesk/imagedesk/api/pkg/config"
	"github.com/imagedesk/imagedesk/api/pkg/display"
	"github.com/imagedesk/imagedesk/api/pkg/execution"
	"github.com/imagedesk/imagedesk/api/pkg/store"
	"github.com/imagedesk/imagedesk/api/pkg/types"
)

func TestSweeperSuite(t *testing.T) {
	suite.Run(t, new(SweeperSuite))
}

type SweeperSuite struct {
	suite.Suite

	ctx     context.Context
	ctrl    *gomock.Controller
	db      store.Store
	exec    *execution.MockClient
	display *display.MockGateway
	orch    *Orchestrator
	sweeper *Sweeper
}

func (s *SweeperSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())

	db, err := store.NewSQLiteStore(filepath.Join(s.T().TempDir(), "test.db"), true)
	s.Require().NoError(err)
	s.db = db

	s.exec = execution.NewMockClient(s.ctrl)
	s.display = display.NewMockGateway(s.ctrl)

	cfg := &config.ServerConfig{}
	cfg.Execution.PoolUsers = []string{"imaging01", "imaging02"}
	cfg.Execution.RequestTimeout = time.Second
	cfg.Sessions.IdleTimeout = time.Hour
	cfg.Sessions.GracePeriod = time.Hour
	cfg.Sessions.HardTimeout = time.Hour
	cfg.Sessions.SweepInterval = time.Minute
	// zero ack timeout makes any terminating session count as stuck
	cfg.Sessions.CleanupAckTimeout = 0
	cfg.Sessions.OrphanTolerance = 0

	orch, err := New(Options{
		Config:  cfg,
		Store:   s.db,
		Exec:    s.exec,
		Display: s.display,
	})
	s.Require().NoError(err)
	s.orch = orch

	sweeper, err := NewSweeper(orch)
	s.Require().NoError(err)
	s.sweeper = sweeper
}

func (s *SweeperSuite) TearDownTest() {
	s.db.Close()
}

func (s *SweeperSuite) seedSession(session *types.Session) *types.Session {
	created, err := s.db.CreateSession(s.ctx, session)
	s.Require().NoError(err)
	if session.HostUser != "" {
		s.Require().NoError(s.orch.pool.Bind(session.HostUser, session.ID))
	}
	return created
}

func (s *SweeperSuite) TestSweepRetriesStuckCleanup() {
	now := time.Now()
	s.seedSession(&types.Session{
		ID:                  "ses_stuck",
		DoctorID:            "doc_1",
		PatientID:           "pat_1",
		Status:              types.SessionStatusTerminating,
		HostUser:            "imaging01",
		RemoteHandle:        "rds-1",
		DisplayConnectionID: "conn-1",
		StartedAt:           now.Add(-10 * time.Minute),
		LastActivityAt:      now,
	})

	s.exec.EXPECT().CleanupRemoteSession(gomock.Any(), "rds-1").Return(nil)
	s.display.EXPECT().DeleteConnection(gomock.Any(), "conn-1").Return(nil)

	s.Require().NoError(s.sweeper.Sweep(s.ctx))

	session, err := s.db.GetSession(s.ctx, "ses_stuck")
	s.Require().NoError(err)
	s.Equal(types.SessionStatusTerminated, session.Status)
	s.Equal(0, s.orch.pool.BoundCount())
}

func (s *SweeperSuite) TestSweepForcesTerminalWhenCleanupKeepsFailing() {
	now := time.Now()
	s.seedSession(&types.Session{
		ID:             "ses_dead_host",
		DoctorID:       "doc_1",
		PatientID:      "pat_1",
		Status:         types.SessionStatusTerminating,
		HostUser:       "imaging01",
		RemoteHandle:   "rds-1",
		StartedAt:      now.Add(-10 * time.Minute),
		LastActivityAt: now,
	})

	s.exec.EXPECT().CleanupRemoteSession(gomock.Any(), "rds-1").Return(execution.ErrUnreachable).Times(2)

	s.Require().NoError(s.sweeper.Sweep(s.ctx))

	// the record goes terminal anyway so the slot is not held hostage
	session, err := s.db.GetSession(s.ctx, "ses_dead_host")
	s.Require().NoError(err)
	s.Equal(types.SessionStatusTerminated, session.Status)
	s.Equal(0, s.orch.pool.BoundCount())
}

func (s *SweeperSuite) TestSweepReapsOrphan() {
	now := time.Now()
	s.seedSession(&types.Session{
		ID:                  "ses_orphan",
		DoctorID:            "doc_1",
		PatientID:           "pat_1",
		Status:              types.SessionStatusActive,
		HostUser:            "imaging01",
		RemoteHandle:        "rds-1",
		DisplayConnectionID: "conn-1",
		StartedAt:           now.Add(-3 * time.Hour),
		LastActivityAt:      now.Add(-2 * time.Hour),
	})

	s.exec.EXPECT().CleanupRemoteSession(gomock.Any(), "rds-1").Return(nil)
	s.display.EXPECT().DeleteConnection(gomock.Any(), "conn-1").Return(nil)

	s.Require().NoError(s.sweeper.Sweep(s.ctx))

	session, err := s.db.GetSession(s.ctx, "ses_orphan")
	s.Require().NoError(err)
	s.Equal(types.SessionStatusTerminated, session.Status)
	s.NotNil(session.EndedAt)
	s.Equal(0, s.orch.pool.BoundCount())

	entries, _, err := s.db.ListAuditEntries(s.ctx, store.ListAuditQuery{SessionID: "ses_orphan"})
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(types.AuditActionOrphanCleanup, entries[0].Action)
	s.Equal(types.AuditOutcomeOrphanCleanup, entries[0].Outcome)
}

func (s *SweeperSuite) TestSweepLeavesHealthySessionsAlone() {
	now := time.Now()
	s.seedSession(&types.Session{
		ID:             "ses_fine",
		DoctorID:       "doc_1",
		PatientID:      "pat_1",
		Status:         types.SessionStatusActive,
		HostUser:       "imaging01",
		RemoteHandle:   "rds-1",
		StartedAt:      now.Add(-5 * time.Minute),
		LastActivityAt: now,
	})

	s.Require().NoError(s.sweeper.Sweep(s.ctx))

	session, err := s.db.GetSession(s.ctx, "ses_fine")
	s.Require().NoError(err)
	s.Equal(types.SessionStatusActive, session.Status)
	s.Equal(1, s.orch.pool.BoundCount())
}
