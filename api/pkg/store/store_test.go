package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/imagedesk/imagedesk/api/pkg/types"
)

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreTestSuite))
}

type PostgresStoreTestSuite struct {
	suite.Suite
	ctx context.Context
	db  *PostgresStore
}

func (suite *PostgresStoreTestSuite) SetupTest() {
	suite.ctx = context.Background()

	db, err := NewSQLiteStore(filepath.Join(suite.T().TempDir(), "test.db"), true)
	suite.Require().NoError(err)
	suite.db = db
}

func (suite *PostgresStoreTestSuite) TearDownTest() {
	suite.db.Close()
}

func (suite *PostgresStoreTestSuite) TestCreateSessionDefaults() {
	session, err := suite.db.CreateSession(suite.ctx, &types.Session{
		DoctorID:  "doc_1",
		PatientID: "pat_1",
		Status:    types.SessionStatusCreating,
		HostUser:  "imaging01",
	})
	suite.Require().NoError(err)
	suite.NotEmpty(session.ID)
	suite.Contains(session.ID, "ses_")
	suite.False(session.StartedAt.IsZero())
	suite.Equal(session.StartedAt, session.LastActivityAt)
}

func (suite *PostgresStoreTestSuite) TestGetSession() {
	created, err := suite.db.CreateSession(suite.ctx, &types.Session{
		DoctorID:  "doc_1",
		PatientID: "pat_1",
		Status:    types.SessionStatusCreating,
	})
	suite.Require().NoError(err)

	got, err := suite.db.GetSession(suite.ctx, created.ID)
	suite.Require().NoError(err)
	suite.Equal(created.ID, got.ID)
	suite.Equal("doc_1", got.DoctorID)

	_, err = suite.db.GetSession(suite.ctx, "ses_does_not_exist")
	suite.ErrorIs(err, ErrNotFound)
}

func (suite *PostgresStoreTestSuite) TestUpdateSession() {
	created, err := suite.db.CreateSession(suite.ctx, &types.Session{
		DoctorID:  "doc_1",
		PatientID: "pat_1",
		Status:    types.SessionStatusCreating,
	})
	suite.Require().NoError(err)

	created.Status = types.SessionStatusActive
	created.RemoteHandle = "rds-1"
	_, err = suite.db.UpdateSession(suite.ctx, created)
	suite.Require().NoError(err)

	got, err := suite.db.GetSession(suite.ctx, created.ID)
	suite.Require().NoError(err)
	suite.Equal(types.SessionStatusActive, got.Status)
	suite.Equal("rds-1", got.RemoteHandle)
}

func (suite *PostgresStoreTestSuite) TestListSessions() {
	now := time.Now()
	seed := []*types.Session{
		{ID: "ses_1", DoctorID: "doc_1", Status: types.SessionStatusTerminated, StartedAt: now.Add(-3 * time.Hour)},
		{ID: "ses_2", DoctorID: "doc_1", Status: types.SessionStatusActive, StartedAt: now.Add(-2 * time.Hour)},
		{ID: "ses_3", DoctorID: "doc_2", Status: types.SessionStatusIdleWarning, StartedAt: now.Add(-1 * time.Hour)},
	}
	for _, session := range seed {
		_, err := suite.db.CreateSession(suite.ctx, session)
		suite.Require().NoError(err)
	}

	all, err := suite.db.ListSessions(suite.ctx, ListSessionsQuery{})
	suite.Require().NoError(err)
	suite.Require().Len(all, 3)
	// newest first
	suite.Equal("ses_3", all[0].ID)

	byDoctor, err := suite.db.ListSessions(suite.ctx, ListSessionsQuery{DoctorID: "doc_1"})
	suite.Require().NoError(err)
	suite.Len(byDoctor, 2)

	live, err := suite.db.ListSessions(suite.ctx, ListSessionsQuery{NonTerminal: true})
	suite.Require().NoError(err)
	suite.Len(live, 2)

	paged, err := suite.db.ListSessions(suite.ctx, ListSessionsQuery{Limit: 1, Offset: 1})
	suite.Require().NoError(err)
	suite.Require().Len(paged, 1)
	suite.Equal("ses_2", paged[0].ID)
}

func (suite *PostgresStoreTestSuite) TestGetActiveSessionForDoctor() {
	_, err := suite.db.GetActiveSessionForDoctor(suite.ctx, "doc_1")
	suite.ErrorIs(err, ErrNotFound)

	_, err = suite.db.CreateSession(suite.ctx, &types.Session{
		ID:       "ses_done",
		DoctorID: "doc_1",
		Status:   types.SessionStatusTerminated,
	})
	suite.Require().NoError(err)

	// a terminated session does not count as active
	_, err = suite.db.GetActiveSessionForDoctor(suite.ctx, "doc_1")
	suite.ErrorIs(err, ErrNotFound)

	_, err = suite.db.CreateSession(suite.ctx, &types.Session{
		ID:       "ses_live",
		DoctorID: "doc_1",
		Status:   types.SessionStatusIdleWarning,
	})
	suite.Require().NoError(err)

	session, err := suite.db.GetActiveSessionForDoctor(suite.ctx, "doc_1")
	suite.Require().NoError(err)
	suite.Equal("ses_live", session.ID)
}

func (suite *PostgresStoreTestSuite) TestAuditEntries() {
	base := time.Now().Add(-time.Hour)
	seed := []*types.AuditEntry{
		{ActorID: "doc_1", ActorRole: types.ActorRoleDoctor, Action: types.AuditActionSessionCreate, SessionID: "ses_1", Outcome: types.AuditOutcomeOK, Timestamp: base},
		{ActorID: "system", ActorRole: types.ActorRoleSystem, Action: types.AuditActionSessionActive, SessionID: "ses_1", Outcome: types.AuditOutcomeOK, Timestamp: base.Add(time.Minute)},
		{ActorID: "adm_1", ActorRole: types.ActorRoleAdmin, Action: types.AuditActionSessionEndRequested, SessionID: "ses_1", Outcome: types.AuditOutcomeOK, Timestamp: base.Add(2 * time.Minute), Details: map[string]string{"forced": "true"}},
		{ActorID: "doc_2", ActorRole: types.ActorRoleDoctor, Action: types.AuditActionSessionCreate, SessionID: "ses_2", Outcome: types.AuditOutcomeFailed, Timestamp: base.Add(3 * time.Minute)},
	}
	for _, entry := range seed {
		suite.Require().NoError(suite.db.CreateAuditEntry(suite.ctx, entry))
		suite.Contains(entry.ID, "aud_")
	}

	bySession, total, err := suite.db.ListAuditEntries(suite.ctx, ListAuditQuery{SessionID: "ses_1"})
	suite.Require().NoError(err)
	suite.Equal(int64(3), total)
	suite.Require().Len(bySession, 3)
	// oldest first so the history replays in order
	suite.Equal(types.AuditActionSessionCreate, bySession[0].Action)
	suite.Equal(types.AuditActionSessionEndRequested, bySession[2].Action)
	suite.Equal(map[string]string{"forced": "true"}, bySession[2].Details)

	byActor, total, err := suite.db.ListAuditEntries(suite.ctx, ListAuditQuery{ActorID: "doc_2"})
	suite.Require().NoError(err)
	suite.Equal(int64(1), total)
	suite.Len(byActor, 1)

	windowed, _, err := suite.db.ListAuditEntries(suite.ctx, ListAuditQuery{
		From: base.Add(30 * time.Second),
		To:   base.Add(150 * time.Second),
	})
	suite.Require().NoError(err)
	suite.Len(windowed, 2)

	paged, total, err := suite.db.ListAuditEntries(suite.ctx, ListAuditQuery{Limit: 2, Offset: 2})
	suite.Require().NoError(err)
	suite.Equal(int64(4), total)
	suite.Len(paged, 2)
}

func (suite *PostgresStoreTestSuite) TestPing() {
	suite.NoError(suite.db.Ping(suite.ctx))
}
