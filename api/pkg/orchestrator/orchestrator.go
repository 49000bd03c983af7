package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/imagedesk/imagedesk/api/pkg/config"
	"github.com/imagedesk/imagedesk/api/pkg/display"
	"github.com/imagedesk/imagedesk/api/pkg/execution"
	"github.com/imagedesk/imagedesk/api/pkg/janitor"
	"github.com/imagedesk/imagedesk/api/pkg/pool"
	"github.com/imagedesk/imagedesk/api/pkg/pubsub"
	"github.com/imagedesk/imagedesk/api/pkg/store"
	"github.com/imagedesk/imagedesk/api/pkg/system"
	"github.com/imagedesk/imagedesk/api/pkg/types"
)

var (
	// ErrAlreadyActive means the doctor already holds a non-terminal
	// session. One live session per doctor, no exceptions.
	ErrAlreadyActive = errors.New("doctor already has an active session")

	// ErrForbidden means the caller is not allowed to see or act on
	// the session.
	ErrForbidden = errors.New("not your session")
)

// sessionHandle serializes every state change for one session. The
// store is the source of truth; the handle's lock just makes sure only
// one event touches the record at a time.
type sessionHandle struct {
	mu             sync.Mutex
	endRequested   bool
	cleanupRunning bool
}

type Options struct {
	Config  *config.ServerConfig
	Store   store.Store
	Exec    execution.Client
	Display display.Gateway
	PubSub  pubsub.PubSub
	Janitor *janitor.Janitor
}

// Orchestrator owns the session lifecycle. It is the only writer of
// session records. Remote calls always happen outside the session
// lock; the lock protects the decide-persist-audit step only.
type Orchestrator struct {
	cfg     *config.ServerConfig
	store   store.Store
	exec    execution.Client
	display display.Gateway
	pubsub  pubsub.PubSub
	janitor *janitor.Janitor
	pool    *pool.Pool
	timers  *TimerSupervisor

	handles *xsync.MapOf[string, *sessionHandle]
	// doctorSessions maps doctor ID to their live session ID. The
	// LoadOrStore on create is what makes "one session per doctor"
	// atomic under concurrent requests.
	doctorSessions *xsync.MapOf[string, string]
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil || opts.Exec == nil || opts.Display == nil {
		return nil, errors.New("orchestrator requires a store, an execution client and a display gateway")
	}
	o := &Orchestrator{
		cfg:            opts.Config,
		store:          opts.Store,
		exec:           opts.Exec,
		display:        opts.Display,
		pubsub:         opts.PubSub,
		janitor:        opts.Janitor,
		pool:           pool.New(opts.Config.Execution.PoolUsers),
		handles:        xsync.NewMapOf[string, *sessionHandle](),
		doctorSessions: xsync.NewMapOf[string, string](),
	}
	o.timers = NewTimerSupervisor(TimerConfig{
		IdleTimeout:     opts.Config.Sessions.IdleTimeout,
		GracePeriod:     opts.Config.Sessions.GracePeriod,
		HardTimeout:     opts.Config.Sessions.HardTimeout,
		HardWarningLead: opts.Config.Sessions.HardWarningLead,
	}, o.fireTimerEvent, o.fireHardWarning)
	return o, nil
}

// Pool exposes the slot pool for status reporting.
func (o *Orchestrator) Pool() *pool.Pool {
	return o.pool
}

// Start recovers state after a restart: rebind pool slots and doctor
// guards from the store, rearm clocks, and resume interrupted
// teardowns. Sessions caught mid-provisioning are failed; the
// goroutine that knew their outcome died with the old process.
func (o *Orchestrator) Start(ctx context.Context) error {
	sessions, err := o.store.ListSessions(ctx, store.ListSessionsQuery{NonTerminal: true})
	if err != nil {
		return fmt.Errorf("loading non-terminal sessions: %w", err)
	}
	for _, session := range sessions {
		if session.HostUser != "" {
			if err := o.pool.Bind(session.HostUser, session.ID); err != nil {
				log.Warn().Err(err).Str("session_id", session.ID).Msg("could not rebind pool slot")
			}
		}
		o.doctorSessions.Store(session.DoctorID, session.ID)
		o.handles.Store(session.ID, &sessionHandle{})

		switch session.Status {
		case types.SessionStatusCreating:
			sess := session
			go func() {
				if sess.RemoteHandle != "" {
					o.bestEffortTeardown(context.Background(), sess)
				}
				sess.LastError = "server restarted during provisioning"
				o.applyEvent(context.Background(), sess.ID, EventProvisionFailed, systemActor(), "", map[string]string{
					"error": sess.LastError,
				})
			}()
		case types.SessionStatusActive:
			o.timers.StartClocks(session.ID, session.StartedAt, session.LastActivityAt)
		case types.SessionStatusIdleWarning:
			o.timers.StartClocks(session.ID, session.StartedAt, session.LastActivityAt)
			o.timers.StartGrace(session.ID)
		case types.SessionStatusTerminating:
			sess := session
			go o.runCleanup(context.Background(), sess.ID)
		}
	}
	log.Info().Int("recovered", len(sessions)).Msg("orchestrator started")
	return nil
}

// CreateSession admits a doctor into the pool and kicks off remote
// provisioning. It returns immediately with the record in creating
// state; the caller polls or subscribes for the outcome.
func (o *Orchestrator) CreateSession(ctx context.Context, user *types.User, req *types.CreateSessionRequest, ip string) (*types.Session, error) {
	if req.PatientID == "" {
		return nil, system.NewHTTPError400("patient_id is required")
	}

	sessionID := system.GenerateSessionID()

	if existingID, loaded := o.doctorSessions.LoadOrStore(user.ID, sessionID); loaded {
		o.writeAudit(ctx, user, types.AuditActionSessionCreate, existingID, types.AuditOutcomeFailed, ip, map[string]string{
			"error": "already_active",
		})
		return nil, ErrAlreadyActive
	}

	hostUser, err := o.pool.Acquire(sessionID)
	if err != nil {
		o.doctorSessions.Compute(user.ID, func(v string, loaded bool) (string, bool) {
			return "", loaded && v == sessionID
		})
		o.writeAudit(ctx, user, types.AuditActionSessionCreate, sessionID, types.AuditOutcomeFailed, ip, map[string]string{
			"error": "pool_exhausted",
		})
		return nil, err
	}

	now := time.Now()
	session := &types.Session{
		ID:             sessionID,
		DoctorID:       user.ID,
		PatientID:      req.PatientID,
		Status:         types.SessionStatusCreating,
		HostUser:       hostUser,
		StartedAt:      now,
		LastActivityAt: now,
	}
	session, err = o.store.CreateSession(ctx, session)
	if err != nil {
		o.pool.Release(hostUser)
		o.doctorSessions.Compute(user.ID, func(v string, loaded bool) (string, bool) {
			return "", loaded && v == sessionID
		})
		return nil, fmt.Errorf("persisting session: %w", err)
	}

	o.handles.Store(sessionID, &sessionHandle{})
	o.writeAudit(ctx, user, types.AuditActionSessionCreate, sessionID, types.AuditOutcomeOK, ip, map[string]string{
		"patient_id": req.PatientID,
		"host_user":  hostUser,
	})
	o.publishEvent(session, "created", "")

	go o.provision(context.Background(), session)

	return session, nil
}

// provision does the slow remote work for a new session. A failed
// launch is never retried inline; the doctor sees the error and
// decides whether to try again.
func (o *Orchestrator) provision(ctx context.Context, session *types.Session) {
	ctx, cancel := context.WithTimeout(ctx, 3*o.cfg.Execution.RequestTimeout)
	defer cancel()

	remoteHandle, err := o.exec.CreateRemoteSession(ctx, session.HostUser, session.PatientID)
	if err != nil {
		o.failProvision(ctx, session.ID, err)
		return
	}

	// Persist the handle before launching anything. If the process
	// dies here, the sweeper can still find and tear down the remote
	// session instead of leaking it.
	session.RemoteHandle = remoteHandle
	o.updateSessionFields(ctx, session.ID, func(s *types.Session) {
		s.RemoteHandle = remoteHandle
	})

	dataPath := fmt.Sprintf("%s\\patients\\%s", o.cfg.Execution.DataRoot, session.PatientID)
	if _, err := o.exec.LaunchApplication(ctx, remoteHandle, dataPath); err != nil {
		o.bestEffortTeardown(ctx, session)
		o.failProvision(ctx, session.ID, err)
		return
	}

	connectionID, err := o.display.CreateConnection(ctx, session.ID, o.cfg.Execution.RDPHost, o.cfg.Execution.RDPPort, session.HostUser, o.cfg.Execution.RDPPassword)
	if err != nil {
		o.bestEffortTeardown(ctx, session)
		o.failProvision(ctx, session.ID, fmt.Errorf("display gateway: %w", err))
		return
	}
	session.DisplayConnectionID = connectionID
	o.updateSessionFields(ctx, session.ID, func(s *types.Session) {
		s.DisplayConnectionID = connectionID
	})

	o.applyEvent(ctx, session.ID, EventProvisionSucceeded, systemActor(), "", nil)
}

// updateSessionFields applies a field mutation under the session lock
// so a slow provisioning goroutine cannot clobber a status change that
// landed in between.
func (o *Orchestrator) updateSessionFields(ctx context.Context, sessionID string, mutate func(*types.Session)) {
	handle, _ := o.handles.LoadOrStore(sessionID, &sessionHandle{})
	handle.mu.Lock()
	defer handle.mu.Unlock()

	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("could not load session for field update")
		return
	}
	mutate(session)
	if _, err := o.store.UpdateSession(ctx, session); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("could not persist session fields")
	}
}

func (o *Orchestrator) failProvision(ctx context.Context, sessionID string, cause error) {
	o.applyEvent(ctx, sessionID, EventProvisionFailed, systemActor(), "", map[string]string{
		"error": cause.Error(),
	})
}

// GetSession returns the session if the caller may see it. Doctors
// only ever see their own; a foreign ID reads as not found rather than
// confirming the session exists.
func (o *Orchestrator) GetSession(ctx context.Context, user *types.User, id string) (*types.Session, error) {
	session, err := o.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !user.IsAdmin() && session.DoctorID != user.ID {
		return nil, store.ErrNotFound
	}
	return session, nil
}

// GetActiveSession returns the caller's current non-terminal session,
// or store.ErrNotFound when they have none.
func (o *Orchestrator) GetActiveSession(ctx context.Context, user *types.User) (*types.Session, error) {
	return o.store.GetActiveSessionForDoctor(ctx, user.ID)
}

// ListSessions is role-scoped: admins see everything, doctors see
// their own history.
func (o *Orchestrator) ListSessions(ctx context.Context, user *types.User, q store.ListSessionsQuery) ([]*types.Session, error) {
	if !user.IsAdmin() {
		q.DoctorID = user.ID
	}
	return o.store.ListSessions(ctx, q)
}

// RecordActivity resets the idle clock and, from idle_warning, pulls
// the session back to active. Pings against a session that is already
// winding down are audited but otherwise ignored.
func (o *Orchestrator) RecordActivity(ctx context.Context, user *types.User, id, ip string) (*types.Session, error) {
	session, err := o.GetSession(ctx, user, id)
	if err != nil {
		return nil, err
	}
	// only the owning doctor's client may keep a session alive; an
	// admin pinging it would silently extend another doctor's clock
	if session.DoctorID != user.ID {
		return nil, ErrForbidden
	}
	o.applyEvent(ctx, session.ID, EventActivity, user, ip, nil)
	return o.store.GetSession(ctx, id)
}

// EndSession requests termination. Idempotent: ending a session that
// is already terminating or terminated succeeds without side effects.
// Admins may end any session; that is the force-terminate path.
func (o *Orchestrator) EndSession(ctx context.Context, user *types.User, id, ip string) error {
	session, err := o.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if !user.IsAdmin() && session.DoctorID != user.ID {
		return store.ErrNotFound
	}

	if handle, ok := o.handles.Load(id); ok {
		handle.mu.Lock()
		handle.endRequested = true
		handle.mu.Unlock()
	}

	details := map[string]string{}
	if user.IsAdmin() && session.DoctorID != user.ID {
		details["forced"] = "true"
	}
	o.applyEvent(ctx, session.ID, EventEndRequested, user, ip, details)
	return nil
}

// ConnectionURL returns the display-gateway URL for a running session.
func (o *Orchestrator) ConnectionURL(ctx context.Context, user *types.User, id string) (string, error) {
	session, err := o.GetSession(ctx, user, id)
	if err != nil {
		return "", err
	}
	switch session.Status {
	case types.SessionStatusActive, types.SessionStatusIdleWarning:
	default:
		return "", system.NewHTTPError409(fmt.Sprintf("session is %s", session.Status))
	}
	if session.DisplayConnectionID == "" {
		return "", system.NewHTTPError409("session has no display connection yet")
	}
	return o.display.ClientURL(ctx, session.DisplayConnectionID)
}

// applyEvent is the single write path for session state. It loads the
// record, consults the transition table, persists the result, writes
// exactly one audit entry, publishes the change, and schedules the
// effects. Everything under the per-session lock except the effects
// that do remote work.
func (o *Orchestrator) applyEvent(ctx context.Context, sessionID string, event Event, actor *types.User, ip string, details map[string]string) {
	handle, _ := o.handles.LoadOrStore(sessionID, &sessionHandle{})
	handle.mu.Lock()
	defer handle.mu.Unlock()

	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Str("event", string(event)).Msg("event against unknown session")
		return
	}

	tr := Apply(session.Status, event)
	if tr.Ignored {
		o.writeAudit(ctx, actor, types.AuditActionSessionEventIgnored, sessionID, types.AuditOutcomeIgnored, ip, mergeDetails(details, map[string]string{
			"event":  string(event),
			"status": string(session.Status),
		}))
		// a late timer or ping against a terminal record must not
		// resurrect a handle that releaseSession already dropped
		if session.Status.Terminal() {
			o.handles.Delete(sessionID)
		}
		return
	}

	previous := session.Status
	session.Status = tr.Next
	now := time.Now()
	switch event {
	case EventActivity:
		session.LastActivityAt = now
	case EventProvisionFailed:
		if v, ok := details["error"]; ok {
			session.LastError = v
		}
	}
	if tr.Next == types.SessionStatusTerminated {
		session.EndedAt = &now
	}

	if _, err := o.store.UpdateSession(ctx, session); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Str("event", string(event)).Msg("could not persist transition")
		return
	}

	action, outcome := auditForEvent(event)
	o.writeAudit(ctx, actor, action, sessionID, outcome, ip, mergeDetails(details, map[string]string{
		"event": string(event),
		"from":  string(previous),
		"to":    string(tr.Next),
	}))
	o.publishEvent(session, string(event), session.LastError)

	log.Info().Str("session_id", sessionID).
		Str("event", string(event)).
		Str("from", string(previous)).
		Str("to", string(tr.Next)).
		Msg("session transition")

	for _, effect := range tr.Effects {
		switch effect {
		case EffectStartClocks:
			// Ending was requested mid-provisioning; skip straight to
			// teardown instead of arming clocks for a dead session.
			if handle.endRequested {
				continue
			}
			o.timers.StartClocks(sessionID, session.StartedAt, session.LastActivityAt)
		case EffectResetIdleClock:
			o.timers.ResetIdle(sessionID)
		case EffectStartGraceClock:
			o.timers.StartGrace(sessionID)
		case EffectCancelGraceClock:
			o.timers.CancelGrace(sessionID)
		case EffectStopClocks:
			o.timers.StopAll(sessionID)
		case EffectNotifyIdleWarning:
			o.publishEvent(session, "idle_warning", "session will end soon unless activity resumes")
		case EffectCleanup:
			if !handle.cleanupRunning {
				handle.cleanupRunning = true
				go o.runCleanup(context.Background(), sessionID)
			}
		case EffectReleaseSlot:
			o.releaseSession(session)
		}
	}

	if event == EventProvisionFailed && o.janitor != nil {
		if err := o.janitor.WriteSessionEvent(types.AuditActionSessionCreateFailed, session); err != nil {
			log.Warn().Err(err).Msg("janitor notification failed")
		}
	}
}

// forceTerminate marks a session terminal without consulting the
// transition table. Reserved for the sweeper's orphan path, where the
// remote side was already torn down defensively and the record just
// needs to stop holding resources.
func (o *Orchestrator) forceTerminate(ctx context.Context, session *types.Session, reason string) {
	handle, _ := o.handles.LoadOrStore(session.ID, &sessionHandle{})
	handle.mu.Lock()
	defer handle.mu.Unlock()

	current, err := o.store.GetSession(ctx, session.ID)
	if err != nil {
		log.Error().Err(err).Str("session_id", session.ID).Msg("could not load session for forced termination")
		return
	}
	if current.Status.Terminal() {
		return
	}

	previous := current.Status
	now := time.Now()
	current.Status = types.SessionStatusTerminated
	current.EndedAt = &now
	if _, err := o.store.UpdateSession(ctx, current); err != nil {
		log.Error().Err(err).Str("session_id", session.ID).Msg("could not persist forced termination")
		return
	}

	o.writeAudit(ctx, systemActor(), types.AuditActionOrphanCleanup, current.ID, types.AuditOutcomeOrphanCleanup, "", map[string]string{
		"from":   string(previous),
		"to":     string(types.SessionStatusTerminated),
		"reason": reason,
	})
	o.publishEvent(current, "orphan_cleanup", reason)
	o.releaseSession(current)
}

// releaseSession frees everything the session held. Called exactly
// once per session, on its transition to terminated.
func (o *Orchestrator) releaseSession(session *types.Session) {
	if session.HostUser != "" {
		o.pool.Release(session.HostUser)
	}
	o.doctorSessions.Compute(session.DoctorID, func(v string, loaded bool) (string, bool) {
		return "", loaded && v == session.ID
	})
	o.timers.StopAll(session.ID)
	o.handles.Delete(session.ID)
}

// runCleanup tears down the remote session and display connection,
// then reports back. Failure leaves the session in terminating; the
// sweeper retries from there. The slot stays bound until cleanup is
// confirmed, so a half-dead remote session can never be handed to the
// next doctor.
func (o *Orchestrator) runCleanup(ctx context.Context, sessionID string) {
	defer func() {
		if handle, ok := o.handles.Load(sessionID); ok {
			handle.mu.Lock()
			handle.cleanupRunning = false
			handle.mu.Unlock()
		}
	}()

	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("cleanup could not load session")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 2*o.cfg.Execution.RequestTimeout)
	defer cancel()

	if session.RemoteHandle != "" {
		if err := o.exec.CleanupRemoteSession(ctx, session.RemoteHandle); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("remote cleanup failed, leaving for sweeper")
			return
		}
	}
	if session.DisplayConnectionID != "" {
		if err := o.display.DeleteConnection(ctx, session.DisplayConnectionID); err != nil {
			// The remote side is already gone; a stale gateway entry
			// is cosmetic, not a leaked slot.
			log.Warn().Err(err).Str("session_id", sessionID).Msg("display connection delete failed")
		}
	}

	o.applyEvent(ctx, sessionID, EventCleanupFinished, systemActor(), "", nil)
}

// bestEffortTeardown is used on provisioning failure paths where a
// partial remote session may exist but the session never went active.
func (o *Orchestrator) bestEffortTeardown(ctx context.Context, session *types.Session) {
	if session.RemoteHandle == "" {
		return
	}
	if err := o.exec.CleanupRemoteSession(ctx, session.RemoteHandle); err != nil {
		log.Warn().Err(err).Str("session_id", session.ID).Msg("best-effort teardown failed")
	}
}

func (o *Orchestrator) fireTimerEvent(sessionID string, event Event) {
	o.applyEvent(context.Background(), sessionID, event, systemActor(), "", nil)
}

// fireHardWarning notifies that the hard deadline is close. This is a
// courtesy signal only; it changes nothing about the session.
func (o *Orchestrator) fireHardWarning(sessionID string) {
	ctx := context.Background()
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil || session.Status.Terminal() {
		return
	}
	o.writeAudit(ctx, systemActor(), types.AuditActionSessionHardWarning, sessionID, types.AuditOutcomeOK, "", nil)
	o.publishEvent(session, "hard_warning", "session will reach its time limit soon")
	if o.janitor != nil {
		if err := o.janitor.WriteSessionEvent(types.AuditActionSessionHardWarning, session); err != nil {
			log.Warn().Err(err).Msg("janitor notification failed")
		}
	}
}

func (o *Orchestrator) writeAudit(ctx context.Context, actor *types.User, action, sessionID, outcome, ip string, details map[string]string) {
	entry := &types.AuditEntry{
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    action,
		SessionID: sessionID,
		Outcome:   outcome,
		IPAddress: ip,
		Details:   details,
	}
	if err := o.store.CreateAuditEntry(ctx, entry); err != nil {
		log.Error().Err(err).Str("action", action).Str("session_id", sessionID).Msg("could not write audit entry")
	}
}

func (o *Orchestrator) publishEvent(session *types.Session, eventType, message string) {
	if o.pubsub == nil {
		return
	}
	payload, err := json.Marshal(types.SessionEvent{
		SessionID: session.ID,
		DoctorID:  session.DoctorID,
		Type:      eventType,
		Status:    session.Status,
		Message:   message,
		Timestamp: time.Now(),
	})
	if err != nil {
		return
	}
	ctx := context.Background()
	if err := o.pubsub.Publish(ctx, pubsub.GetSessionQueue(session.DoctorID, session.ID), payload); err != nil {
		log.Trace().Err(err).Msg("session event publish failed")
	}
	if err := o.pubsub.Publish(ctx, pubsub.GetAdminQueue(), payload); err != nil {
		log.Trace().Err(err).Msg("admin event publish failed")
	}
}

func auditForEvent(event Event) (action string, outcome string) {
	switch event {
	case EventProvisionSucceeded:
		return types.AuditActionSessionActive, types.AuditOutcomeOK
	case EventProvisionFailed:
		return types.AuditActionSessionCreateFailed, types.AuditOutcomeFailed
	case EventActivity:
		return types.AuditActionSessionActivity, types.AuditOutcomeOK
	case EventIdleExpired:
		return types.AuditActionSessionIdleWarning, types.AuditOutcomeOK
	case EventGraceExpired, EventHardExpired:
		return types.AuditActionSessionTerminating, types.AuditOutcomeOK
	case EventEndRequested:
		return types.AuditActionSessionEndRequested, types.AuditOutcomeOK
	case EventCleanupFinished:
		return types.AuditActionSessionTerminated, types.AuditOutcomeOK
	default:
		return types.AuditActionSessionEventIgnored, types.AuditOutcomeIgnored
	}
}

func systemActor() *types.User {
	return &types.User{
		ID:   "system",
		Role: types.ActorRoleSystem,
	}
}

func mergeDetails(a, b map[string]string) map[string]string {
	if a == nil {
		return b
	}
	for k, v := range b {
		a[k] = v
	}
	return a
}
