package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"

	"github.com/imagedesk/imagedesk/api/pkg/store"
	"github.com/imagedesk/imagedesk/api/pkg/types"
)

// Sweeper is the safety net under the event-driven lifecycle. It runs
// on an interval and catches the two ways a session can wedge: a
// cleanup that failed and left the record in terminating, and a record
// that outlived its hard deadline without the timers firing, e.g.
// after a crash. The sweeper is the only component allowed to retry a
// failed cleanup.
type Sweeper struct {
	orchestrator *Orchestrator
	cron         gocron.Scheduler

	interval          time.Duration
	orphanTolerance   time.Duration
	cleanupAckTimeout time.Duration
}

func NewSweeper(o *Orchestrator) (*Sweeper, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating sweep scheduler: %w", err)
	}
	return &Sweeper{
		orchestrator:      o,
		cron:              cron,
		interval:          o.cfg.Sessions.SweepInterval,
		orphanTolerance:   o.cfg.Sessions.OrphanTolerance,
		cleanupAckTimeout: o.cfg.Sessions.CleanupAckTimeout,
	}, nil
}

// Start schedules the sweep and blocks until the context is done.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			if err := s.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("sweep failed")
			}
		}),
		gocron.WithName("session-sweeper"),
	)
	if err != nil {
		return fmt.Errorf("scheduling sweep job: %w", err)
	}

	s.cron.Start()

	<-ctx.Done()

	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown sweep scheduler: %w", err)
	}
	return nil
}

// Sweep runs one reconciliation pass. Exported so tests and the admin
// surface can trigger it on demand.
func (s *Sweeper) Sweep(ctx context.Context) error {
	sessions, err := s.orchestrator.store.ListSessions(ctx, store.ListSessionsQuery{NonTerminal: true})
	if err != nil {
		return fmt.Errorf("listing non-terminal sessions: %w", err)
	}

	now := time.Now()
	for _, session := range sessions {
		switch {
		case session.Status == types.SessionStatusTerminating && now.Sub(session.Updated) > s.cleanupAckTimeout:
			s.retryCleanup(ctx, session)
		case now.Sub(session.StartedAt) > s.orchestrator.cfg.Sessions.HardTimeout+s.orphanTolerance:
			s.reapOrphan(ctx, session)
		}
	}
	return nil
}

// retryCleanup handles a session stuck in terminating. The inline
// cleanup already failed once, so this path retries with backoff and,
// if the remote side still will not answer, forces the record terminal
// anyway. A slot held hostage by a dead host helps nobody.
func (s *Sweeper) retryCleanup(ctx context.Context, session *types.Session) {
	log.Info().Str("session_id", session.ID).Msg("sweeper retrying stuck cleanup")

	err := retry.Do(func() error {
		if session.RemoteHandle == "" {
			return nil
		}
		return s.orchestrator.exec.CleanupRemoteSession(ctx, session.RemoteHandle)
	},
		retry.Attempts(2),
		retry.Delay(2*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().
				Err(err).
				Uint("retry_number", n).
				Str("session_id", session.ID).
				Msg("retrying remote session cleanup")
		}),
	)
	if err != nil {
		log.Error().Err(err).Str("session_id", session.ID).Msg("cleanup still failing, forcing session terminal")
	}

	if session.DisplayConnectionID != "" {
		if err := s.orchestrator.display.DeleteConnection(ctx, session.DisplayConnectionID); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("display connection delete failed during sweep")
		}
	}

	s.orchestrator.applyEvent(ctx, session.ID, EventCleanupFinished, systemActor(), "", map[string]string{
		"swept": "true",
	})
}

// reapOrphan force-terminates a session that outlived its hard
// deadline plus tolerance while still non-terminal. This only happens
// when the in-process timers were lost, so treat the remote state as
// unknown and tear down defensively.
func (s *Sweeper) reapOrphan(ctx context.Context, session *types.Session) {
	log.Warn().
		Str("session_id", session.ID).
		Str("status", string(session.Status)).
		Time("started_at", session.StartedAt).
		Msg("reaping orphaned session")

	if session.RemoteHandle != "" {
		if err := s.orchestrator.exec.CleanupRemoteSession(ctx, session.RemoteHandle); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("orphan remote cleanup failed")
		}
	}
	if session.DisplayConnectionID != "" {
		if err := s.orchestrator.display.DeleteConnection(ctx, session.DisplayConnectionID); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("orphan display connection delete failed")
		}
	}

	s.orchestrator.forceTerminate(ctx, session, "hard deadline exceeded without termination")

	if s.orchestrator.janitor != nil {
		if err := s.orchestrator.janitor.WriteSessionEvent(types.AuditActionOrphanCleanup, session); err != nil {
			log.Warn().Err(err).Msg("janitor notification failed")
		}
	}
}
