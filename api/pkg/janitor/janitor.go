package janitor

import (
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/mux"

	"github.com/imagedesk/imagedesk/api/pkg/system"
	"github.com/imagedesk/imagedesk/api/pkg/types"
)

type JanitorOptions struct {
	AppURL          string
	SlackWebhookURL string
	SentryDSN       string
	IgnoreUsers     []string
}

// Janitor forwards noteworthy session events to the admin Slack
// channel and reports server errors to Sentry. It never participates
// in session state; pure observation.
type Janitor struct {
	Options JanitorOptions
}

func NewJanitor(opts JanitorOptions) *Janitor {
	return &Janitor{
		Options: opts,
	}
}

func (j *Janitor) Initialize() error {
	if j.Options.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              j.Options.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 1.0,
		})
		if err != nil {
			return fmt.Errorf("sentry initialization failed: %w", err)
		}
		system.SetHTTPErrorHandler(func(err *system.HTTPError, _ *http.Request) {
			if err.StatusCode >= 500 {
				sentry.CaptureException(err)
			}
		})
	}
	return nil
}

// allows the janitor to attach middleware to the router
// before all the routes
func (j *Janitor) InjectMiddleware(router *mux.Router) error {
	if j.Options.SentryDSN != "" {
		router.Use(SentryMiddleware)
	}
	return nil
}

func (j *Janitor) SendMessage(userEmail string, message string) error {
	if j.Options.SlackWebhookURL == "" {
		return nil
	}
	for _, ignoredUser := range j.Options.IgnoreUsers {
		if ignoredUser == userEmail {
			return nil
		}
	}
	return sendSlackNotification(j.Options.SlackWebhookURL, message)
}

// WriteSessionEvent notifies admins about session outcomes they care
// about: launches that failed on the remote host and terminations the
// doctor did not ask for.
func (j *Janitor) WriteSessionEvent(action string, session *types.Session) error {
	message := ""
	sessionLink := fmt.Sprintf("%s/admin/sessions/%s", j.Options.AppURL, session.ID)
	switch action {
	case types.AuditActionSessionCreateFailed:
		message = fmt.Sprintf("⚠️ session %s failed to launch (doctor=%s): %s", sessionLink, session.DoctorID, session.LastError)
	case types.AuditActionOrphanCleanup:
		message = fmt.Sprintf("🧹 orphaned session %s force-terminated (host_user=%s)", sessionLink, session.HostUser)
	case types.AuditActionSessionHardWarning:
		message = fmt.Sprintf("⏰ session %s approaching its hard deadline (doctor=%s)", sessionLink, session.DoctorID)
	default:
		return nil
	}
	return j.SendMessage("", message)
}

func SentryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub := sentry.GetHubFromContext(r.Context())
		if hub == nil {
			hub = sentry.CurrentHub().Clone()
			r = r.WithContext(sentry.SetHubOnContext(r.Context(), hub))
		}

		defer func() {
			if err := recover(); err != nil {
				hub.Recover(err)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
