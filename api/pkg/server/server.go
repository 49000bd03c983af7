package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/imagedesk/imagedesk/api/pkg/auth"
	"github.com/imagedesk/imagedesk/api/pkg/config"
	"github.com/imagedesk/imagedesk/api/pkg/execution"
	"github.com/imagedesk/imagedesk/api/pkg/janitor"
	"github.com/imagedesk/imagedesk/api/pkg/orchestrator"
	"github.com/imagedesk/imagedesk/api/pkg/pubsub"
	"github.com/imagedesk/imagedesk/api/pkg/store"
	"github.com/imagedesk/imagedesk/api/pkg/system"
)

const APIPrefix = "/api/v1"

const RequestIDHeader = "X-Request-Id"

type Options struct {
	Config        *config.ServerConfig
	Store         store.Store
	Orchestrator  *orchestrator.Orchestrator
	Sweeper       *orchestrator.Sweeper
	Exec          execution.Client
	PubSub        pubsub.PubSub
	Authenticator auth.Authenticator
	Janitor       *janitor.Janitor
}

// APIServer is the HTTP surface over the orchestrator. Handlers stay
// thin: decode, delegate, encode. All session decisions live in the
// orchestrator.
type APIServer struct {
	Cfg            *config.ServerConfig
	Store          store.Store
	Orchestrator   *orchestrator.Orchestrator
	Sweeper        *orchestrator.Sweeper
	Exec           execution.Client
	Janitor        *janitor.Janitor
	pubsub         pubsub.PubSub
	authMiddleware *authMiddleware
	router         *mux.Router
}

func NewServer(opts Options) (*APIServer, error) {
	if opts.Config.WebServer.URL == "" {
		return nil, fmt.Errorf("server url is required")
	}
	if opts.Config.WebServer.Host == "" {
		return nil, fmt.Errorf("server host is required")
	}
	if opts.Config.WebServer.Port == 0 {
		return nil, fmt.Errorf("server port is required")
	}
	if opts.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}

	return &APIServer{
		Cfg:            opts.Config,
		Store:          opts.Store,
		Orchestrator:   opts.Orchestrator,
		Sweeper:        opts.Sweeper,
		Exec:           opts.Exec,
		Janitor:        opts.Janitor,
		pubsub:         opts.PubSub,
		authMiddleware: newAuthMiddleware(opts.Authenticator),
	}, nil
}

func (apiServer *APIServer) ListenAndServe(ctx context.Context) error {
	_, err := apiServer.registerRoutes(ctx)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", apiServer.Cfg.WebServer.Host, apiServer.Cfg.WebServer.Port),
		WriteTimeout:      0,
		ReadTimeout:       0,
		ReadHeaderTimeout: time.Second * 60,
		IdleTimeout:       time.Minute * 60,
		Handler:           apiServer.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("server shutdown failed")
		}
	}()

	log.Info().Str("addr", srv.Addr).Msg("api server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func matchAllRoutes(*http.Request, *mux.RouteMatch) bool {
	return true
}

func (apiServer *APIServer) registerRoutes(_ context.Context) (*mux.Router, error) {
	router := mux.NewRouter()
	if apiServer.Janitor != nil {
		if err := apiServer.Janitor.InjectMiddleware(router); err != nil {
			return nil, err
		}
	}
	router.Use(requestLoggingMiddleware)

	// insecure router is under /api/v1 but not protected by auth
	insecureRouter := router.PathPrefix(APIPrefix).Subrouter()

	// any route that lives under /api/v1 gets token extraction; the
	// require* middlewares below decide what each route demands
	subRouter := router.PathPrefix(APIPrefix).Subrouter()
	subRouter.Use(apiServer.authMiddleware.extractMiddleware)

	authRouter := subRouter.MatcherFunc(matchAllRoutes).Subrouter()
	authRouter.Use(requireUser)

	adminRouter := authRouter.MatcherFunc(matchAllRoutes).Subrouter()
	adminRouter.Use(requireAdmin)

	insecureRouter.HandleFunc("/healthz", apiServer.healthz).Methods(http.MethodGet)

	authRouter.HandleFunc("/sessions", apiServer.createSession).Methods(http.MethodPost)
	authRouter.HandleFunc("/sessions", apiServer.listSessions).Methods(http.MethodGet)
	authRouter.HandleFunc("/sessions/active", apiServer.getActiveSession).Methods(http.MethodGet)
	authRouter.HandleFunc("/sessions/{id}", apiServer.getSession).Methods(http.MethodGet)
	authRouter.HandleFunc("/sessions/{id}", apiServer.deleteSession).Methods(http.MethodDelete)
	authRouter.HandleFunc("/sessions/{id}/activity", apiServer.recordActivity).Methods(http.MethodPost)
	authRouter.HandleFunc("/sessions/{id}/connection", apiServer.getConnection).Methods(http.MethodGet)

	subRouter.HandleFunc("/ws/sessions", apiServer.sessionEventsWebsocket).Methods(http.MethodGet)

	adminRouter.HandleFunc("/audit", apiServer.listAuditEntries).Methods(http.MethodGet)
	adminRouter.HandleFunc("/audit/export", apiServer.exportAuditEntries).Methods(http.MethodGet)
	adminRouter.HandleFunc("/admin/sweep", apiServer.triggerSweep).Methods(http.MethodPost)
	adminRouter.HandleFunc("/admin/pool", apiServer.poolStatus).Methods(http.MethodGet)

	apiServer.router = router
	return router, nil
}

// Router exposes the configured mux for tests.
func (apiServer *APIServer) Router(ctx context.Context) (*mux.Router, error) {
	if apiServer.router != nil {
		return apiServer.router, nil
	}
	return apiServer.registerRoutes(ctx)
}

func requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		// honour an upstream proxy's id so log lines correlate
		// across hops
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = system.GenerateUUID()
		}
		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r)
		log.Trace().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(started)).
			Msg("request handled")
	})
}
