package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type ServerConfig struct {
	WebServer WebServer
	Store     Store
	Execution Execution
	Guacamole Guacamole
	Sessions  Sessions
	Auth      Auth
	Janitor   Janitor
	PubSub    PubSub
}

func LoadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	err := envconfig.Process("", &cfg)
	if err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

type WebServer struct {
	URL  string `envconfig:"SERVER_URL" default:"http://localhost:8844" description:"The URL the server is listening on."`
	Host string `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `envconfig:"SERVER_PORT" default:"8844"`
}

type Store struct {
	// postgres in production, sqlite for local dev and tests
	Type        string `envconfig:"DATABASE_TYPE" default:"postgres"`
	Host        string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port        int    `envconfig:"POSTGRES_PORT" default:"5432"`
	Username    string `envconfig:"POSTGRES_USER" default:"postgres"`
	Password    string `envconfig:"POSTGRES_PASSWORD" default:"postgres"`
	Database    string `envconfig:"POSTGRES_DATABASE" default:"imagedesk"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"imagedesk.db"`
	AutoMigrate bool   `envconfig:"DATABASE_AUTO_MIGRATE" default:"true"`
}

// Execution configures the command-execution channel to the remote
// imaging hosts: an automation agent that can create a desktop session
// for a host user, launch the imaging application inside it, and tear
// a session down.
type Execution struct {
	AgentURL string `envconfig:"EXECUTION_AGENT_URL" default:"http://localhost:5986"`
	Token    string `envconfig:"EXECUTION_AGENT_TOKEN"`
	// PoolUsers is the fixed set of host user slots. One slot backs
	// exactly one session at a time.
	PoolUsers []string `envconfig:"EXECUTION_POOL_USERS" default:"imaging01,imaging02,imaging03,imaging04,imaging05"`
	// RequestTimeout bounds every individual call on the channel.
	// Remote-desktop operations are not idempotent so a timed-out call
	// is treated as failed, never silently retried.
	RequestTimeout time.Duration `envconfig:"EXECUTION_REQUEST_TIMEOUT" default:"30s"`
	// DataRoot is the share the imaging hosts mount patient data from.
	DataRoot string `envconfig:"EXECUTION_DATA_ROOT" default:"\\\\imaging-fs\\dicom"`
	// RDP endpoint details handed to the display gateway. The pool
	// accounts share one managed password on the imaging hosts.
	RDPHost     string `envconfig:"EXECUTION_RDP_HOST" default:"localhost"`
	RDPPort     int    `envconfig:"EXECUTION_RDP_PORT" default:"3389"`
	RDPPassword string `envconfig:"EXECUTION_RDP_PASSWORD"`
}

type Guacamole struct {
	URL           string `envconfig:"GUACAMOLE_URL" default:"http://localhost:8080/guacamole"`
	AdminUser     string `envconfig:"GUACAMOLE_ADMIN_USER" default:"guacadmin"`
	AdminPassword string `envconfig:"GUACAMOLE_ADMIN_PASSWORD"`
}

// Sessions holds the lifecycle policy. The hard deadline always wins
// over the idle grace period: a session never outlives its cap.
type Sessions struct {
	IdleTimeout     time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"10m"`
	GracePeriod     time.Duration `envconfig:"SESSION_GRACE_PERIOD" default:"5m"`
	HardTimeout     time.Duration `envconfig:"SESSION_HARD_TIMEOUT" default:"60m"`
	HardWarningLead time.Duration `envconfig:"SESSION_HARD_WARNING_LEAD" default:"10m"`

	// Sweeper policy.
	SweepInterval     time.Duration `envconfig:"SESSION_SWEEP_INTERVAL" default:"1m"`
	OrphanTolerance   time.Duration `envconfig:"SESSION_ORPHAN_TOLERANCE" default:"5m"`
	CleanupAckTimeout time.Duration `envconfig:"SESSION_CLEANUP_ACK_TIMEOUT" default:"2m"`
}

type Auth struct {
	JWTSecret string `envconfig:"AUTH_JWT_SECRET"`
	// List of admin user IDs, or "*" for dev mode where everyone is admin.
	AdminUserIDs []string `envconfig:"ADMIN_USER_IDS"`
}

type Janitor struct {
	SentryDSN       string   `envconfig:"SENTRY_DSN_API"`
	SlackWebhookURL string   `envconfig:"JANITOR_SLACK_WEBHOOK_URL"`
	IgnoreUsers     []string `envconfig:"JANITOR_IGNORE_USERS"`
}

type PubSub struct {
	StoreDir string `envconfig:"PUBSUB_STORE_DIR" default:"/tmp/imagedesk/nats"`
}
