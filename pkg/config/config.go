package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"duet-backend/pkg/env"
)

// DefaultSTUNServers are the public NAT-traversal helpers used when none are configured.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Log      LogConfig
	Call     CallConfig
	Push     PushConfig
	Agent    AgentConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port        int
	Environment string // development, staging, production
	ServiceName string
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
}

// CallConfig tunes signaling and peer connections.
type CallConfig struct {
	STUNServers            []string
	RingTimeout            time.Duration
	ICEDisconnectedTimeout time.Duration
	ICEFailedTimeout       time.Duration
	// SignalKey seals the data field of signals when set (32 bytes).
	SignalKey    []byte
	MaxRoomSize  int
	RoomTTL      time.Duration
	HistoryQueue int
}

// PushConfig selects the incoming-call push provider.
type PushConfig struct {
	Provider          string // fcm, apns, mock
	FirebaseProjectID string
	FirebaseCredsPath string
	APNsKeyPath       string
	APNsKeyID         string
	APNsTeamID        string
	APNsBundleID      string
	APNsProduction    bool
}

// AgentConfig configures the headless call agent.
type AgentConfig struct {
	UserID      uuid.UUID
	Name        string
	AutoAnswer  bool
	AnswerDelay time.Duration
	RoomID      string
	Video       bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        env.GetInt("PORT", 8080),
			Environment: env.GetString("ENV", "development"),
			ServiceName: env.GetString("SERVICE_NAME", "call-service"),
		},
		Database: DatabaseConfig{
			Host:     env.GetString("DB_HOST", "localhost"),
			Port:     env.GetInt("DB_PORT", 26257),
			User:     env.GetString("DB_USER", "root"),
			Password: env.GetStringFromFile("DB_PASSWORD", ""),
			Database: env.GetString("DB_NAME", "duet"),
			SSLMode:  env.GetString("DB_SSL_MODE", "disable"),
			MaxConns: env.GetInt("DB_MAX_CONNS", 25),
			MinConns: env.GetInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		JWT: JWTConfig{
			Secret:            env.GetStringFromFile("JWT_SECRET", ""),
			AccessTokenExpiry: env.GetDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/app.log"),
		},
		Call: CallConfig{
			STUNServers:            env.GetStringSlice("CALL_STUN_SERVERS", DefaultSTUNServers),
			RingTimeout:            env.GetDuration("CALL_RING_TIMEOUT", 30*time.Second),
			ICEDisconnectedTimeout: env.GetDuration("CALL_ICE_DISCONNECTED_TIMEOUT", 5*time.Second),
			ICEFailedTimeout:       env.GetDuration("CALL_ICE_FAILED_TIMEOUT", 25*time.Second),
			SignalKey:              env.GetHexBytes("CALL_SIGNAL_KEY"),
			MaxRoomSize:            env.GetInt("CALL_MAX_ROOM_SIZE", 8),
			RoomTTL:                env.GetDuration("CALL_ROOM_TTL", 12*time.Hour),
			HistoryQueue:           env.GetInt("CALL_HISTORY_QUEUE", 256),
		},
		Push: PushConfig{
			Provider:          env.GetString("PUSH_PROVIDER", "mock"),
			FirebaseProjectID: env.GetString("FIREBASE_PROJECT_ID", ""),
			FirebaseCredsPath: env.GetString("FIREBASE_CREDENTIALS_PATH", ""),
			APNsKeyPath:       env.GetString("APNS_KEY_PATH", ""),
			APNsKeyID:         env.GetString("APNS_KEY_ID", ""),
			APNsTeamID:        env.GetString("APNS_TEAM_ID", ""),
			APNsBundleID:      env.GetString("APNS_BUNDLE_ID", ""),
			APNsProduction:    env.GetBool("APNS_PRODUCTION", false),
		},
		Agent: AgentConfig{
			Name:        env.GetString("AGENT_NAME", "Call Agent"),
			AutoAnswer:  env.GetBool("AGENT_AUTO_ANSWER", true),
			AnswerDelay: env.GetDuration("AGENT_ANSWER_DELAY", 2*time.Second),
			RoomID:      env.GetString("AGENT_ROOM_ID", ""),
			Video:       env.GetBool("AGENT_VIDEO", false),
		},
	}

	if raw := env.GetString("AGENT_USER_ID", ""); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("AGENT_USER_ID is not a valid uuid: %w", err)
		}
		cfg.Agent.UserID = id
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Environment == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
	}

	if len(c.Call.STUNServers) < 2 {
		return fmt.Errorf("CALL_STUN_SERVERS must list at least two servers, got %d", len(c.Call.STUNServers))
	}
	if c.Call.RingTimeout <= 0 {
		return fmt.Errorf("CALL_RING_TIMEOUT must be positive")
	}
	if c.Call.SignalKey != nil && len(c.Call.SignalKey) != 32 {
		return fmt.Errorf("CALL_SIGNAL_KEY must be 32 bytes hex encoded, got %d bytes", len(c.Call.SignalKey))
	}
	if c.Call.MaxRoomSize < 2 {
		return fmt.Errorf("CALL_MAX_ROOM_SIZE must be at least 2")
	}

	return nil
}

// RedisAddr returns host:port for the redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
