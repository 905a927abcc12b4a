package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/cardroom/go/internal/auth"
	"github.com/mcdev12/cardroom/go/internal/events"
	"github.com/mcdev12/cardroom/go/internal/presence"
	"github.com/mcdev12/cardroom/go/internal/rematch"
	"github.com/mcdev12/cardroom/go/internal/session"
	"github.com/mcdev12/cardroom/go/internal/turnclock"
	"gopkg.in/yaml.v3"
)

const defaultPath = "./config.yaml"

type Server struct {
	Port            string        `yaml:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	SendBuffer      int           `yaml:"send_buffer"`
	PingInterval    time.Duration `yaml:"ping_interval"`
}

type Session struct {
	MinPlayers        int           `yaml:"min_players"`
	MaxPlayers        int           `yaml:"max_players"`
	TurnDuration      time.Duration `yaml:"turn_duration"`
	RuleEngineTimeout time.Duration `yaml:"rule_engine_timeout"`
	PostGameWindow    time.Duration `yaml:"post_game_window"`
	Retention         time.Duration `yaml:"retention"`
	ReapInterval      time.Duration `yaml:"reap_interval"`
	// AllowedActions restricts action types; empty accepts any non-empty type.
	AllowedActions   []string `yaml:"allowed_actions"`
	FinishingActions []string `yaml:"finishing_actions"`
}

type TurnClock struct {
	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	AutoplayTimeout time.Duration `yaml:"autoplay_timeout"`
	// Resolver is "pass" or "random".
	Resolver string `yaml:"resolver"`
}

type Presence struct {
	IdleWindow    time.Duration `yaml:"idle_window"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type Rematch struct {
	InvitationTTL time.Duration `yaml:"invitation_ttl"`
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type Auth struct {
	Secret    string        `yaml:"secret"`
	Issuer    string        `yaml:"issuer"`
	Audience  string        `yaml:"audience"`
	ClockSkew time.Duration `yaml:"clock_skew"`
}

type NATS struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	StreamName    string        `yaml:"stream_name"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	MaxAge        time.Duration `yaml:"max_age"`
	RelayBuffer   int           `yaml:"relay_buffer"`
}

type Database struct {
	// Enabled switches the block registry and revocation lookups to Postgres.
	Enabled bool `yaml:"enabled"`
}

type Config struct {
	LogLevel  string    `yaml:"log_level"`
	Server    Server    `yaml:"server"`
	Session   Session   `yaml:"session"`
	TurnClock TurnClock `yaml:"turnclock"`
	Presence  Presence  `yaml:"presence"`
	Rematch   Rematch   `yaml:"rematch"`
	Auth      Auth      `yaml:"auth"`
	NATS      NATS      `yaml:"nats"`
	Database  Database  `yaml:"database"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	sess := session.DefaultConfig()
	clock := turnclock.DefaultConfig()
	pres := presence.DefaultConfig()
	rm := rematch.DefaultConfig()
	js := events.DefaultJetStreamConfig()

	return Config{
		LogLevel: "info",
		Server: Server{
			Port:            "8080",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10 * time.Second,
			SendBuffer:      64,
			PingInterval:    30 * time.Second,
		},
		Session: Session{
			MinPlayers:        sess.MinPlayers,
			MaxPlayers:        sess.MaxPlayers,
			TurnDuration:      sess.TurnDuration,
			RuleEngineTimeout: sess.RuleEngineTimeout,
			PostGameWindow:    sess.PostGameWindow,
			Retention:         sess.Retention,
			ReapInterval:      sess.ReapInterval,
		},
		TurnClock: TurnClock{
			Workers:         clock.Workers,
			QueueSize:       clock.QueueSize,
			AutoplayTimeout: clock.AutoplayTimeout,
			Resolver:        "pass",
		},
		Presence: Presence{
			IdleWindow:    pres.IdleWindow,
			SweepInterval: pres.SweepInterval,
		},
		Rematch: Rematch{
			InvitationTTL: rm.InvitationTTL,
			Retention:     rm.Retention,
			SweepInterval: rm.SweepInterval,
		},
		Auth: Auth{
			Issuer:    "cardroom",
			Audience:  "cardroom-clients",
			ClockSkew: 30 * time.Second,
		},
		NATS: NATS{
			URL:           js.URL,
			StreamName:    js.StreamName,
			SubjectPrefix: js.SubjectPrefix,
			MaxAge:        js.MaxAge,
			RelayBuffer:   1024,
		},
	}
}

// Load reads the YAML file at CONFIG_PATH (default ./config.yaml) over the defaults,
// applies environment overrides and validates the result. A missing file is not an error.
func Load() (*Config, error) {
	return LoadFile(getEnv("CONFIG_PATH", defaultPath))
}

func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Session.TurnDuration = getEnvAsDuration("TURN_DURATION", c.Session.TurnDuration)
	c.TurnClock.Workers = getEnvAsInt("AUTOPLAY_WORKERS", c.TurnClock.Workers)
	c.TurnClock.AutoplayTimeout = getEnvAsDuration("AUTOPLAY_TIMEOUT", c.TurnClock.AutoplayTimeout)
	c.Presence.IdleWindow = getEnvAsDuration("IDLE_WINDOW", c.Presence.IdleWindow)
	c.Rematch.InvitationTTL = getEnvAsDuration("INVITATION_TTL", c.Rematch.InvitationTTL)
	c.Auth.Secret = getEnv("JWT_SECRET", c.Auth.Secret)
	c.Auth.Issuer = getEnv("JWT_ISSUER", c.Auth.Issuer)
	c.Auth.Audience = getEnv("JWT_AUDIENCE", c.Auth.Audience)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.Enabled = getEnvAsBool("NATS_ENABLED", c.NATS.Enabled)
	c.Database.Enabled = getEnvAsBool("DB_ENABLED", c.Database.Enabled)
}

func (c *Config) validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if c.Auth.Secret == "" {
		return errors.New("auth.secret is required (JWT_SECRET)")
	}
	if c.Session.MinPlayers < 1 {
		return errors.New("session.min_players must be at least 1")
	}
	if c.Session.MaxPlayers < c.Session.MinPlayers {
		return fmt.Errorf("session.max_players (%d) is below session.min_players (%d)", c.Session.MaxPlayers, c.Session.MinPlayers)
	}
	if c.Session.TurnDuration <= 0 {
		return errors.New("session.turn_duration must be positive")
	}
	if c.Session.RuleEngineTimeout <= 0 {
		return errors.New("session.rule_engine_timeout must be positive")
	}
	if c.Session.ReapInterval <= 0 {
		return errors.New("session.reap_interval must be positive")
	}
	if c.Session.PostGameWindow < 0 {
		return errors.New("session.post_game_window must not be negative")
	}
	if c.Session.Retention <= 0 {
		return errors.New("session.retention must be positive")
	}
	if c.TurnClock.Workers < 1 {
		return errors.New("turnclock.workers must be at least 1")
	}
	switch c.TurnClock.Resolver {
	case "pass", "random":
	default:
		return fmt.Errorf("turnclock.resolver %q is not one of pass, random", c.TurnClock.Resolver)
	}
	if c.TurnClock.Resolver == "random" && len(c.Session.AllowedActions) == 0 {
		return errors.New("turnclock.resolver random needs session.allowed_actions")
	}
	if c.Presence.IdleWindow <= 0 {
		return errors.New("presence.idle_window must be positive")
	}
	if c.Rematch.InvitationTTL <= 0 {
		return errors.New("rematch.invitation_ttl must be positive")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats.url is required when nats is enabled")
	}
	if c.Server.SendBuffer <= 0 {
		c.Server.SendBuffer = 64
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	return nil
}

func (c *Config) SessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.MinPlayers = c.Session.MinPlayers
	cfg.MaxPlayers = c.Session.MaxPlayers
	cfg.TurnDuration = c.Session.TurnDuration
	cfg.RuleEngineTimeout = c.Session.RuleEngineTimeout
	cfg.PostGameWindow = c.Session.PostGameWindow
	cfg.Retention = c.Session.Retention
	cfg.ReapInterval = c.Session.ReapInterval
	return cfg
}

func (c *Config) TurnClockConfig() turnclock.Config {
	return turnclock.Config{
		Workers:         c.TurnClock.Workers,
		QueueSize:       c.TurnClock.QueueSize,
		AutoplayTimeout: c.TurnClock.AutoplayTimeout,
	}
}

func (c *Config) PresenceConfig() presence.Config {
	return presence.Config{
		IdleWindow:    c.Presence.IdleWindow,
		SweepInterval: c.Presence.SweepInterval,
	}
}

func (c *Config) RematchConfig() rematch.Config {
	return rematch.Config{
		InvitationTTL: c.Rematch.InvitationTTL,
		Retention:     c.Rematch.Retention,
		SweepInterval: c.Rematch.SweepInterval,
	}
}

func (c *Config) AuthConfig() auth.Config {
	return auth.Config{
		Secret:    c.Auth.Secret,
		Issuer:    c.Auth.Issuer,
		Audience:  c.Auth.Audience,
		ClockSkew: c.Auth.ClockSkew,
	}
}

func (c *Config) JetStreamConfig() events.JetStreamConfig {
	cfg := events.DefaultJetStreamConfig()
	cfg.URL = c.NATS.URL
	cfg.StreamName = c.NATS.StreamName
	cfg.SubjectPrefix = c.NATS.SubjectPrefix
	if c.NATS.MaxAge > 0 {
		cfg.MaxAge = c.NATS.MaxAge
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
