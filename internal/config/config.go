// Package config provides configuration loading for synmd.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables, then validated. All sections carry defaults so a bare config
// file (or none at all) yields a runnable local daemon.
package config

import (
	"fmt"
	"time"
)

// Config holds the complete synmd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Auth          AuthConfig          `koanf:"auth"`
	Policy        PolicyConfig        `koanf:"policy"`
	Audit         AuditConfig         `koanf:"audit"`
	Retrieval     RetrievalConfig     `koanf:"retrieval"`
	Assemble      AssembleConfig      `koanf:"assemble"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	RateLimit       float64  `koanf:"rate_limit"`
	RateBurst       int      `koanf:"rate_burst"`
}

// AuthConfig holds bearer token configuration for the CPI surface.
//
// Token authenticates clients on /v1/session, /v1/context, /v1/revoke.
// AdminToken additionally gates /v1/audit/export. TLS termination and
// mTLS identity are handled by the fronting proxy, not here.
type AuthConfig struct {
	Token      Secret `koanf:"token"`
	AdminToken Secret `koanf:"admin_token"`
}

// PolicyConfig holds policy source configuration.
type PolicyConfig struct {
	// Path is the policy YAML file or directory of *.yaml files.
	Path string `koanf:"path"`
	// Watch enables hot reload on file change.
	Watch bool `koanf:"watch"`
}

// AuditConfig holds audit log configuration.
type AuditConfig struct {
	// Path is the append-only JSONL audit log file.
	Path string `koanf:"path"`
	// SigningKeyPath is the ed25519 private key used to sign exports.
	// If the file does not exist, a key is generated on first use.
	SigningKeyPath string `koanf:"signing_key_path"`
	// NATSURL, when set, enables publishing audit events to NATS.
	NATSURL string `koanf:"nats_url"`
	// Subject is the NATS subject prefix for audit events.
	Subject string `koanf:"subject"`
}

// RetrievalConfig holds retrieval backend configuration.
type RetrievalConfig struct {
	// Provider selects the semantic backend: "chromem" (embedded) or "qdrant".
	Provider string        `koanf:"provider"`
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
	// TopK is the number of candidate fragments requested per scope.
	TopK int `koanf:"top_k"`
	// SeedPath is an optional YAML file of documents loaded at startup.
	SeedPath string `koanf:"seed_path"`
}

// ChromemConfig holds embedded chromem-go configuration.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
	Compress   bool   `koanf:"compress"`
}

// QdrantConfig holds remote Qdrant configuration.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	APIKey     Secret `koanf:"api_key"`
	Collection string `koanf:"collection"`
	UseTLS     bool   `koanf:"use_tls"`
	VectorSize int    `koanf:"vector_size"`
}

// AssembleConfig holds context assembly configuration.
type AssembleConfig struct {
	// DefaultMaxTokens applies when a request omits max_tokens.
	DefaultMaxTokens int `koanf:"default_max_tokens"`
	// MaxTokensCap is the hard ceiling a request may ask for.
	MaxTokensCap int `koanf:"max_tokens_cap"`
}

// ObservabilityConfig holds logging and OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"endpoint"`
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is "json" or "console".
	LogFormat string `koanf:"log_format"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8787
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = 20
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = 40
	}

	if cfg.Policy.Path == "" {
		cfg.Policy.Path = "~/.config/synm/policies"
	}

	if cfg.Audit.Path == "" {
		cfg.Audit.Path = "~/.local/share/synm/audit.jsonl"
	}
	if cfg.Audit.SigningKeyPath == "" {
		cfg.Audit.SigningKeyPath = "~/.config/synm/audit.key"
	}
	if cfg.Audit.Subject == "" {
		cfg.Audit.Subject = "synm.audit"
	}

	if cfg.Retrieval.Provider == "" {
		cfg.Retrieval.Provider = "chromem"
	}
	if cfg.Retrieval.Chromem.Path == "" {
		cfg.Retrieval.Chromem.Path = "~/.local/share/synm/vectorstore"
	}
	if cfg.Retrieval.Chromem.Collection == "" {
		cfg.Retrieval.Chromem.Collection = "synm_vault"
	}
	if cfg.Retrieval.Qdrant.Host == "" {
		cfg.Retrieval.Qdrant.Host = "localhost"
	}
	if cfg.Retrieval.Qdrant.Port == 0 {
		cfg.Retrieval.Qdrant.Port = 6334
	}
	if cfg.Retrieval.Qdrant.Collection == "" {
		cfg.Retrieval.Qdrant.Collection = "synm_vault"
	}
	if cfg.Retrieval.Qdrant.VectorSize == 0 {
		cfg.Retrieval.Qdrant.VectorSize = 256
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}

	if cfg.Assemble.DefaultMaxTokens == 0 {
		cfg.Assemble.DefaultMaxTokens = 1200
	}
	if cfg.Assemble.MaxTokensCap == 0 {
		cfg.Assemble.MaxTokensCap = 8000
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "synmd"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "json"
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server rate_limit cannot be negative")
	}
	if !c.Auth.Token.IsSet() {
		return fmt.Errorf("auth token is required (set auth.token or AUTH_TOKEN)")
	}
	switch c.Retrieval.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("retrieval provider must be 'chromem' or 'qdrant', got %q", c.Retrieval.Provider)
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Assemble.DefaultMaxTokens < 1 {
		return fmt.Errorf("assemble default_max_tokens must be positive")
	}
	if c.Assemble.MaxTokensCap < c.Assemble.DefaultMaxTokens {
		return fmt.Errorf("assemble max_tokens_cap (%d) below default_max_tokens (%d)",
			c.Assemble.MaxTokensCap, c.Assemble.DefaultMaxTokens)
	}
	return nil
}
