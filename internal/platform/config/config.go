// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Config holds the server configuration. It is built once by Load and passed
// by reference into every constructor; nothing reads the environment later.
type Config struct {
	// Mode is the operating mode: strict or dev.
	Mode string `toml:"mode"`

	Server       ServerConfig       `toml:"server"`
	TLS          TLSConfig          `toml:"tls"`
	OutboundHTTP OutboundHTTPConfig `toml:"outbound_http"`
	Logging      LoggingConfig      `toml:"logging"`
	Store        StoreConfig        `toml:"store"`
	Cache        CacheConfig        `toml:"cache"`
	Auth         AuthConfig         `toml:"auth"`
	Farcaster    FarcasterConfig    `toml:"farcaster"`
	Chain        ChainConfig        `toml:"chain"`
	Proximity    ProximityConfig    `toml:"proximity"`
	Points       PointsConfig       `toml:"points"`
	Notify       NotifyConfig       `toml:"notify"`

	// HTTP holds per-service HTTP configuration (Reva-style).
	HTTP HTTPConfig `toml:"http"`
}

// HTTPConfig holds per-service HTTP configuration.
// Services are configured under [http.services.<svcname>].
// Interceptors are configured under [http.interceptors.<name>].
type HTTPConfig struct {
	// Services maps service names to their raw config maps.
	// Each service decodes its own config via cfg.Decode() with Setter interface.
	Services map[string]map[string]any `toml:"services"`

	// Interceptors maps interceptor names to their raw config maps.
	// Ratelimit profiles live at [http.interceptors.ratelimit.profiles.<name>].
	// Per-service opt-in is [http.services.<svc>.ratelimit] with profile = "<name>".
	Interceptors map[string]map[string]any `toml:"interceptors"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	// ListenAddr is the address to listen on when tls.mode is off or static.
	ListenAddr string `toml:"listen_addr"`

	// PublicOrigin is the scheme + host[:port] clients reach this instance at.
	PublicOrigin string `toml:"public_origin"`

	// TrustedProxies is a list of CIDR ranges for trusted reverse proxies.
	// X-Forwarded-For is only honored from these addresses.
	TrustedProxies []string `toml:"trusted_proxies"`
}

// TLSConfig holds TLS-related settings.
type TLSConfig struct {
	// Mode is one of: off, static, acme
	Mode string `toml:"mode"`

	// CertFile and KeyFile for static mode
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`

	// HTTPPort for HTTP listener (used for ACME challenges and redirects)
	HTTPPort int `toml:"http_port"`

	// HTTPSPort for HTTPS listener
	HTTPSPort int `toml:"https_port"`

	ACME ACMEConfig `toml:"acme"`
}

// ACMEConfig holds ACME/Let's Encrypt settings.
type ACMEConfig struct {
	Email      string `toml:"email"`
	Domain     string `toml:"domain"`
	Directory  string `toml:"directory"`
	StorageDir string `toml:"storage_dir"`
	UseStaging bool   `toml:"use_staging"`
}

// OutboundHTTPConfig holds settings for outbound HTTP requests
// (JWKS, profile API, attestation service, chain RPC, webhooks).
type OutboundHTTPConfig struct {
	// SSRFMode is one of: strict, off
	SSRFMode string `toml:"ssrf_mode"`

	// TimeoutMS is the overall request timeout in milliseconds
	TimeoutMS int `toml:"timeout_ms"`

	// ConnectTimeoutMS is the connection timeout in milliseconds
	ConnectTimeoutMS int `toml:"connect_timeout_ms"`

	// MaxRedirects is the maximum number of redirects to follow
	MaxRedirects int `toml:"max_redirects"`

	// MaxResponseBytes is the maximum response body size
	MaxResponseBytes int64 `toml:"max_response_bytes"`

	// InsecureSkipVerify disables TLS verification (dev-only)
	InsecureSkipVerify bool `toml:"insecure_skip_verify"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `toml:"level"`
}

// StoreConfig selects and configures the record store driver.
type StoreConfig struct {
	// Driver is one of: sqlite, postgres, memory.
	Driver string `toml:"driver"`

	// DataDir holds the sqlite database file.
	DataDir string `toml:"data_dir"`

	// DSN is the postgres connection string. May embed a password.
	DSN string `toml:"dsn"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	// Driver is the cache driver name: memory (default) or redis.
	Driver string `toml:"driver"`

	// Drivers holds per-driver configuration (Reva-style).
	// Example: [cache.drivers.redis] addr = "localhost:6379"
	Drivers map[string]any `toml:"drivers"`
}

// AuthConfig holds session token and identity-platform credentials.
type AuthConfig struct {
	// TokenSecret signs session tokens. When empty, a secret is derived
	// from TelegramBotToken, which is weaker.
	TokenSecret string `toml:"token_secret"`

	// TokenTTL is the session lifetime. Default 24h.
	TokenTTL time.Duration `toml:"token_ttl"`

	TelegramBotToken string `toml:"telegram_bot_token"`

	// TelegramMaxAge bounds how old an initData auth_date may be.
	TelegramMaxAge time.Duration `toml:"telegram_max_age"`

	// AppAccounts is the fixed operator/demo credential table.
	AppAccounts []AppAccount `toml:"app_accounts"`
}

// AppAccount is one [[auth.app_accounts]] row.
type AppAccount struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
	Role     string `toml:"role"`
}

// FarcasterConfig holds Quick Auth and enrichment endpoints.
type FarcasterConfig struct {
	// AppDomain is the expected token audience. Required for the quick path.
	AppDomain       string `toml:"app_domain"`
	QuickAuthIssuer string `toml:"quick_auth_issuer"`
	JWKSURL         string `toml:"jwks_url"`
	ProfileAPIURL   string `toml:"profile_api_url"`
	ProfileAPIKey   string `toml:"profile_api_key"`

	// LegacyVerifyURL is the attestation service for message/signature sign-in.
	LegacyVerifyURL string `toml:"legacy_verify_url"`
}

// ChainConfig holds the payment chain and the confirmation pipeline settings.
type ChainConfig struct {
	RPCURL        string `toml:"rpc_url"`
	TokenContract string `toml:"token_contract"`
	Recipient     string `toml:"recipient"`
	Decimals      int32  `toml:"decimals"`

	// MinAmount is the hard floor for a payment claim, as a decimal string.
	MinAmount string `toml:"min_amount"`

	RPCTimeout       time.Duration `toml:"rpc_timeout"`
	RPCRatePerSecond float64       `toml:"rpc_rate_per_second"`

	// ConfirmationDeadline is how long a receipt may stay missing before
	// the sponsorship is rejected as tx_not_found.
	ConfirmationDeadline time.Duration `toml:"confirmation_deadline"`

	Workers       int           `toml:"workers"`
	QueueSize     int           `toml:"queue_size"`
	MaxAttempts   int           `toml:"max_attempts"`
	SweepInterval time.Duration `toml:"sweep_interval"`
}

// ProximityConfig holds check-in matching settings.
type ProximityConfig struct {
	DefaultRadiusM float64       `toml:"default_radius_m"`
	DedupWindow    time.Duration `toml:"dedup_window"`
	CheckinTTL     time.Duration `toml:"checkin_ttl"`
}

// PointsConfig maps action kinds to point values.
type PointsConfig struct {
	Actions map[string]int `toml:"actions"`
}

// NotifyConfig configures the notification dispatcher.
// An empty WebhookURL selects the log dispatcher.
type NotifyConfig struct {
	WebhookURL string `toml:"webhook_url"`
}

// BuildServiceConfig returns the raw service config map for a given service name.
// Returns nil if the service is not configured in [http.services.<name>].
func (c *Config) BuildServiceConfig(serviceName string) map[string]any {
	if c.HTTP.Services == nil {
		return nil
	}
	svcCfg, ok := c.HTTP.Services[serviceName]
	if !ok {
		return nil
	}
	// Return a copy to prevent mutation
	result := make(map[string]any)
	for k, v := range svcCfg {
		result[k] = v
	}
	return result
}

func redact(s string) string {
	if s == "" {
		return `""`
	}
	return "[REDACTED]"
}

// Redacted returns a string representation of the config with secrets redacted.
func (c *Config) Redacted() string {
	var sb strings.Builder
	sb.WriteString("Config{\n")
	sb.WriteString(fmt.Sprintf("  Mode: %q,\n", c.Mode))
	sb.WriteString("  Server: {\n")
	sb.WriteString(fmt.Sprintf("    ListenAddr: %q,\n", c.Server.ListenAddr))
	sb.WriteString(fmt.Sprintf("    PublicOrigin: %q,\n", c.Server.PublicOrigin))
	sb.WriteString(fmt.Sprintf("    TrustedProxies: %v,\n", c.Server.TrustedProxies))
	sb.WriteString("  },\n")
	sb.WriteString("  TLS: {\n")
	sb.WriteString(fmt.Sprintf("    Mode: %q,\n", c.TLS.Mode))
	sb.WriteString(fmt.Sprintf("    CertFile: %q,\n", c.TLS.CertFile))
	sb.WriteString(fmt.Sprintf("    KeyFile: %q,\n", c.TLS.KeyFile))
	sb.WriteString(fmt.Sprintf("    HTTPPort: %d,\n", c.TLS.HTTPPort))
	sb.WriteString(fmt.Sprintf("    HTTPSPort: %d,\n", c.TLS.HTTPSPort))
	sb.WriteString(fmt.Sprintf("    ACME.Domain: %q,\n", c.TLS.ACME.Domain))
	sb.WriteString(fmt.Sprintf("    ACME.UseStaging: %v,\n", c.TLS.ACME.UseStaging))
	sb.WriteString("  },\n")
	sb.WriteString("  OutboundHTTP: {\n")
	sb.WriteString(fmt.Sprintf("    SSRFMode: %q,\n", c.OutboundHTTP.SSRFMode))
	sb.WriteString(fmt.Sprintf("    TimeoutMS: %d,\n", c.OutboundHTTP.TimeoutMS))
	sb.WriteString(fmt.Sprintf("    MaxRedirects: %d,\n", c.OutboundHTTP.MaxRedirects))
	sb.WriteString(fmt.Sprintf("    MaxResponseBytes: %d,\n", c.OutboundHTTP.MaxResponseBytes))
	sb.WriteString(fmt.Sprintf("    InsecureSkipVerify: %v,\n", c.OutboundHTTP.InsecureSkipVerify))
	sb.WriteString("  },\n")
	sb.WriteString(fmt.Sprintf("  Logging: {Level: %q},\n", c.Logging.Level))
	sb.WriteString("  Store: {\n")
	sb.WriteString(fmt.Sprintf("    Driver: %q,\n", c.Store.Driver))
	sb.WriteString(fmt.Sprintf("    DataDir: %q,\n", c.Store.DataDir))
	sb.WriteString(fmt.Sprintf("    DSN: %s,\n", redact(c.Store.DSN)))
	sb.WriteString("  },\n")
	sb.WriteString("  Cache: {\n")
	sb.WriteString(fmt.Sprintf("    Driver: %q,\n", c.Cache.Driver))
	sb.WriteString(fmt.Sprintf("    DriversCount: %d,\n", len(c.Cache.Drivers)))
	sb.WriteString("  },\n")
	sb.WriteString("  Auth: {\n")
	sb.WriteString(fmt.Sprintf("    TokenSecret: %s,\n", redact(c.Auth.TokenSecret)))
	sb.WriteString(fmt.Sprintf("    TokenTTL: %s,\n", c.Auth.TokenTTL))
	sb.WriteString(fmt.Sprintf("    TelegramBotToken: %s,\n", redact(c.Auth.TelegramBotToken)))
	sb.WriteString(fmt.Sprintf("    TelegramMaxAge: %s,\n", c.Auth.TelegramMaxAge))
	users := make([]string, 0, len(c.Auth.AppAccounts))
	for _, a := range c.Auth.AppAccounts {
		users = append(users, a.Username)
	}
	sb.WriteString(fmt.Sprintf("    AppAccounts: %v (passwords [REDACTED]),\n", users))
	sb.WriteString("  },\n")
	sb.WriteString("  Farcaster: {\n")
	sb.WriteString(fmt.Sprintf("    AppDomain: %q,\n", c.Farcaster.AppDomain))
	sb.WriteString(fmt.Sprintf("    QuickAuthIssuer: %q,\n", c.Farcaster.QuickAuthIssuer))
	sb.WriteString(fmt.Sprintf("    JWKSURL: %q,\n", c.Farcaster.JWKSURL))
	sb.WriteString(fmt.Sprintf("    ProfileAPIURL: %q,\n", c.Farcaster.ProfileAPIURL))
	sb.WriteString(fmt.Sprintf("    ProfileAPIKey: %s,\n", redact(c.Farcaster.ProfileAPIKey)))
	sb.WriteString(fmt.Sprintf("    LegacyVerifyURL: %q,\n", c.Farcaster.LegacyVerifyURL))
	sb.WriteString("  },\n")
	sb.WriteString("  Chain: {\n")
	sb.WriteString(fmt.Sprintf("    RPCURL: %q,\n", redactURL(c.Chain.RPCURL)))
	sb.WriteString(fmt.Sprintf("    TokenContract: %q,\n", c.Chain.TokenContract))
	sb.WriteString(fmt.Sprintf("    Recipient: %q,\n", c.Chain.Recipient))
	sb.WriteString(fmt.Sprintf("    Decimals: %d,\n", c.Chain.Decimals))
	sb.WriteString(fmt.Sprintf("    MinAmount: %q,\n", c.Chain.MinAmount))
	sb.WriteString(fmt.Sprintf("    RPCTimeout: %s,\n", c.Chain.RPCTimeout))
	sb.WriteString(fmt.Sprintf("    ConfirmationDeadline: %s,\n", c.Chain.ConfirmationDeadline))
	sb.WriteString(fmt.Sprintf("    Workers: %d, QueueSize: %d, MaxAttempts: %d,\n", c.Chain.Workers, c.Chain.QueueSize, c.Chain.MaxAttempts))
	sb.WriteString(fmt.Sprintf("    SweepInterval: %s,\n", c.Chain.SweepInterval))
	sb.WriteString("  },\n")
	sb.WriteString(fmt.Sprintf("  Proximity: {DefaultRadiusM: %g, DedupWindow: %s, CheckinTTL: %s},\n",
		c.Proximity.DefaultRadiusM, c.Proximity.DedupWindow, c.Proximity.CheckinTTL))
	actions := make([]string, 0, len(c.Points.Actions))
	for k, v := range c.Points.Actions {
		actions = append(actions, fmt.Sprintf("%s=%d", k, v))
	}
	sort.Strings(actions)
	sb.WriteString(fmt.Sprintf("  Points: %v,\n", actions))
	sb.WriteString(fmt.Sprintf("  Notify: {WebhookURL: %q},\n", redactURL(c.Notify.WebhookURL)))
	sb.WriteString("  HTTP: {\n")
	services := make([]string, 0, len(c.HTTP.Services))
	for name := range c.HTTP.Services {
		services = append(services, name)
	}
	sort.Strings(services)
	sb.WriteString(fmt.Sprintf("    Services: %q,\n", services))
	sb.WriteString("  },\n")
	sb.WriteString("}")
	return sb.String()
}

// redactURL strips userinfo and query from a URL; RPC providers and webhook
// endpoints commonly embed keys in either.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "[REDACTED]"
	}
	u.User = nil
	if u.RawQuery != "" {
		u.RawQuery = "REDACTED"
	}
	return u.String()
}

// PublicScheme returns "http" or "https" from PublicOrigin.
// Returns "https" if PublicOrigin is empty or unparseable.
func (c *Config) PublicScheme() string {
	if c.Server.PublicOrigin == "" {
		return "https"
	}
	u, err := url.Parse(c.Server.PublicOrigin)
	if err != nil || u.Scheme == "" {
		return "https"
	}
	return strings.ToLower(u.Scheme)
}
