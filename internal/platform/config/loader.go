// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
)

// Mode represents the server operating mode.
type Mode string

const (
	ModeStrict Mode = "strict"
	ModeDev    Mode = "dev"
)

// PaymentFloor is the smallest payment claim ever accepted, whatever
// chain.min_amount says.
var PaymentFloor = decimal.RequireFromString("0.10")

// ParseMode parses a mode string, returning an error for invalid values.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict", "":
		return ModeStrict, nil
	case "dev":
		return ModeDev, nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be one of strict, dev", s)
	}
}

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but file is missing or invalid, loading fails.
	ConfigPath string

	// ModeFlag is the --mode flag value (overrides config file mode).
	ModeFlag string

	// FlagOverrides are CLI flag values that override config file values.
	FlagOverrides FlagOverrides

	// Logger is used for warning messages (e.g., undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
type FlagOverrides struct {
	ListenAddr   *string
	PublicOrigin *string
	SSRFMode     *string
	TLSMode      *string
	LoggingLevel *string
	StoreDriver  *string
	StoreDataDir *string
	StoreDSN     *string
	CacheDriver  *string
	ChainRPCURL  *string
}

// fileConfig mirrors Config but with pointer fields to detect presence.
type fileConfig struct {
	Mode string `toml:"mode"`

	Server       *ServerConfig       `toml:"server"`
	TLS          *TLSConfig          `toml:"tls"`
	OutboundHTTP *OutboundHTTPConfig `toml:"outbound_http"`
	Logging      *LoggingConfig      `toml:"logging"`
	Store        *StoreConfig        `toml:"store"`
	Cache        *CacheConfig        `toml:"cache"`
	Auth         *AuthConfig         `toml:"auth"`
	Farcaster    *FarcasterConfig    `toml:"farcaster"`
	Chain        *chainFileConfig    `toml:"chain"`
	Proximity    *ProximityConfig    `toml:"proximity"`
	Points       *PointsConfig       `toml:"points"`
	Notify       *NotifyConfig       `toml:"notify"`
	HTTP         *HTTPConfig         `toml:"http"`
}

// chainFileConfig uses a pointer for decimals, where zero is a valid value.
type chainFileConfig struct {
	RPCURL               string        `toml:"rpc_url"`
	TokenContract        string        `toml:"token_contract"`
	Recipient            string        `toml:"recipient"`
	Decimals             *int32        `toml:"decimals"`
	MinAmount            string        `toml:"min_amount"`
	RPCTimeout           time.Duration `toml:"rpc_timeout"`
	RPCRatePerSecond     float64       `toml:"rpc_rate_per_second"`
	ConfirmationDeadline time.Duration `toml:"confirmation_deadline"`
	Workers              int           `toml:"workers"`
	QueueSize            int           `toml:"queue_size"`
	MaxAttempts          int           `toml:"max_attempts"`
	SweepInterval        time.Duration `toml:"sweep_interval"`
}

// Load loads configuration with the following precedence:
//  1. Determine effective mode: --mode flag > mode in config file > default (strict)
//  2. Start from mode preset defaults
//  3. Overlay TOML config file values
//  4. Overlay CLI flags
//  5. Validate enum and range fields
//
// If ConfigPath is provided but the file is missing, unreadable, or invalid TOML,
// Load returns an error (fail fast). Unknown/undecoded TOML keys produce a warning
// but do not fail the load.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var fc fileConfig

	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}

		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keyStr := k.String()
				// Free-form maps are decoded by their owners, not here.
				if strings.HasPrefix(keyStr, "http.") || strings.HasPrefix(keyStr, "cache.drivers.") {
					continue
				}
				keys = append(keys, keyStr)
			}
			if len(keys) > 0 {
				logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
			}
		}
	}

	modeStr := "strict"
	if fc.Mode != "" {
		modeStr = fc.Mode
	}
	if opts.ModeFlag != "" {
		modeStr = opts.ModeFlag
	}

	mode, err := ParseMode(modeStr)
	if err != nil {
		return nil, err
	}

	cfg := presetForMode(mode)

	if opts.ConfigPath != "" {
		overlayFileConfig(cfg, &fc)
	}

	overlayFlags(cfg, opts.FlagOverrides)

	if err := validateEnums(cfg); err != nil {
		return nil, err
	}

	if err := validatePublicOrigin(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// presetForMode returns the base config for a given mode.
func presetForMode(mode Mode) *Config {
	if mode == ModeDev {
		return DevConfig()
	}
	return StrictConfig()
}

// DefaultPointsActions returns the built-in award table.
func DefaultPointsActions() map[string]int {
	return map[string]int{
		"login":                1,
		"checkin":              10,
		"checkin_sponsored":    25,
		"sponsorship_verified": 50,
	}
}

// StrictConfig returns production-safe strict defaults.
func StrictConfig() *Config {
	return &Config{
		Mode: string(ModeStrict),
		Server: ServerConfig{
			ListenAddr:     ":8080",
			PublicOrigin:   "",
			TrustedProxies: []string{"127.0.0.0/8", "::1/128"},
		},
		TLS: TLSConfig{
			Mode:      "off",
			HTTPPort:  80,
			HTTPSPort: 443,
			ACME: ACMEConfig{
				Directory:  "https://acme-v02.api.letsencrypt.org/directory",
				StorageDir: ".flowb/acme",
			},
		},
		OutboundHTTP: OutboundHTTPConfig{
			SSRFMode:         "strict",
			TimeoutMS:        10000,
			ConnectTimeoutMS: 2000,
			MaxRedirects:     1,
			MaxResponseBytes: 1048576,
		},
		Logging: LoggingConfig{Level: "info"},
		Store: StoreConfig{
			Driver:  "sqlite",
			DataDir: ".flowb/data",
		},
		Cache: CacheConfig{Driver: "memory"},
		Auth: AuthConfig{
			TokenTTL:       24 * time.Hour,
			TelegramMaxAge: 24 * time.Hour,
		},
		Farcaster: FarcasterConfig{
			QuickAuthIssuer: "https://auth.farcaster.xyz",
			JWKSURL:         "https://auth.farcaster.xyz/.well-known/jwks.json",
			ProfileAPIURL:   "https://api.neynar.com",
		},
		Chain: ChainConfig{
			Decimals:             6,
			MinAmount:            "0.10",
			RPCTimeout:           10 * time.Second,
			RPCRatePerSecond:     5,
			ConfirmationDeadline: 30 * time.Minute,
			Workers:              2,
			QueueSize:            256,
			MaxAttempts:          6,
			SweepInterval:        2 * time.Minute,
		},
		Proximity: ProximityConfig{
			DefaultRadiusM: 100,
			DedupWindow:    30 * time.Minute,
			CheckinTTL:     2 * time.Hour,
		},
		Points: PointsConfig{Actions: DefaultPointsActions()},
	}
}

// DevConfig returns development mode defaults.
func DevConfig() *Config {
	cfg := StrictConfig()
	cfg.Mode = string(ModeDev)
	cfg.TLS.ACME.Directory = "https://acme-staging-v02.api.letsencrypt.org/directory"
	cfg.TLS.ACME.UseStaging = true
	cfg.OutboundHTTP.SSRFMode = "off"
	cfg.OutboundHTTP.MaxRedirects = 3
	cfg.OutboundHTTP.InsecureSkipVerify = true
	cfg.Logging.Level = "debug"
	return cfg
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

// overlayFileConfig applies TOML file values onto cfg.
func overlayFileConfig(cfg *Config, fc *fileConfig) {
	if s := fc.Server; s != nil {
		setString(&cfg.Server.ListenAddr, s.ListenAddr)
		setString(&cfg.Server.PublicOrigin, s.PublicOrigin)
		if len(s.TrustedProxies) > 0 {
			cfg.Server.TrustedProxies = s.TrustedProxies
		}
	}

	if t := fc.TLS; t != nil {
		setString(&cfg.TLS.Mode, t.Mode)
		setString(&cfg.TLS.CertFile, t.CertFile)
		setString(&cfg.TLS.KeyFile, t.KeyFile)
		setInt(&cfg.TLS.HTTPPort, t.HTTPPort)
		setInt(&cfg.TLS.HTTPSPort, t.HTTPSPort)
		setString(&cfg.TLS.ACME.Email, t.ACME.Email)
		setString(&cfg.TLS.ACME.Domain, t.ACME.Domain)
		setString(&cfg.TLS.ACME.Directory, t.ACME.Directory)
		setString(&cfg.TLS.ACME.StorageDir, t.ACME.StorageDir)
		// UseStaging is a bool, we overlay it if the TLS section is present
		cfg.TLS.ACME.UseStaging = t.ACME.UseStaging
	}

	if o := fc.OutboundHTTP; o != nil {
		setString(&cfg.OutboundHTTP.SSRFMode, o.SSRFMode)
		setInt(&cfg.OutboundHTTP.TimeoutMS, o.TimeoutMS)
		setInt(&cfg.OutboundHTTP.ConnectTimeoutMS, o.ConnectTimeoutMS)
		setInt(&cfg.OutboundHTTP.MaxRedirects, o.MaxRedirects)
		if o.MaxResponseBytes != 0 {
			cfg.OutboundHTTP.MaxResponseBytes = o.MaxResponseBytes
		}
		cfg.OutboundHTTP.InsecureSkipVerify = o.InsecureSkipVerify
	}

	if l := fc.Logging; l != nil {
		setString(&cfg.Logging.Level, l.Level)
	}

	if s := fc.Store; s != nil {
		setString(&cfg.Store.Driver, s.Driver)
		setString(&cfg.Store.DataDir, s.DataDir)
		setString(&cfg.Store.DSN, s.DSN)
	}

	if c := fc.Cache; c != nil {
		setString(&cfg.Cache.Driver, c.Driver)
		if len(c.Drivers) > 0 {
			cfg.Cache.Drivers = c.Drivers
		}
	}

	if a := fc.Auth; a != nil {
		setString(&cfg.Auth.TokenSecret, a.TokenSecret)
		setDuration(&cfg.Auth.TokenTTL, a.TokenTTL)
		setString(&cfg.Auth.TelegramBotToken, a.TelegramBotToken)
		setDuration(&cfg.Auth.TelegramMaxAge, a.TelegramMaxAge)
		if len(a.AppAccounts) > 0 {
			cfg.Auth.AppAccounts = a.AppAccounts
		}
	}

	if f := fc.Farcaster; f != nil {
		setString(&cfg.Farcaster.AppDomain, f.AppDomain)
		setString(&cfg.Farcaster.QuickAuthIssuer, f.QuickAuthIssuer)
		setString(&cfg.Farcaster.JWKSURL, f.JWKSURL)
		setString(&cfg.Farcaster.ProfileAPIURL, f.ProfileAPIURL)
		setString(&cfg.Farcaster.ProfileAPIKey, f.ProfileAPIKey)
		setString(&cfg.Farcaster.LegacyVerifyURL, f.LegacyVerifyURL)
	}

	if c := fc.Chain; c != nil {
		setString(&cfg.Chain.RPCURL, c.RPCURL)
		setString(&cfg.Chain.TokenContract, c.TokenContract)
		setString(&cfg.Chain.Recipient, c.Recipient)
		if c.Decimals != nil {
			cfg.Chain.Decimals = *c.Decimals
		}
		setString(&cfg.Chain.MinAmount, c.MinAmount)
		setDuration(&cfg.Chain.RPCTimeout, c.RPCTimeout)
		if c.RPCRatePerSecond != 0 {
			cfg.Chain.RPCRatePerSecond = c.RPCRatePerSecond
		}
		setDuration(&cfg.Chain.ConfirmationDeadline, c.ConfirmationDeadline)
		setInt(&cfg.Chain.Workers, c.Workers)
		setInt(&cfg.Chain.QueueSize, c.QueueSize)
		setInt(&cfg.Chain.MaxAttempts, c.MaxAttempts)
		setDuration(&cfg.Chain.SweepInterval, c.SweepInterval)
	}

	if p := fc.Proximity; p != nil {
		if p.DefaultRadiusM != 0 {
			cfg.Proximity.DefaultRadiusM = p.DefaultRadiusM
		}
		setDuration(&cfg.Proximity.DedupWindow, p.DedupWindow)
		setDuration(&cfg.Proximity.CheckinTTL, p.CheckinTTL)
	}

	if p := fc.Points; p != nil {
		// Per-action overrides; unspecified actions keep their defaults.
		for k, v := range p.Actions {
			cfg.Points.Actions[k] = v
		}
	}

	if n := fc.Notify; n != nil {
		setString(&cfg.Notify.WebhookURL, n.WebhookURL)
	}

	if h := fc.HTTP; h != nil {
		if len(h.Services) > 0 {
			if cfg.HTTP.Services == nil {
				cfg.HTTP.Services = make(map[string]map[string]any)
			}
			for name, svcCfg := range h.Services {
				cfg.HTTP.Services[name] = svcCfg
			}
		}
		if len(h.Interceptors) > 0 {
			if cfg.HTTP.Interceptors == nil {
				cfg.HTTP.Interceptors = make(map[string]map[string]any)
			}
			for name, intCfg := range h.Interceptors {
				cfg.HTTP.Interceptors[name] = intCfg
			}
		}
	}
}

// overlayFlags applies CLI flag values onto cfg.
func overlayFlags(cfg *Config, f FlagOverrides) {
	apply := func(dst *string, v *string) {
		if v != nil && *v != "" {
			*dst = *v
		}
	}
	apply(&cfg.Server.ListenAddr, f.ListenAddr)
	apply(&cfg.Server.PublicOrigin, f.PublicOrigin)
	apply(&cfg.OutboundHTTP.SSRFMode, f.SSRFMode)
	apply(&cfg.TLS.Mode, f.TLSMode)
	apply(&cfg.Logging.Level, f.LoggingLevel)
	apply(&cfg.Store.Driver, f.StoreDriver)
	apply(&cfg.Store.DataDir, f.StoreDataDir)
	apply(&cfg.Store.DSN, f.StoreDSN)
	apply(&cfg.Cache.Driver, f.CacheDriver)
	apply(&cfg.Chain.RPCURL, f.ChainRPCURL)
}

// validateEnums validates enum-like and range fields and returns an error for invalid values.
func validateEnums(cfg *Config) error {
	switch cfg.TLS.Mode {
	case "off", "static", "acme":
	default:
		return fmt.Errorf("invalid tls.mode %q: must be one of off, static, acme", cfg.TLS.Mode)
	}
	if cfg.TLS.Mode == "static" && (cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "") {
		return fmt.Errorf("tls.cert_file and tls.key_file are required when tls.mode is static")
	}
	if cfg.TLS.Mode == "acme" && cfg.TLS.ACME.Domain == "" {
		return fmt.Errorf("tls.acme.domain is required when tls.mode is acme")
	}

	switch cfg.OutboundHTTP.SSRFMode {
	case "strict", "off":
	default:
		return fmt.Errorf("invalid outbound_http.ssrf_mode %q: must be one of strict, off", cfg.OutboundHTTP.SSRFMode)
	}

	switch cfg.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q: must be one of trace, debug, info, warn, error", cfg.Logging.Level)
	}

	switch cfg.Store.Driver {
	case "sqlite", "memory":
	case "postgres":
		if cfg.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required when store.driver is postgres")
		}
	default:
		return fmt.Errorf("invalid store.driver %q: must be one of sqlite, postgres, memory", cfg.Store.Driver)
	}

	// cache.driver (empty defaults to memory)
	switch cfg.Cache.Driver {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("invalid cache.driver %q: must be one of memory or redis", cfg.Cache.Driver)
	}

	for i, a := range cfg.Auth.AppAccounts {
		if a.Username == "" || a.Password == "" {
			return fmt.Errorf("auth.app_accounts[%d]: username and password are required", i)
		}
		switch a.Role {
		case "", "user", "admin":
		default:
			return fmt.Errorf("auth.app_accounts[%d]: invalid role %q: must be one of user, admin", i, a.Role)
		}
	}
	if cfg.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}

	if cfg.Chain.Decimals < 0 || cfg.Chain.Decimals > 36 {
		return fmt.Errorf("invalid chain.decimals %d: must be between 0 and 36", cfg.Chain.Decimals)
	}
	minAmount, err := decimal.NewFromString(cfg.Chain.MinAmount)
	if err != nil {
		return fmt.Errorf("invalid chain.min_amount %q: %w", cfg.Chain.MinAmount, err)
	}
	if minAmount.LessThan(PaymentFloor) {
		return fmt.Errorf("invalid chain.min_amount %s: must be at least %s", minAmount, PaymentFloor)
	}
	if cfg.Chain.Workers < 1 || cfg.Chain.QueueSize < 1 {
		return fmt.Errorf("chain.workers and chain.queue_size must be at least 1")
	}
	if cfg.Chain.RPCURL != "" && (cfg.Chain.TokenContract == "" || cfg.Chain.Recipient == "") {
		return fmt.Errorf("chain.token_contract and chain.recipient are required when chain.rpc_url is set")
	}

	if cfg.Proximity.DefaultRadiusM <= 0 {
		return fmt.Errorf("proximity.default_radius_m must be positive")
	}
	if cfg.Proximity.DedupWindow <= 0 || cfg.Proximity.CheckinTTL <= 0 {
		return fmt.Errorf("proximity.dedup_window and proximity.checkin_ttl must be positive")
	}

	if err := validateRatelimitConfig(cfg); err != nil {
		return err
	}

	return nil
}

// validateRatelimitConfig validates ratelimit interceptor configuration.
// Profiles are defined at [http.interceptors.ratelimit.profiles.<name>].
// Services opt-in via [http.services.<svc>.ratelimit] with profile = "<name>".
// If a service references a profile, that profile must exist.
func validateRatelimitConfig(cfg *Config) error {
	profiles := make(map[string]bool)
	if cfg.HTTP.Interceptors != nil {
		if rlCfg, ok := cfg.HTTP.Interceptors["ratelimit"]; ok {
			if profilesRaw, ok := rlCfg["profiles"]; ok {
				profilesMap, ok := profilesRaw.(map[string]any)
				if !ok {
					return fmt.Errorf("http.interceptors.ratelimit.profiles must be a map")
				}
				for name, profile := range profilesMap {
					if _, ok := profile.(map[string]any); !ok {
						return fmt.Errorf("http.interceptors.ratelimit.profiles.%s must be a map", name)
					}
					profiles[name] = true
				}
			}
		}
	}

	for svcName, svcCfg := range cfg.HTTP.Services {
		rlMap, ok := svcCfg["ratelimit"].(map[string]any)
		if !ok {
			continue
		}
		if profileStr, ok := rlMap["profile"].(string); ok && !profiles[profileStr] {
			return fmt.Errorf("http.services.%s.ratelimit references undefined profile %q", svcName, profileStr)
		}
	}

	return nil
}

// validatePublicOrigin checks the server.public_origin value when set.
// Must be an absolute URL with http/https scheme, a host, no userinfo,
// query, fragment, or path. Whitespace is rejected, not trimmed.
func validatePublicOrigin(cfg *Config) error {
	origin := cfg.Server.PublicOrigin
	if origin == "" {
		return nil
	}

	if origin != strings.TrimSpace(origin) {
		return fmt.Errorf("invalid public_origin %q: must not contain leading or trailing whitespace", origin)
	}

	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid public_origin %q: %w", origin, err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("invalid public_origin %q: must be an absolute URL with http or https scheme", origin)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("invalid public_origin %q: scheme must be http or https, got %q", origin, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid public_origin %q: must include a host", origin)
	}
	if u.User != nil {
		return fmt.Errorf("invalid public_origin %q: must not include userinfo", origin)
	}
	if u.RawQuery != "" {
		return fmt.Errorf("invalid public_origin %q: must not include a query string", origin)
	}
	if u.Fragment != "" {
		return fmt.Errorf("invalid public_origin %q: must not include a fragment", origin)
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("invalid public_origin %q: must not include a path", origin)
	}
	return nil
}
