package config

import (
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/vango-dev/mirror/internal/errors"
	"github.com/vango-dev/mirror/pkg/push"
	"github.com/vango-dev/mirror/pkg/server"
)

const (
	// ConfigName is the base name of the configuration file looked up in
	// the working directory when no path is given.
	ConfigName = "mirror"

	// EnvPrefix prefixes environment overrides, e.g. MIRROR_SERVER_PUSH_MODE.
	EnvPrefix = "MIRROR"

	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"
)

// Config is the complete mirror configuration.
type Config struct {
	// Addr is the listen address.
	Addr string `mapstructure:"addr" yaml:"addr"`

	// BasePath is where the UI endpoints are mounted.
	BasePath string `mapstructure:"base_path" yaml:"base_path"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Upload  UploadConfig  `mapstructure:"upload" yaml:"upload"`

	path string
}

// LogConfig configures the slog handler.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `mapstructure:"level" yaml:"level"`

	// Format is text or json.
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Path      string `mapstructure:"path" yaml:"path"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// TracingConfig configures invocation tracing.
type TracingConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	TracerName string `mapstructure:"tracer_name" yaml:"tracer_name"`
}

// ServerConfig mirrors the tunable part of server.Config.
type ServerConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	SessionTimeout    time.Duration `mapstructure:"session_timeout" yaml:"session_timeout"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
	CloseIdleSessions bool          `mapstructure:"close_idle_sessions" yaml:"close_idle_sessions"`
	MaxUIsPerSession  int           `mapstructure:"max_uis_per_session" yaml:"max_uis_per_session"`
	SyncIDCheck       bool          `mapstructure:"sync_id_check" yaml:"sync_id_check"`
	MaxMessageSuspend time.Duration `mapstructure:"max_message_suspend" yaml:"max_message_suspend"`
	PushMode          string        `mapstructure:"push_mode" yaml:"push_mode"`
	PushTransport     string        `mapstructure:"push_transport" yaml:"push_transport"`
	PushFallback      string        `mapstructure:"push_fallback" yaml:"push_fallback"`
	LongPollTimeout   time.Duration `mapstructure:"long_poll_timeout" yaml:"long_poll_timeout"`
	CSRFProtection    bool          `mapstructure:"csrf_protection" yaml:"csrf_protection"`
	SecureCookies     bool          `mapstructure:"secure_cookies" yaml:"secure_cookies"`
	TrustedProxies    []string      `mapstructure:"trusted_proxies" yaml:"trusted_proxies"`
	ProductionMode    bool          `mapstructure:"production_mode" yaml:"production_mode"`
}

// StoreConfig selects where session attributes are persisted.
type StoreConfig struct {
	// Sessions is memory, sqlite:<path> or postgres:<dsn>.
	Sessions string `mapstructure:"sessions" yaml:"sessions"`
}

// UploadConfig selects where uploads are kept. S3 is used when a bucket
// is set, the directory otherwise.
type UploadConfig struct {
	Dir     string   `mapstructure:"dir" yaml:"dir"`
	MaxSize int64    `mapstructure:"max_size" yaml:"max_size"`
	S3      S3Config `mapstructure:"s3" yaml:"s3"`
}

// S3Config configures the S3 upload store.
type S3Config struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style" yaml:"path_style"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"-"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	sc := server.DefaultConfig()
	return &Config{
		Addr:            DefaultAddr,
		ShutdownTimeout: 15 * time.Second,
		Log:             LogConfig{Level: "info", Format: "text"},
		Metrics:         MetricsConfig{Enabled: true, Path: "/metrics", Namespace: "mirror"},
		Tracing:         TracingConfig{TracerName: "mirror"},
		Server: ServerConfig{
			HeartbeatInterval: sc.HeartbeatInterval,
			SessionTimeout:    sc.SessionTimeout,
			CleanupInterval:   sc.CleanupInterval,
			CloseIdleSessions: sc.CloseIdleSessions,
			MaxUIsPerSession:  sc.MaxUIsPerSession,
			SyncIDCheck:       sc.SyncIDCheck,
			MaxMessageSuspend: sc.MaxMessageSuspend,
			PushMode:          sc.PushMode.String(),
			PushTransport:     string(sc.PushTransport),
			PushFallback:      string(sc.PushFallback),
			LongPollTimeout:   sc.LongPollTimeout,
			CSRFProtection:    sc.CSRFProtection,
			SecureCookies:     sc.SecureCookies,
			ProductionMode:    sc.ProductionMode,
		},
		Store:  StoreConfig{Sessions: "memory"},
		Upload: UploadConfig{Dir: filepath.Join(os.TempDir(), "mirror-uploads"), MaxSize: sc.MaxUploadSize},
	}
}

// Loader reads the configuration from a file, MIRROR_* environment
// variables and bound command-line flags, in increasing precedence.
type Loader struct {
	v *viper.Viper

	mu      sync.Mutex
	current *Config
}

// NewLoader creates a loader with the defaults registered.
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())
	return &Loader{v: v}
}

// setDefaults registers every key so AutomaticEnv can see it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("addr", d.Addr)
	v.SetDefault("base_path", d.BasePath)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.tracer_name", d.Tracing.TracerName)

	s := d.Server
	v.SetDefault("server.heartbeat_interval", s.HeartbeatInterval)
	v.SetDefault("server.session_timeout", s.SessionTimeout)
	v.SetDefault("server.cleanup_interval", s.CleanupInterval)
	v.SetDefault("server.close_idle_sessions", s.CloseIdleSessions)
	v.SetDefault("server.max_uis_per_session", s.MaxUIsPerSession)
	v.SetDefault("server.sync_id_check", s.SyncIDCheck)
	v.SetDefault("server.max_message_suspend", s.MaxMessageSuspend)
	v.SetDefault("server.push_mode", s.PushMode)
	v.SetDefault("server.push_transport", s.PushTransport)
	v.SetDefault("server.push_fallback", s.PushFallback)
	v.SetDefault("server.long_poll_timeout", s.LongPollTimeout)
	v.SetDefault("server.csrf_protection", s.CSRFProtection)
	v.SetDefault("server.secure_cookies", s.SecureCookies)
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.production_mode", s.ProductionMode)

	v.SetDefault("store.sessions", d.Store.Sessions)

	v.SetDefault("upload.dir", d.Upload.Dir)
	v.SetDefault("upload.max_size", d.Upload.MaxSize)
	v.SetDefault("upload.s3.bucket", "")
	v.SetDefault("upload.s3.prefix", "")
	v.SetDefault("upload.s3.region", "")
	v.SetDefault("upload.s3.endpoint", "")
	v.SetDefault("upload.s3.path_style", false)
	v.SetDefault("upload.s3.access_key_id", "")
	v.SetDefault("upload.s3.secret_access_key", "")
}

// BindFlag makes flag override key when it is set on the command line.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	return l.v.BindPFlag(key, flag)
}

// Load reads path, or mirror.yaml in the working directory when path is
// empty. A missing default file is not an error; a missing explicit path
// is.
func (l *Loader) Load(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.New("E100").WithKey(path).Wrap(err)
		}
		l.v.SetConfigFile(path)
	} else {
		l.v.SetConfigName(ConfigName)
		l.v.AddConfigPath(".")
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); path != "" || !notFound {
			return nil, errors.New("E101").Wrap(err)
		}
	}

	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) decode() (*Config, error) {
	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, errors.New("E101").Wrap(err)
	}
	cfg.path = l.v.ConfigFileUsed()
	return cfg, nil
}

// Current returns the configuration of the last successful Load or
// reload.
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Watch calls fn whenever the configuration file changes on disk, with
// the reloaded configuration or the error that prevented it. An invalid
// configuration is reported and not made current.
func (l *Loader) Watch(fn func(*Config, error)) {
	l.v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := l.decode()
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			fn(nil, err)
			return
		}
		l.mu.Lock()
		l.current = cfg
		l.mu.Unlock()
		fn(cfg, nil)
	})
	l.v.WatchConfig()
}

// Path returns the file the configuration was read from, if any.
func (c *Config) Path() string {
	return c.path
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return errors.New("E102").WithKey("addr").
			WithDetailf("%q is not a host:port address", c.Addr).
			WithSuggestion("Use an address such as :8080 or 127.0.0.1:8080")
	}
	if c.BasePath != "" && (!strings.HasPrefix(c.BasePath, "/") || strings.HasSuffix(c.BasePath, "/")) {
		return errors.New("E102").WithKey("base_path").
			WithDetail("must start with a slash and not end with one").
			WithSuggestion("Use a path such as /app, or leave it empty")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return errors.New("E102").WithKey("log.level").Wrap(err).
			WithSuggestion("Use debug, info, warn or error")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errors.New("E102").WithKey("log.format").
			WithDetailf("unknown format %q", c.Log.Format).
			WithSuggestion("Use text or json")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.New("E102").WithKey("metrics.path").
			WithDetail("must start with a slash")
	}

	if _, err := push.ParseMode(c.Server.PushMode); err != nil {
		return errors.New("E103").WithKey("server.push_mode").Wrap(err)
	}
	for key, t := range map[string]string{
		"server.push_transport": c.Server.PushTransport,
		"server.push_fallback":  c.Server.PushFallback,
	} {
		if _, err := push.ParseTransport(t); err != nil {
			return errors.New("E103").WithKey(key).Wrap(err)
		}
	}
	for key, d := range map[string]time.Duration{
		"server.session_timeout":     c.Server.SessionTimeout,
		"server.cleanup_interval":    c.Server.CleanupInterval,
		"server.max_message_suspend": c.Server.MaxMessageSuspend,
		"server.long_poll_timeout":   c.Server.LongPollTimeout,
		"shutdown_timeout":           c.ShutdownTimeout,
	} {
		if d <= 0 {
			return errors.New("E102").WithKey(key).
				WithDetailf("must be positive, got %s", d)
		}
	}
	if c.Server.MaxUIsPerSession < 0 {
		return errors.New("E102").WithKey("server.max_uis_per_session").
			WithDetail("must not be negative; 0 means no limit")
	}
	for _, p := range c.Server.TrustedProxies {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return errors.New("E102").WithKey("server.trusted_proxies").
					WithDetailf("%q is neither an IP nor a CIDR", p)
			}
		}
	}

	kind, arg, _ := strings.Cut(c.Store.Sessions, ":")
	switch kind {
	case "", "memory":
	case "sqlite", "postgres", "postgresql":
		if arg == "" {
			return errors.New("E121").WithKey("store.sessions").
				WithDetailf("%s needs a location after the colon", kind)
		}
	default:
		return errors.New("E121").WithKey("store.sessions")
	}

	if c.Upload.MaxSize <= 0 {
		return errors.New("E102").WithKey("upload.max_size").
			WithDetail("must be positive")
	}
	if c.Upload.S3.Bucket == "" && c.Upload.Dir == "" {
		return errors.New("E102").WithKey("upload.dir").
			WithDetail("set an upload directory or an S3 bucket")
	}
	if c.Upload.S3.Bucket != "" && c.Upload.S3.Region == "" {
		return errors.New("E102").WithKey("upload.s3.region").
			WithDetail("required with upload.s3.bucket")
	}
	return nil
}

// SlogLevel parses the log level.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.Level))
	return level, err
}

// ServerConfig converts the server section into a server.Config. Fields
// without a configuration key keep their defaults.
func (c *Config) ServerConfig() (*server.Config, error) {
	mode, err := push.ParseMode(c.Server.PushMode)
	if err != nil {
		return nil, errors.New("E103").WithKey("server.push_mode").Wrap(err)
	}
	transport, err := push.ParseTransport(c.Server.PushTransport)
	if err != nil {
		return nil, errors.New("E103").WithKey("server.push_transport").Wrap(err)
	}
	fallback, err := push.ParseTransport(c.Server.PushFallback)
	if err != nil {
		return nil, errors.New("E103").WithKey("server.push_fallback").Wrap(err)
	}

	sc := server.DefaultConfig()
	sc.HeartbeatInterval = c.Server.HeartbeatInterval
	sc.SessionTimeout = c.Server.SessionTimeout
	sc.CleanupInterval = c.Server.CleanupInterval
	sc.CloseIdleSessions = c.Server.CloseIdleSessions
	sc.MaxUIsPerSession = c.Server.MaxUIsPerSession
	sc.SyncIDCheck = c.Server.SyncIDCheck
	sc.MaxMessageSuspend = c.Server.MaxMessageSuspend
	sc.PushMode = mode
	sc.PushTransport = transport
	sc.PushFallback = fallback
	sc.LongPollTimeout = c.Server.LongPollTimeout
	sc.CSRFProtection = c.Server.CSRFProtection
	sc.SecureCookies = c.Server.SecureCookies
	sc.TrustedProxies = append([]string(nil), c.Server.TrustedProxies...)
	sc.ProductionMode = c.Server.ProductionMode
	sc.MaxUploadSize = c.Upload.MaxSize
	return sc, nil
}

// Dump renders the configuration as YAML. Secrets are left out.
func (c *Config) Dump() ([]byte, error) {
	return yaml.Marshal(c)
}
