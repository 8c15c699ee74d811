package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"livecast/pkg/validation"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	// Signal configures the development coordinator (cmd/signal).
	Signal struct {
		Address         string        `yaml:"address"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		RTMPURL         string        `yaml:"rtmp_url"`
	} `yaml:"signal"`

	// Signaling configures the client side of the signaling channel.
	Signaling struct {
		URL                   string        `yaml:"url"`
		PingInterval          time.Duration `yaml:"ping_interval"`
		PongTimeout           time.Duration `yaml:"pong_timeout"`
		WriteTimeout          time.Duration `yaml:"write_timeout"`
		ReconnectInitialDelay time.Duration `yaml:"reconnect_initial_delay"`
		ReconnectMaxDelay     time.Duration `yaml:"reconnect_max_delay"`
		EventBuffer           int           `yaml:"event_buffer"`
	} `yaml:"signaling"`

	API struct {
		BaseURL                 string        `yaml:"base_url"`
		Timeout                 time.Duration `yaml:"timeout"`
		RetryAttempts           int           `yaml:"retry_attempts"`
		RetryInitialDelay       time.Duration `yaml:"retry_initial_delay"`
		CircuitBreakerThreshold int           `yaml:"circuit_breaker_threshold"`
		CircuitBreakerTimeout   time.Duration `yaml:"circuit_breaker_timeout"`
	} `yaml:"api"`

	Session struct {
		PreparationTicks        int           `yaml:"preparation_ticks"`
		PreparationTickInterval time.Duration `yaml:"preparation_tick_interval"`
		BackgroundResumeLimit   time.Duration `yaml:"background_resume_limit"`
		LeaveTimeout            time.Duration `yaml:"leave_timeout"`
		ScheduleCheckTimeout    time.Duration `yaml:"schedule_check_timeout"`
		Resolution              string        `yaml:"resolution"`
		StabilizationMode       string        `yaml:"stabilization_mode"`
		AdaptiveBitrate         bool          `yaml:"adaptive_bitrate"`
	} `yaml:"session"`

	Bitrate struct {
		Cooldown    time.Duration `yaml:"cooldown"`
		InitialDrop float64       `yaml:"initial_drop"`
		StepDown    float64       `yaml:"step_down"`
		StepUp      float64       `yaml:"step_up"`
		FloorRatio  float64       `yaml:"floor_ratio"`
	} `yaml:"bitrate"`

	Reconnect struct {
		Interval   time.Duration `yaml:"interval"`
		MaxRetries int           `yaml:"max_retries"`
	} `yaml:"reconnect"`

	Transport struct {
		Engine       string        `yaml:"engine"`
		ConnectDelay time.Duration `yaml:"connect_delay"`
	} `yaml:"transport"`

	Monitoring struct {
		PrometheusEnabled bool          `yaml:"prometheus_enabled"`
		MetricsInterval   time.Duration `yaml:"metrics_interval"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled    bool          `yaml:"enabled"`
		Address    string        `yaml:"address"`
		Password   string        `yaml:"password"`
		DB         int           `yaml:"db"`
		PoolSize   int           `yaml:"pool_size"`
		SessionTTL time.Duration `yaml:"session_ttl"`
	} `yaml:"redis"`

	Auth struct {
		// AccessToken is the broadcaster's token sent with stream-init.
		AccessToken string `yaml:"access_token"`
		// APIToken protects the control API when set.
		APIToken       string   `yaml:"api_token"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`
	} `yaml:"rate_limiting"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Diagnostics struct {
		Enabled           bool    `yaml:"enabled"`
		QueueSize         int     `yaml:"queue_size"`
		MessagesPerSecond float64 `yaml:"messages_per_second"`
		Burst             int     `yaml:"burst"`
		Platform          string  `yaml:"platform"`
		OSVersion         string  `yaml:"os_version"`
		DeviceModel       string  `yaml:"device_model"`
	} `yaml:"diagnostics"`
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	for _, check := range []func() error{
		c.validateServers,
		c.validateSignaling,
		c.validateAPI,
		c.validateSession,
		c.validateMedia,
		c.validateOptional,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

type number interface {
	~int | ~int64 | ~float64
}

func positive[T number](name string, v T) error {
	if v <= 0 {
		return fmt.Errorf("%s must be > 0", name)
	}
	return nil
}

func required(name, v string) error {
	if v == "" {
		return fmt.Errorf("%s must not be empty", name)
	}
	return nil
}

func wrapField(name string, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServers() error {
	return firstError(
		required("server.address", c.Server.Address),
		positive("server.read_timeout", c.Server.ReadTimeout),
		positive("server.write_timeout", c.Server.WriteTimeout),
		positive("server.shutdown_timeout", c.Server.ShutdownTimeout),
		required("signal.address", c.Signal.Address),
		positive("signal.ping_interval", c.Signal.PingInterval),
		positive("signal.pong_timeout", c.Signal.PongTimeout),
		positive("signal.shutdown_timeout", c.Signal.ShutdownTimeout),
		wrapField("signal.rtmp_url", validation.ValidateRTMPURL(c.Signal.RTMPURL)),
	)
}

func (c *Config) validateSignaling() error {
	s := c.Signaling
	if err := firstError(
		wrapField("signaling.url", validation.ValidateURL(s.URL)),
		positive("signaling.ping_interval", s.PingInterval),
		positive("signaling.write_timeout", s.WriteTimeout),
		positive("signaling.reconnect_initial_delay", s.ReconnectInitialDelay),
		positive("signaling.event_buffer", s.EventBuffer),
	); err != nil {
		return err
	}
	if s.PongTimeout <= s.PingInterval {
		return fmt.Errorf("signaling.pong_timeout must exceed signaling.ping_interval")
	}
	if s.ReconnectMaxDelay < s.ReconnectInitialDelay {
		return fmt.Errorf("signaling.reconnect_max_delay must be >= signaling.reconnect_initial_delay")
	}
	return nil
}

func (c *Config) validateAPI() error {
	return firstError(
		wrapField("api.base_url", validation.ValidateURL(c.API.BaseURL)),
		positive("api.timeout", c.API.Timeout),
		positive("api.retry_attempts", c.API.RetryAttempts),
		positive("api.circuit_breaker_threshold", c.API.CircuitBreakerThreshold),
	)
}

func (c *Config) validateSession() error {
	s := c.Session
	if err := firstError(
		positive("session.preparation_ticks", s.PreparationTicks),
		positive("session.preparation_tick_interval", s.PreparationTickInterval),
		positive("session.background_resume_limit", s.BackgroundResumeLimit),
		positive("session.leave_timeout", s.LeaveTimeout),
		positive("session.schedule_check_timeout", s.ScheduleCheckTimeout),
		wrapField("session.resolution", validation.ValidateResolution(s.Resolution)),
	); err != nil {
		return err
	}
	if _, ok := stabilizationModes[s.StabilizationMode]; !ok {
		return fmt.Errorf("session.stabilization_mode %q is not supported", s.StabilizationMode)
	}
	return nil
}

// validateMedia covers the bitrate rules, reconnect policy and engine.
func (c *Config) validateMedia() error {
	b := c.Bitrate
	switch {
	case b.Cooldown <= 0:
		return fmt.Errorf("bitrate.cooldown must be > 0")
	case b.FloorRatio <= 0 || b.FloorRatio >= 1:
		return fmt.Errorf("bitrate.floor_ratio must be in (0, 1)")
	case b.InitialDrop < b.FloorRatio || b.InitialDrop >= 1:
		return fmt.Errorf("bitrate.initial_drop must be in [floor_ratio, 1)")
	case b.StepDown <= 0 || b.StepDown >= 1:
		return fmt.Errorf("bitrate.step_down must be in (0, 1)")
	case b.StepUp <= 1:
		return fmt.Errorf("bitrate.step_up must be > 1")
	case c.Reconnect.Interval <= 0:
		return fmt.Errorf("reconnect.interval must be > 0")
	case c.Reconnect.MaxRetries < 0:
		return fmt.Errorf("reconnect.max_retries must be >= 0")
	case c.Transport.Engine != "simulated":
		return fmt.Errorf("transport.engine %q is not supported", c.Transport.Engine)
	}
	return nil
}

// validateOptional checks logging and monitoring plus the sections that
// only matter when enabled.
func (c *Config) validateOptional() error {
	if err := firstError(
		required("logging.level", c.Logging.Level),
		positive("monitoring.metrics_interval", c.Monitoring.MetricsInterval),
	); err != nil {
		return err
	}
	if c.Redis.Enabled {
		if err := firstError(
			required("redis.address", c.Redis.Address),
			positive("redis.pool_size", c.Redis.PoolSize),
			positive("redis.session_ttl", c.Redis.SessionTTL),
		); err != nil {
			return err
		}
	}
	if c.RateLimiting.Enabled {
		h := c.RateLimiting.HTTP
		if err := firstError(
			positive("rate_limiting.http.requests_per_second", h.RequestsPerSecond),
			positive("rate_limiting.http.burst", h.Burst),
		); err != nil {
			return err
		}
		if h.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0")
		}
	}
	if c.Tracing.Enabled {
		if err := required("tracing.jaeger_url", c.Tracing.JaegerURL); err != nil {
			return err
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
		}
	}
	if c.Diagnostics.Enabled {
		return firstError(
			positive("diagnostics.queue_size", c.Diagnostics.QueueSize),
			positive("diagnostics.messages_per_second", c.Diagnostics.MessagesPerSecond),
			positive("diagnostics.burst", c.Diagnostics.Burst),
		)
	}
	return nil
}

var stabilizationModes = map[string]int{
	"off":                0,
	"standard":           1,
	"cinematic":          2,
	"cinematic_extended": 3,
	"auto":               -1,
}

// StabilizationModeValue maps session.stabilization_mode to the capture
// pipeline's numeric mode.
func (c *Config) StabilizationModeValue() int {
	return stabilizationModes[c.Session.StabilizationMode]
}

// Load reads configuration from YAML file, applies defaults and env overrides.
// LoadFirst loads the first existing file among paths and returns its
// path. With no file present it returns the defaults and an empty path.
func LoadFirst(paths ...string) (*Config, string, error) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := Load(path)
		if err != nil {
			return nil, path, err
		}
		return cfg, path, nil
	}
	cfg, err := Load("")
	return cfg, "", err
}

func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); configPath == "" || os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.Address = ":8081"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.ShutdownTimeout = 30 * time.Second
	cfg.Signal.RTMPURL = "rtmp://localhost:1935/live"

	cfg.Signaling.URL = "ws://localhost:8081/ws"
	cfg.Signaling.PingInterval = 20 * time.Second
	cfg.Signaling.PongTimeout = 45 * time.Second
	cfg.Signaling.WriteTimeout = 10 * time.Second
	cfg.Signaling.ReconnectInitialDelay = 500 * time.Millisecond
	cfg.Signaling.ReconnectMaxDelay = 10 * time.Second
	cfg.Signaling.EventBuffer = 64

	cfg.API.BaseURL = "http://localhost:8081/api"
	cfg.API.Timeout = 10 * time.Second
	cfg.API.RetryAttempts = 3
	cfg.API.RetryInitialDelay = 200 * time.Millisecond
	cfg.API.CircuitBreakerThreshold = 5
	cfg.API.CircuitBreakerTimeout = 30 * time.Second

	// 180 ticks of 1s: three minutes to get credentials.
	cfg.Session.PreparationTicks = 180
	cfg.Session.PreparationTickInterval = time.Second
	cfg.Session.BackgroundResumeLimit = 30 * time.Second
	cfg.Session.LeaveTimeout = 10 * time.Second
	cfg.Session.ScheduleCheckTimeout = 10 * time.Second
	cfg.Session.Resolution = "1080p"
	cfg.Session.StabilizationMode = "auto"
	cfg.Session.AdaptiveBitrate = true

	cfg.Bitrate.Cooldown = 5 * time.Second
	cfg.Bitrate.InitialDrop = 0.8
	cfg.Bitrate.StepDown = 0.95
	cfg.Bitrate.StepUp = 1.1
	cfg.Bitrate.FloorRatio = 0.5

	cfg.Reconnect.Interval = 5 * time.Second
	cfg.Reconnect.MaxRetries = 6

	cfg.Transport.Engine = "simulated"
	cfg.Transport.ConnectDelay = 200 * time.Millisecond

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsInterval = 30 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.SessionTTL = 24 * time.Hour

	cfg.Auth.AllowedOrigins = []string{"*"}

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "livecast"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Diagnostics.Enabled = true
	cfg.Diagnostics.QueueSize = 256
	cfg.Diagnostics.MessagesPerSecond = 20
	cfg.Diagnostics.Burst = 40
	cfg.Diagnostics.Platform = "linux"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	// Apply environment variable overrides
	if addr := os.Getenv("LIVECAST_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if addr := os.Getenv("LIVECAST_SIGNAL_ADDRESS"); addr != "" {
		c.Signal.Address = addr
	}
	if url := os.Getenv("LIVECAST_SIGNALING_URL"); url != "" {
		c.Signaling.URL = url
	}
	if url := os.Getenv("LIVECAST_API_BASE_URL"); url != "" {
		c.API.BaseURL = url
	}
	if level := os.Getenv("LIVECAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if token := os.Getenv("LIVECAST_ACCESS_TOKEN"); token != "" {
		c.Auth.AccessToken = token
	}
	if token := os.Getenv("LIVECAST_API_TOKEN"); token != "" {
		c.Auth.APIToken = token
	}
	if addr := os.Getenv("LIVECAST_REDIS_ADDRESS"); addr != "" {
		c.Redis.Enabled = true
		c.Redis.Address = addr
	}
	if v := os.Getenv("LIVECAST_ADAPTIVE_BITRATE"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Session.AdaptiveBitrate = enabled
		}
	}
}
