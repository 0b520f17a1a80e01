package system

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration lets YAML carry Go duration strings such as "5s" or "168h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// BackendConfig points at the detection API.
type BackendConfig struct {
	BaseURL    string `yaml:"base_url"`
	AdminToken string `yaml:"admin_token"`
	// Timeout of zero means backend calls are not bounded.
	Timeout Duration `yaml:"timeout"`
}

// PollIntervals is the per-resource cadence.
type PollIntervals struct {
	Alerts       Duration `yaml:"alerts"`
	ActiveBlocks Duration `yaml:"active_blocks"`
	BlockHistory Duration `yaml:"block_history"`
	Config       Duration `yaml:"config"`
	Whitelist    Duration `yaml:"whitelist"`
	Status       Duration `yaml:"status"`
}

// PollLimits caps how many records each list fetch asks for.
type PollLimits struct {
	Alerts       int `yaml:"alerts"`
	ActiveBlocks int `yaml:"active_blocks"`
	BlockHistory int `yaml:"block_history"`
	Whitelist    int `yaml:"whitelist"`
}

type PollConfig struct {
	Intervals PollIntervals `yaml:"intervals"`
	Limits    PollLimits    `yaml:"limits"`
}

// GeoConfig selects the geolocation provider and how hard it may be hit.
type GeoConfig struct {
	Provider       string   `yaml:"provider"` // http, maxmind or none
	MaxMindDB      string   `yaml:"maxmind_db"`
	HTTPEndpoint   string   `yaml:"http_endpoint"`
	RequestDelay   Duration `yaml:"request_delay"`
	RateLimit      float64  `yaml:"rate_limit"` // lookups per second; overrides request_delay when > 0
	CacheTTL       Duration `yaml:"cache_ttl"`
	RollupInterval Duration `yaml:"rollup_interval"`
	TopN           int      `yaml:"top_n"`
}

// NotifyConfig lists the alert sinks. Empty fields disable the sink.
type NotifyConfig struct {
	WebhookURL    string   `yaml:"webhook_url"`
	NATSURL       string   `yaml:"nats_url"`
	NATSSubject   string   `yaml:"nats_subject"`
	KafkaBrokers  []string `yaml:"kafka_brokers"`
	KafkaTopic    string   `yaml:"kafka_topic"`
	AlertCooldown Duration `yaml:"alert_cooldown"`
	DailyReport   bool     `yaml:"daily_report"`
}

type ServerConfig struct {
	Listen      string `yaml:"listen"`
	JWTSecret   string `yaml:"jwt_secret"`
	FrontendDir string `yaml:"frontend_dir"`
}

type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type LogConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// Config is the top-level configuration for the dashboard.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Poll    PollConfig    `yaml:"poll"`
	Geo     GeoConfig     `yaml:"geo"`
	Notify  NotifyConfig  `yaml:"notify"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

// DefaultConfig returns a config that runs against a local backend.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{BaseURL: "http://localhost:8000"},
		Poll: PollConfig{
			Intervals: PollIntervals{
				Alerts:       Duration(5 * time.Second),
				ActiveBlocks: Duration(10 * time.Second),
				BlockHistory: Duration(30 * time.Second),
				Config:       Duration(30 * time.Second),
				Whitelist:    Duration(15 * time.Second),
				Status:       Duration(5 * time.Second),
			},
			Limits: PollLimits{
				Alerts:       200,
				ActiveBlocks: 100,
				BlockHistory: 5000,
				Whitelist:    100,
			},
		},
		Geo: GeoConfig{
			Provider:       "http",
			HTTPEndpoint:   "http://ip-api.com/json/",
			RequestDelay:   Duration(1500 * time.Millisecond),
			CacheTTL:       Duration(168 * time.Hour),
			RollupInterval: Duration(5 * time.Minute),
			TopN:           10,
		},
		Notify: NotifyConfig{
			NATSSubject:   "ids.alerts",
			KafkaTopic:    "ids-alerts",
			AlertCooldown: Duration(5 * time.Minute),
		},
		Server: ServerConfig{
			Listen:      ":8080",
			FrontendDir: "./frontend/dist",
		},
		Storage: StorageConfig{SQLitePath: "ids-dashboard.db"},
		Log:     LogConfig{Dir: "./logs", Level: "info"},
	}
}

// LoadConfig reads path (optional, may be empty) over the defaults, then
// applies .env and environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
		}
	}

	// Missing .env is fine.
	_ = godotenv.Load()
	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("IDS_API_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := getenv("ADMIN_API_KEY"); v != "" {
		c.Backend.AdminToken = v
	}
	if v := getenv("DASHBOARD_JWT_SECRET"); v != "" {
		c.Server.JWTSecret = v
	}
	if v := getenv("DASHBOARD_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := getenv("GEOIP_DB"); v != "" {
		c.Geo.MaxMindDB = v
		c.Geo.Provider = "maxmind"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.base_url %q is not an absolute URL", c.Backend.BaseURL)
	}
	if c.Backend.Timeout < 0 {
		return errors.New("backend.timeout must not be negative")
	}

	iv := c.Poll.Intervals
	for name, d := range map[string]Duration{
		"alerts": iv.Alerts, "active_blocks": iv.ActiveBlocks, "block_history": iv.BlockHistory,
		"config": iv.Config, "whitelist": iv.Whitelist, "status": iv.Status,
	} {
		if d <= 0 {
			return fmt.Errorf("poll.intervals.%s must be positive", name)
		}
	}
	lim := c.Poll.Limits
	if lim.Alerts <= 0 || lim.ActiveBlocks <= 0 || lim.BlockHistory <= 0 || lim.Whitelist <= 0 {
		return errors.New("poll.limits must all be positive")
	}

	switch c.Geo.Provider {
	case "none", "":
	case "http":
		if c.Geo.HTTPEndpoint == "" {
			return errors.New("geo.http_endpoint is required for the http provider")
		}
	case "maxmind":
		if c.Geo.MaxMindDB == "" {
			return errors.New("geo.maxmind_db is required for the maxmind provider")
		}
	default:
		return fmt.Errorf("geo.provider %q is not one of http, maxmind, none", c.Geo.Provider)
	}
	if c.Geo.RequestDelay < 0 || c.Geo.RateLimit < 0 {
		return errors.New("geo.request_delay and geo.rate_limit must not be negative")
	}
	if c.Geo.TopN <= 0 {
		return errors.New("geo.top_n must be positive")
	}
	if c.Geo.RollupInterval <= 0 {
		return errors.New("geo.rollup_interval must be positive")
	}

	if len(c.Notify.KafkaBrokers) > 0 && c.Notify.KafkaTopic == "" {
		return errors.New("notify.kafka_topic is required when kafka_brokers is set")
	}
	if c.Notify.NATSURL != "" && c.Notify.NATSSubject == "" {
		return errors.New("notify.nats_subject is required when nats_url is set")
	}

	if c.Server.Listen == "" {
		return errors.New("server.listen is required")
	}
	if c.Storage.SQLitePath == "" {
		return errors.New("storage.sqlite_path is required")
	}
	return nil
}
