package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from a YAML string like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// ServerConfig describes the supervised game server.
type ServerConfig struct {
	URL           string   `yaml:"url"`
	HostHeader    string   `yaml:"host_header"`
	Service       string   `yaml:"service"`
	AppID         string   `yaml:"app_id"`
	SteamappsPath string   `yaml:"steamapps_path"`
	VersionAPI    string   `yaml:"version_api"`
	Timeout       Duration `yaml:"timeout"`
}

// ManifestPath returns the app manifest location inside the server container.
func (s ServerConfig) ManifestPath() string {
	return strings.TrimRight(s.SteamappsPath, "/") + "/appmanifest_" + s.AppID + ".acf"
}

// ComposeConfig holds compose invocation settings.
type ComposeConfig struct {
	Command  string   `yaml:"command"`
	File     string   `yaml:"file"`
	Path     string   `yaml:"path"`
	Services []string `yaml:"services"`
}

// MonitorConfig holds tick timing and the optional daily restart.
type MonitorConfig struct {
	StartupDelay    Duration `yaml:"startup_delay"`
	CheckInterval   Duration `yaml:"check_interval"`
	RestartInterval Duration `yaml:"restart_interval"`
	RestartSchedule string   `yaml:"restart_schedule"`
}

// WebhookConfig holds alert webhook settings.
type WebhookConfig struct {
	URL      string   `yaml:"url"`
	Cooldown Duration `yaml:"cooldown"`
}

// AlertsConfig holds all alert configuration.
type AlertsConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
}

// StatusConfig holds the status API settings. An empty address disables it.
type StatusConfig struct {
	Address string `yaml:"address"`
}

// StorageConfig holds journal settings. An empty path disables it.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Config is the root application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Compose ComposeConfig `yaml:"compose"`
	Monitor MonitorConfig `yaml:"monitor"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	Status  StatusConfig  `yaml:"status"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`

	// Schedule is the parsed RestartSchedule, nil when no daily restart is configured.
	Schedule *TimeOfDay `yaml:"-"`
}

// TimeOfDay is a local wall-clock hour and minute.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimeOfDay parses an "HH:MM" string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("expected HH:MM, got %q", s)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			URL:           "https://satisfactory-server:7777",
			Service:       "server",
			AppID:         "1690800",
			SteamappsPath: "/config/gamefiles/steamapps",
			VersionAPI:    "https://api.steamcmd.net/v1/info",
			Timeout:       Duration{30 * time.Second},
		},
		Compose: ComposeConfig{
			Command: "docker compose",
			File:    "docker-compose.yml",
			Path:    ".",
		},
		Monitor: MonitorConfig{
			StartupDelay:    Duration{5 * time.Minute},
			CheckInterval:   Duration{30 * time.Minute},
			RestartInterval: Duration{5 * time.Minute},
		},
		Alerts: AlertsConfig{
			Webhook: WebhookConfig{Cooldown: Duration{5 * time.Minute}},
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadEnvFile loads variables from a dotenv file without overriding ones
// already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file %q: %w", path, err)
	}
	return nil
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and the process environment, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setMillis := func(key string, dst *Duration) error {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return nil
		}
		ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || ms < 0 {
			return fmt.Errorf("%s: invalid millisecond value %q", key, v)
		}
		dst.Duration = time.Duration(ms) * time.Millisecond
		return nil
	}

	setString("SERVER_URL", &cfg.Server.URL)
	setString("HEADER_HOST", &cfg.Server.HostHeader)
	setString("SERVER_SERVICE", &cfg.Server.Service)
	setString("SERVER_APP_ID", &cfg.Server.AppID)
	setString("STEAMAPPS_PATH", &cfg.Server.SteamappsPath)
	setString("VERSION_API_URL", &cfg.Server.VersionAPI)
	setString("COMPOSE_COMMAND", &cfg.Compose.Command)
	setString("DOCKER_COMPOSE_FILE", &cfg.Compose.File)
	setString("DOCKER_COMPOSE_PATH", &cfg.Compose.Path)
	setString("RESTART_SCHEDULE", &cfg.Monitor.RestartSchedule)
	setString("STATE_DB", &cfg.Storage.Path)
	setString("STATUS_ADDRESS", &cfg.Status.Address)
	setString("ALERT_WEBHOOK_URL", &cfg.Alerts.Webhook.URL)
	setString("LOG_LEVEL", &cfg.Log.Level)
	setString("LOG_FILE", &cfg.Log.File)

	// MANAGE_SERVICES takes precedence; UPDATE_SERVICES is the older name.
	// Like the other keys, an empty value counts as unset.
	for _, key := range []string{"MANAGE_SERVICES", "UPDATE_SERVICES"} {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			cfg.Compose.Services = SplitServices(v)
			break
		}
	}

	millis := []struct {
		key string
		dst *Duration
	}{
		{"STARTUP_DELAY", &cfg.Monitor.StartupDelay},
		{"CHECK_INTERVAL", &cfg.Monitor.CheckInterval},
		{"RESTART_INTERVAL", &cfg.Monitor.RestartInterval},
		{"REQUEST_TIMEOUT", &cfg.Server.Timeout},
		{"ALERT_COOLDOWN", &cfg.Alerts.Webhook.Cooldown},
	}
	for _, m := range millis {
		if err := setMillis(m.key, m.dst); err != nil {
			return err
		}
	}
	return nil
}

// SplitServices parses a comma-separated service list. Blank entries are
// dropped, so an empty string yields an empty list meaning "all services".
func SplitServices(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func (c *Config) validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server url %q must include scheme and host", c.Server.URL)
	}
	if c.Server.AppID == "" {
		return fmt.Errorf("server app id is required")
	}
	if c.Server.Service == "" {
		return fmt.Errorf("server service is required")
	}
	if len(strings.Fields(c.Compose.Command)) == 0 {
		return fmt.Errorf("compose command is required")
	}
	if c.Monitor.CheckInterval.Duration <= 0 {
		return fmt.Errorf("check interval must be positive")
	}
	if c.Monitor.RestartInterval.Duration <= 0 {
		return fmt.Errorf("restart interval must be positive")
	}
	if c.Server.Timeout.Duration <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.Monitor.RestartSchedule != "" {
		t, err := ParseTimeOfDay(c.Monitor.RestartSchedule)
		if err != nil {
			return fmt.Errorf("restart schedule: %w", err)
		}
		c.Schedule = &t
	}
	return nil
}
