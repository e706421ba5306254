package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/capture"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/face"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/notify"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"` // empty disables the health server

	// DB
	Env    string `yaml:"env"`     // "dev" | "prod"
	Store  string `yaml:"store"`   // "sqlite" | "memory"
	DBPath string `yaml:"db_path"` // e.g. "./data/vigil.db"

	Camera      CameraConfig      `yaml:"camera"`
	Face        FaceConfig        `yaml:"face"`
	Mail        MailConfig        `yaml:"mail"`
	Trigger     TriggerConfig     `yaml:"trigger"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Mailbox     MailboxConfig     `yaml:"mailbox"`

	// Run history retention
	RunRetentionDays int           `yaml:"run_retention_days"` // 0 = keep forever
	ReapInterval     time.Duration `yaml:"reap_interval"`
}

type CameraConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Paths          []string      `yaml:"paths"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type FaceConfig struct {
	CascadePath string  `yaml:"cascade_path"`
	MinSize     int     `yaml:"min_size"`
	MaxSize     int     `yaml:"max_size"`
	MinQuality  float32 `yaml:"min_quality"`
}

type MailConfig struct {
	Host     string   `yaml:"host"` // empty logs notifications instead of mailing
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	Subject  string   `yaml:"subject"`
}

type TriggerConfig struct {
	RunTimeout   time.Duration `yaml:"run_timeout"`
	ReleaseGrace time.Duration `yaml:"release_grace"`
}

type CredentialsConfig struct {
	TTL time.Duration `yaml:"ttl"` // 0 = codes never expire
	// Expose mounts the outstanding-code listing; forced off in prod.
	Expose bool `yaml:"expose"`
}

type MailboxConfig struct {
	Capacity int `yaml:"capacity"`
}

// FromEnv reads VIGIL_* variables, falling back to defaults.
func FromEnv() Config {
	env := strings.ToLower(getenvDefault("VIGIL_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	cfg := Config{
		HTTPAddr: getenvDefault("VIGIL_HTTP_ADDR", ":8080"),
		GRPCAddr: os.Getenv("VIGIL_GRPC_ADDR"),
		Env:      env,
		Store:    strings.ToLower(getenvDefault("VIGIL_STORE", "sqlite")),
		DBPath:   getenvDefault("VIGIL_DB_PATH", "./data/vigil.db"),

		Camera: CameraConfig{
			BaseURL:        os.Getenv("VIGIL_CAMERA_URL"),
			Paths:          splitCSV(os.Getenv("VIGIL_CAMERA_PATHS")),
			MaxRetries:     getenvInt("VIGIL_CAMERA_RETRIES", 3),
			RetryDelay:     getenvDuration("VIGIL_CAMERA_RETRY_DELAY", 3*time.Second),
			RequestTimeout: getenvDuration("VIGIL_CAMERA_TIMEOUT", 30*time.Second),
		},
		Face: FaceConfig{
			CascadePath: getenvDefault("VIGIL_FACE_CASCADE", "./data/facefinder"),
			MinSize:     getenvInt("VIGIL_FACE_MIN_SIZE", 0),
		},
		Mail: MailConfig{
			Host:     os.Getenv("VIGIL_SMTP_HOST"),
			Port:     getenvInt("VIGIL_SMTP_PORT", 587),
			Username: os.Getenv("VIGIL_SMTP_USER"),
			Password: os.Getenv("VIGIL_SMTP_PASSWORD"),
			From:     os.Getenv("VIGIL_MAIL_FROM"),
			To:       splitCSV(os.Getenv("VIGIL_MAIL_TO")),
		},
		Trigger: TriggerConfig{
			RunTimeout: getenvDuration("VIGIL_RUN_TIMEOUT", 60*time.Second),
		},
		Credentials: CredentialsConfig{
			TTL:    getenvDuration("VIGIL_CODE_TTL", 10*time.Minute),
			Expose: getenvBool("VIGIL_EXPOSE_CODES", env == "dev"),
		},
		Mailbox: MailboxConfig{
			Capacity: getenvInt("VIGIL_MAILBOX_CAPACITY", 10),
		},

		RunRetentionDays: getenvInt("VIGIL_RUN_RETENTION_DAYS", 30),
		ReapInterval:     getenvDuration("VIGIL_REAP_INTERVAL", time.Minute),
	}
	cfg.applyDefaults()
	return cfg
}

// Load overlays the YAML file at path on base. Keys absent from the file
// keep base's values.
func Load(path string, base Config) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := base
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.Store == "" {
		c.Store = "sqlite"
	}
	if c.DBPath == "" {
		c.DBPath = "./data/vigil.db"
	}
	if c.Camera.MaxRetries == 0 {
		c.Camera.MaxRetries = 3
	}
	if c.Camera.RetryDelay == 0 {
		c.Camera.RetryDelay = 3 * time.Second
	}
	if c.Camera.RequestTimeout == 0 {
		c.Camera.RequestTimeout = 30 * time.Second
	}
	if c.Mailbox.Capacity == 0 {
		c.Mailbox.Capacity = 10
	}
	if c.ReapInterval == 0 {
		c.ReapInterval = time.Minute
	}
	if c.Env == "prod" {
		c.Credentials.Expose = false
	}
}

func (c Config) Validate() error {
	if c.Env != "dev" && c.Env != "prod" {
		return fmt.Errorf("env must be dev or prod, got %q", c.Env)
	}
	if c.Store != "sqlite" && c.Store != "memory" {
		return fmt.Errorf("store must be sqlite or memory, got %q", c.Store)
	}
	if c.Camera.BaseURL == "" {
		return fmt.Errorf("camera.base_url is required")
	}
	if c.Face.CascadePath == "" {
		return fmt.Errorf("face.cascade_path is required")
	}
	if c.Mail.Host != "" && len(c.Mail.To) == 0 {
		return fmt.Errorf("mail.to is required when mail.host is set")
	}
	if c.Trigger.RunTimeout < 0 || c.Credentials.TTL < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

func (c CameraConfig) Source() capture.Config {
	return capture.Config{
		BaseURL:        c.BaseURL,
		Paths:          c.Paths,
		MaxRetries:     c.MaxRetries,
		RetryDelay:     c.RetryDelay,
		RequestTimeout: c.RequestTimeout,
	}
}

func (c FaceConfig) Classifier() face.Config {
	return face.Config{
		CascadePath: c.CascadePath,
		MinSize:     c.MinSize,
		MaxSize:     c.MaxSize,
		MinQuality:  c.MinQuality,
	}
}

func (c MailConfig) Notifier() notify.MailConfig {
	return notify.MailConfig{
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		From:     c.From,
		To:       c.To,
		Subject:  c.Subject,
	}
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
