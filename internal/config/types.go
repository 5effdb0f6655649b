package config

import (
	"fmt"
	"strings"
	"time"

	"automail/internal/mailer"
	"automail/internal/scheduler"
	"automail/internal/storage"
	"automail/pkg/logx"
)

// Config is the daemon's YAML configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Mailer    MailerConfig    `yaml:"mailer"`
	Templates TemplatesConfig `yaml:"templates"`

	// BootstrapTimeout bounds the startup reconciliation pass.
	// Default "30s".
	BootstrapTimeout string `yaml:"bootstrap_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string `yaml:"level,omitempty"`
	Console bool   `yaml:"console"`
	File    struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path,omitempty"`
	} `yaml:"file,omitempty"`
}

type StorageConfig struct {
	Path        string `yaml:"path"`
	BusyTimeout string `yaml:"busy_timeout,omitempty"`
}

type SchedulerConfig struct {
	Workers    int    `yaml:"workers,omitempty"`
	QueueSize  int    `yaml:"queue_size,omitempty"`
	RunTimeout string `yaml:"run_timeout,omitempty"`
}

// MailerConfig selects and configures the outbound transport.
// Driver/host changes require a restart; only log level and the
// scheduler run timeout are applied on hot reload.
type MailerConfig struct {
	Driver     string `yaml:"driver,omitempty"` // smtp | log | none
	From       string `yaml:"from,omitempty"`
	Host       string `yaml:"host,omitempty"`
	Port       int    `yaml:"port,omitempty"`
	Username   string `yaml:"username,omitempty"`
	Password   string `yaml:"password,omitempty"`
	RatePerSec int    `yaml:"rate_per_sec,omitempty"`
}

type TemplatesConfig struct {
	// Dir overlays *.tmpl files over the embedded defaults.
	Dir string `yaml:"dir,omitempty"`
}

func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}

func (c *Config) StorageConfig() (storage.Config, error) {
	busy, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Path: c.Storage.Path, BusyTimeout: busy}, nil
}

func (c *Config) SchedulerConfig() (scheduler.Config, error) {
	runTimeout, err := ParseDurationField("scheduler.run_timeout", c.Scheduler.RunTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Workers:    c.Scheduler.Workers,
		QueueSize:  c.Scheduler.QueueSize,
		RunTimeout: runTimeout,
	}, nil
}

func (c *Config) MailerConfig() mailer.Config {
	return mailer.Config{
		Driver:     c.Mailer.Driver,
		From:       c.Mailer.From,
		Host:       c.Mailer.Host,
		Port:       c.Mailer.Port,
		Username:   c.Mailer.Username,
		Password:   c.Mailer.Password,
		RatePerSec: c.Mailer.RatePerSec,
	}
}

func (c *Config) BootstrapTimeoutOrDefault() (time.Duration, error) {
	return ParseDurationOrDefault("bootstrap_timeout", c.BootstrapTimeout, 30*time.Second)
}

// Validate is the hook the watcher runs before committing a reload.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if _, err := c.StorageConfig(); err != nil {
		return err
	}
	if _, err := c.SchedulerConfig(); err != nil {
		return err
	}
	if _, err := c.BootstrapTimeoutOrDefault(); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.Mailer.Driver)) {
	case "", "log", "none":
	case "smtp":
		if strings.TrimSpace(c.Mailer.Host) == "" {
			return fmt.Errorf("mailer.host is required for the smtp driver")
		}
		if strings.TrimSpace(c.Mailer.From) == "" {
			return fmt.Errorf("mailer.from is required for the smtp driver")
		}
	default:
		return fmt.Errorf("unknown mailer.driver %q", c.Mailer.Driver)
	}
	return nil
}
