// Package config loads the opsd configuration: once at startup, from an
// opsd.yaml file plus OPSD_* environment overrides. Nothing re-reads
// configuration mid-run.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/pempem98/inventory-scanner/internal/runner"
)

// Process describes one supervised long-lived process.
type Process struct {
	Path string   `mapstructure:"path" yaml:"path"`
	Args []string `mapstructure:"args" yaml:"args"`
	Env  []string `mapstructure:"env" yaml:"env"`
}

type Config struct {
	Verbose bool `mapstructure:"verbose" yaml:"verbose"`

	Broker struct {
		URL string `mapstructure:"url" yaml:"url"`
	} `mapstructure:"broker" yaml:"broker"`

	Database struct {
		DSN string `mapstructure:"dsn" yaml:"dsn"`
	} `mapstructure:"database" yaml:"database"`

	Telegram struct {
		Token  string `mapstructure:"token" yaml:"token"`
		ChatID string `mapstructure:"chat_id" yaml:"chat_id"`
	} `mapstructure:"telegram" yaml:"telegram"`

	Paths struct {
		Logs    string `mapstructure:"logs" yaml:"logs"`
		Backups string `mapstructure:"backups" yaml:"backups"`
		PIDs    string `mapstructure:"pids" yaml:"pids"`
	} `mapstructure:"paths" yaml:"paths"`

	Retention struct {
		Days  int    `mapstructure:"days" yaml:"days"`
		Every string `mapstructure:"every" yaml:"every"`
	} `mapstructure:"retention" yaml:"retention"`

	Readiness struct {
		MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
		Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	} `mapstructure:"readiness" yaml:"readiness"`

	Supervisor struct {
		StopTimeout time.Duration      `mapstructure:"stop_timeout" yaml:"stop_timeout"`
		SettleDelay time.Duration      `mapstructure:"settle_delay" yaml:"settle_delay"`
		Processes   map[string]Process `mapstructure:"processes" yaml:"processes"`
	} `mapstructure:"supervisor" yaml:"supervisor"`

	Server struct {
		Addr string `mapstructure:"addr" yaml:"addr"`
	} `mapstructure:"server" yaml:"server"`

	Deploy struct {
		Image      string `mapstructure:"image" yaml:"image"`
		Container  string `mapstructure:"container" yaml:"container"`
		ContextDir string `mapstructure:"context_dir" yaml:"context_dir"`
	} `mapstructure:"deploy" yaml:"deploy"`

	Tasks []runner.Task `mapstructure:"tasks" yaml:"tasks"`
}

// Load reads path (optional) and applies environment overrides. A missing
// explicit path is an error; an empty path means environment and defaults
// only.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("OPSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("paths.logs", "/var/opt/inventory-scanner/logs")
	v.SetDefault("paths.backups", "/var/opt/inventory-scanner/backups")
	v.SetDefault("paths.pids", "/var/run/inventory-scanner")
	v.SetDefault("retention.days", 30)
	v.SetDefault("retention.every", "1d")
	v.SetDefault("readiness.max_attempts", 30)
	v.SetDefault("readiness.interval", 2*time.Second)
	v.SetDefault("supervisor.stop_timeout", 10*time.Second)
	v.SetDefault("supervisor.settle_delay", 2*time.Second)
	v.SetDefault("server.addr", ":8900")
	v.SetDefault("deploy.image", "inventory-scanner:latest")
	v.SetDefault("deploy.container", "inventory-scanner")
	v.SetDefault("deploy.context_dir", ".")
}

func (c Config) validate() error {
	if c.Retention.Days < 0 {
		return fmt.Errorf("retention.days must not be negative, got %d", c.Retention.Days)
	}
	seen := make(map[string]bool, len(c.Tasks))
	for _, task := range c.Tasks {
		if task.Name == "" {
			return fmt.Errorf("task without a name")
		}
		if seen[task.Name] {
			return fmt.Errorf("duplicate task name %q", task.Name)
		}
		seen[task.Name] = true
		if task.Path == "" {
			return fmt.Errorf("task %s: path is required", task.Name)
		}
	}
	return nil
}

// WriteDefault stores a commented starter configuration at path, refusing
// to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	cfg := Default()
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	enc := yaml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}

// Default is the configuration used when no file is present.
func Default() Config {
	cfg, err := Load("")
	if err != nil {
		// Defaults alone always validate.
		panic(err)
	}
	return cfg
}
