// Package config loads devlauncher settings from an optional YAML file and
// DEVLAUNCHER_* environment variables using Viper. Precedence: environment
// > file > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/logging"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/port"
)

// EnvPrefix prefixes every environment override, e.g.
// DEVLAUNCHER_DATABASE_URL for database.url.
const EnvPrefix = "DEVLAUNCHER"

// FileName is the config file looked up in DefaultDir when no explicit
// path is given.
const FileName = "devlauncher"

// Config is the full runtime configuration.
type Config struct {
	// StateDir holds the JSON state file when no database is configured.
	StateDir string

	Database  DatabaseConfig
	Ports     PortsConfig
	Docker    DockerConfig
	Tasks     TasksConfig
	Templates TemplatesConfig
	HTTP      HTTPConfig
	Log       LogConfig

	// File is the config file that was read, empty when none was found.
	File string
}

// DatabaseConfig selects the PostgreSQL store when URL is set.
type DatabaseConfig struct {
	URL string
}

// PortsConfig is the host port allocation range, half-open.
type PortsConfig struct {
	Start int
	End   int

	// Host is the address bind probes run against.
	Host string
}

// DockerConfig configures the compose manager.
type DockerConfig struct {
	Binary      string
	UpTimeout   time.Duration
	DownTimeout time.Duration
}

// TasksConfig configures the task orchestrator.
type TasksConfig struct {
	Timeout  time.Duration
	FollowUp []string

	// Commands overrides the command of individual task types.
	Commands map[string]CommandConfig
}

// CommandConfig is one task command override.
type CommandConfig struct {
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

// TemplatesConfig points at an optional JSONC template manifest.
type TemplatesConfig struct {
	File string
}

// HTTPConfig configures `devlauncher serve`.
type HTTPConfig struct {
	Addr string
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string
	Format string
}

// DefaultDir returns the per-user devlauncher directory.
func DefaultDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "devlauncher")
	}
	return filepath.Join(os.TempDir(), "devlauncher")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("state_dir", DefaultDir())
	v.SetDefault("database.url", "")
	v.SetDefault("ports.start", port.DefaultStart)
	v.SetDefault("ports.end", port.DefaultEnd)
	v.SetDefault("ports.host", "127.0.0.1")
	v.SetDefault("docker.binary", "docker")
	v.SetDefault("docker.up_timeout", "10m")
	v.SetDefault("docker.down_timeout", "2m")
	v.SetDefault("tasks.timeout", "15m")
	v.SetDefault("tasks.follow_up", []string{})
	v.SetDefault("templates.file", "")
	v.SetDefault("http.addr", "127.0.0.1:7420")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration. An explicit path must exist; without one the
// file is optional and looked up in DefaultDir.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{
		StateDir: v.GetString("state_dir"),
		Database: DatabaseConfig{URL: v.GetString("database.url")},
		Ports: PortsConfig{
			Start: v.GetInt("ports.start"),
			End:   v.GetInt("ports.end"),
			Host:  v.GetString("ports.host"),
		},
		Docker: DockerConfig{
			Binary:      v.GetString("docker.binary"),
			UpTimeout:   v.GetDuration("docker.up_timeout"),
			DownTimeout: v.GetDuration("docker.down_timeout"),
		},
		Tasks: TasksConfig{
			Timeout:  v.GetDuration("tasks.timeout"),
			FollowUp: v.GetStringSlice("tasks.follow_up"),
		},
		Templates: TemplatesConfig{File: v.GetString("templates.file")},
		HTTP:      HTTPConfig{Addr: v.GetString("http.addr")},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		File: v.ConfigFileUsed(),
	}

	if v.IsSet("tasks.commands") {
		if err := v.UnmarshalKey("tasks.commands", &cfg.Tasks.Commands); err != nil {
			return nil, fmt.Errorf("reading tasks.commands: %w", err)
		}
	}

	return cfg, nil
}

// Validate reports every invalid setting in one *model.ValidationError.
func (c *Config) Validate() error {
	verr := &model.ValidationError{}

	if c.Database.URL == "" && c.StateDir == "" {
		verr.Add("state_dir", "must be set when database.url is empty")
	}
	if err := (port.Range{Start: c.Ports.Start, End: c.Ports.End}).Validate(); err != nil {
		verr.Add("ports", err.Error())
	}
	if c.Ports.Host == "" {
		verr.Add("ports.host", "must not be empty")
	}
	if c.Docker.Binary == "" {
		verr.Add("docker.binary", "must not be empty")
	}
	if c.Docker.UpTimeout <= 0 {
		verr.Add("docker.up_timeout", "must be positive")
	}
	if c.Docker.DownTimeout <= 0 {
		verr.Add("docker.down_timeout", "must be positive")
	}
	if c.Tasks.Timeout <= 0 {
		verr.Add("tasks.timeout", "must be positive")
	}
	for _, t := range c.Tasks.FollowUp {
		if _, err := model.ParseTaskType(t); err != nil {
			verr.Add("tasks.follow_up", fmt.Sprintf("unknown task type %q", t))
		}
	}
	for name, cmd := range c.Tasks.Commands {
		if !model.TaskType(name).IsValid() {
			verr.Add("tasks.commands", fmt.Sprintf("unknown task type %q", name))
			continue
		}
		if cmd.Command == "" {
			verr.Add("tasks.commands."+name, "command must not be empty")
		}
	}
	if c.HTTP.Addr == "" {
		verr.Add("http.addr", "must not be empty")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		verr.Add("log.level", err.Error())
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		verr.Add("log.format", "must be text or json")
	}

	return verr.OrNil()
}

// FollowUpTypes returns the follow-up task types, normalized to their
// canonical spelling. Unknown names are skipped; Validate reports them.
func (c *Config) FollowUpTypes() []model.TaskType {
	out := make([]model.TaskType, 0, len(c.Tasks.FollowUp))
	for _, name := range c.Tasks.FollowUp {
		if t, err := model.ParseTaskType(name); err == nil {
			out = append(out, t)
		}
	}
	return out
}

// StatePath is the JSON state file used without a database.
func (c *Config) StatePath() string {
	return filepath.Join(c.StateDir, "state.json")
}
