// Package config loads the server configuration: defaults, then a YAML file,
// then environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"github.com/zond/scriptai"
	"github.com/zond/scriptai/storage"
	"github.com/zond/scriptai/world"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Dir holds the databases and the host key.
	Dir string `yaml:"dir" env:"SCRIPTAI_DIR"`
	// ScriptDir is watched for script sources. Defaults to Dir/scripts.
	ScriptDir     string        `yaml:"script_dir" env:"SCRIPTAI_SCRIPT_DIR"`
	SSHAddr       string        `yaml:"ssh_addr" env:"SCRIPTAI_SSH_ADDR"`
	TickInterval  time.Duration `yaml:"tick_interval" env:"SCRIPTAI_TICK_INTERVAL"`
	ScriptTimeout time.Duration `yaml:"script_timeout" env:"SCRIPTAI_SCRIPT_TIMEOUT"`
	SlowThreshold time.Duration `yaml:"slow_threshold" env:"SCRIPTAI_SLOW_THRESHOLD"`
	// LogFile is rotated when set, otherwise the log goes to stderr.
	LogFile string `yaml:"log_file" env:"SCRIPTAI_LOG_FILE"`

	// Users maps console user names to Argon2id password hashes.
	Users    map[string]string `yaml:"users"`
	Regions  []RegionSpec      `yaml:"regions"`
	Bindings []BindingSpec     `yaml:"bindings"`
}

type RegionSpec struct {
	Name   string      `yaml:"name"`
	Spawns []SpawnSpec `yaml:"spawns"`
}

type SpawnSpec struct {
	Template     string        `yaml:"template"`
	Count        int           `yaml:"count"`
	Health       uint32        `yaml:"health"`
	Damage       uint32        `yaml:"damage"`
	Passive      bool          `yaml:"passive"`
	CorpseDelay  time.Duration `yaml:"corpse_delay"`
	RespawnDelay time.Duration `yaml:"respawn_delay"`
}

func (s SpawnSpec) WorldTemplate() world.Template {
	return world.Template{
		Name:         s.Template,
		Health:       s.Health,
		Damage:       s.Damage,
		Passive:      s.Passive,
		CorpseDelay:  s.CorpseDelay,
		RespawnDelay: s.RespawnDelay,
	}
}

// BindingSpec is a script binding applied at startup.
type BindingSpec struct {
	Kind storage.BindingKind `yaml:"kind"`
	Key  string              `yaml:"key"`
	Path string              `yaml:"path"`
}

func DefaultConfig() Config {
	return Config{
		Dir:           filepath.Join(os.Getenv("HOME"), ".scriptai"),
		SSHAddr:       "127.0.0.1:15000",
		TickInterval:  world.DefaultTickInterval,
		ScriptTimeout: 200 * time.Millisecond,
		SlowThreshold: 20 * time.Millisecond,
		Regions: []RegionSpec{
			{
				Name: "forest",
				Spawns: []SpawnSpec{
					{Template: "wolf", Count: 3, Health: 100, Damage: 7, CorpseDelay: 5 * time.Second, RespawnDelay: 10 * time.Second},
					{Template: "deer", Count: 2, Health: 40, Passive: true, CorpseDelay: 5 * time.Second, RespawnDelay: 20 * time.Second},
				},
			},
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path, if any, and
// then with the environment.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, scriptai.WithStack(err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parsing %q", path)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, errors.Wrap(err, "parsing environment")
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) Normalize() {
	if c.ScriptDir == "" {
		c.ScriptDir = filepath.Join(c.Dir, "scripts")
	}
	for i := range c.Regions {
		c.Regions[i].Name = strings.TrimSpace(c.Regions[i].Name)
	}
	for i := range c.Bindings {
		c.Bindings[i].Path = storage.CleanPath(c.Bindings[i].Path)
	}
}

func (c *Config) Validate() error {
	if c.Dir == "" {
		return errors.New("dir is required")
	}
	if c.TickInterval <= 0 {
		return errors.Errorf("tick_interval must be positive, not %v", c.TickInterval)
	}
	if c.ScriptTimeout <= 0 {
		return errors.Errorf("script_timeout must be positive, not %v", c.ScriptTimeout)
	}
	seen := map[string]bool{}
	for _, r := range c.Regions {
		if r.Name == "" {
			return errors.New("region without name")
		}
		if seen[r.Name] {
			return errors.Errorf("region %q defined twice", r.Name)
		}
		seen[r.Name] = true
		for _, s := range r.Spawns {
			if s.Template == "" {
				return errors.Errorf("spawn without template in %q", r.Name)
			}
			if s.Count < 0 {
				return errors.Errorf("negative count for %q in %q", s.Template, r.Name)
			}
		}
	}
	for _, b := range c.Bindings {
		if !b.Kind.Valid() {
			return errors.Errorf("unknown binding kind %q", b.Kind)
		}
		if b.Key == "" {
			return errors.Errorf("%s binding to %q without key", b.Kind, b.Path)
		}
	}
	return nil
}
