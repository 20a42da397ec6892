package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/tidwatch/internal/debounce"
	"github.com/loykin/tidwatch/internal/env"
	"github.com/loykin/tidwatch/internal/logger"
	"github.com/loykin/tidwatch/internal/process"
	"github.com/loykin/tidwatch/internal/supervisor"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. TIDWATCH_PORT.
const EnvPrefix = "TIDWATCH"

const (
	// TiddlersDir is the conventional content subdirectory of a wiki.
	TiddlersDir = "tiddlers"
	// MarkerFile identifies a TiddlyWiki folder.
	MarkerFile = "tiddlywiki.info"
)

// ErrWikiDirNotFound means the wiki directory does not exist.
var ErrWikiDirNotFound = errors.New("wiki directory does not exist")

// RunConfig is the immutable configuration handed to the lifecycle controller.
type RunConfig struct {
	WikiDir       string        `mapstructure:"wiki_dir"`
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	Debounce      time.Duration `mapstructure:"-"` // decoded from float seconds
	Command       string        `mapstructure:"command"`
	Suffix        string        `mapstructure:"suffix"`
	StartGrace    time.Duration `mapstructure:"start_grace"`
	StopTimeout   time.Duration `mapstructure:"stop_timeout"`
	SettleDelay   time.Duration `mapstructure:"settle_delay"`
	ControlListen string        `mapstructure:"control_listen"`
	Env           []string      `mapstructure:"env"` // KEY=VALUE for the server process
	Log           LogConfig     `mapstructure:"log"`
}

// LogConfig covers both the status logger and captured child output.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	NoColor    bool   `mapstructure:"no_color"`
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SetDefaults installs every known key so env overrides are seen by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("wiki_dir", "")
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 8080)
	v.SetDefault("debounce", debounce.DefaultInterval.Seconds())
	v.SetDefault("command", process.DefaultCommand)
	v.SetDefault("suffix", ".tid")
	v.SetDefault("start_grace", supervisor.DefaultStartGrace)
	v.SetDefault("stop_timeout", supervisor.DefaultStopTimeout)
	v.SetDefault("settle_delay", supervisor.DefaultSettleDelay)
	v.SetDefault("control_listen", "")
	v.SetDefault("env", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.no_color", false)
	v.SetDefault("log.dir", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
}

// NewViper returns a viper instance with defaults and TIDWATCH_* env binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional TOML file at configPath and decodes v.
// A non-empty wikiDir overrides any wiki_dir from file or env.
func Load(v *viper.Viper, configPath, wikiDir string) (RunConfig, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return RunConfig{}, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}
	var rc RunConfig
	if err := v.Unmarshal(&rc); err != nil {
		return RunConfig{}, fmt.Errorf("decode config: %w", err)
	}
	secs := v.GetFloat64("debounce")
	if secs < 0 {
		return RunConfig{}, fmt.Errorf("debounce must not be negative, got %v", secs)
	}
	rc.Debounce = time.Duration(secs * float64(time.Second))
	if wikiDir != "" {
		rc.WikiDir = wikiDir
	}
	if rc.WikiDir == "" {
		return RunConfig{}, errors.New("wiki directory is required")
	}
	abs, err := filepath.Abs(rc.WikiDir)
	if err != nil {
		return RunConfig{}, fmt.Errorf("resolve wiki directory: %w", err)
	}
	rc.WikiDir = abs
	if err := rc.Validate(); err != nil {
		return RunConfig{}, err
	}
	return rc, nil
}

// Validate checks values that do not depend on the filesystem.
func (c RunConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535, got %d", c.Port)
	}
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("host must not be empty")
	}
	if strings.TrimSpace(c.Command) == "" {
		return errors.New("command must not be empty")
	}
	if c.Suffix == "" {
		return errors.New("suffix must not be empty")
	}
	return env.Validate(c.Env)
}

// CheckWikiDir fails with ErrWikiDirNotFound unless dir is an existing directory.
func CheckWikiDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrWikiDirNotFound, dir)
	}
	return nil
}

// HasMarker reports whether dir contains tiddlywiki.info.
func HasMarker(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, MarkerFile))
	return err == nil
}

// WatchTarget is the resolved directory tree to observe.
type WatchTarget struct {
	WikiRoot string
	Dir      string
}

// ResolveWatchTarget prefers the wiki's tiddlers/ subdirectory. A path that
// is itself named tiddlers is watched as is; otherwise the root is watched.
func ResolveWatchTarget(wikiRoot string) WatchTarget {
	if filepath.Base(wikiRoot) == TiddlersDir && isDir(wikiRoot) {
		return WatchTarget{WikiRoot: wikiRoot, Dir: wikiRoot}
	}
	if t := filepath.Join(wikiRoot, TiddlersDir); isDir(t) {
		return WatchTarget{WikiRoot: wikiRoot, Dir: t}
	}
	return WatchTarget{WikiRoot: wikiRoot, Dir: wikiRoot}
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

// ProcessSpec builds the launch spec for the server.
func (c RunConfig) ProcessSpec() process.Spec {
	spec := process.Spec{
		Name:    process.DefaultCommand,
		Command: c.Command,
		WikiDir: c.WikiDir,
		Host:    c.Host,
		Port:    c.Port,
		Env:     append([]string(nil), c.Env...),
	}
	if c.Log.Dir != "" {
		spec.Log = logger.Config{
			Dir:        c.Log.Dir,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		}
	}
	return spec
}

// SupervisorOptions returns the supervisor timings.
func (c RunConfig) SupervisorOptions() supervisor.Options {
	return supervisor.Options{
		StartGrace:  c.StartGrace,
		StopTimeout: c.StopTimeout,
		SettleDelay: c.SettleDelay,
	}
}

// LoggerOptions returns the status logger options.
func (c RunConfig) LoggerOptions() logger.Options {
	return logger.Options{Level: c.Log.Level, NoColor: c.Log.NoColor}
}
