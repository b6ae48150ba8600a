// Package config provides functionality for managing configuration options
// for the client using command-line flags, environment variables and an
// optional YAML file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvEndpoint          = "APPWRITE_ENDPOINT"
	EnvProjectID         = "APPWRITE_PROJECT_ID"
	EnvPlatform          = "APPWRITE_PLATFORM"
	EnvDatabaseID        = "APPWRITE_DATABASE_ID"
	EnvTableID           = "APPWRITE_HABITS_TABLE_ID"
	EnvSessionFile       = "HABITS_SESSION_FILE"
	EnvSessionPassphrase = "HABITS_SESSION_PASSPHRASE"
	EnvRefreshDebounce   = "HABITS_REFRESH_DEBOUNCE"
	EnvRequestTimeout    = "HABITS_REQUEST_TIMEOUT"
	EnvLogLevel          = "HABITS_LOG_LEVEL"
	EnvLogFile           = "HABITS_LOG_FILE"
	EnvDebugAddr         = "HABITS_DEBUG_ADDR"
	EnvCAFile            = "HABITS_CA_FILE"
	EnvConfig            = "CONFIG"
)

// Options holds the configuration values for the client.
type Options struct {
	// Endpoint is the gateway base URL, e.g. https://cloud.appwrite.io/v1.
	Endpoint string `yaml:"endpoint"`
	// ProjectID identifies the gateway project.
	ProjectID string `yaml:"project_id"`
	// Platform is the registered client platform identifier.
	Platform string `yaml:"platform"`
	// DatabaseID holds the habits table.
	DatabaseID string `yaml:"database_id"`
	// TableID is the habits table.
	TableID string `yaml:"table_id"`

	// SessionFile is where the session cookie is persisted between runs.
	SessionFile string `yaml:"session_file"`
	// SessionPassphrase seals the session file when set.
	SessionPassphrase string `yaml:"session_passphrase"`
	// RefreshDebounce collapses realtime bursts; zero disables coalescing.
	RefreshDebounce time.Duration `yaml:"refresh_debounce"`
	// RequestTimeout bounds every gateway HTTP request.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// CAFile is an optional PEM bundle for self-hosted gateways.
	CAFile string `yaml:"ca_file"`

	// LogLevel is the zap level name.
	LogLevel string `yaml:"log_level"`
	// LogFile receives logs; empty means stderr.
	LogFile string `yaml:"log_file"`
	// DebugAddr enables the debug HTTP listener when non-empty.
	DebugAddr string `yaml:"debug_addr"`

	// Config is the path to the YAML config file.
	Config string `yaml:"-"`
	// ShowVersion prints build metadata and exits.
	ShowVersion bool `yaml:"-"`
}

func defaults() Options {
	return Options{
		SessionFile:    "session.json",
		RequestTimeout: 10 * time.Second,
		LogLevel:       "info",
		Config:         "habits.yaml",
	}
}

// Load parses args (without the program name) and the environment looked
// up through getenv. Precedence is flags, then environment, then the
// config file, then defaults. All missing required values are reported in
// one error.
func Load(args []string, getenv func(string) string) (*Options, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	def := defaults()
	flagged := def

	fs := pflag.NewFlagSet("habits", pflag.ContinueOnError)
	fs.StringVar(&flagged.Endpoint, "endpoint", "", "gateway endpoint URL")
	fs.StringVar(&flagged.ProjectID, "project", "", "gateway project id")
	fs.StringVar(&flagged.Platform, "platform", "", "gateway platform id")
	fs.StringVar(&flagged.DatabaseID, "database", "", "database id")
	fs.StringVar(&flagged.TableID, "table", "", "habits table id")
	fs.StringVar(&flagged.SessionFile, "session-file", def.SessionFile, "path to the persisted session")
	fs.StringVar(&flagged.SessionPassphrase, "session-passphrase", "", "passphrase sealing the session file")
	fs.DurationVar(&flagged.RefreshDebounce, "refresh-debounce", 0, "collapse realtime bursts within this window")
	fs.DurationVar(&flagged.RequestTimeout, "request-timeout", def.RequestTimeout, "gateway request timeout")
	fs.StringVar(&flagged.CAFile, "ca", "", "path to a CA bundle for the gateway")
	fs.StringVar(&flagged.LogLevel, "log-level", def.LogLevel, "log level")
	fs.StringVar(&flagged.LogFile, "log-file", "", "write logs to this file instead of stderr")
	fs.StringVar(&flagged.DebugAddr, "debug-addr", "", "serve debug endpoints on ip:port")
	fs.StringVarP(&flagged.Config, "config", "c", def.Config, "path to config file")
	fs.BoolVar(&flagged.ShowVersion, "version", false, "show build version and date")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts := def
	opts.ShowVersion = flagged.ShowVersion

	configPath := def.Config
	if v := getenv(EnvConfig); v != "" {
		configPath = v
	}
	if fs.Changed("config") {
		configPath = flagged.Config
	}
	opts.Config = configPath

	if err := loadFile(configPath, fs.Changed("config") || getenv(EnvConfig) != "", &opts); err != nil {
		return nil, err
	}

	if err := applyEnv(&opts, getenv); err != nil {
		return nil, err
	}

	applyFlags(fs, &opts, &flagged)

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &opts, nil
}

// loadFile merges the YAML file into opts. A missing file is an error only
// when the path was requested explicitly.
func loadFile(path string, explicit bool, opts *Options) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, opts); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(opts *Options, getenv func(string) string) error {
	strs := []struct {
		key string
		dst *string
	}{
		{EnvEndpoint, &opts.Endpoint},
		{EnvProjectID, &opts.ProjectID},
		{EnvPlatform, &opts.Platform},
		{EnvDatabaseID, &opts.DatabaseID},
		{EnvTableID, &opts.TableID},
		{EnvSessionFile, &opts.SessionFile},
		{EnvSessionPassphrase, &opts.SessionPassphrase},
		{EnvCAFile, &opts.CAFile},
		{EnvLogLevel, &opts.LogLevel},
		{EnvLogFile, &opts.LogFile},
		{EnvDebugAddr, &opts.DebugAddr},
	}
	for _, s := range strs {
		if v := getenv(s.key); v != "" {
			*s.dst = v
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{EnvRefreshDebounce, &opts.RefreshDebounce},
		{EnvRequestTimeout, &opts.RequestTimeout},
	}
	for _, d := range durations {
		v := getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func applyFlags(fs *pflag.FlagSet, opts, flagged *Options) {
	if fs.Changed("endpoint") {
		opts.Endpoint = flagged.Endpoint
	}
	if fs.Changed("project") {
		opts.ProjectID = flagged.ProjectID
	}
	if fs.Changed("platform") {
		opts.Platform = flagged.Platform
	}
	if fs.Changed("database") {
		opts.DatabaseID = flagged.DatabaseID
	}
	if fs.Changed("table") {
		opts.TableID = flagged.TableID
	}
	if fs.Changed("session-file") {
		opts.SessionFile = flagged.SessionFile
	}
	if fs.Changed("session-passphrase") {
		opts.SessionPassphrase = flagged.SessionPassphrase
	}
	if fs.Changed("refresh-debounce") {
		opts.RefreshDebounce = flagged.RefreshDebounce
	}
	if fs.Changed("request-timeout") {
		opts.RequestTimeout = flagged.RequestTimeout
	}
	if fs.Changed("ca") {
		opts.CAFile = flagged.CAFile
	}
	if fs.Changed("log-level") {
		opts.LogLevel = flagged.LogLevel
	}
	if fs.Changed("log-file") {
		opts.LogFile = flagged.LogFile
	}
	if fs.Changed("debug-addr") {
		opts.DebugAddr = flagged.DebugAddr
	}
}

// Validate checks that every required value is present and well formed.
// Version-only invocations skip the check.
func (o *Options) Validate() error {
	if o.ShowVersion {
		return nil
	}

	var missing []string
	required := []struct {
		key string
		val string
	}{
		{EnvEndpoint, o.Endpoint},
		{EnvProjectID, o.ProjectID},
		{EnvPlatform, o.Platform},
		{EnvDatabaseID, o.DatabaseID},
		{EnvTableID, o.TableID},
	}
	for _, r := range required {
		if r.val == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required configuration is not set: %v", missing)
	}

	u, err := url.Parse(o.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid %s %q: must be an http(s) URL", EnvEndpoint, o.Endpoint)
	}
	if o.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", o.RequestTimeout)
	}
	if o.RefreshDebounce < 0 {
		return fmt.Errorf("refresh debounce must not be negative, got %s", o.RefreshDebounce)
	}
	return nil
}
