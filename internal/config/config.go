package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. BERTSERVE_SERVER_PORT.
const EnvPrefix = "BERTSERVE"

// Config holds all bertserve configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Model  ModelConfig  `mapstructure:"model"`
	Log    LogConfig    `mapstructure:"log"`
	Cache  CacheConfig  `mapstructure:"cache"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // gin mode: "debug", "release", "test"
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	StaticDir    string        `mapstructure:"static_dir"`
}

// ModelConfig holds checkpoint and inference settings.
type ModelConfig struct {
	Dir            string `mapstructure:"dir"`
	RuntimeLib     string `mapstructure:"runtime_lib"` // empty: <dir>/libonnxruntime.so
	MaxLength      int    `mapstructure:"max_length"`
	IntraOpThreads int    `mapstructure:"intra_op_threads"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// CacheConfig holds the optional Redis result cache settings.
type CacheConfig struct {
	Addr     string        `mapstructure:"addr"` // empty disables the cache
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Addr returns the host:port the HTTP server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

var defaults = map[string]any{
	"server.host":            "127.0.0.1",
	"server.port":            5000,
	"server.mode":            "release",
	"server.read_timeout":    30 * time.Second,
	"server.write_timeout":   30 * time.Second,
	"server.idle_timeout":    60 * time.Second,
	"server.static_dir":      ".",
	"model.dir":              "model/bert_text_classifier",
	"model.runtime_lib":      "",
	"model.max_length":       128,
	"model.intra_op_threads": 4,
	"log.level":              "info",
	"log.format":             "json",
	"cache.addr":             "",
	"cache.password":         "",
	"cache.db":               0,
	"cache.ttl":              time.Hour,
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"host":        "server.host",
	"port":        "server.port",
	"static-dir":  "server.static_dir",
	"model-dir":   "model.dir",
	"runtime-lib": "model.runtime_lib",
	"max-length":  "model.max_length",
	"log-level":   "log.level",
	"log-format":  "log.format",
	"cache-addr":  "cache.addr",
}

// Load reads configuration from flags, BERTSERVE_* environment variables, an
// optional YAML config file and built-in defaults, in that order of precedence.
// args excludes the program name.
func Load(args []string) (Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	fs := pflag.NewFlagSet("bertserve", pflag.ContinueOnError)
	configFile := fs.String("config", "", "path to a YAML config file")
	fs.String("host", "127.0.0.1", "listen host")
	fs.Int("port", 5000, "listen port")
	fs.String("static-dir", ".", "directory holding index.html")
	fs.String("model-dir", "model/bert_text_classifier", "checkpoint directory")
	fs.String("runtime-lib", "", "path to the ONNX Runtime shared library")
	fs.Int("max-length", 128, "maximum tokens per input, special tokens included")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-format", "json", "log format: json or console")
	fs.String("cache-addr", "", "Redis address for the result cache (disabled when empty)")
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return Config{}, fmt.Errorf("config: bind %s: %w", flag, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", *configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors that would prevent startup.
// The model directory itself is checked by the checkpoint loader so that a
// missing directory is reported with the loader's sentinel error.
func (c Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server port %d out of range 1-65535", c.Server.Port))
	}
	if c.Model.Dir == "" {
		errs = append(errs, "model dir must not be empty")
	}
	if c.Model.MaxLength < 3 {
		errs = append(errs, fmt.Sprintf("model max length %d must be at least 3", c.Model.MaxLength))
	}
	if c.Model.IntraOpThreads < 0 {
		errs = append(errs, fmt.Sprintf("intra-op threads %d must not be negative", c.Model.IntraOpThreads))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("unknown log format %q (want json or console)", c.Log.Format))
	}
	if c.Cache.Addr != "" && c.Cache.TTL <= 0 {
		errs = append(errs, fmt.Sprintf("cache ttl %v must be positive", c.Cache.TTL))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
