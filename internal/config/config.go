package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DriverPion    = "pion"
	DriverKurento = "kurento"
)

type EngineConfig struct {
	Driver      string        `mapstructure:"driver"`
	KurentoURI  string        `mapstructure:"kurento_uri"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	ICEServers  []string      `mapstructure:"ice_servers"`
	UDPPortMin  uint16        `mapstructure:"udp_port_min"`
	UDPPortMax  uint16        `mapstructure:"udp_port_max"`
}

type SignalConfig struct {
	// RateLimit is the number of presenter/viewer requests allowed per
	// session within RateInterval. Zero disables limiting.
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	WSPath     string        `mapstructure:"ws_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendQueue  int           `mapstructure:"send_queue"`
	LogLevel   string        `mapstructure:"log_level"`
	Secret     string        `mapstructure:"secret"`

	Engine EngineConfig `mapstructure:"engine"`
	Signal SignalConfig `mapstructure:"signal"`
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"port":        "port",
	"log-level":   "log_level",
	"engine":      "engine.driver",
	"kurento-uri": "engine.kurento_uri",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("ws_path", "/one2many")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_queue", 32)
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "")

	v.SetDefault("engine.driver", DriverPion)
	v.SetDefault("engine.kurento_uri", "ws://localhost:8888/kurento")
	v.SetDefault("engine.call_timeout", "0s")
	v.SetDefault("engine.ping_period", "30s")
	v.SetDefault("engine.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("engine.udp_port_min", 0)
	v.SetDefault("engine.udp_port_max", 0)

	v.SetDefault("signal.rate_limit", 0)
	v.SetDefault("signal.rate_interval", "1s")
}

// Env returns the config environment name, taken from the config-env flag
// when set and from CONFIG_ENV otherwise.
func Env(flags *pflag.FlagSet) string {
	if flags != nil {
		if f := flags.Lookup("config-env"); f != nil && f.Changed {
			return f.Value.String()
		}
	}
	if env := os.Getenv("CONFIG_ENV"); env != "" {
		return env
	}
	return "dev"
}

// Load reads config/config.<env>.yaml relative to the working directory.
func Load(flags *pflag.FlagSet) (*Config, error) {
	return LoadFrom("config", flags)
}

// LoadFrom reads <dir>/config.<env>.yaml, then applies ONE2MANY_* environment
// overrides and explicitly set flags. A missing file falls back to defaults.
func LoadFrom(dir string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	env := Env(flags)
	fileName := filepath.Join(dir, fmt.Sprintf("config.%s.yaml", env))
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("ONE2MANY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for flag, key := range flagKeys {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info().Str("module", "config").
		Str("env", env).
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("ws_path", cfg.WSPath).
		Str("engine", cfg.Engine.Driver).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Engine.Driver {
	case DriverPion:
	case DriverKurento:
		if c.Engine.KurentoURI == "" {
			return errors.New("config: engine.kurento_uri is required for the kurento driver")
		}
	default:
		return fmt.Errorf("config: unknown engine.driver %q", c.Engine.Driver)
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		return fmt.Errorf("config: ws_path %q must start with /", c.WSPath)
	}
	if c.Engine.UDPPortMin > c.Engine.UDPPortMax {
		return fmt.Errorf("config: engine.udp_port_min %d above udp_port_max %d", c.Engine.UDPPortMin, c.Engine.UDPPortMax)
	}
	if c.PingPeriod <= 0 {
		return fmt.Errorf("config: ping_period must be positive")
	}
	return nil
}
