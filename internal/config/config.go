package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Model      ModelConfig      `mapstructure:"model"`
	Gatekeeper GatekeeperConfig `mapstructure:"gatekeeper"`
	Runtime    RuntimeConfig    `mapstructure:"runtime"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	APIPrefix      string   `mapstructure:"api_prefix"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MaxUploadBytes int64    `mapstructure:"max_upload_bytes"`
	LowConfidence  float64  `mapstructure:"low_confidence"`
}

type ModelConfig struct {
	Path         string   `mapstructure:"path"`
	MetadataPath string   `mapstructure:"metadata_path"`
	NumClasses   int      `mapstructure:"num_classes"`
	ClassNames   []string `mapstructure:"class_names"`
	KeyPrefix    string   `mapstructure:"key_prefix"`
}

type GatekeeperConfig struct {
	ModelPath    string  `mapstructure:"model_path"`
	MetadataPath string  `mapstructure:"metadata_path"`
	FailClosed   bool    `mapstructure:"fail_closed"`
	TopK         int     `mapstructure:"top_k"`
	Threshold    float64 `mapstructure:"threshold"`
	ClassesPath  string  `mapstructure:"classes_path"`
}

type RuntimeConfig struct {
	SharedLibraryPath string `mapstructure:"shared_library_path"`
	IntraOpThreads    int    `mapstructure:"intra_op_threads"`
	Workers           int    `mapstructure:"workers"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EnvPrefix namespaces environment overrides: model.path -> DAMAGEX_MODEL_PATH.
const EnvPrefix = "DAMAGEX"

// Load reads defaults, then the optional YAML file at path, then the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/damagex/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// An explicit path must exist; the search paths are optional.
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Server.AllowedOrigins = splitOrigins(cfg.Server.AllowedOrigins)

	if p := strings.TrimSpace(os.Getenv("PORT")); p != "" {
		cfg.Server.Port = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.api_prefix", "/api/v1")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_upload_bytes", 10<<20)
	v.SetDefault("server.low_confidence", 0.5)

	v.SetDefault("model.path", "models/damage.onnx")
	v.SetDefault("model.metadata_path", "models/damage_metadata.json")
	v.SetDefault("model.num_classes", 6)
	v.SetDefault("model.class_names", []string{
		"Front Breakage",
		"Front Crushed",
		"Front Normal",
		"Rear Breakage",
		"Rear Crushed",
		"Rear Normal",
	})
	v.SetDefault("model.key_prefix", "model.")

	v.SetDefault("gatekeeper.model_path", "models/resnet18.onnx")
	v.SetDefault("gatekeeper.metadata_path", "models/resnet18_metadata.json")
	v.SetDefault("gatekeeper.fail_closed", false)
	v.SetDefault("gatekeeper.top_k", 10)
	v.SetDefault("gatekeeper.threshold", 0.01)
	v.SetDefault("gatekeeper.classes_path", "")

	v.SetDefault("runtime.shared_library_path", "")
	v.SetDefault("runtime.intra_op_threads", 1)
	v.SetDefault("runtime.workers", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func (c *Config) Validate() error {
	if c.Model.NumClasses < 2 {
		return fmt.Errorf("model.num_classes must be at least 2, got %d", c.Model.NumClasses)
	}
	if len(c.Model.ClassNames) != c.Model.NumClasses {
		return fmt.Errorf("model.class_names has %d entries but model.num_classes is %d",
			len(c.Model.ClassNames), c.Model.NumClasses)
	}
	if c.Gatekeeper.TopK < 1 {
		return fmt.Errorf("gatekeeper.top_k must be at least 1, got %d", c.Gatekeeper.TopK)
	}
	if c.Gatekeeper.Threshold <= 0 || c.Gatekeeper.Threshold >= 1 {
		return fmt.Errorf("gatekeeper.threshold must be in (0, 1), got %v", c.Gatekeeper.Threshold)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is empty")
	}
	return nil
}

// AllowsAnyOrigin is true when the CORS list contains "*".
func (s ServerConfig) AllowsAnyOrigin() bool {
	for _, o := range s.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

// splitOrigins trims entries such as the ones in
// DAMAGEX_SERVER_ALLOWED_ORIGINS="https://a, https://b" and drops blanks.
func splitOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, entry := range origins {
		for _, o := range strings.Split(entry, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
	}
	return out
}
