package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/garyjia/order-transcriber/internal/profile"
)

// Config holds all application configuration
type Config struct {
	Mode      string          `mapstructure:"mode"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Templates TemplatesConfig `mapstructure:"templates"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Render    RenderConfig    `mapstructure:"render"`
	Logger    LoggerConfig    `mapstructure:"logger"`

	// Notices collects settings that were replaced by their defaults while loading
	Notices []string `mapstructure:"-"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds run history database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// MigrationsDir overrides the migrations embedded in the binary
	MigrationsDir string `mapstructure:"migrations_dir"`
}

// StorageConfig holds working and output directories
type StorageConfig struct {
	ScratchDir  string `mapstructure:"scratch_dir"`
	OutputDir   string `mapstructure:"output_dir"`
	KeepScratch bool   `mapstructure:"keep_scratch"`
}

// TemplatesConfig holds the workbook template of each partner
type TemplatesConfig struct {
	NextBits string `mapstructure:"nextbits"`
	OffBeat  string `mapstructure:"offbeat"`
}

// EngineConfig holds spreadsheet engine configuration
type EngineConfig struct {
	Binary         string        `mapstructure:"binary"`
	ConvertTimeout time.Duration `mapstructure:"convert_timeout"`
	ExportTimeout  time.Duration `mapstructure:"export_timeout"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	// Recalc selects the recalculation engine: libreoffice or cache
	Recalc string `mapstructure:"recalc"`
}

// RenderConfig holds PDF rendering configuration
type RenderConfig struct {
	Engine   string `mapstructure:"engine"`
	Strategy string `mapstructure:"strategy"`
	Inspect  bool   `mapstructure:"inspect"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"

	RecalcOffice = "libreoffice"
	RecalcCache  = "cache"
)

var renderEngines = map[string]bool{"libreoffice": true}

// Load reads configuration from defaults, an optional YAML file and the environment.
// An empty configPath looks for config.yaml in the working directory and ./configs.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TRANSCRIBER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadEnvFile exports the variables of a dotenv file without overriding variables that are
// already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := gotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", ModeProduction)

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 300*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/transcriber.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 0)
	v.SetDefault("database.migrations_dir", "")

	// Storage defaults
	v.SetDefault("storage.scratch_dir", "scratch")
	v.SetDefault("storage.output_dir", "output")
	v.SetDefault("storage.keep_scratch", false)

	v.SetDefault("templates.nextbits", "templates/nextbits.xlsx")
	v.SetDefault("templates.offbeat", "templates/offbeat.xlsx")

	// Engine defaults
	v.SetDefault("engine.binary", "soffice")
	v.SetDefault("engine.convert_timeout", 60*time.Second)
	v.SetDefault("engine.export_timeout", 120*time.Second)
	v.SetDefault("engine.probe_timeout", 5*time.Second)
	v.SetDefault("engine.recalc", RecalcOffice)

	// Render defaults
	v.SetDefault("render.engine", "libreoffice")
	v.SetDefault("render.strategy", "split")
	v.SetDefault("render.inspect", true)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stderr")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds variables that do not follow the TRANSCRIBER_ prefix
func bindEnvVars(v *viper.Viper) {
	v.BindEnv("render.engine", "TRANSCRIBER_RENDER_ENGINE", "PDF_ENGINE")
	v.BindEnv("engine.binary", "TRANSCRIBER_ENGINE_BINARY", "SOFFICE_PATH")
}

// normalize replaces unknown render engines with libreoffice
func (c *Config) normalize() {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	engine := strings.ToLower(strings.TrimSpace(c.Render.Engine))
	if !renderEngines[engine] {
		c.Notices = append(c.Notices, fmt.Sprintf("unknown render engine %q, using libreoffice", c.Render.Engine))
		engine = "libreoffice"
	}
	c.Render.Engine = engine
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Mode != ModeDevelopment && c.Mode != ModeProduction {
		return fmt.Errorf("mode must be %s or %s, got %q", ModeDevelopment, ModeProduction, c.Mode)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Storage.ScratchDir == "" {
		return fmt.Errorf("storage.scratch_dir is required")
	}
	if c.Storage.OutputDir == "" {
		return fmt.Errorf("storage.output_dir is required")
	}
	if c.Engine.Recalc != RecalcOffice && c.Engine.Recalc != RecalcCache {
		return fmt.Errorf("engine.recalc must be %s or %s, got %q", RecalcOffice, RecalcCache, c.Engine.Recalc)
	}
	switch c.Render.Strategy {
	case "split", "isolate":
	default:
		return fmt.Errorf("render.strategy must be split or isolate, got %q", c.Render.Strategy)
	}
	return nil
}

// Development reports whether error records carry stacks
func (c *Config) Development() bool {
	return c.Mode == ModeDevelopment
}

// TemplateFor returns the configured template of a partner
func (c *Config) TemplateFor(tag profile.Tag) string {
	switch tag {
	case profile.NextBits:
		return c.Templates.NextBits
	case profile.OffBeat:
		return c.Templates.OffBeat
	}
	return ""
}

// Addr is the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
