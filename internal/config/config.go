package config

import (
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Input   InputConfig   `yaml:"input" mapstructure:"input"`
	Master  MasterConfig  `yaml:"master" mapstructure:"master"`
	Output  OutputConfig  `yaml:"output" mapstructure:"output"`
	Geocode GeocodeConfig `yaml:"geocode" mapstructure:"geocode"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// InputConfig describes the donor/affiliate export and its column names.
type InputConfig struct {
	Path           string        `yaml:"path" mapstructure:"path"`
	InterestsPath  string        `yaml:"interests_path" mapstructure:"interests_path"`
	Sheet          string        `yaml:"sheet" mapstructure:"sheet"`
	Columns        ColumnsConfig `yaml:"columns" mapstructure:"columns"`
	AffiliationSep []string      `yaml:"affiliation_separators" mapstructure:"affiliation_separators"`
}

// ColumnsConfig maps export headers to record fields.
type ColumnsConfig struct {
	ID                  string `yaml:"id" mapstructure:"id"`
	Name                string `yaml:"name" mapstructure:"name"`
	FirstName           string `yaml:"first_name" mapstructure:"first_name"`
	LastName            string `yaml:"last_name" mapstructure:"last_name"`
	Street              string `yaml:"street" mapstructure:"street"`
	City                string `yaml:"city" mapstructure:"city"`
	State               string `yaml:"state" mapstructure:"state"`
	PostalCode          string `yaml:"postal_code" mapstructure:"postal_code"`
	Country             string `yaml:"country" mapstructure:"country"`
	Affiliation         string `yaml:"affiliation" mapstructure:"affiliation"`
	ISRRecognition      string `yaml:"isr_recognition" mapstructure:"isr_recognition"`
	UMRecognition       string `yaml:"um_recognition" mapstructure:"um_recognition"`
	InterestID          string `yaml:"interest_id" mapstructure:"interest_id"`
	InterestCategory    string `yaml:"interest_category" mapstructure:"interest_category"`
	InterestSubcategory string `yaml:"interest_subcategory" mapstructure:"interest_subcategory"`
	InterestLevel       string `yaml:"interest_level" mapstructure:"interest_level"`
}

// MasterConfig locates the accumulated master dataset.
type MasterConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// OutputConfig configures layer files and the run summary.
type OutputConfig struct {
	LayersDir   string   `yaml:"layers_dir" mapstructure:"layers_dir"`
	Formats     []string `yaml:"formats" mapstructure:"formats"`
	SummaryPath string   `yaml:"summary_path" mapstructure:"summary_path"`
	ReviewPath  string   `yaml:"review_path" mapstructure:"review_path"`
}

// GeocodeConfig configures the geocoding service client.
type GeocodeConfig struct {
	Provider         string  `yaml:"provider" mapstructure:"provider"`
	APIKey           string  `yaml:"api_key" mapstructure:"api_key"`
	MinScore         float64 `yaml:"min_score" mapstructure:"min_score"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst            int     `yaml:"burst" mapstructure:"burst"`
	Workers          int     `yaml:"workers" mapstructure:"workers"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retries          int     `yaml:"retries" mapstructure:"retries"`
	CircuitThreshold int     `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	AbortOnOutage    bool    `yaml:"abort_on_outage" mapstructure:"abort_on_outage"`
}

// Timeout returns the per-request timeout.
func (g GeocodeConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSecs) * time.Second
}

// CacheConfig selects the geocode cache backend.
type CacheConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Table       string `yaml:"table" mapstructure:"table"`
}

// MetricsConfig configures the batch metrics textfile.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Output formats for layer files.
const (
	FormatCSV       = "csv"
	FormatGeoJSON   = "geojson"
	FormatShapefile = "shp"
)

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DONORGEO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key is listed so AutomaticEnv can override it.
	v.SetDefault("input.path", "")
	v.SetDefault("input.interests_path", "")
	v.SetDefault("input.sheet", "")
	v.SetDefault("input.affiliation_separators", []string{"\n", ","})
	v.SetDefault("input.columns.id", "Constituent LookupID")
	v.SetDefault("input.columns.name", "Name")
	v.SetDefault("input.columns.first_name", "First Name")
	v.SetDefault("input.columns.last_name", "Last/Name/Org Name")
	v.SetDefault("input.columns.street", "Home Address")
	v.SetDefault("input.columns.city", "Home City")
	v.SetDefault("input.columns.state", "Home State")
	v.SetDefault("input.columns.postal_code", "Home Zip")
	v.SetDefault("input.columns.country", "Home Country")
	v.SetDefault("input.columns.affiliation", "Constituent Affiliation")
	v.SetDefault("input.columns.isr_recognition", "Institute for Social Research Lifetime Recognition")
	v.SetDefault("input.columns.um_recognition", "UM-Wide Lifetime Recognition")
	v.SetDefault("input.columns.interest_id", "Constituent LookupID")
	v.SetDefault("input.columns.interest_category", "Interest Category")
	v.SetDefault("input.columns.interest_subcategory", "Interest Subcategory")
	v.SetDefault("input.columns.interest_level", "Interest Level")
	v.SetDefault("master.path", "master.csv")
	v.SetDefault("output.layers_dir", "layers")
	v.SetDefault("output.formats", []string{FormatCSV})
	v.SetDefault("output.summary_path", "run-summary.yaml")
	v.SetDefault("output.review_path", "ambiguous.csv")
	v.SetDefault("geocode.provider", "census")
	v.SetDefault("geocode.api_key", "")
	v.SetDefault("geocode.min_score", 80)
	v.SetDefault("geocode.rate_limit", 10)
	v.SetDefault("geocode.burst", 5)
	v.SetDefault("geocode.workers", 4)
	v.SetDefault("geocode.timeout_secs", 30)
	v.SetDefault("geocode.retries", 3)
	v.SetDefault("geocode.circuit_threshold", 10)
	v.SetDefault("geocode.abort_on_outage", false)
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.path", "geocode-cache.db")
	v.SetDefault("cache.database_url", "")
	v.SetDefault("cache.table", "geocode_cache")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is "run", "layers" or
// "cache".
func (c *Config) Validate(mode string) error {
	var errs []string
	switch mode {
	case "run":
		if c.Input.Path == "" {
			errs = append(errs, "input.path is required")
		}
		errs = append(errs, c.validateMaster()...)
		errs = append(errs, c.validateOutput()...)
		errs = append(errs, c.validateGeocode()...)
		errs = append(errs, c.validateCache()...)
	case "layers":
		errs = append(errs, c.validateMaster()...)
		errs = append(errs, c.validateOutput()...)
	case "cache":
		errs = append(errs, c.validateCache()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}
	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateMaster() []string {
	if c.Master.Path == "" {
		return []string{"master.path is required"}
	}
	return nil
}

func (c *Config) validateOutput() []string {
	var errs []string
	if c.Output.LayersDir == "" {
		errs = append(errs, "output.layers_dir is required")
	}
	for _, f := range c.Output.Formats {
		if !slices.Contains([]string{FormatCSV, FormatGeoJSON, FormatShapefile}, f) {
			errs = append(errs, "output.formats: unknown format "+f)
		}
	}
	return errs
}

func (c *Config) validateGeocode() []string {
	var errs []string
	switch c.Geocode.Provider {
	case "census":
	case "google", "arcgis":
		if c.Geocode.APIKey == "" {
			errs = append(errs, "geocode.api_key is required for "+c.Geocode.Provider)
		}
	default:
		errs = append(errs, "geocode.provider must be census, google or arcgis")
	}
	if c.Geocode.RateLimit <= 0 {
		errs = append(errs, "geocode.rate_limit must be > 0")
	}
	if c.Geocode.Workers < 1 {
		errs = append(errs, "geocode.workers must be >= 1")
	}
	if c.Geocode.TimeoutSecs < 1 {
		errs = append(errs, "geocode.timeout_secs must be >= 1")
	}
	return errs
}

func (c *Config) validateCache() []string {
	switch c.Cache.Driver {
	case "memory":
	case "sqlite":
		if c.Cache.Path == "" {
			return []string{"cache.path is required for sqlite"}
		}
	case "postgres":
		if c.Cache.DatabaseURL == "" {
			return []string{"cache.database_url is required for postgres"}
		}
	default:
		return []string{"cache.driver must be sqlite, postgres or memory"}
	}
	return nil
}

// InitLogger replaces the global zap logger according to cfg.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
