package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Assessment AssessmentConfig `mapstructure:"assessment"`
	Watchdog   WatchdogConfig   `mapstructure:"watchdog"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Export     ExportConfig     `mapstructure:"export"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
	return c.Path
}

// AssessmentConfig controls job pickup and module execution.
type AssessmentConfig struct {
	JobWorkers      int           `mapstructure:"job_workers"`
	ModuleWorkers   int           `mapstructure:"module_workers"`
	ModuleTimeout   time.Duration `mapstructure:"module_timeout"`
	QueuePollEvery  time.Duration `mapstructure:"queue_poll_every"`
	QueueBufferSize int           `mapstructure:"queue_buffer_size"`
	DefaultModules  []string      `mapstructure:"default_modules"`
}

type WatchdogConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	StaleThreshold time.Duration `mapstructure:"stale_threshold"`
}

type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// MonitorConfig configures access to the quota-constrained monitoring API.
type MonitorConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	QuotaBuffer   int           `mapstructure:"quota_buffer"`
	MaxRetries    int           `mapstructure:"max_retries"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// ExportConfig configures assessment artifact export to object storage.
type ExportConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	// Set config file path
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/nimbus.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("assessment.job_workers", 2)
	v.SetDefault("assessment.module_workers", 3)
	v.SetDefault("assessment.module_timeout", 5*time.Minute)
	v.SetDefault("assessment.queue_poll_every", 15*time.Second)
	v.SetDefault("assessment.queue_buffer_size", 64)
	v.SetDefault("assessment.default_modules", []string{"NETWORK", "BACKUP", "STORAGE", "MONITOR", "COST"})
	v.SetDefault("watchdog.interval", 5*time.Minute)
	v.SetDefault("watchdog.stale_threshold", 10*time.Minute)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", time.Hour)
	v.SetDefault("monitor.base_url", "https://api.logalytics.example.com/v2")
	v.SetDefault("monitor.max_concurrent", 3)
	v.SetDefault("monitor.quota_buffer", 5)
	v.SetDefault("monitor.max_retries", 3)
	v.SetDefault("monitor.timeout", 30*time.Second)
	v.SetDefault("export.enabled", false)
	v.SetDefault("export.endpoint", "localhost:9000")
	v.SetDefault("export.use_ssl", false)
	v.SetDefault("export.bucket", "assessments")
	v.SetDefault("export.region", "")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("monitor.api_key", "MONITOR_API_KEY")
	v.BindEnv("export.access_key", "EXPORT_ACCESS_KEY")
	v.BindEnv("export.secret_key", "EXPORT_SECRET_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
