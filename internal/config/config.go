// Package config loads service configuration from defaults, an optional YAML
// file, .env files and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. CREEL_DB_PATH
const EnvPrefix = "CREEL"

// Config holds the application configuration. It is built once in main and
// passed by value to constructors.
type Config struct {
	DB        DBConfig
	Source    SourceConfig
	Collector CollectorConfig
	Update    UpdateConfig
	Server    ServerConfig
	Blob      BlobConfig
	Telegram  TelegramConfig
	OpenAI    OpenAIConfig
	Log       LogConfig

	// ConfigFile is the file that was read, if any
	ConfigFile string
}

type DBConfig struct {
	Path string
}

type SourceConfig struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

type CollectorConfig struct {
	StormThreshold int
	BaselineYear   int
}

type UpdateConfig struct {
	Cooldown time.Duration
	// Cron is a robfig/cron spec; empty disables scheduled runs
	Cron string
}

type ServerConfig struct {
	Host string
	Port int
}

// Addr returns host:port for http.Server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type BlobConfig struct {
	Endpoint  string
	Bucket    string
	Object    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Enabled reports whether blob persistence is configured
func (b BlobConfig) Enabled() bool {
	return b.Endpoint != "" && b.Bucket != ""
}

type TelegramConfig struct {
	Token       string
	AdminChatID int64
}

type OpenAIConfig struct {
	APIKey string
}

type LogConfig struct {
	Level  string
	Format string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.path", "wdfw_creel_data/creel_data.db")
	v.SetDefault("source.base_url", "https://wdfw.wa.gov/fishing/reports/creel/puget-annual/export")
	v.SetDefault("source.timeout", 30*time.Second)
	v.SetDefault("source.user_agent", "creel-bot/1.0")
	v.SetDefault("collector.storm_threshold", 100)
	v.SetDefault("collector.baseline_year", 2013)
	v.SetDefault("update.cooldown", 24*time.Hour)
	v.SetDefault("update.cron", "")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("blob.endpoint", "")
	v.SetDefault("blob.bucket", "")
	v.SetDefault("blob.object", "creel_data.db")
	v.SetDefault("blob.access_key", "")
	v.SetDefault("blob.secret_key", "")
	v.SetDefault("blob.region", "")
	v.SetDefault("blob.use_ssl", true)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.admin_chat_id", 0)
	v.SetDefault("openai.api_key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Unprefixed names that deployments commonly set
var envAliases = map[string]string{
	"server.port":    "PORT",
	"telegram.token": "TELEGRAM_BOT_TOKEN",
	"openai.api_key": "OPENAI_API_KEY",
	"log.level":      "LOG_LEVEL",
	"log.format":     "LOG_FORMAT",
}

// Load reads configuration. Sources in order of precedence: environment,
// .env files, configFile (or ./creel.yaml when empty), defaults.
func Load(configFile string) (Config, error) {
	loadEnvFiles()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		envName := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envName, alias); err != nil {
			return Config{}, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("creel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := Config{
		DB: DBConfig{Path: v.GetString("db.path")},
		Source: SourceConfig{
			BaseURL:   v.GetString("source.base_url"),
			Timeout:   v.GetDuration("source.timeout"),
			UserAgent: v.GetString("source.user_agent"),
		},
		Collector: CollectorConfig{
			StormThreshold: v.GetInt("collector.storm_threshold"),
			BaselineYear:   v.GetInt("collector.baseline_year"),
		},
		Update: UpdateConfig{
			Cooldown: v.GetDuration("update.cooldown"),
			Cron:     v.GetString("update.cron"),
		},
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		Blob: BlobConfig{
			Endpoint:  v.GetString("blob.endpoint"),
			Bucket:    v.GetString("blob.bucket"),
			Object:    v.GetString("blob.object"),
			AccessKey: v.GetString("blob.access_key"),
			SecretKey: v.GetString("blob.secret_key"),
			Region:    v.GetString("blob.region"),
			UseSSL:    v.GetBool("blob.use_ssl"),
		},
		Telegram: TelegramConfig{
			Token:       v.GetString("telegram.token"),
			AdminChatID: v.GetInt64("telegram.admin_chat_id"),
		},
		OpenAI: OpenAIConfig{APIKey: v.GetString("openai.api_key")},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		ConfigFile: v.ConfigFileUsed(),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the services cannot run with
func (c Config) Validate() error {
	var errs []error
	if c.DB.Path == "" {
		errs = append(errs, errors.New("db.path is required"))
	}
	if c.Source.Timeout <= 0 {
		errs = append(errs, errors.New("source.timeout must be positive"))
	}
	if c.Collector.StormThreshold < 0 {
		errs = append(errs, errors.New("collector.storm_threshold must not be negative"))
	}
	if c.Collector.BaselineYear < 1900 {
		errs = append(errs, fmt.Errorf("collector.baseline_year %d is out of range", c.Collector.BaselineYear))
	}
	if c.Update.Cooldown < 0 {
		errs = append(errs, errors.New("update.cooldown must not be negative"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	return errors.Join(errs...)
}

// loadEnvFiles loads .env then .env.local without overriding variables that
// are already set.
func loadEnvFiles() {
	for _, envFile := range []string{".env", ".env.local"} {
		_ = godotenv.Load(envFile)
	}
}
