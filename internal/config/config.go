package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`

	DB struct {
		// URL takes precedence over the discrete components when set.
		URL      string `mapstructure:"url"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`

		// Serverless selects pool defaults tuned for a backend that drops
		// idle connections (e.g. Neon).
		Serverless            bool `mapstructure:"serverless"`
		PoolSize              int  `mapstructure:"pool_size"`
		MaxOverflow           int  `mapstructure:"max_overflow"`
		RecycleSeconds        int  `mapstructure:"recycle_seconds"`
		AcquireTimeoutSeconds int  `mapstructure:"acquire_timeout_seconds"`
	} `mapstructure:"db"`

	Reasoning struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"reasoning"`

	Broadcast struct {
		NATSURL       string `mapstructure:"nats_url"`
		SubjectPrefix string `mapstructure:"subject_prefix"`
	} `mapstructure:"broadcast"`

	Auth struct {
		OktaDomain   string `mapstructure:"okta_domain"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		RedirectURL  string `mapstructure:"redirect_url"`
	} `mapstructure:"auth"`

	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// LoadConfig loads the configuration from a file and the environment.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Missing file is fine; env vars may carry everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Auth.OktaDomain = normalizeIssuer(config.Auth.OktaDomain)

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "DEV")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.sslmode", "require")
	viper.SetDefault("db.pool_size", 10)
	viper.SetDefault("db.max_overflow", 5)
	viper.SetDefault("db.recycle_seconds", 300)
	viper.SetDefault("db.acquire_timeout_seconds", 30)
	viper.SetDefault("broadcast.subject_prefix", "outreach.workflow")
}

// DSN renders the database connection string. The explicit URL wins; the
// discrete components are assembled otherwise.
func (c *Config) DSN() string {
	if c.DB.URL != "" {
		return c.DB.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// normalizeIssuer ensures the provided OIDC issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact so users can paste the full URL from the admin console.
func normalizeIssuer(input string) string {
	iss := strings.TrimSpace(input)
	if strings.HasSuffix(iss, "/") {
		iss = strings.TrimRight(iss, "/")
	}
	return iss
}
