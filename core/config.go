package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host                      string
		Address                   string
		DebugHost                 string
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		ShutdownTimeout           time.Duration
	}

	DatabaseConfig struct {
		Engine        string // postgres | memory
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	JobsConfig struct {
		Disabled            bool
		SweepInterval       time.Duration
		BonusDailyInterval  time.Duration
		BonusExpiryInterval time.Duration
		AutoConfirmInterval time.Duration
		DigestInterval      time.Duration
	}

	ReportsConfig struct {
		Recipients []mail.Address
	}

	Config struct {
		AppName          string
		Build            string
		Env              string
		Debug            bool
		TestMode         bool
		SecretKey        string
		RollbarToken     string
		SendgridAPIKey   string
		DefaultFromEmail mail.Address
		FrontendBaseURL  string
		TimeZone         string
		WorkDir          string

		Server   ServerConfig
		Database DatabaseConfig
		Jobs     JobsConfig
		Reports  ReportsConfig

		location *time.Location
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Location returns the time zone used for day boundaries (daily targets, bonus pools).
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// NewConfig loads the configuration from the environment, reading `config/.env.<env>` first if it exists.
func NewConfig() *Config {
	v := viper.New()

	env := strings.ToLower(os.Getenv("ENV")) // dev (local; default), test, qa, prod
	if env == "" {
		env = "dev"
	}

	wd := Getwd()
	dotEnvPath := filepath.Join(wd, "config", ".env."+env)
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err = godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("APP_NAME", "TaskPool")
	v.SetDefault("BUILD", "develop")
	v.SetDefault("DEBUG", env == "dev")
	v.SetDefault("SECRET_KEY", "dev-4bq7$k2w!vz0c3p+8n_d5hxt@u1m6s9r")
	v.SetDefault("ROLLBAR_TOKEN", "")
	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("DEFAULT_FROM_EMAIL", "TaskPool <noreply@localhost>")
	v.SetDefault("FRONTEND_BASE_URL", "http://localhost:3000")
	v.SetDefault("TIME_ZONE", "Asia/Shanghai")

	v.SetDefault("SERVER_HOST", "localhost")
	v.SetDefault("SERVER_ADDRESS", ":8000")
	v.SetDefault("SERVER_DEBUG_HOST", ":4000")
	v.SetDefault("JWT_EXPIRATION_DELTA", 24*time.Hour)
	v.SetDefault("JWT_REFRESH_EXPIRATION_DELTA", 7*24*time.Hour)
	v.SetDefault("SHUTDOWN_TIMEOUT", 5*time.Second)

	v.SetDefault("DB_ENGINE", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_NAME", "taskpool")
	v.SetDefault("DB_USER", "taskpool")
	v.SetDefault("DB_PASSWORD", "taskpool")
	v.SetDefault("DB_ADMIN_USER", "postgres")
	v.SetDefault("DB_ADMIN_PASSWORD", "postgres")
	v.SetDefault("DB_DISABLE_TLS", env == "dev" || env == "test")

	v.SetDefault("JOBS_DISABLED", env == "test")
	v.SetDefault("JOBS_SWEEP_INTERVAL", time.Hour)
	v.SetDefault("JOBS_BONUS_DAILY_INTERVAL", time.Hour)
	v.SetDefault("JOBS_BONUS_EXPIRY_INTERVAL", 3*time.Hour)
	v.SetDefault("JOBS_AUTO_CONFIRM_INTERVAL", time.Hour)
	v.SetDefault("JOBS_DIGEST_INTERVAL", 24*time.Hour)
	v.SetDefault("REPORT_RECIPIENTS", "")

	v.AutomaticEnv()

	conf := &Config{
		AppName:         v.GetString("APP_NAME"),
		Build:           v.GetString("BUILD"),
		Env:             env,
		Debug:           v.GetBool("DEBUG"),
		TestMode:        env == "test",
		SecretKey:       v.GetString("SECRET_KEY"),
		RollbarToken:    v.GetString("ROLLBAR_TOKEN"),
		SendgridAPIKey:  v.GetString("SENDGRID_API_KEY"),
		FrontendBaseURL: v.GetString("FRONTEND_BASE_URL"),
		TimeZone:        v.GetString("TIME_ZONE"),
		WorkDir:         wd,
		Server: ServerConfig{
			Host:                      v.GetString("SERVER_HOST"),
			Address:                   v.GetString("SERVER_ADDRESS"),
			DebugHost:                 v.GetString("SERVER_DEBUG_HOST"),
			JWTExpirationDelta:        v.GetDuration("JWT_EXPIRATION_DELTA"),
			JWTRefreshExpirationDelta: v.GetDuration("JWT_REFRESH_EXPIRATION_DELTA"),
			ShutdownTimeout:           v.GetDuration("SHUTDOWN_TIMEOUT"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("DB_ENGINE"),
			Host:          v.GetString("DB_HOST"),
			Port:          v.GetInt("DB_PORT"),
			Name:          v.GetString("DB_NAME"),
			User:          v.GetString("DB_USER"),
			Password:      v.GetString("DB_PASSWORD"),
			AdminUser:     v.GetString("DB_ADMIN_USER"),
			AdminPassword: v.GetString("DB_ADMIN_PASSWORD"),
			DisableTLS:    v.GetBool("DB_DISABLE_TLS"),
		},
		Jobs: JobsConfig{
			Disabled:            v.GetBool("JOBS_DISABLED"),
			SweepInterval:       v.GetDuration("JOBS_SWEEP_INTERVAL"),
			BonusDailyInterval:  v.GetDuration("JOBS_BONUS_DAILY_INTERVAL"),
			BonusExpiryInterval: v.GetDuration("JOBS_BONUS_EXPIRY_INTERVAL"),
			AutoConfirmInterval: v.GetDuration("JOBS_AUTO_CONFIRM_INTERVAL"),
			DigestInterval:      v.GetDuration("JOBS_DIGEST_INTERVAL"),
		},
	}

	from, err := mail.ParseAddress(v.GetString("DEFAULT_FROM_EMAIL"))
	if err != nil {
		log.Fatalf("config.DEFAULT_FROM_EMAIL: %v", err)
	}
	conf.DefaultFromEmail = *from

	if rcpts := v.GetString("REPORT_RECIPIENTS"); rcpts != "" {
		addrs, err := mail.ParseAddressList(rcpts)
		if err != nil {
			log.Fatalf("config.REPORT_RECIPIENTS: %v", err)
		}
		for _, a := range addrs {
			conf.Reports.Recipients = append(conf.Reports.Recipients, *a)
		}
	}

	if loc, err := time.LoadLocation(conf.TimeZone); err == nil {
		conf.location = loc
	} else {
		log.Printf("config.TIME_ZONE(%s): %v; falling back to UTC", conf.TimeZone, err)
	}
	return conf
}

// NewTestConfig returns a config suited for tests: memory engine, no jobs, UTC days.
func NewTestConfig() *Config {
	from, _ := mail.ParseAddress("TaskPool <noreply@localhost>")
	return &Config{
		AppName:          "TaskPool",
		Build:            "test",
		Env:              "test",
		TestMode:         true,
		SecretKey:        "test-secret",
		DefaultFromEmail: *from,
		FrontendBaseURL:  "http://localhost:3000",
		TimeZone:         "UTC",
		Server: ServerConfig{
			JWTExpirationDelta:        time.Hour,
			JWTRefreshExpirationDelta: 4 * time.Hour,
			ShutdownTimeout:           time.Second,
		},
		Database: DatabaseConfig{Engine: "memory"},
		Jobs:     JobsConfig{Disabled: true},
		location: time.UTC,
	}
}
