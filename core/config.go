package core

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env                       string // DEV (local; default), TEST, QA, PROD
		Build                     string
		Debug                     bool
		TestMode                  bool
		AppName                   string
		SecretKey                 string
		DefaultFromEmail          string
		FrontendBaseURL           string
		PasswordResetTimeoutDelta time.Duration
		RollbarToken              string
		SendgridAPIKey            string
		WorkDir                   string

		Server   ServerConfig
		Database DatabaseConfig
		Store    StoreConfig
		Blob     BlobConfig
		Events   EventsConfig
	}

	ServerConfig struct {
		Host                      string
		DebugHost                 string
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		ShutdownTimeout           time.Duration
		ReconcileInterval         time.Duration // 0 disables the periodic reconciler
	}

	// DatabaseConfig is the relational database backing guardian accounts.
	DatabaseConfig struct {
		Engine        string // postgres | sqlite
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	// StoreConfig selects the document store holding the kindergarten network.
	StoreConfig struct {
		Driver   string // memory | mongo | postgres | sqlite
		DSN      string
		Database string
	}

	BlobConfig struct {
		Driver        string // memory | s3
		Bucket        string
		Region        string
		Endpoint      string
		PathStyle     bool
		PublicBaseURL string
	}

	EventsConfig struct {
		Driver        string // local | nats
		URL           string
		SubjectPrefix string
	}
)

func (dbc DatabaseConfig) Address() string {
	if dbc.Port == "" {
		return dbc.Host
	}
	return dbc.Host + ":" + dbc.Port
}

// NewConfig loads the configuration from defaults, `config/.env.<env>` (if it exists) and the environment.
// Environment variables are prefixed with the env name, eg. `PROD_SECRETKEY`.
func NewConfig() *Config {
	v := viper.New()

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("build", "develop")
	v.SetDefault("debug", env == "DEV")
	v.SetDefault("testMode", env == "TEST")
	v.SetDefault("appName", "Rawdati")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridAPIKey", "")

	v.SetDefault("server.host", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.jwtExpirationDelta", 15*time.Minute)
	v.SetDefault("server.jwtRefreshExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.reconcileInterval", 6*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "rawdati")
	v.SetDefault("database.user", "rawdati")
	v.SetDefault("database.password", "rawdati")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", env == "DEV" || env == "TEST")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.database", "rawdati")

	v.SetDefault("blob.driver", "memory")
	v.SetDefault("blob.bucket", "")
	v.SetDefault("blob.region", "us-east-1")
	v.SetDefault("blob.endpoint", "")
	v.SetDefault("blob.pathStyle", false)
	v.SetDefault("blob.publicBaseURL", "")

	v.SetDefault("events.driver", "local")
	v.SetDefault("events.url", "nats://127.0.0.1:4222")
	v.SetDefault("events.subjectPrefix", "rawdati")

	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	wd := Getwd()
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Env:                       env,
		Build:                     v.GetString("build"),
		Debug:                     v.GetBool("debug"),
		TestMode:                  v.GetBool("testMode"),
		AppName:                   v.GetString("appName"),
		SecretKey:                 v.GetString("secretKey"),
		DefaultFromEmail:          v.GetString("defaultFromEmail"),
		FrontendBaseURL:           strings.TrimSuffix(v.GetString("frontendBaseURL"), "/"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		RollbarToken:              v.GetString("rollbarToken"),
		SendgridAPIKey:            v.GetString("sendgridAPIKey"),
		WorkDir:                   wd,
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			DebugHost:                 v.GetString("server.debugHost"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
			ReconcileInterval:         v.GetDuration("server.reconcileInterval"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Store: StoreConfig{
			Driver:   strings.ToLower(v.GetString("store.driver")),
			DSN:      v.GetString("store.dsn"),
			Database: v.GetString("store.database"),
		},
		Blob: BlobConfig{
			Driver:        strings.ToLower(v.GetString("blob.driver")),
			Bucket:        v.GetString("blob.bucket"),
			Region:        v.GetString("blob.region"),
			Endpoint:      v.GetString("blob.endpoint"),
			PathStyle:     v.GetBool("blob.pathStyle"),
			PublicBaseURL: v.GetString("blob.publicBaseURL"),
		},
		Events: EventsConfig{
			Driver:        strings.ToLower(v.GetString("events.driver")),
			URL:           v.GetString("events.url"),
			SubjectPrefix: v.GetString("events.subjectPrefix"),
		},
	}
}

// NewTestConfig returns a Config suitable for tests: no .env lookup, in-memory backends.
func NewTestConfig() *Config {
	return &Config{
		Env:                       "TEST",
		Build:                     "test",
		TestMode:                  true,
		AppName:                   "Rawdati",
		SecretKey:                 "test-secret",
		DefaultFromEmail:          "noreply@test.test",
		FrontendBaseURL:           "http://localhost:3000",
		PasswordResetTimeoutDelta: 3 * 24 * time.Hour,
		Server: ServerConfig{
			JWTExpirationDelta:        15 * time.Minute,
			JWTRefreshExpirationDelta: 7 * 24 * time.Hour,
			ShutdownTimeout:           time.Second,
		},
		Database: DatabaseConfig{Engine: "sqlite", Name: ":memory:"},
		Store:    StoreConfig{Driver: "memory"},
		Blob:     BlobConfig{Driver: "memory"},
		Events:   EventsConfig{Driver: "local", SubjectPrefix: "rawdati"},
	}
}

func (conf *Config) String() string {
	return fmt.Sprintf("%s[%s] store=%s blob=%s events=%s", conf.AppName, conf.Env, conf.Store.Driver, conf.Blob.Driver, conf.Events.Driver)
}
