package core

import (
	"fmt"
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env             string
		Build           string
		Debug           bool
		TestMode        bool
		AppName         string
		SecretKey       string
		FrontendBaseURL string
		StaticDir       string
		WorkDir         string
		RollbarToken    string
		SendgridApiKey  string

		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		PasswordResetTimeoutDelta time.Duration

		defaultFromEmail string

		Server   ServerConfig
		Database DatabaseConfig
	}

	ServerConfig struct {
		Host            string
		Addr            string
		DebugHost       string
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		MaxOpenConns  int
		MaxIdleConns  int
	}
)

// Address returns the "host:port" of the database server.
func (dbc DatabaseConfig) Address() string {
	return fmt.Sprintf("%s:%d", dbc.Host, dbc.Port)
}

func (conf *Config) DefaultFromEmail() mail.Address {
	addr, err := mail.ParseAddress(conf.defaultFromEmail)
	if err != nil {
		return mail.Address{Name: conf.AppName, Address: conf.defaultFromEmail}
	}
	if addr.Name == "" {
		addr.Name = conf.AppName
	}
	return *addr
}

// NewConfig loads the configuration of the current environment (ENV: DEV, TEST, QA, PROD).
// Values are read from `<ENV>_<KEY>` environment variables, optionally seeded from config/.env.<env>.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("build", "develop")
	v.SetDefault("appName", "Shule")
	v.SetDefault("secretKey", "k1x9-sd$8)wq+3=ne&d0g4t(p!v)#*b7(#fz^a$cmu2yrh")
	v.SetDefault("frontendBaseURL", "http://localhost:8080")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("staticDir", "public")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.readTimeout", 5*time.Second)
	v.SetDefault("server.writeTimeout", 5*time.Second)
	v.SetDefault("server.shutdownTimeout", 5*time.Second)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "shule")
	v.SetDefault("database.user", "shule")
	v.SetDefault("database.password", "shule")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
		v.SetDefault("database.name", "shule_test")
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	wd := Getwd()

	// load .env if it exists (ignore if it does not)
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
		FrontendBaseURL:           v.GetString("frontendBaseURL"),
		StaticDir:                 v.GetString("staticDir"),
		WorkDir:                   wd,
		RollbarToken:              v.GetString("rollbarToken"),
		SendgridApiKey:            v.GetString("sendgridApiKey"),
		JWTExpirationDelta:        v.GetDuration("jwtExpirationDelta"),
		JWTRefreshExpirationDelta: v.GetDuration("jwtRefreshExpirationDelta"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		defaultFromEmail:          v.GetString("defaultFromEmail"),
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Addr:            v.GetString("server.addr"),
			DebugHost:       v.GetString("server.debugHost"),
			ReadTimeout:     v.GetDuration("server.readTimeout"),
			WriteTimeout:    v.GetDuration("server.writeTimeout"),
			ShutdownTimeout: v.GetDuration("server.shutdownTimeout"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetInt("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
			MaxOpenConns:  v.GetInt("database.maxOpenConns"),
			MaxIdleConns:  v.GetInt("database.maxIdleConns"),
		},
	}
}

// NewTestConfig returns the configuration used by tests, whatever ENV is set to.
func NewTestConfig() *Config {
	if err := os.Setenv("ENV", "TEST"); err != nil {
		log.Fatalf("config.os.Setenv(ENV): %v", err)
	}
	conf := NewConfig()
	conf.Debug = false
	conf.TestMode = true
	return conf
}
