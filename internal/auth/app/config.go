package app

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Issuer string `env:"AUTH_ISSUER" envDefault:"Dottir"` // Issuer name shown in authenticator apps

	DatabaseFile string `env:"AUTH_DATABASE_FILE" envDefault:"auth.db"`
	PepperFile   string `env:"AUTH_PEPPER_FILE" envDefault:"pepper"`

	SessionInactivityWindow time.Duration `env:"SESSION_INACTIVITY_WINDOW" envDefault:"30m"`
	SessionAbsoluteTTL      time.Duration `env:"SESSION_ABSOLUTE_TTL" envDefault:"0"` // 0 disables the ceiling
	SessionWarnBefore       time.Duration `env:"SESSION_WARN_BEFORE" envDefault:"5m"`
	MFAChallengeTTL         time.Duration `env:"MFA_CHALLENGE_TTL" envDefault:"5m"`
	SSOStateTTL             time.Duration `env:"SSO_STATE_TTL" envDefault:"10m"`

	Env                  string        `env:"ENV" envDefault:"dev"`
	LogLevel             string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat            string        `env:"LOG_FORMAT" envDefault:"json"`
	Port                 int           `env:"PORT" envDefault:"8080"`
	ShutdownGracePeriod  time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`
	HousekeepingInterval time.Duration `env:"HOUSEKEEPING_INTERVAL" envDefault:"5m"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return cfg, nil
}
