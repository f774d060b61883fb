package models

import (
	"fmt"
	"time"

	"melodyquest/quiz/errs"
)

// Config holds the settings for the server, the database and the game rules.
// Keys map to environment variables by upper-casing (db_host -> DB_HOST).
type Config struct {
	AppEnv         string   `mapstructure:"app_env"`
	HTTPAddr       string   `mapstructure:"http_addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	LogLevel       string `mapstructure:"log_level"`
	LogDevelopment bool   `mapstructure:"log_development"`

	DBDriver          string        `mapstructure:"db_driver"`
	DatabaseURL       string        `mapstructure:"database_url"`
	DBHost            string        `mapstructure:"db_host"`
	DBPort            int           `mapstructure:"db_port"`
	DBUser            string        `mapstructure:"db_user"`
	DBPassword        string        `mapstructure:"db_password"`
	DBName            string        `mapstructure:"db_name"`
	DBSSLMode         string        `mapstructure:"db_sslmode"`
	DBMaxOpenConns    int           `mapstructure:"db_max_open_conns"`
	DBMaxIdleConns    int           `mapstructure:"db_max_idle_conns"`
	DBConnMaxLifetime time.Duration `mapstructure:"db_conn_max_lifetime"`
	AutoMigrate       bool          `mapstructure:"auto_migrate"`

	BusDriver     string `mapstructure:"bus_driver"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	PointsCorrectGuess int `mapstructure:"points_correct_guess"`
	BonusFirstBlood    int `mapstructure:"bonus_first_blood"`
	StreakN            int `mapstructure:"streak_n"`
	StreakBonus        int `mapstructure:"streak_bonus"`

	RealtimeHMACSecret string        `mapstructure:"realtime_hmac_secret"`
	JWTSecret          string        `mapstructure:"jwt_secret"`
	JWTTTL             time.Duration `mapstructure:"jwt_ttl"`
	// AdminToken enables POST /internal/broadcast when set.
	AdminToken         string        `mapstructure:"admin_token"`

	PresenceGrace   time.Duration `mapstructure:"presence_grace"`
	PresenceSession time.Duration `mapstructure:"presence_session_ttl"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	PongWait        time.Duration `mapstructure:"pong_wait"`

	JanitorSpec    string        `mapstructure:"janitor_spec"`
	StaleGameAfter time.Duration `mapstructure:"stale_game_after"`
}

// Rules returns the scoring rules with negative values clamped to zero.
func (c Config) Rules() ScoringRules {
	return ScoringRules{
		BasePoints:      c.PointsCorrectGuess,
		FirstBloodBonus: max(0, c.BonusFirstBlood),
		StreakLength:    max(0, c.StreakN),
		StreakBonus:     max(0, c.StreakBonus),
	}
}

// IsDevelopment reports whether APP_ENV is "development".
func (c Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// Validate reports missing secrets and out-of-range values as CONFIG_ERROR.
func (c Config) Validate() error {
	if c.RealtimeHMACSecret == "" {
		return errs.New(errs.KindConfig, "REALTIME_HMAC_SECRET is not set")
	}
	if c.JWTSecret == "" {
		return errs.New(errs.KindConfig, "JWT_SECRET is not set")
	}
	switch c.DBDriver {
	case "postgres", "mysql":
	default:
		return errs.Newf(errs.KindConfig, "unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.BusDriver {
	case "redis", "memory":
	default:
		return errs.Newf(errs.KindConfig, "unsupported BUS_DRIVER %q", c.BusDriver)
	}
	if c.PointsCorrectGuess < 0 {
		return errs.New(errs.KindConfig, "POINTS_CORRECT_GUESS must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"PRESENCE_GRACE": c.PresenceGrace,
		"PING_PERIOD":    c.PingPeriod,
		"PONG_WAIT":      c.PongWait,
		"JWT_TTL":        c.JWTTTL,
	} {
		if d <= 0 {
			return errs.New(errs.KindConfig, fmt.Sprintf("%s must be positive", name))
		}
	}
	if c.PingPeriod >= c.PongWait {
		return errs.New(errs.KindConfig, "PING_PERIOD must be shorter than PONG_WAIT")
	}
	return nil
}
