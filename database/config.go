package database

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"melodyquest/models"
)

var configDefaults = map[string]any{
	"app_env":              "production",
	"http_addr":            ":8080",
	"allowed_origins":      []string{},
	"log_level":            "info",
	"log_development":      false,
	"db_driver":            "postgres",
	"database_url":         "",
	"db_host":              "localhost",
	"db_port":              5432,
	"db_user":              "melodyquest",
	"db_password":          "",
	"db_name":              "melodyquest",
	"db_sslmode":           "disable",
	"db_max_open_conns":    20,
	"db_max_idle_conns":    10,
	"db_conn_max_lifetime": 5 * time.Minute,
	"auto_migrate":         false,
	"bus_driver":           "redis",
	"redis_addr":           "localhost:6379",
	"redis_password":       "",
	"redis_db":             0,
	"points_correct_guess": 1,
	"bonus_first_blood":    1,
	"streak_n":             3,
	"streak_bonus":         1,
	"realtime_hmac_secret": "",
	"jwt_secret":           "",
	"jwt_ttl":              72 * time.Hour,
	"admin_token":          "",
	"presence_grace":       2 * time.Second,
	"presence_session_ttl": 24 * time.Hour,
	"ping_period":          10 * time.Second,
	"pong_wait":            60 * time.Second,
	"janitor_spec":         "@every 10m",
	"stale_game_after":     6 * time.Hour,
}

// LoadConfig reads .env, then the optional JSON config file, then the
// environment. Flags that were set on the command line win over all of them.
func LoadConfig(filename string, flags *pflag.FlagSet) (models.Config, error) {
	var config models.Config

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for key, value := range configDefaults {
		v.SetDefault(key, value)
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return config, err
		}
	}

	if filename != "" {
		if _, err := os.Stat(filename); err == nil {
			v.SetConfigFile(filename)
			if err := v.ReadInConfig(); err != nil {
				return config, fmt.Errorf("read %s: %w", filename, err)
			}
		}
	}

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if _, known := configDefaults[key]; known && bindErr == nil {
				bindErr = v.BindPFlag(key, f)
			}
		})
		if bindErr != nil {
			return config, bindErr
		}
	}

	if err := v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("decode config: %w", err)
	}
	return config, nil
}
