package database

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"melodyquest/migrations"
	"melodyquest/models"
)

// RunMigrations applies the embedded SQL migrations. Only postgres has SQL
// migrations; other drivers use AutoMigrate.
func RunMigrations(config models.Config, logger *zap.Logger) error {
	if config.DBDriver != "postgres" {
		return fmt.Errorf("sql migrations are only provided for postgres, use --auto-migrate for %s", config.DBDriver)
	}

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, postgresURL(config))
	if err != nil {
		return fmt.Errorf("migration setup failed: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("database migration failed: %w", err)
	}
	version, dirty, _ := m.Version()
	logger.Info("Database migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

func postgresURL(config models.Config) string {
	if config.DatabaseURL != "" {
		return config.DatabaseURL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(config.DBUser, config.DBPassword),
		Host:     config.DBHost + ":" + strconv.Itoa(config.DBPort),
		Path:     "/" + config.DBName,
		RawQuery: url.Values{"sslmode": {config.DBSSLMode}}.Encode(),
	}
	return u.String()
}
