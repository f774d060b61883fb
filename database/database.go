package database

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"melodyquest/models"
)

const (
	maxRetries    = 3
	retryInterval = 5 * time.Second
)

// Open connects to the configured database, retrying a few times while the
// server comes up.
func Open(config models.Config, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch config.DBDriver {
	case "postgres":
		dialector = postgres.Open(PostgresDSN(config))
	case "mysql":
		dialector = mysql.Open(MySQLDSN(config))
	default:
		return nil, fmt.Errorf("unsupported database driver %q", config.DBDriver)
	}

	gormConfig := &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	}

	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		db, err := gorm.Open(dialector, gormConfig)
		if err == nil {
			if err := configurePool(db, config); err != nil {
				return nil, err
			}
			logger.Info("Connected to database", zap.String("driver", config.DBDriver))
			return db, nil
		}
		lastErr = err
		logger.Error("Database connection retry", zap.Int("retry", i), zap.Error(err))
		if i < maxRetries {
			time.Sleep(retryInterval)
		}
	}
	return nil, fmt.Errorf("connect to database: %w", lastErr)
}

func configurePool(db *gorm.DB, config models.Config) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if config.DBMaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.DBMaxOpenConns)
	}
	if config.DBMaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.DBMaxIdleConns)
	}
	if config.DBConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.DBConnMaxLifetime)
	}
	return nil
}

// PostgresDSN prefers DATABASE_URL and falls back to the DB_* settings.
func PostgresDSN(config models.Config) string {
	if config.DatabaseURL != "" {
		return config.DatabaseURL
	}
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s password=%s sslmode=%s",
		config.DBHost, config.DBPort, config.DBUser, config.DBName, config.DBPassword, config.DBSSLMode)
}

func MySQLDSN(config models.Config) string {
	if config.DatabaseURL != "" {
		return config.DatabaseURL
	}
	c := mysqldriver.NewConfig()
	c.User = config.DBUser
	c.Passwd = config.DBPassword
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(config.DBHost, strconv.Itoa(config.DBPort))
	c.DBName = config.DBName
	c.ParseTime = true
	return c.FormatDSN()
}

// AutoMigrate creates or updates every table used by the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Category{},
		&models.Track{},
		&models.TrackAnswer{},
		&models.Game{},
		&models.GameCategory{},
		&models.GamePlayer{},
		&models.Round{},
		&models.Guess{},
		&models.Score{},
	)
}

func InitRedis(config models.Config, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("Failed to connect to Redis", zap.Error(err))
		_ = rdb.Close()
		return nil, err
	}

	logger.Info("Connected to Redis", zap.String("addr", config.RedisAddr))
	return rdb, nil
}

// IsUniqueViolation reports whether err is a duplicate key error from any of
// the supported drivers.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	// sqlite
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
