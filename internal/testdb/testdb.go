// Package testdb opens throwaway SQLite databases with the service schema
// and seeds catalog rows for tests.
package testdb

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"melodyquest/database"
	"melodyquest/models"
	"melodyquest/quiz/textnorm"
)

// Open returns a migrated database that is removed when the test ends. It
// holds a single connection, so a transaction must not query through the
// root handle.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "quiz.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

func User(t testing.TB, db *gorm.DB, username string) models.User {
	t.Helper()
	user := models.User{Username: username}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func Category(t testing.TB, db *gorm.DB, name string) models.Category {
	t.Helper()
	category := models.Category{Name: name}
	require.NoError(t, db.Create(&category).Error)
	return category
}

// Track creates a track in the category with the given accepted answers.
func Track(t testing.TB, db *gorm.DB, categoryID uint, title string, answers ...string) models.Track {
	t.Helper()
	track := models.Track{
		CategoryID:     categoryID,
		Title:          title,
		YoutubeVideoID: "yt-" + textnorm.Normalize(title),
		CoverImageURL:  "https://img.example/" + textnorm.Normalize(title) + ".jpg",
	}
	require.NoError(t, db.Create(&track).Error)
	for _, text := range answers {
		answer := models.TrackAnswer{TrackID: track.ID, AnswerText: text, Normalized: textnorm.Normalize(text)}
		require.NoError(t, db.Create(&answer).Error)
	}
	return track
}
