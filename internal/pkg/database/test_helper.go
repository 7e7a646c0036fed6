package database

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/technovacao/registration/internal/pkg/env"
)

// OpenTestDB connects to the MySQL database named by TEST_DB_DSN (or the
// DB_* variables with TEST_DB_NAME), migrates it and empties every table.
// The test is skipped when no database is reachable.
func OpenTestDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := env.GetEnv("TEST_DB_DSN", "")
	if dsn == "" {
		name := env.GetEnv("TEST_DB_NAME", "")
		if name == "" {
			t.Skip("Skipping MySQL-dependent test: TEST_DB_DSN or TEST_DB_NAME not set")
		}
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			env.GetEnv("DB_USER", "root"),
			env.GetEnv("DB_PASSWORD", ""),
			env.GetEnv("DB_HOST", "127.0.0.1"),
			env.GetEnv("DB_PORT", "3306"),
			name,
		)
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true})
	if err != nil {
		t.Skipf("Skipping MySQL-dependent test: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Skipf("Skipping MySQL-dependent test: %v", err)
	}
	sqlDB.SetConnMaxLifetime(time.Minute)
	if err := sqlDB.Ping(); err != nil {
		t.Skipf("Skipping MySQL-dependent test: %v", err)
	}

	if err := db.AutoMigrate(allModels()...); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	for _, table := range []string{
		"webhook_logs", "pending_payments", "robots", "categories", "team_members",
		"teams", "password_reset_tokens", "users", "capacity_counters",
	} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("reset table %s: %v", table, err)
		}
	}
	if err := SeedCounters(db); err != nil {
		t.Fatalf("seed counters: %v", err)
	}

	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}
