package database

import (
	"fmt"
	"log"
	"time"

	"github.com/technovacao/registration/app/models"
	"github.com/technovacao/registration/internal/pkg/env"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

var DB *gorm.DB

// GetDB returns the shared connection opened by SetupDatabase.
func GetDB() *gorm.DB {
	return DB
}

func SetupDatabase() {
	var err error
	// "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)

	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       dsn,
			DefaultStringSize:         256,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{TranslateError: true})
		if err == nil {
			if err = Migrate(DB); err != nil {
				log.Printf("AutoMigrate failed: %v", err)
			}
			return
		}

		log.Printf("Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Printf("Retry in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		panic(err)
	}
}

// Migrate creates missing tables and seeds the capacity counter rows.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return err
	}
	return SeedCounters(db)
}

func allModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.PasswordResetToken{},
		&models.Team{},
		&models.TeamMember{},
		&models.Category{},
		&models.Robot{},
		&models.PendingPayment{},
		&models.WebhookLog{},
		&models.CapacityCounter{},
	}
}

// SeedCounters inserts the capacity counter rows, initialised from the
// current paid and flagged rows. Existing counters are left untouched.
func SeedCounters(db *gorm.DB) error {
	var paidMembers, accommodation, users int64
	if err := db.Model(&models.TeamMember{}).Where("is_paid = ?", true).Count(&paidMembers).Error; err != nil {
		return err
	}
	if err := db.Model(&models.User{}).Where("accommodation = ?", true).Count(&accommodation).Error; err != nil {
		return err
	}
	if err := db.Model(&models.User{}).Count(&users).Error; err != nil {
		return err
	}

	counters := []models.CapacityCounter{
		{Name: models.CounterMembers, Used: paidMembers},
		{Name: models.CounterAccommodation, Used: accommodation},
		{Name: models.CounterRegistrations, Used: users},
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&counters).Error
}
