package db

import (
	"fmt"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"medfinder/internal/config"
	"medfinder/internal/models"
	console "medfinder/internal/utils/logger"
)

var DB *gorm.DB
var log = console.New("DB")

const (
	connectAttempts = 5
	connectBackoff  = 5 * time.Second
)

// DSN builds the Postgres connection string for cfg.
func DSN(cfg config.DatabaseConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		cfg.Host, cfg.User, cfg.Password, cfg.Name, cfg.Port, sslMode)
}

// gormLogLevel keeps SQL tracing behind LOG_LEVEL=debug.
func gormLogLevel(l console.Level) logger.LogLevel {
	switch l {
	case console.LevelDebug:
		return logger.Info
	case console.LevelError:
		return logger.Error
	default:
		return logger.Warn
	}
}

func Connect(cfg *config.Config) error {
	dsn := DSN(cfg.Database)
	gormConfig := &gorm.Config{
		Logger:                                   logger.Default.LogMode(gormLogLevel(console.ParseLevel(os.Getenv("LOG_LEVEL")))),
		DisableForeignKeyConstraintWhenMigrating: true,
		PrepareStmt:                              true,
		AllowGlobalUpdate:                        false,
		TranslateError:                           true,
	}

	log.Info("Connecting to database %s:%d/%s...", cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)

	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		DB, err = gorm.Open(postgres.Open(dsn), gormConfig)
		if err == nil {
			break
		}
		log.Warn("Failed to connect to database (attempt %d/%d): %v", attempt, connectAttempts, err)
		if attempt < connectAttempts {
			time.Sleep(connectBackoff)
		}
	}
	if err != nil {
		return log.Error("Failed to connect to database after %d attempts", err, connectAttempts)
	}
	log.Success("Connected to database")

	sqlDB, err := DB.DB()
	if err != nil {
		return log.Error("Failed to get underlying *sql.DB instance", err)
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := runMigrations(); err != nil {
		return log.Error("Failed to run migrations", err)
	}
	log.Success("Migrations completed")
	return nil
}

// runMigrations creates the schema in one transaction so a failed migration
// leaves no partial tables behind.
func runMigrations() error {
	log.Info("Running migrations...")
	return DB.Transaction(func(tx *gorm.DB) error {
		return tx.AutoMigrate(
			// Base models without foreign keys
			&models.User{},
			&models.Pharmacy{},
			&models.File{},

			// Models with single foreign key dependencies
			&models.UserProfile{},
			&models.Session{},
			&models.Medicine{},

			// Assistant quota and history
			&models.AIUsage{},
			&models.AIResponse{},
		)
	})
}

func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func GetDB() *gorm.DB {
	return DB
}
