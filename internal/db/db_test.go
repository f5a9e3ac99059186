package db

import (
	"testing"

	"gorm.io/gorm/logger"

	"medfinder/internal/config"
	console "medfinder/internal/utils/logger"
)

func TestDSN(t *testing.T) {
	got := DSN(config.DatabaseConfig{Host: "db", Port: 5433, User: "app", Password: "pw", Name: "medfinder"})
	want := "host=db user=app password=pw dbname=medfinder port=5433 sslmode=disable"
	if got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
}

func TestGormLogLevel(t *testing.T) {
	tests := map[console.Level]logger.LogLevel{
		console.LevelDebug: logger.Info,
		console.LevelInfo:  logger.Warn,
		console.LevelWarn:  logger.Warn,
		console.LevelError: logger.Error,
	}
	for in, want := range tests {
		if got := gormLogLevel(in); got != want {
			t.Errorf("gormLogLevel(%d) = %d, want %d", in, got, want)
		}
	}
}
