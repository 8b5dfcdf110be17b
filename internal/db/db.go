// Package db opens the relational store: MySQL for deployments, SQLite for
// local runs and tests.
package db

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/suPer8Hu/branchchat/internal/chat"
	"github.com/suPer8Hu/branchchat/internal/storage"
)

const sqlitePrefix = "sqlite:"

// Connect opens dsn. A "sqlite:" prefix selects SQLite on the given path
// (":memory:" included); anything else is a MySQL DSN.
func Connect(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	var (
		dialector gorm.Dialector
		driver    string
	)
	if path, ok := strings.CutPrefix(dsn, sqlitePrefix); ok {
		driver = "sqlite"
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, errors.Wrap(err, "create sqlite dir")
			}
			path += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		}
		dialector = sqlite.Open(path)
	} else {
		driver = "mysql"
		dialector = mysql.Open(dsn)
	}

	gdb, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", driver)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql db")
	}
	if driver == "sqlite" {
		// single writer; avoids SQLITE_BUSY and keeps :memory: on one connection
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	log.Info().Str("driver", driver).Msg("db_connected")
	return gdb, nil
}

// Migrate creates or updates every table.
func Migrate(gdb *gorm.DB) error {
	models := append(chat.Models(), &storage.Asset{})
	if err := gdb.AutoMigrate(models...); err != nil {
		return errors.Wrap(err, "automigrate")
	}
	return nil
}

// Ping checks connectivity for readiness probes.
func Ping(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
