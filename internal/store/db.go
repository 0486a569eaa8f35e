// Package store 提供基于 GORM 的用户与任务持久化。
//
// 所有任务查询都在 SQL 层带上 owner_id 条件，调用方无法读写其他用户的任务。
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tasktracker/internal/config"
	"tasktracker/internal/model"

	"github.com/glebarez/sqlite"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var (
	// ErrNotFound 记录不存在。
	ErrNotFound = errors.New("store: record not found")
	// ErrDuplicate 违反唯一约束。
	ErrDuplicate = errors.New("store: duplicate key")
)

// DB 持有数据库连接池，由调用方显式创建并负责关闭。
type DB struct {
	gorm *gorm.DB
}

// Open 按配置建立连接池并执行自动迁移。
//
// 支持的驱动: mysql（默认）、postgres、sqlite。
func Open(cfg config.DatabaseConfig) (*DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if normalizeDriver(cfg.Driver) == "sqlite" {
		// SQLite 只允许单写者
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&model.User{}, &model.Task{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &DB{gorm: db}, nil
}

func normalizeDriver(driver string) string {
	d := strings.ToLower(strings.TrimSpace(driver))
	switch d {
	case "", "mariadb":
		return "mysql"
	case "postgresql", "pg":
		return "postgres"
	case "sqlite3":
		return "sqlite"
	}
	return d
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch normalizeDriver(cfg.Driver) {
	case "mysql":
		dsn, err := withFoundRows(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return mysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "sqlite":
		return sqlite.Open(cfg.DSN), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// withFoundRows 让 MySQL 的 RowsAffected 返回匹配行数而非变更行数，
// 以便用相同的名称/优先级更新任务时仍返回 true。
func withFoundRows(dsn string) (string, error) {
	parsed, err := mysqlDriver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	parsed.ClientFoundRows = true
	parsed.ParseTime = true
	return parsed.FormatDSN(), nil
}

// Gorm 返回底层 *gorm.DB。
func (d *DB) Gorm() *gorm.DB {
	return d.gorm
}

// Users 返回用户存储。
func (d *DB) Users() *UserStore {
	return NewUserStore(d.gorm)
}

// Tasks 返回任务存储。
func (d *DB) Tasks() *TaskStore {
	return NewTaskStore(d.gorm)
}

// Ping 检查数据库连通性。
func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭连接池。
func (d *DB) Close() error {
	if d == nil || d.gorm == nil {
		return nil
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translate(op string, err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}
