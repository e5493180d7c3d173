// Package store owns the engine's durable state: the cooldown map, the
// persisted fallback location and the validation submission log. Backed by
// Postgres when reachable, otherwise a local SQLite file, so suppression
// state survives process restarts either way.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/accesspath/tracking/internal/config"
	"github.com/accesspath/tracking/internal/model"
)

// Manager handles database connections and schema migration.
type Manager struct {
	DB          *gorm.DB
	SqlDB       *sql.DB
	IsValid     bool
	UsingSQLite bool
	Logger      zerolog.Logger
	cfg         config.DBConfig
}

// NewManager creates a new database manager.
func NewManager(cfg config.DBConfig, log zerolog.Logger) *Manager {
	return &Manager{
		Logger: log,
		cfg:    cfg,
	}
}

// Connect establishes a database connection, falling back to SQLite if
// Postgres fails, and migrates the schema.
func (m *Manager) Connect() error {
	var err error

	m.DB, err = m.getPostgresDB()
	if err == nil {
		m.SqlDB, err = m.DB.DB()
		if err == nil {
			err = m.SqlDB.Ping()
		}
	}
	if err != nil {
		m.Logger.Warn().Err(err).Msg("Failed to connect to Postgres, using local SQLite")
		m.UsingSQLite = true
		m.DB, err = m.getSqliteDB(m.cfg.SQLitePath)
		if err != nil || m.DB == nil {
			m.IsValid = false
			return fmt.Errorf("failed to open local SQLite DB: %w", err)
		}
		m.SqlDB, err = m.DB.DB()
		if err != nil {
			m.IsValid = false
			return fmt.Errorf("failed to access sql interface: %w", err)
		}
	}

	if !m.UsingSQLite {
		m.SqlDB.SetMaxOpenConns(10)
	}

	if err := m.DB.AutoMigrate(model.DatabaseModels...); err != nil {
		m.IsValid = false
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	m.IsValid = true
	m.Logger.Info().Bool("sqlite", m.UsingSQLite).Msg("Connected to database")
	return nil
}

// Close closes the underlying connection.
func (m *Manager) Close() error {
	if m.SqlDB != nil {
		return m.SqlDB.Close()
	}
	return nil
}

func (m *Manager) getPostgresDB() (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		m.cfg.Host, m.cfg.Port, m.cfg.Username, m.cfg.Password, m.cfg.Database,
	)
	return gorm.Open(postgres.Open(dsn), gormConfig())
}

func (m *Manager) getSqliteDB(path string) (*gorm.DB, error) {
	if path == "" {
		path = "file::memory:?cache=shared"
	}
	return gorm.Open(sqlite.Open(path), gormConfig())
}

// OpenMemoryDB opens a standalone in-memory SQLite database with the engine
// schema migrated. Used by tests and the memory-only mode.
func OpenMemoryDB() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory SQLite DB: %w", err)
	}
	if err := db.AutoMigrate(model.DatabaseModels...); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return db, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}
