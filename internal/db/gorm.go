package db

import (
	"fmt"
	"log"

	"docqa/internal/config"
	"docqa/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB wraps the GORM database instance
type GormDB struct {
	*gorm.DB
}

type Options struct {
	LogSQL bool
	// Vectors migrates the chunk_vectors table (and on Postgres enables the
	// pgvector extension) for VECTOR_INDEX=pgvector.
	Vectors      bool
	MaxOpenConns int
}

// NewGorm initializes the database selected by DB_DRIVER
// Learning: GORM provides a higher-level abstraction over raw SQL, the same
// repositories run on Postgres in production and SQLite on a laptop
func NewGorm(cfg *config.Config) (*GormDB, error) {
	opts := Options{LogSQL: cfg.DBLogSQL, Vectors: cfg.VectorIndex == "pgvector"}

	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres":
		dialector = postgres.Open(cfg.DatabaseURL())
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
		// One writer at a time; SQLite would answer SQLITE_BUSY otherwise
		opts.MaxOpenConns = 1
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	return Open(dialector, opts)
}

// Open connects with an explicit dialector and migrates the schema.
// Tests use it with an in-memory SQLite database.
func Open(dialector gorm.Dialector, opts Options) (*GormDB, error) {
	level := logger.Warn
	if opts.LogSQL {
		level = logger.Info // Shows SQL queries for learning
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get connection pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}

	if err := Migrate(db, opts.Vectors); err != nil {
		return nil, err
	}

	log.Printf("✓ Database connected and migrated successfully (%s)", db.Dialector.Name())

	return &GormDB{db}, nil
}

// Migrate creates or updates the tables
// Learning: GORM automatically creates/updates tables based on struct definitions
func Migrate(db *gorm.DB, vectors bool) error {
	if err := db.AutoMigrate(
		&models.Document{},
		&models.Chunk{},
		&models.ChatTurn{},
	); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if !vectors {
		return nil
	}

	if db.Dialector.Name() == "postgres" {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("failed to enable pgvector extension: %w", err)
		}
	}

	// No ANN index: the column has no fixed dimension and every query is
	// already narrowed to one document by idx_chunk_vectors_document_id
	if err := db.AutoMigrate(&models.ChunkVector{}); err != nil {
		return fmt.Errorf("failed to migrate chunk vectors: %w", err)
	}
	return nil
}

// Close closes the database connection
func (db *GormDB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
