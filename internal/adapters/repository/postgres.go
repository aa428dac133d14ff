package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// templateRow is the issuer_templates table.
type templateRow struct {
	IssuerKey string `gorm:"column:issuer_key;primaryKey"`
	Blob      string `gorm:"column:blob;type:text;not null"`
	Version   int64  `gorm:"column:version;not null;default:1"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (templateRow) TableName() string { return "issuer_templates" }

// PostgresBackend stores templates in PostgreSQL through gorm.
type PostgresBackend struct {
	db *gorm.DB
}

// NewPostgresBackend wraps an open gorm handle. The table must exist, see Migrate.
func NewPostgresBackend(db *gorm.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// OpenPostgres connects to dsn and migrates the template table.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresBackend, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	b := NewPostgresBackend(db)
	if err := b.Migrate(ctx); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

// Migrate creates or updates the issuer_templates table.
func (b *PostgresBackend) Migrate(ctx context.Context) error {
	if err := b.db.WithContext(ctx).AutoMigrate(&templateRow{}); err != nil {
		return fmt.Errorf("migrate issuer_templates: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (b *PostgresBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Get implements Backend.
func (b *PostgresBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	blob, _, found, err := b.GetVersion(ctx, key)
	return blob, found, err
}

// GetVersion implements VersionedBackend.
func (b *PostgresBackend) GetVersion(ctx context.Context, key string) ([]byte, int64, bool, error) {
	var row templateRow
	err := b.db.WithContext(ctx).Where("issuer_key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	return []byte(row.Blob), row.Version, true, nil
}

// Set implements Backend as an upsert that bumps the version.
func (b *PostgresBackend) Set(ctx context.Context, key string, blob []byte) error {
	return upsertQuery(b.db.WithContext(ctx), key, blob).Error
}

// SetIfVersion implements VersionedBackend.
func (b *PostgresBackend) SetIfVersion(ctx context.Context, key string, blob []byte, version int64) error {
	var res *gorm.DB
	if version == 0 {
		res = insertQuery(b.db.WithContext(ctx), key, blob)
	} else {
		res = updateQuery(b.db.WithContext(ctx), key, blob, version)
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func upsertQuery(tx *gorm.DB, key string, blob []byte) *gorm.DB {
	row := templateRow{IssuerKey: key, Blob: string(blob), Version: 1}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "issuer_key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"blob":       row.Blob,
			"version":    gorm.Expr("issuer_templates.version + 1"),
			"updated_at": gorm.Expr("NOW()"),
		}),
	}).Create(&row)
}

func insertQuery(tx *gorm.DB, key string, blob []byte) *gorm.DB {
	row := templateRow{IssuerKey: key, Blob: string(blob), Version: 1}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
}

func updateQuery(tx *gorm.DB, key string, blob []byte, version int64) *gorm.DB {
	return tx.Model(&templateRow{}).
		Where("issuer_key = ? AND version = ?", key, version).
		Updates(map[string]any{"blob": string(blob), "version": version + 1})
}
