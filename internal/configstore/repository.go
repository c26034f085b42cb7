package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model/entities"
)

// ErrNoRevision is returned by Latest when nothing was ever saved.
var ErrNoRevision = errors.New("no saved configuration")

// Repository persists saved configurations across restarts.
type Repository interface {
	Save(ctx context.Context, cfg entities.Configuration) error
	// Latest returns the raw JSON of the newest saved configuration.
	Latest(ctx context.Context) ([]byte, error)
	Close() error
}

// Revision is one saved configuration.
type Revision struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"index"`
	Payload   string    `gorm:"type:text;not null"`
}

// SQLiteRepository stores revisions in a SQLite database through gorm.
type SQLiteRepository struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) the database at path and migrates it.
// Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open config database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open config database: %w", err)
	}
	// sqlite allows one writer; a single connection also keeps ":memory:" shared
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Revision{}); err != nil {
		return nil, fmt.Errorf("migrate config database: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

// Save appends cfg as a new revision.
func (r *SQLiteRepository) Save(ctx context.Context, cfg entities.Configuration) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config revision: %w", err)
	}
	if err := r.db.WithContext(ctx).Create(&Revision{Payload: string(b)}).Error; err != nil {
		return fmt.Errorf("save config revision: %w", err)
	}
	return nil
}

// Latest returns the newest revision payload or ErrNoRevision.
func (r *SQLiteRepository) Latest(ctx context.Context) ([]byte, error) {
	var rev Revision
	err := r.db.WithContext(ctx).Order("id desc").Limit(1).Take(&rev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoRevision
	}
	if err != nil {
		return nil, fmt.Errorf("load config revision: %w", err)
	}
	return []byte(rev.Payload), nil
}

// Count returns the number of stored revisions.
func (r *SQLiteRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Revision{}).Count(&n).Error
	return n, err
}

// Close releases the underlying connection.
func (r *SQLiteRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ModelSource supplies fallback model versions for restored configurations.
type ModelSource interface {
	Models(kind entities.ModelKind) []entities.DetectionModel
}

// Restore applies the newest saved configuration and makes it the baseline.
// Empty model versions are filled with the first published version of their kind.
// It reports false when nothing was saved.
func Restore(ctx context.Context, repo Repository, models ModelSource, s *Store) (bool, error) {
	raw, err := repo.Latest(ctx)
	if errors.Is(err, ErrNoRevision) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var cfg entities.Configuration
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return false, fmt.Errorf("decode config revision: %w", err)
	}

	c := CandidateFrom(cfg)
	for _, k := range entities.ModelKinds {
		if cfg.ModelVersion(k) != "" || models == nil {
			continue
		}
		if list := models.Models(k); len(list) > 0 {
			v := list[0].Version
			switch k {
			case entities.ObjectDetection:
				c.ObjectDetection = &v
			case entities.StageClassification:
				c.StageClassification = &v
			case entities.DiseaseSegmentation:
				c.DiseaseSegmentation = &v
			}
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.apply(c)
	s.setBaseline(s.current())
	return true, nil
}
