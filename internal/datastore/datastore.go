// Package datastore provides the persistent beatmap metadata store
// backed by SQLite through GORM. All operations serialize behind one
// store-level lock so concurrent workers never interleave transactions.
package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/errors"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/logging"
)

// Lookup status values for a checksum row.
const (
	LookupPending  = "pending"
	LookupFound    = "found"
	LookupNotFound = "not_found"
)

// BeatmapRecord is one row of beatmap metadata keyed by content hash.
type BeatmapRecord struct {
	MD5Hash      string `gorm:"column:md5_hash;primaryKey"`
	FilePath     string `gorm:"column:file_path"`
	LastModified int64  `gorm:"column:last_modified"`
	BeatmapID    int64  `gorm:"column:beatmap_id;index"`
	BeatmapSetID int64  `gorm:"column:beatmapset_id"`
	LookupStatus string `gorm:"column:lookup_status"`
	APIStatus    string `gorm:"column:api_status"`
	Artist       string `gorm:"column:artist"`
	Title        string `gorm:"column:title"`
	Creator      string `gorm:"column:creator"`
	Version      string `gorm:"column:version"`
	HitObjects   int    `gorm:"column:hit_objects"`
}

// TableName keeps the historical table name.
func (BeatmapRecord) TableName() string {
	return "maps_cache"
}

// Interface is the store contract the pipeline depends on.
type Interface interface {
	GetByChecksum(checksum string) (*BeatmapRecord, error)
	GetByBeatmapID(beatmapID int64) (*BeatmapRecord, error)
	Upsert(record *BeatmapRecord) error
	UpdateStatus(beatmapID int64, apiStatus string) error
	PendingChecksums() ([]string, error)
	Close() error
}

// SQLiteStore implements Interface on a local SQLite database.
type SQLiteStore struct {
	db *gorm.DB
	mu sync.Mutex
}

// New opens (creating if needed) the SQLite store at path and runs
// migrations. Failure here is fatal to the scan.
func New(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.New(err).
				Category(errors.CategoryDatabase).
				Context("path", path).
				Build()
		}
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryDatabase).
			Context("path", path).
			Build()
	}

	if err := db.AutoMigrate(&BeatmapRecord{}); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryDatabase).
			Context("operation", "migrate").
			Build()
	}

	logging.Info("beatmap store ready", "path", path)
	return &SQLiteStore{db: db}, nil
}

// GetByChecksum returns the record for a content hash, or nil if none.
func (s *SQLiteStore) GetByChecksum(checksum string) (*BeatmapRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec BeatmapRecord
	err := s.db.Where("md5_hash = ?", checksum).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	return &rec, nil
}

// GetByBeatmapID returns the first record with the given remote id.
func (s *SQLiteStore) GetByBeatmapID(beatmapID int64) (*BeatmapRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec BeatmapRecord
	err := s.db.Where("beatmap_id = ?", beatmapID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	return &rec, nil
}

// Upsert writes a record, merging into an existing row for the same
// checksum. Zero-value fields never overwrite known values.
func (s *SQLiteStore) Upsert(record *BeatmapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing BeatmapRecord
	err := s.db.Where("md5_hash = ?", record.MD5Hash).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if record.LookupStatus == "" {
			record.LookupStatus = LookupPending
		}
		if err := s.db.Create(record).Error; err != nil {
			return errors.New(err).Category(errors.CategoryDatabase).Build()
		}
		return nil
	case err != nil:
		return errors.New(err).Category(errors.CategoryDatabase).Build()
	}

	merge(&existing, record)
	if err := s.db.Save(&existing).Error; err != nil {
		return errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	return nil
}

func merge(dst, src *BeatmapRecord) {
	if src.FilePath != "" {
		dst.FilePath = src.FilePath
	}
	if src.LastModified != 0 {
		dst.LastModified = src.LastModified
	}
	if src.BeatmapID != 0 {
		dst.BeatmapID = src.BeatmapID
	}
	if src.BeatmapSetID != 0 {
		dst.BeatmapSetID = src.BeatmapSetID
	}
	if src.LookupStatus != "" {
		dst.LookupStatus = src.LookupStatus
	}
	if src.APIStatus != "" {
		dst.APIStatus = src.APIStatus
	}
	if src.Artist != "" {
		dst.Artist = src.Artist
	}
	if src.Title != "" {
		dst.Title = src.Title
	}
	if src.Creator != "" {
		dst.Creator = src.Creator
	}
	if src.Version != "" {
		dst.Version = src.Version
	}
	if src.HitObjects != 0 {
		dst.HitObjects = src.HitObjects
	}
}

// UpdateStatus sets the remote ranked status for every row with the
// given beatmap id.
func (s *SQLiteStore) UpdateStatus(beatmapID int64, apiStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Model(&BeatmapRecord{}).
		Where("beatmap_id = ?", beatmapID).
		Update("api_status", apiStatus).Error
	if err != nil {
		return errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	return nil
}

// PendingChecksums returns the checksums whose remote lookup has not
// been decided yet.
func (s *SQLiteStore) PendingChecksums() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var checksums []string
	err := s.db.Model(&BeatmapRecord{}).
		Where("lookup_status = ?", LookupPending).
		Pluck("md5_hash", &checksums).Error
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	return checksums, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
