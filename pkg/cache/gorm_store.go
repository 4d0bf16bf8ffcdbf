package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/ryanburden/mercari-buddy/pkg/types"
)

type cacheRecord struct {
	Key         string `gorm:"column:norm_key;primaryKey;size:1024"`
	Embedding   []byte
	Category    string `gorm:"size:255;not null"`
	Subcategory string `gorm:"size:255;not null"`
	Method      string `gorm:"size:32;not null"`
	HitCount    int64  `gorm:"not null;default:0"`
	Seq         int64  `gorm:"index"`
	CreatedAt   time.Time
}

func (cacheRecord) TableName() string { return "categorization_cache" }

// GormStore persists entries in a SQL table through gorm
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// OpenGormStore opens a sqlite or postgres database and migrates the cache table.
// For sqlite the dsn is a file path.
func OpenGormStore(driver, dsn string) (*GormStore, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported cache driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s cache database: %w", driver, err)
	}
	return NewGormStore(db)
}

// NewGormStore wraps an open database and migrates the cache table
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&cacheRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate cache table: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Load(ctx context.Context) ([]Entry, error) {
	var records []cacheRecord
	if err := s.db.WithContext(ctx).Order("seq asc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load cache entries: %w", err)
	}

	entries := make([]Entry, 0, len(records))
	for _, r := range records {
		entries = append(entries, r.toEntry())
	}
	return entries, nil
}

func (s *GormStore) Get(ctx context.Context, key string) (Entry, error) {
	var r cacheRecord
	err := s.db.WithContext(ctx).Where("norm_key = ?", key).Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return r.toEntry(), nil
}

func (s *GormStore) PutIfAbsent(ctx context.Context, e Entry) (bool, error) {
	r := cacheRecord{
		Key:         e.Key,
		Embedding:   encodeEmbedding(e.Embedding),
		Category:    e.Category,
		Subcategory: e.Subcategory,
		Method:      string(e.Method),
		HitCount:    e.HitCount,
		Seq:         e.Seq,
		CreatedAt:   e.CreatedAt,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&r)
	if res.Error != nil {
		return false, fmt.Errorf("failed to insert cache entry: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) IncrementHits(ctx context.Context, key string) error {
	res := s.db.WithContext(ctx).Model(&cacheRecord{}).
		Where("norm_key = ?", key).
		UpdateColumn("hit_count", gorm.Expr("hit_count + ?", 1))
	if res.Error != nil {
		return fmt.Errorf("failed to increment hit count: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r cacheRecord) toEntry() Entry {
	return Entry{
		Key:         r.Key,
		Embedding:   decodeEmbedding(r.Embedding),
		Category:    r.Category,
		Subcategory: r.Subcategory,
		Method:      types.Method(r.Method),
		HitCount:    r.HitCount,
		Seq:         r.Seq,
		CreatedAt:   r.CreatedAt,
	}
}

// encodeEmbedding packs a vector as little-endian float32s
func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeEmbedding returns nil for a blob whose length is not a multiple of 4
func decodeEmbedding(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
