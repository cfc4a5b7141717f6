package snapshot

import (
	"context"
	"strings"

	"metals-trader/internal/models"

	"gorm.io/gorm"
)

// Store persists price snapshots.
type Store interface {
	Save(ctx context.Context, snapshots []models.PriceSnapshot) error
	Recent(ctx context.Context, symbol string, limit int) ([]models.PriceSnapshot, error)
}

// GormStore 基于 gorm 的快照存储
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (g *GormStore) Save(ctx context.Context, snapshots []models.PriceSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).CreateInBatches(&snapshots, 100).Error
}

// Recent returns the newest snapshots of symbol, newest first.
func (g *GormStore) Recent(ctx context.Context, symbol string, limit int) ([]models.PriceSnapshot, error) {
	out := []models.PriceSnapshot{}
	err := g.db.WithContext(ctx).
		Where("symbol = ?", strings.ToUpper(symbol)).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
