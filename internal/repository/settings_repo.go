package repository

import (
	"context"
	"errors"

	"settlement/internal/model"

	"gorm.io/gorm"
)

type SettingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) GetLatest(ctx context.Context) (*model.SettlementSettings, error) {
	var settings model.SettlementSettings
	err := r.db.WithContext(ctx).Order("version DESC").First(&settings).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSettingsNotFound
		}
		return nil, err
	}
	return &settings, nil
}

// CreateNextVersion 以 max(version)+1 插入新版本，并发写入由 version 唯一键拦截
func (r *SettingsRepository) CreateNextVersion(ctx context.Context, settings *model.SettlementSettings) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current int64
		if err := tx.Model(&model.SettlementSettings{}).
			Select("COALESCE(MAX(version), 0)").
			Scan(&current).Error; err != nil {
			return err
		}
		settings.ID = 0
		settings.Version = current + 1
		if err := tx.Create(settings).Error; err != nil {
			if IsDuplicateKey(err) {
				return ErrConcurrentUpdate
			}
			return err
		}
		return nil
	})
}
