package repository

import (
	"context"

	"settlement/internal/model"

	"gorm.io/gorm"
)

// ProductRepository 只读商品目录
type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) FindMany(ctx context.Context, productIDs []string) (map[string]*model.Product, error) {
	products := make(map[string]*model.Product, len(productIDs))
	if len(productIDs) == 0 {
		return products, nil
	}

	var rows []*model.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", productIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, p := range rows {
		products[p.ID] = p
	}
	return products, nil
}
