package data

import (
	"context"
	"errors"

	"xinyuan_tech/marketplace-service/internal/biz"
	"xinyuan_tech/marketplace-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// catalogRepo 商品/店铺只读仓库实现
type catalogRepo struct {
	data *Data
	log  *log.Helper
}

// NewCatalogRepo 创建商品仓库
func NewCatalogRepo(data *Data, logger log.Logger) biz.CatalogRepo {
	return &catalogRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetProduct 获取商品,不存在时返回 nil
func (r *catalogRepo) GetProduct(ctx context.Context, productID string) (*biz.Product, error) {
	var m model.Product
	err := r.data.DB(ctx).First(&m, "product_id = ?", productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get product %s: %v", productID, err)
		return nil, err
	}
	return &biz.Product{
		ID:          m.ID,
		ShopID:      m.ShopID,
		Name:        m.Name,
		Price:       m.Price,
		Purchasable: m.Purchasable,
	}, nil
}

// GetShop 获取店铺,不存在时返回 nil
func (r *catalogRepo) GetShop(ctx context.Context, shopID string) (*biz.Shop, error) {
	var m model.Shop
	err := r.data.DB(ctx).First(&m, "shop_id = ?", shopID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get shop %s: %v", shopID, err)
		return nil, err
	}
	return &biz.Shop{
		ID:       m.ID,
		OwnerUID: m.OwnerUID,
		Name:     m.Name,
	}, nil
}

// GetTransportMethod 获取运输方式,不存在时返回 nil
func (r *catalogRepo) GetTransportMethod(ctx context.Context, transportMethodID string) (*biz.TransportMethod, error) {
	var m model.TransportMethod
	err := r.data.DB(ctx).First(&m, "transport_method_id = ?", transportMethodID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get transport method %s: %v", transportMethodID, err)
		return nil, err
	}
	return &biz.TransportMethod{
		ID:   m.ID,
		Name: m.Name,
		Fee:  m.Fee,
	}, nil
}
