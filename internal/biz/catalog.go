package biz

import (
	"context"
)

// Product 商品(只读视图,商品管理由 catalog 模块负责)
type Product struct {
	ID          string
	ShopID      string
	Name        string
	Price       int64 // 最小货币单位
	Purchasable bool
}

// Shop 店铺(只读视图)
type Shop struct {
	ID       string
	OwnerUID string
	Name     string
}

// TransportMethod 运输方式(只读视图,运费服务端计算)
type TransportMethod struct {
	ID   string
	Name string
	Fee  int64
}

// CatalogRepo 商品/店铺只读仓库接口
type CatalogRepo interface {
	GetProduct(ctx context.Context, productID string) (*Product, error)
	GetShop(ctx context.Context, shopID string) (*Shop, error)
	GetTransportMethod(ctx context.Context, transportMethodID string) (*TransportMethod, error)
}
