package model

// 商品/店铺/运输方式由 catalog 模块维护,本服务只读

// Product 商品模型
type Product struct {
	ID          string `gorm:"primaryKey;column:product_id"`
	ShopID      string `gorm:"column:shop_id;index"`
	Name        string `gorm:"column:name"`
	Price       int64  `gorm:"column:price"`
	Purchasable bool   `gorm:"column:purchasable"`
}

func (Product) TableName() string { return "product" }

// Shop 店铺模型
type Shop struct {
	ID       string `gorm:"primaryKey;column:shop_id"`
	OwnerUID string `gorm:"column:owner_uid;index"`
	Name     string `gorm:"column:name"`
}

func (Shop) TableName() string { return "shop" }

// TransportMethod 运输方式模型
type TransportMethod struct {
	ID   string `gorm:"primaryKey;column:transport_method_id"`
	Name string `gorm:"column:name"`
	Fee  int64  `gorm:"column:fee"`
}

func (TransportMethod) TableName() string { return "transport_method" }
