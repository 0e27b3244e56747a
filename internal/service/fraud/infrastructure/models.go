package infrastructure

import "time"

// OrderModel 对应 fraud_orders 表，是店铺订单的只读快照。
// address_key 在写入时预先计算，查询时直接等值匹配。
type OrderModel struct {
	ID         string    `gorm:"primaryKey;size:64"`
	Phone      string    `gorm:"size:32;index:idx_phone_created,priority:1"`
	IP         string    `gorm:"size:45;index:idx_ip_created,priority:1"`
	Email      string    `gorm:"size:191"`
	FirstName  string    `gorm:"size:128"`
	LastName   string    `gorm:"size:128"`
	Address1   string    `gorm:"size:255"`
	City       string    `gorm:"size:128"`
	Postcode   string    `gorm:"size:32"`
	AddressKey string    `gorm:"size:255;index:idx_address_created,priority:1"`
	Status     string    `gorm:"size:32"`
	CreatedAt  time.Time `gorm:"index:idx_phone_created,priority:2;index:idx_ip_created,priority:2;index:idx_address_created,priority:2;index"`
	UpdatedAt  time.Time
}

// TableName 指定 GORM 应该使用的表名
func (OrderModel) TableName() string {
	return "fraud_orders"
}
