package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fraudguard/internal/service/fraud/domain"
)

// GormOrderStore 是订单库的 GORM 实现，同时实现 OrderRecordStore、CustomerHistory 和 OrderWriter。
type GormOrderStore struct {
	db *gorm.DB
}

// NewGormOrderStore 创建一个新的 GORM 仓储实例
func NewGormOrderStore(db *gorm.DB) *GormOrderStore {
	return &GormOrderStore{db: db}
}

// AutoMigrate 建表，启动时调用。
func (s *GormOrderStore) AutoMigrate() error {
	return errors.Wrap(s.db.AutoMigrate(&OrderModel{}), "migrate fraud_orders")
}

// recent 构造回溯查询的公共条件。身份条件用括号分组，彼此之间是 OR。
func (s *GormOrderStore) recent(ctx context.Context, q domain.RecentQuery) *gorm.DB {
	tx := s.db.WithContext(ctx).Model(&OrderModel{}).Where("created_at >= ?", q.Since)
	if len(q.ExcludedStatuses) > 0 {
		tx = tx.Where("status NOT IN ?", q.ExcludedStatuses)
	}
	if len(q.ExcludeIDs) > 0 {
		tx = tx.Where("id NOT IN ?", q.ExcludeIDs)
	}

	var group *gorm.DB
	or := func(query string, values []string) {
		if len(values) == 0 {
			return
		}
		if group == nil {
			group = s.db.Session(&gorm.Session{NewDB: true}).Where(query, values)
			return
		}
		group = group.Or(query, values)
	}
	or("phone IN ?", q.Phones)
	or("ip IN ?", q.IPs)
	or("address_key IN ?", q.AddressKeys)
	if group != nil {
		tx = tx.Where(group)
	}
	return tx
}

func (s *GormOrderStore) CountRecent(ctx context.Context, q domain.RecentQuery) (int64, error) {
	var n int64
	if err := s.recent(ctx, q).Count(&n).Error; err != nil {
		return 0, errors.Wrap(err, "count recent orders")
	}
	return n, nil
}

func (s *GormOrderStore) FindRecent(ctx context.Context, q domain.RecentQuery) ([]domain.OrderRecord, error) {
	tx := s.recent(ctx, q).Order("created_at DESC")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var models []OrderModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "find recent orders")
	}
	records := make([]domain.OrderRecord, len(models))
	for i := range models {
		records[i] = toDomainOrder(&models[i])
	}
	return records, nil
}

// CountCompleted 统计该手机号已完成的订单数，用于识别老客户。
func (s *GormOrderStore) CountCompleted(ctx context.Context, phoneVariants []string) (int64, error) {
	if len(phoneVariants) == 0 {
		return 0, nil
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&OrderModel{}).
		Where("phone IN ? AND status = ?", phoneVariants, domain.StatusCompleted).
		Count(&n).Error
	if err != nil {
		return 0, errors.Wrap(err, "count completed orders")
	}
	return n, nil
}

// Upsert 按订单 ID 写入快照；订单已存在时只更新可变字段，保留首次写入的创建时间。
func (s *GormOrderStore) Upsert(ctx context.Context, r domain.OrderRecord) error {
	m := fromDomainOrder(r)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"phone", "ip", "email", "first_name", "last_name",
			"address1", "city", "postcode", "address_key", "status", "updated_at",
		}),
	}).Create(m).Error
	return errors.Wrapf(err, "upsert order %s", r.ID)
}
