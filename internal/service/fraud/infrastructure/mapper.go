package infrastructure

import (
	"strings"

	"fraudguard/internal/service/fraud/domain"
)

// toDomainOrder 将数据库模型转换为领域模型
func toDomainOrder(m *OrderModel) domain.OrderRecord {
	return domain.OrderRecord{
		ID:        m.ID,
		Phone:     m.Phone,
		IP:        m.IP,
		Email:     m.Email,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Address1:  m.Address1,
		City:      m.City,
		Postcode:  m.Postcode,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
	}
}

// fromDomainOrder 转换为数据库模型。能解析的手机号存规范形式，状态去掉 "wc-" 前缀，
// 这样查询时的 IN / NOT IN 条件才能命中。
func fromDomainOrder(r domain.OrderRecord) *OrderModel {
	phone := strings.TrimSpace(r.Phone)
	if p := r.NormalizedPhone(); !p.IsZero() {
		phone = p.String()
	}
	return &OrderModel{
		ID:         r.ID,
		Phone:      phone,
		IP:         domain.CanonicalIP(r.IP),
		Email:      r.Email,
		FirstName:  r.FirstName,
		LastName:   r.LastName,
		Address1:   r.Address1,
		City:       r.City,
		Postcode:   r.Postcode,
		AddressKey: r.AddressKey(),
		Status:     normalizeStatus(r.Status),
		CreatedAt:  r.CreatedAt,
	}
}

func normalizeStatus(s string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "wc-")
}
