// internal/service/fraud/domain/order.go
package domain

import (
	"strings"
	"time"
)

// 订单状态，取值与店铺系统保持一致
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusOnHold     = "on-hold"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusFailed     = "failed"
	StatusTrash      = "trash"
)

// ExcludedStatuses 是匹配时忽略的终态：这些订单不代表真实的重复下单。
var ExcludedStatuses = []string{StatusCancelled, StatusFailed, StatusTrash}

// OrderRecord 是订单库中一条订单的快照。
type OrderRecord struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	IP        string    `json:"ip"`
	Email     string    `json:"email,omitempty"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Address1  string    `json:"address1"`
	City      string    `json:"city"`
	Postcode  string    `json:"postcode"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// NormalizedPhone 解析存储的号码；存储里的格式五花八门，失败时返回零值。
func (r OrderRecord) NormalizedPhone() PhoneNumber {
	p, _ := NormalizePhone(r.Phone)
	return p
}

func (r OrderRecord) AddressKey() string { return NormalizeAddress(r.Address1, r.City, r.Postcode) }

func (r OrderRecord) FullName() string { return NormalizeName(r.FirstName, r.LastName) }

// IsExcluded 判断订单是否处于被忽略的终态。
func (r OrderRecord) IsExcluded() bool {
	s := strings.TrimPrefix(strings.ToLower(r.Status), "wc-")
	for _, ex := range ExcludedStatuses {
		if s == ex {
			return true
		}
	}
	return false
}

// OrderFacts 是正在结账的这笔订单的信息。
type OrderFacts struct {
	OrderID    string
	CheckoutID string
	Phone      PhoneNumber
	IP         string
	DeviceID   string
	FirstName  string
	LastName   string
	Address1   string
	City       string
	Postcode   string
	At         time.Time
}

func (o OrderFacts) AddressKey() string { return NormalizeAddress(o.Address1, o.City, o.Postcode) }

func (o OrderFacts) FullName() string { return NormalizeName(o.FirstName, o.LastName) }

// RecentQuery 描述一次订单库回溯查询。Phones、IPs、AddressKeys 之间是 OR 关系，
// 全部为空时不按身份过滤。
type RecentQuery struct {
	Phones           []string
	IPs              []string
	AddressKeys      []string
	Since            time.Time
	ExcludeIDs       []string
	ExcludedStatuses []string
	Limit            int
}

// HasIdentity 表示查询带有身份过滤条件。
func (q RecentQuery) HasIdentity() bool {
	return len(q.Phones) > 0 || len(q.IPs) > 0 || len(q.AddressKeys) > 0
}
