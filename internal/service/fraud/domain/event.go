// internal/service/fraud/domain/event.go
package domain

import "time"

// FraudAssessed 是每次结账评估完成后发布的事件，供通知、审计和管理后台消费。
type FraudAssessed struct {
	AssessmentID string        `json:"assessmentId"`
	OrderID      string        `json:"orderId,omitempty"`
	Phone        string        `json:"phone,omitempty"`
	IP           string        `json:"ip,omitempty"`
	Allowed      bool          `json:"allowed"`
	Trusted      bool          `json:"trusted"`
	Percentage   int           `json:"percentage"`
	Signals      []FraudSignal `json:"signals"`
	At           time.Time     `json:"at"`
}

// OrderEvent 是店铺订单事件流中的消息：订单创建或状态变化。
type OrderEvent struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	IP        string    `json:"ip"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Address1  string    `json:"address1"`
	City      string    `json:"city"`
	Postcode  string    `json:"postcode"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// ToRecord 把事件转换为订单快照。
func (e OrderEvent) ToRecord() OrderRecord {
	return OrderRecord{
		ID:        e.ID,
		Phone:     e.Phone,
		IP:        e.IP,
		Email:     e.Email,
		FirstName: e.FirstName,
		LastName:  e.LastName,
		Address1:  e.Address1,
		City:      e.City,
		Postcode:  e.Postcode,
		Status:    e.Status,
		CreatedAt: e.CreatedAt,
	}
}
