// internal/service/fraud/application/dto.go
package application

import (
	"strings"
	"time"

	"fraudguard/internal/service/fraud/domain"
)

// CheckoutRequest 是店铺在结账时提交的数据。
// 下单前还没有订单号时，CheckoutID 用购物车或会话 ID 标识同一次结账，
// 客户重试时不会被自己上一次的尝试拦下。
type CheckoutRequest struct {
	OrderID    string `json:"orderId"`
	CheckoutID string `json:"checkoutId"`
	Phone      string `json:"phone"`
	IP         string `json:"ip"`
	DeviceID   string `json:"deviceId"`
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Address1   string `json:"address1"`
	City       string `json:"city"`
	Postcode   string `json:"postcode"`
}

// CheckoutDecision 是结账评估的输出。
type CheckoutDecision struct {
	AssessmentID string               `json:"assessmentId"`
	Allowed      bool                 `json:"allowed"`
	Trusted      bool                 `json:"trusted"`
	Percentage   int                  `json:"percentage"`
	Signals      []domain.FraudSignal `json:"signals"`
	Phone        string               `json:"phone,omitempty"`
	PhoneValid   bool                 `json:"phoneValid"`
	Message      string               `json:"message"`
}

// BlockRequest 是管理员新增黑名单的请求。
type BlockRequest struct {
	Type   domain.BlockType `json:"type"`
	Value  string           `json:"value"`
	Reason string           `json:"reason"`
}

// PhoneResponse 是号码规范化诊断接口的输出。
type PhoneResponse struct {
	Canonical string   `json:"canonical"`
	Variants  []string `json:"variants"`
}

// toFacts 把请求转换为领域对象；号码无效时返回 ErrInvalidPhone，但其余字段照常填充。
func (req *CheckoutRequest) toFacts(now time.Time) (domain.OrderFacts, error) {
	facts := domain.OrderFacts{
		OrderID:    strings.TrimSpace(req.OrderID),
		CheckoutID: strings.TrimSpace(req.CheckoutID),
		IP:         domain.CanonicalIP(req.IP),
		DeviceID:   strings.TrimSpace(req.DeviceID),
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Address1:   req.Address1,
		City:       req.City,
		Postcode:   req.Postcode,
		At:         now,
	}
	p, err := domain.NormalizePhone(req.Phone)
	if err != nil {
		return facts, err
	}
	facts.Phone = p
	return facts, nil
}
