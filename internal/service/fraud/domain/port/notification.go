package port

import (
	"context"

	"fraudguard/internal/service/fraud/domain"
)

// SignalPublisher 是评估结果的出站端口，例如 Kafka 或后台实时推送。
type SignalPublisher interface {
	PublishAssessment(ctx context.Context, event *domain.FraudAssessed) error
}

// MultiPublisher 把同一事件发给多个下游，返回第一个错误，但不会因此中断其余下游。
type MultiPublisher []SignalPublisher

func (m MultiPublisher) PublishAssessment(ctx context.Context, event *domain.FraudAssessed) error {
	var firstErr error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.PublishAssessment(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
