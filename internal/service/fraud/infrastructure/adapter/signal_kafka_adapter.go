package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"fraudguard/internal/pkg/mq"
	"fraudguard/internal/service/fraud/domain"
)

// SignalKafkaAdapter 实现了 port.SignalPublisher，把评估结果写入 fraud-signals 主题。
type SignalKafkaAdapter struct {
	writer *kafka.Writer
}

// NewSignalKafkaAdapter 创建一个新的评估结果生产者适配器。
func NewSignalKafkaAdapter(writer *kafka.Writer) *SignalKafkaAdapter {
	return &SignalKafkaAdapter{writer: writer}
}

// PublishAssessment 以手机号（没有时用评估 ID）作为消息键，同一客户的事件落在同一分区。
func (a *SignalKafkaAdapter) PublishAssessment(ctx context.Context, event *domain.FraudAssessed) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal assessment event: %w", err)
	}
	key := event.Phone
	if key == "" {
		key = event.AssessmentID
	}
	// 调用通用的 mq.ProduceMessage，它会自动处理追踪上下文注入
	return mq.ProduceMessage(ctx, a.writer, []byte(key), payload)
}

// Close 关闭底层的Kafka writer。
func (a *SignalKafkaAdapter) Close() error {
	return a.writer.Close()
}
