package infrastructure

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"fraudguard/internal/pkg/logger"
	"fraudguard/internal/pkg/mq"
	"fraudguard/internal/service/fraud/domain"
)

// OrderEventHandler 处理一条订单事件，由应用服务实现。
type OrderEventHandler interface {
	RecordOrder(ctx context.Context, event *domain.OrderEvent) error
}

// MessageReader 是 kafka.Reader 中消费者用到的部分。
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 200 * time.Millisecond
	maxRetryBackoff     = 10 * time.Second
)

// OrderEventConsumerAdapter 是一个驱动适配器，它监听店铺的订单事件并写入订单库。
// 写库失败的消息先退避重试，超过次数后转入死信 topic 再提交；
// 没有死信 writer 时一直重试，失败的消息永远不会被提交。
type OrderEventConsumerAdapter struct {
	reader      MessageReader
	handler     OrderEventHandler
	deadLetters mq.MessageWriter
	topic       string
	wg          sync.WaitGroup

	maxAttempts int
	backoff     time.Duration
}

// NewOrderEventConsumerAdapter 创建一个新的Kafka消费者适配器，deadLetters 可为 nil。
func NewOrderEventConsumerAdapter(reader MessageReader, topic string, handler OrderEventHandler, deadLetters mq.MessageWriter) *OrderEventConsumerAdapter {
	return &OrderEventConsumerAdapter{
		reader:      reader,
		handler:     handler,
		deadLetters: deadLetters,
		topic:       topic,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultRetryBackoff,
	}
}

// Start 开始监听Kafka主题，ctx 取消后退出。
func (a *OrderEventConsumerAdapter) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log := logger.Ctx(ctx).With().Str("topic", a.topic).Logger()
		log.Info().Msg("✅ Kafka order event consumer started.")
		for {
			// 我们使用FetchMessage而不是ReadMessage，以便更好地控制提交时机
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					log.Info().Msg("🛑 Kafka order event consumer shutting down.")
					return
				}
				log.Error().Err(err).Msg("could not read message, retrying")
				select {
				case <-time.After(time.Second): // 避免快速失败循环
				case <-ctx.Done():
					return
				}
				continue
			}

			if !a.handle(ctx, msg) {
				// 未提交，重启或再均衡后会重新投递
				return
			}

			if err := a.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("failed to commit message")
			}
		}
	}()
}

// Stop 关闭 reader 并等待消费循环退出。调用前应先取消 Start 的 ctx。
func (a *OrderEventConsumerAdapter) Stop() {
	_ = a.reader.Close()
	a.wg.Wait()
}

// handle 处理一条消息直到可以提交：成功、无法解析或已转入死信。ctx 取消时返回 false。
func (a *OrderEventConsumerAdapter) handle(ctx context.Context, msg kafka.Message) bool {
	backoff := a.backoff
	for attempt := 1; ; attempt++ {
		err := a.processMessage(ctx, msg)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if attempt >= a.maxAttempts && a.deadLetters != nil {
			dErr := mq.ProduceDeadLetter(ctx, a.deadLetters, msg, err)
			if dErr == nil {
				logger.Ctx(ctx).Warn().Err(err).Int64("offset", msg.Offset).Int("attempts", attempt).Msg("order event moved to dead letter topic")
				return true
			}
			logger.Ctx(ctx).Error().Err(dErr).Int64("offset", msg.Offset).Msg("failed to produce dead letter, retrying")
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}

// processMessage 反序列化消息并调用应用服务。坏消息记录日志后跳过，不阻塞分区；
// 只有写库失败才返回错误。
func (a *OrderEventConsumerAdapter) processMessage(parentCtx context.Context, msg kafka.Message) error {
	ctx := mq.ExtractTraceContext(parentCtx, msg.Headers)
	ctx, span := otel.Tracer("fraud-detection-service").Start(ctx, "kafka.ConsumeOrderEvent")
	defer span.End()

	var event domain.OrderEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).Msg("failed to unmarshal order event, skipping")
		return nil
	}
	if err := a.handler.RecordOrder(ctx, &event); err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Str("order_id", event.ID).Msg("failed to record order event")
		return err
	}
	return nil
}
