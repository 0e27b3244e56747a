package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"fraudguard/internal/pkg/bootstrap"
	"fraudguard/internal/pkg/database"
	"fraudguard/internal/pkg/httpclient"
	"fraudguard/internal/pkg/logger"
	"fraudguard/internal/pkg/metrics"
	"fraudguard/internal/pkg/mq"
	redisclient "fraudguard/internal/pkg/redis"
	"fraudguard/internal/service/fraud/application"
	"fraudguard/internal/service/fraud/domain"
	"fraudguard/internal/service/fraud/domain/port"
	"fraudguard/internal/service/fraud/infrastructure"
	"fraudguard/internal/service/fraud/infrastructure/adapter"
	"fraudguard/internal/service/fraud/infrastructure/rule"
	"fraudguard/internal/service/fraud/interfaces"
	"fraudguard/internal/zookeeper"
)

const serviceName = "fraud-detection-service"

// serviceConfig 在公共配置之外加上风控策略和 webhook。
type serviceConfig struct {
	bootstrap.Config `yaml:",inline"`
	Fraud            domain.Policy `yaml:"fraud"`
	Webhook          struct {
		URL    string `yaml:"url"`
		Secret string `yaml:"secret"`
	} `yaml:"webhook"`
	AttemptRetention time.Duration `yaml:"attemptRetention"`
}

func main() {
	cfg := &serviceConfig{Fraud: domain.DefaultPolicy()}
	if err := bootstrap.Load(bootstrap.ConfigPath(), cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(serviceName, cfg.App.LogLevel)

	httpPort := cfg.App.Port
	if httpPort == 0 {
		httpPort = 8085
	}

	var closers []func()
	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        httpPort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler, cleanup, err := buildHandler(appCtx, cfg)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to wire fraud service")
			}
			closers = cleanup
			handler.RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: func(ctx context.Context) {
			// 后创建的先关闭
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		},
	})
}

// buildHandler 组装风控服务的全部依赖，返回需要在关停时执行的清理函数。
func buildHandler(appCtx bootstrap.AppCtx, cfg *serviceConfig) (*interfaces.FraudHandler, []func(), error) {
	var closers []func()
	ctx := appCtx.Ctx
	infra := cfg.Infra

	// 1. 订单库
	db, err := database.OpenMySQL(infra.MySQL)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, func() { closeDB(db) })
	orders := infrastructure.NewGormOrderStore(db)
	if err := orders.AutoMigrate(); err != nil {
		return nil, closers, fmt.Errorf("failed to migrate order table: %w", err)
	}

	// 2. Redis：黑白名单和结账尝试
	redisClient, err := redisclient.NewClient(infra.Redis.Addrs, infra.Redis.Password, infra.Redis.DB)
	if err != nil {
		return nil, closers, err
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	attempts, err := infrastructure.NewCheckoutAttemptStore(redisClient, cfg.AttemptRetention)
	if err != nil {
		return nil, closers, err
	}

	// 3. 策略，启用 Nacos 时支持热更新
	policies, err := application.NewPolicyHolder(cfg.Fraud)
	if err != nil {
		return nil, closers, fmt.Errorf("invalid fraud policy: %w", err)
	}
	if appCtx.Nacos != nil && infra.Nacos.DataID != "" {
		err := bootstrap.WatchRemoteConfig(appCtx.Nacos, infra.Nacos.DataID, func(content string) error {
			p := cfg.Fraud
			if err := yaml.Unmarshal([]byte(content), &p); err != nil {
				return err
			}
			return policies.Update(p)
		})
		if err != nil {
			log.Error().Err(err).Msg("remote policy unavailable, using local policy")
		}
	}

	rules, err := rule.NewCELRuleEngine()
	if err != nil {
		return nil, closers, err
	}

	// 4. 出站事件：后台推送、Kafka、webhook
	feed := interfaces.NewSignalFeed()
	go feed.Run(ctx)
	publishers := port.MultiPublisher{feed}

	tracer := otel.Tracer(serviceName)
	if cfg.Webhook.URL != "" {
		publishers = append(publishers, adapter.NewWebhookAdapter(httpclient.NewClient(tracer), cfg.Webhook.URL, cfg.Webhook.Secret))
	}

	if infra.Kafka.Enabled {
		signals := adapter.NewSignalKafkaAdapter(mq.NewKafkaWriter(infra.Kafka.Brokers, infra.Kafka.SignalTopic))
		publishers = append(publishers, signals)
		closers = append(closers, func() { _ = signals.Close() })
	}

	// 5. 同一身份的并发结账串行化
	var locker port.IdentityLocker
	if infra.Zookeeper.Enabled {
		conn, err := zookeeper.Connect(infra.Zookeeper.Servers, infra.Zookeeper.SessionTimeout)
		if err != nil {
			return nil, closers, err
		}
		closers = append(closers, conn.Close)
		root := infra.Zookeeper.LockRoot
		if root == "" {
			root = zookeeper.DefaultLockRoot
		}
		locker = adapter.NewZookeeperIdentityLocker(conn, root, infra.Zookeeper.LockTimeout)
	}

	m := metrics.NewFraudMetrics(prometheus.DefaultRegisterer)
	svc := application.NewFraudApplicationService(application.Dependencies{
		Tracer:       tracer,
		Policies:     policies,
		Store:        orders,
		History:      orders,
		Writer:       orders,
		BlockList:    adapter.NewRedisBlockList(redisClient.GetClient()),
		AllowList:    adapter.NewRedisAllowList(redisClient.GetClient()),
		Attempts:     attempts,
		Locker:       locker,
		Rules:        rules,
		Publisher:    publishers,
		Metrics:      m,
		QueryTimeout: infra.MySQL.QueryTimeout,
	})
	// 先于各下游关闭，等后台推送发完
	closers = append(closers, func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svc.Drain(drainCtx); err != nil {
			log.Warn().Err(err).Msg("assessment publishes still in flight at shutdown")
		}
	})

	// 6. 订单事件流，保持订单快照最新
	if infra.Kafka.Enabled {
		dltTopic := infra.Kafka.DeadLetterTopic
		if dltTopic == "" {
			dltTopic = infra.Kafka.OrderTopic + "-dlt"
		}
		deadLetters := mq.NewKafkaWriter(infra.Kafka.Brokers, dltTopic)
		closers = append(closers, func() { _ = deadLetters.Close() })
		reader := mq.NewKafkaReader(infra.Kafka.Brokers, infra.Kafka.OrderTopic, infra.Kafka.GroupID)
		consumer := infrastructure.NewOrderEventConsumerAdapter(reader, infra.Kafka.OrderTopic, svc, deadLetters)
		consumer.Start(ctx)
		closers = append(closers, consumer.Stop)
	}

	return interfaces.NewFraudHandler(svc, feed, prometheus.DefaultGatherer, cfg.App.AdminToken), closers, nil
}

func closeDB(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing mysql")
	}
}
