// internal/service/fraud/application/match_engine.go
package application

import (
	"context"
	"time"

	"fraudguard/internal/pkg/logger"
	"fraudguard/internal/pkg/metrics"
	"fraudguard/internal/service/fraud/domain"
)

// Overrides 是匹配前的放行条件。
type Overrides struct {
	Whitelist domain.AllowList
	Trusted   bool
}

// MatchEngine 判断某个身份在回溯窗口内是否已有订单或结账尝试。
// 本身无状态，所有 I/O 都委托给注入的协作方；协作方出错时一律视为"没有匹配"。
type MatchEngine struct {
	store        domain.OrderRecordStore
	attempts     domain.CheckoutAttemptStore
	metrics      *metrics.FraudMetrics
	queryTimeout time.Duration
}

// NewMatchEngine 创建匹配引擎；attempts 可以为 nil。
func NewMatchEngine(store domain.OrderRecordStore, attempts domain.CheckoutAttemptStore, m *metrics.FraudMetrics, queryTimeout time.Duration) *MatchEngine {
	return &MatchEngine{store: store, attempts: attempts, metrics: m, queryTimeout: queryTimeout}
}

// HasRecentMatch 实现冷却检查。顺序很重要：老客户、占位身份、白名单都在查库之前短路。
func (e *MatchEngine) HasRecentMatch(ctx context.Context, id domain.Identity, window domain.MatchWindow, ov Overrides) bool {
	if ov.Trusted {
		return false
	}
	if id.IsPlaceholder() {
		return false
	}
	if e.whitelisted(ctx, id, ov.Whitelist) {
		return false
	}

	qctx, cancel := e.withTimeout(ctx)
	defer cancel()

	q := domain.RecentQuery{
		Since:            window.Cutoff,
		ExcludeIDs:       window.Exclusion,
		ExcludedStatuses: domain.ExcludedStatuses,
	}
	switch id.Kind {
	case domain.IdentityPhone:
		q.Phones = id.Values()
	case domain.IdentityIP:
		q.IPs = id.Values()
	}

	count, err := e.store.CountRecent(qctx, q)
	if err != nil {
		e.metrics.IncCollaboratorFailure("order_store")
		logger.Ctx(ctx).Warn().Err(err).Str("identity", string(id.Kind)).Msg("order store lookup failed, treating as no match")
	} else if count > 0 {
		return true
	}

	if e.attempts == nil {
		return false
	}
	n, err := e.attempts.CountAttempts(qctx, id, window)
	if err != nil {
		e.metrics.IncCollaboratorFailure("checkout_attempts")
		logger.Ctx(ctx).Warn().Err(err).Str("identity", string(id.Kind)).Msg("checkout attempt lookup failed, treating as no match")
		return false
	}
	return n > 0
}

func (e *MatchEngine) whitelisted(ctx context.Context, id domain.Identity, allow domain.AllowList) bool {
	if allow == nil {
		return false
	}
	var (
		ok  bool
		err error
	)
	switch id.Kind {
	case domain.IdentityPhone:
		ok, err = allow.ContainsPhone(ctx, id.Phone)
	case domain.IdentityIP:
		ok, err = allow.ContainsIP(ctx, id.IP)
	}
	if err != nil {
		// 部分白名单不可用时，已命中的结果仍然有效；未命中则继续正常检查
		e.metrics.IncCollaboratorFailure("allowlist")
		logger.Ctx(ctx).Warn().Err(err).Msg("allowlist lookup failed")
	}
	return ok
}

func (e *MatchEngine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.queryTimeout)
}
