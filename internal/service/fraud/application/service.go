// internal/service/fraud/application/service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"fraudguard/internal/pkg/logger"
	"fraudguard/internal/pkg/metrics"
	"fraudguard/internal/service/fraud/domain"
	"fraudguard/internal/service/fraud/domain/port"
)

const (
	recentFetchLimit      = 500
	defaultPublishTimeout = 5 * time.Second
)

// Dependencies 汇总应用服务的所有出站依赖，由 main 组装。
// Attempts、Locker、Rules、Publisher、Metrics 均可为空。
// PublishTimeout 限制后台推送单个评估的耗时，默认 5s。
type Dependencies struct {
	Tracer         trace.Tracer
	Policies       *PolicyHolder
	Store          domain.OrderRecordStore
	History        domain.CustomerHistory
	Writer         domain.OrderWriter
	BlockList      domain.BlockList
	AllowList      domain.AllowListManager
	Attempts       domain.CheckoutAttemptStore
	Locker         port.IdentityLocker
	Rules          port.DecisionRuleEngine
	Publisher      port.SignalPublisher
	Metrics        *metrics.FraudMetrics
	QueryTimeout   time.Duration
	PublishTimeout time.Duration
	Now            func() time.Time
}

// FraudApplicationService 编排一次结账的风控评估，以及黑白名单的管理用例。
type FraudApplicationService struct {
	deps   Dependencies
	engine *MatchEngine
	scorer Scorer

	// 进行中的后台推送
	publishing sync.WaitGroup
}

// NewFraudApplicationService 创建应用服务。
func NewFraudApplicationService(deps Dependencies) *FraudApplicationService {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Locker == nil {
		deps.Locker = port.NoopLocker{}
	}
	if deps.PublishTimeout <= 0 {
		deps.PublishTimeout = defaultPublishTimeout
	}
	return &FraudApplicationService{
		deps:   deps,
		engine: NewMatchEngine(deps.Store, deps.Attempts, deps.Metrics, deps.QueryTimeout),
	}
}

// CheckCheckout 评估一次结账尝试。除了上下文取消外不会返回错误：
// 所有协作方故障都按放行处理并记录日志。
func (s *FraudApplicationService) CheckCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutDecision, error) {
	start := s.deps.Now()
	ctx, span := s.deps.Tracer.Start(ctx, "app.CheckCheckout")
	defer span.End()

	policy, whitelist := s.deps.Policies.Snapshot()
	facts, phoneErr := req.toFacts(start.UTC())
	if phoneErr != nil {
		logger.Ctx(ctx).Debug().Str("phone", req.Phone).Msg("phone is not a valid BD mobile number, phone checks skipped")
	}
	span.SetAttributes(
		attribute.String("order.id", facts.OrderID),
		attribute.Bool("phone.valid", phoneErr == nil),
	)

	var allow domain.AllowList = whitelist
	if s.deps.AllowList != nil {
		allow = domain.MultiAllowList{whitelist, s.deps.AllowList}
	}

	var signals []domain.FraudSignal
	signals = append(signals, s.checkBlockList(ctx, facts)...)

	trusted := s.isTrusted(ctx, facts.Phone, policy)
	exempt := trusted || s.phoneWhitelisted(ctx, allow, facts.Phone)

	unlock := sync.OnceFunc(s.lockIdentity(ctx, facts))
	defer unlock()

	signals = append(signals, s.checkCooldowns(ctx, facts, policy, Overrides{Whitelist: allow, Trusted: trusted})...)

	var assessment domain.Assessment
	if !exempt {
		recent := s.fetchRecent(ctx, facts, policy)
		assessment = s.scorer.Score(facts, recent, policy)
		signals = append(signals, assessment.Signals...)
	}

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkout assessment cancelled")
		return nil, err
	}

	allowed := s.decide(ctx, policy, assessment.Percentage, signals, trusted)
	decision := &CheckoutDecision{
		AssessmentID: uuid.New().String(),
		Allowed:      allowed,
		Trusted:      trusted,
		Percentage:   assessment.Percentage,
		Signals:      signals,
		PhoneValid:   phoneErr == nil,
		Message:      decisionMessage(allowed, signals),
	}
	if phoneErr == nil {
		decision.Phone = facts.Phone.String()
	}
	if decision.Signals == nil {
		decision.Signals = []domain.FraudSignal{}
	}

	if allowed && policy.TrackCheckoutAttempts {
		s.recordAttempt(ctx, decision.AssessmentID, facts)
	}
	// 尝试记录写完即可放锁，推送不占用锁也不阻塞响应
	unlock()
	s.publish(ctx, decision, facts)

	for _, sig := range signals {
		s.deps.Metrics.IncSignal(string(sig.Kind))
	}
	s.deps.Metrics.ObserveAssessment(allowed, s.deps.Now().Sub(start))

	span.SetAttributes(
		attribute.Bool("fraud.allowed", allowed),
		attribute.Int("fraud.percentage", assessment.Percentage),
		attribute.StringSlice("fraud.signals", domain.Kinds(signals)),
	)
	logger.Ctx(ctx).Info().
		Str("assessment_id", decision.AssessmentID).
		Str("order_id", facts.OrderID).
		Bool("allowed", allowed).
		Int("percentage", assessment.Percentage).
		Strs("signals", domain.Kinds(signals)).
		Msg("checkout assessed")
	return decision, nil
}

// lockIdentity 串行化同一身份的并发结账；锁服务不可用时退化为无锁评估。
func (s *FraudApplicationService) lockIdentity(ctx context.Context, facts domain.OrderFacts) func() {
	key := lockKey(facts)
	if key == "" {
		return func() {}
	}
	unlock, err := s.deps.Locker.Lock(ctx, key)
	if err != nil {
		s.deps.Metrics.IncCollaboratorFailure("identity_lock")
		logger.Ctx(ctx).Warn().Err(err).Msg("identity lock unavailable, continuing without it")
		return func() {}
	}
	return unlock
}

// checkBlockList 检查手机号、IP、设备号是否被拉黑。
func (s *FraudApplicationService) checkBlockList(ctx context.Context, facts domain.OrderFacts) []domain.FraudSignal {
	if s.deps.BlockList == nil {
		return nil
	}
	candidates := []struct {
		t     domain.BlockType
		value string
		skip  bool
	}{
		{domain.BlockPhone, facts.Phone.String(), facts.Phone.IsZero()},
		{domain.BlockIP, facts.IP, domain.IsPlaceholderIP(facts.IP)},
		{domain.BlockDevice, facts.DeviceID, facts.DeviceID == ""},
	}

	var out []domain.FraudSignal
	for _, c := range candidates {
		if c.skip {
			continue
		}
		value := c.value
		if c.t == domain.BlockIP {
			if e, err := domain.NewBlockEntry(domain.BlockIP, value, ""); err == nil {
				value = e.Value
			}
		}
		qctx, cancel := s.withTimeout(ctx)
		hit, err := s.deps.BlockList.Contains(qctx, c.t, value)
		cancel()
		if err != nil {
			s.deps.Metrics.IncCollaboratorFailure("blocklist")
			logger.Ctx(ctx).Warn().Err(err).Str("type", string(c.t)).Msg("blocklist lookup failed, skipping")
			continue
		}
		if hit {
			out = append(out, domain.FraudSignal{
				Kind:     domain.SignalBlocked,
				Blocking: true,
				Detail:   fmt.Sprintf("%s %s is on the block list", c.t, value),
			})
		}
	}
	return out
}

// isTrusted 已完成订单数达到阈值的老客户跳过所有匹配。
func (s *FraudApplicationService) isTrusted(ctx context.Context, phone domain.PhoneNumber, policy domain.Policy) bool {
	if s.deps.History == nil || policy.TrustedOrderCount <= 0 || phone.IsZero() {
		return false
	}
	qctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.deps.History.CountCompleted(qctx, phone.Variants())
	if err != nil {
		s.deps.Metrics.IncCollaboratorFailure("order_history")
		logger.Ctx(ctx).Warn().Err(err).Msg("completed order lookup failed")
		return false
	}
	return n >= int64(policy.TrustedOrderCount)
}

func (s *FraudApplicationService) phoneWhitelisted(ctx context.Context, allow domain.AllowList, phone domain.PhoneNumber) bool {
	if phone.IsZero() {
		return false
	}
	ok, err := allow.ContainsPhone(ctx, phone)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("allowlist lookup failed")
	}
	return ok
}

// checkCooldowns 手机号和 IP 两次冷却检查相互独立，并发执行。
func (s *FraudApplicationService) checkCooldowns(ctx context.Context, facts domain.OrderFacts, policy domain.Policy, ov Overrides) []domain.FraudSignal {
	var (
		mu  sync.Mutex
		out []domain.FraudSignal
	)
	exclude := excludeIDs(facts.OrderID, facts.CheckoutID)
	check := func(id domain.Identity, cooldown time.Duration, kind domain.SignalKind, minutes int) func() error {
		return func() error {
			w := domain.NewMatchWindow(facts.At, cooldown, exclude...)
			if !s.engine.HasRecentMatch(ctx, id, w, ov) {
				return nil
			}
			mu.Lock()
			out = append(out, domain.FraudSignal{
				Kind:     kind,
				Blocking: true,
				Detail:   fmt.Sprintf("another order from %s within the last %d minute(s)", id, minutes),
			})
			mu.Unlock()
			return nil
		}
	}

	var g errgroup.Group
	if policy.CooldownMinutes > 0 {
		g.Go(check(domain.PhoneIdentity(facts.Phone), policy.Cooldown(), domain.SignalPhoneCooldown, policy.CooldownMinutes))
	}
	if policy.IPCooldownMinutes > 0 {
		g.Go(check(domain.IPIdentity(facts.IP), policy.IPCooldown(), domain.SignalIPCooldown, policy.IPCooldownMinutes))
	}
	_ = g.Wait()

	// 并发写入的顺序不确定，按固定顺序输出
	if len(out) == 2 && out[0].Kind == domain.SignalIPCooldown {
		out[0], out[1] = out[1], out[0]
	}
	return out
}

// fetchRecent 拉取打分所需的近期订单：按身份匹配的一批，加上姓名比对窗口内的一批。
func (s *FraudApplicationService) fetchRecent(ctx context.Context, facts domain.OrderFacts, policy domain.Policy) []domain.OrderRecord {
	exclude := excludeIDs(facts.OrderID, facts.CheckoutID)

	byIdentity := domain.RecentQuery{
		Phones:           facts.Phone.Variants(),
		Since:            facts.At.Add(-policy.LookbackWindow()),
		ExcludeIDs:       exclude,
		ExcludedStatuses: domain.ExcludedStatuses,
		Limit:            recentFetchLimit,
	}
	if !domain.IsPlaceholderIP(facts.IP) {
		byIdentity.IPs = []string{facts.IP}
	}
	if key := facts.AddressKey(); key != "" {
		byIdentity.AddressKeys = []string{key}
	}

	var (
		identityRecords, nameRecords []domain.OrderRecord
		g                            errgroup.Group
	)
	if byIdentity.HasIdentity() && policy.LookbackWindow() > 0 {
		g.Go(func() error {
			identityRecords = s.find(ctx, byIdentity)
			return nil
		})
	}
	if policy.NameSimilarityThreshold > 0 && policy.NameCheckWindowHours > 0 && facts.FullName() != "" {
		g.Go(func() error {
			nameRecords = s.find(ctx, domain.RecentQuery{
				Since:            facts.At.Add(-policy.NameWindow()),
				ExcludeIDs:       exclude,
				ExcludedStatuses: domain.ExcludedStatuses,
				Limit:            policy.NameCheckLimit,
			})
			return nil
		})
	}
	_ = g.Wait()

	return mergeRecords(identityRecords, nameRecords)
}

func (s *FraudApplicationService) find(ctx context.Context, q domain.RecentQuery) []domain.OrderRecord {
	qctx, cancel := s.withTimeout(ctx)
	defer cancel()
	records, err := s.deps.Store.FindRecent(qctx, q)
	if err != nil {
		s.deps.Metrics.IncCollaboratorFailure("order_store")
		logger.Ctx(ctx).Warn().Err(err).Msg("recent order lookup failed, scoring without it")
		return nil
	}
	return records
}

// decide 用决策规则得出是否放行；规则出错时放行。
func (s *FraudApplicationService) decide(ctx context.Context, policy domain.Policy, percentage int, signals []domain.FraudSignal, trusted bool) bool {
	facts := port.DecisionFacts{
		Percentage: percentage,
		Blocking:   domain.BlockingCount(signals),
		Kinds:      domain.Kinds(signals),
		Trusted:    trusted,
	}
	if s.deps.Rules == nil {
		return facts.Blocking == 0
	}
	allowed, err := s.deps.Rules.Allow(policy.DecisionRule, facts)
	if err != nil {
		s.deps.Metrics.IncCollaboratorFailure("decision_rule")
		logger.Ctx(ctx).Error().Err(err).Str("rule", policy.DecisionRule).Msg("decision rule failed, allowing checkout")
		return true
	}
	return allowed
}

func (s *FraudApplicationService) recordAttempt(ctx context.Context, assessmentID string, facts domain.OrderFacts) {
	if s.deps.Attempts == nil {
		return
	}
	attemptID := facts.OrderID
	if attemptID == "" {
		attemptID = facts.CheckoutID
	}
	if attemptID == "" {
		attemptID = assessmentID
	}
	var ids []domain.Identity
	if !facts.Phone.IsZero() {
		ids = append(ids, domain.PhoneIdentity(facts.Phone))
	}
	if !domain.IsPlaceholderIP(facts.IP) {
		ids = append(ids, domain.IPIdentity(facts.IP))
	}
	if len(ids) == 0 {
		return
	}
	qctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.deps.Attempts.RecordAttempt(qctx, attemptID, ids, facts.At); err != nil {
		s.deps.Metrics.IncCollaboratorFailure("checkout_attempts")
		logger.Ctx(ctx).Warn().Err(err).Msg("failed to record checkout attempt")
	}
}

// publish 在后台推送评估结果，脱离请求的取消信号，受 PublishTimeout 限制。
func (s *FraudApplicationService) publish(ctx context.Context, d *CheckoutDecision, facts domain.OrderFacts) {
	if s.deps.Publisher == nil {
		return
	}
	event := &domain.FraudAssessed{
		AssessmentID: d.AssessmentID,
		OrderID:      facts.OrderID,
		Phone:        d.Phone,
		IP:           facts.IP,
		Allowed:      d.Allowed,
		Trusted:      d.Trusted,
		Percentage:   d.Percentage,
		Signals:      d.Signals,
		At:           facts.At,
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deps.PublishTimeout)
	s.publishing.Add(1)
	go func() {
		defer s.publishing.Done()
		defer cancel()
		if err := s.deps.Publisher.PublishAssessment(pctx, event); err != nil {
			s.deps.Metrics.IncCollaboratorFailure("signal_publisher")
			logger.Ctx(pctx).Warn().Err(err).Str("assessment_id", event.AssessmentID).Msg("failed to publish assessment")
		}
	}()
}

// Drain 等待进行中的后台推送结束，关停时在关闭下游之前调用。
func (s *FraudApplicationService) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.publishing.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordOrder 写入订单事件流中的订单快照。
func (s *FraudApplicationService) RecordOrder(ctx context.Context, event *domain.OrderEvent) error {
	if strings.TrimSpace(event.ID) == "" {
		return errors.New("order event without id")
	}
	record := event.ToRecord()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.deps.Now().UTC()
	}
	return s.deps.Writer.Upsert(ctx, record)
}

// NormalizePhone 是号码规范化的诊断用例。
func (s *FraudApplicationService) NormalizePhone(raw string) (*PhoneResponse, error) {
	p, err := domain.NormalizePhone(raw)
	if err != nil {
		return nil, err
	}
	return &PhoneResponse{Canonical: p.String(), Variants: p.Variants()}, nil
}

func (s *FraudApplicationService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.deps.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.deps.QueryTimeout)
}

func lockKey(facts domain.OrderFacts) string {
	if !facts.Phone.IsZero() {
		return "phone-" + facts.Phone.String()
	}
	if !domain.IsPlaceholderIP(facts.IP) {
		return "ip-" + strings.NewReplacer(":", "_", "/", "_").Replace(facts.IP)
	}
	return ""
}

// excludeIDs 当前这次结账自身的订单号和结账 ID 不参与匹配。
func excludeIDs(ids ...string) []string {
	var out []string
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

func mergeRecords(lists ...[]domain.OrderRecord) []domain.OrderRecord {
	seen := make(map[string]struct{})
	var out []domain.OrderRecord
	for _, list := range lists {
		for _, r := range list {
			if _, ok := seen[r.ID]; ok {
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

func decisionMessage(allowed bool, signals []domain.FraudSignal) string {
	if !allowed {
		for _, s := range signals {
			if s.Blocking {
				return "Checkout rejected: " + s.Detail
			}
		}
		return "Checkout rejected by fraud rules."
	}
	if len(signals) > 0 {
		return "Checkout allowed with warnings."
	}
	return "Checkout allowed."
}
