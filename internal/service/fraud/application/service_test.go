package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"fraudguard/internal/service/fraud/domain"
	"fraudguard/internal/service/fraud/domain/port"
)

var checkoutNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type serviceFixture struct {
	svc       *FraudApplicationService
	orders    *memoryOrders
	blocks    *memoryBlockList
	allow     *memoryAllowList
	attempts  *memoryAttempts
	publisher *recordingPublisher
}

func newServiceFixture(t *testing.T, policy domain.Policy) *serviceFixture {
	t.Helper()
	holder, err := NewPolicyHolder(policy)
	if err != nil {
		t.Fatalf("NewPolicyHolder: %v", err)
	}
	f := &serviceFixture{
		orders:    &memoryOrders{},
		blocks:    newMemoryBlockList(),
		allow:     &memoryAllowList{},
		attempts:  &memoryAttempts{},
		publisher: &recordingPublisher{},
	}
	f.svc = NewFraudApplicationService(Dependencies{
		Tracer:       noop.NewTracerProvider().Tracer("test"),
		Policies:     holder,
		Store:        f.orders,
		History:      f.orders,
		Writer:       f.orders,
		BlockList:    f.blocks,
		AllowList:    f.allow,
		Attempts:     f.attempts,
		Publisher:    f.publisher,
		QueryTimeout: time.Second,
		Now:          func() time.Time { return checkoutNow },
	})
	return f
}

// published 等后台推送结束后返回已推送的评估。
func (f *serviceFixture) published(t *testing.T) []*domain.FraudAssessed {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.svc.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	f.publisher.mu.Lock()
	defer f.publisher.mu.Unlock()
	return append([]*domain.FraudAssessed(nil), f.publisher.events...)
}

func checkoutRequest() *CheckoutRequest {
	return &CheckoutRequest{
		OrderID:   "900",
		Phone:     "+880 1712-345678",
		IP:        "203.0.113.9",
		FirstName: "Rahim",
		LastName:  "Uddin",
		Address1:  "House 12, Road 5",
		City:      "Dhaka",
		Postcode:  "1207",
	}
}

func hasSignal(d *CheckoutDecision, kind domain.SignalKind, blocking bool) bool {
	for _, s := range d.Signals {
		if s.Kind == kind && s.Blocking == blocking {
			return true
		}
	}
	return false
}

func TestCheckCheckout_CleanOrderAllowed(t *testing.T) {
	f := newServiceFixture(t, domain.DefaultPolicy())

	d, err := f.svc.CheckCheckout(context.Background(), checkoutRequest())
	if err != nil {
		t.Fatalf("CheckCheckout: %v", err)
	}
	if !d.Allowed || d.Percentage != 0 || len(d.Signals) != 0 {
		t.Fatalf("unexpected decision %+v", d)
	}
	if d.Phone != "01712345678" || !d.PhoneValid {
		t.Fatalf("phone not normalised: %+v", d)
	}
	if events := f.published(t); len(events) != 1 || events[0].AssessmentID != d.AssessmentID {
		t.Fatalf("expected one published assessment, got %d", len(events))
	}
	if len(f.attempts.recorded) != 1 || f.attempts.recorded[0].id != "900" || len(f.attempts.recorded[0].ids) != 2 {
		t.Fatalf("expected attempt recorded for phone and ip, got %+v", f.attempts.recorded)
	}
}

func TestCheckCheckout_PhoneCooldown(t *testing.T) {
	f := newServiceFixture(t, domain.DefaultPolicy())
	f.orders.records = []domain.OrderRecord{
		{ID: "1", Phone: "01712345678", IP: "198.51.100.7", Status: domain.StatusProcessing, CreatedAt: checkoutNow.Add(-10 * time.Minute)},
	}

	d, err := f.svc.CheckCheckout(context.Background(), checkoutRequest())
	if err != nil {
		t.Fatalf("CheckCheckout: %v", err)
	}
	if d.Allowed {
		t.Fatalf("expected rejection, got %+v", d)
	}
	if !hasSignal(d, domain.SignalPhoneCooldown, true) || hasSignal(d, domain.SignalIPCooldown, true) {
		t.Fatalf("expected only the phone cooldown to block, got %+v", d.Signals)
	}
	if d.Percentage != 40 {
		t.Fatalf("percentage=%d, want 40", d.Percentage)
	}
	if len(f.attempts.recorded) != 0 {
		t.Fatalf("rejected checkout must not be recorded as an attempt")
	}
	if events := f.published(t); len(events) != 1 || events[0].Allowed {
		t.Fatalf("published event must carry the rejection")
	}
}

func TestCheckCheckout_CooldownDisabled(t *testing.T) {
	policy := domain.DefaultPolicy()
	policy.CooldownMinutes = 0
	f := newServiceFixture(t, policy)
	f.orders.records = []domain.OrderRecord{
		{ID: "1", Phone: "01712345678", Status: domain.StatusProcessing, CreatedAt: checkoutNow.Add(-10 * time.Minute)},
	}

	d, _ := f.svc.CheckCheckout(context.Background(), checkoutRequest())
	if !d.Allowed || hasSignal(d, domain.SignalPhoneCooldown, true) {
		t.Fatalf("cooldown 0 must disable the check, got %+v", d)
	}
}

func TestCheckCheckout_BlockList(t *testing.T) {
	f := newServiceFixture(t, domain.DefaultPolicy())
	ctx := context.Background()
	if _, err := f.svc.AddBlock(ctx, &BlockRequest{Type: domain.BlockPhone, Value: "8801712345678", Reason: "chargeback"}); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}

	d, _ := f.svc.CheckCheckout(ctx, checkoutRequest())
	if d.Allowed || !hasSignal(d, domain.SignalBlocked, true) {
		t.Fatalf("blocked phone must be rejected, got %+v", d)
	}

	req := checkoutRequest()
	req.Phone = "01812345678"
	req.DeviceID = "dev-42"
	if _, err := f.svc.AddBlock(ctx, &BlockRequest{Type: domain.BlockDevice, Value: " dev-42 "}); err != nil {
		t.Fatalf("AddBlock device: %v", err)
	}
	if d, _ := f.svc.CheckCheckout(ctx, req); d.Allowed {
		t.Fatalf("blocked device must be rejected")
	}
}

func TestCheckCheckout_TrustedCustomer(t *testing.T) {
	f := newServiceFixture(t, domain.DefaultPolicy())
	for i, id := range []string{"a", "b", "c"} {
		f.orders.records = append(f.orders.records, domain.OrderRecord{
			ID: id, Phone: "01712345678", IP: "203.0.113.9", Status: domain.StatusCompleted,
			CreatedAt: checkoutNow.Add(-time.Duration(i+1) * time.Minute),
		})
	}

	d, _ := f.svc.CheckCheckout(context.Background(), checkoutRequest())
	if !d.Allowed || !d.Trusted || len(d.Signals) != 0 {
		t.Fatalf("trusted customer must bypass matching, got %+v", d)
	}
}

func TestCheckCheckout_InvalidPhoneSkipsPhoneChecks(t *testing.T) {
	f := newServiceFixture(t, domain.DefaultPolicy())
	f.orders.records = []domain.OrderRecord{
		{ID: "1", Phone: "029876543", IP: "203.0.113.9", Status: domain.StatusPending, CreatedAt: checkoutNow.Add(-5 * time.Minute)},
	}
	req := checkoutRequest()
	req.Phone = "02-9876543"

	d, err := f.svc.CheckCheckout(context.Background(), req)
	if err != nil {
		t.Fatalf("invalid phone must not fail the checkout: %v", err)
	}
	if d.PhoneValid || d.Phone != "" {
		t.Fatalf("expected phone to be reported invalid, got %+v", d)
	}
	if hasSignal(d, domain.SignalPhoneCooldown, true) || !hasSignal(d, domain.SignalIPCooldown, true) {
		t.Fatalf("expected ip cooldown only, got %+v", d.Signals)
	}
}

func TestCheckCheckout_AllowListBypassesCooldown(t *testing.T) {
	f := newServiceFixture(t, domain.DefaultPolicy())
	f.orders.records = []domain.OrderRecord{
		{ID: "1", Phone: "01712345678", IP: "203.0.113.9", Status: domain.StatusPending, CreatedAt: checkoutNow.Add(-5 * time.Minute)},
	}
	ctx := context.Background()
	for _, v := range []string{"01712345678", "203.0.113.0/24"} {
		if _, err := f.svc.AddAllow(ctx, v); err != nil {
			t.Fatalf("AddAllow(%s): %v", v, err)
		}
	}

	d, _ := f.svc.CheckCheckout(ctx, checkoutRequest())
	if !d.Allowed || len(d.Signals) != 0 {
		t.Fatalf("allow-listed customer must pass, got %+v", d)
	}
}

func TestCheckCheckout_RepeatedAttemptHitsCooldown(t *testing.T) {
	f := newServiceFixture(t, domain.DefaultPolicy())
	ctx := context.Background()

	first := checkoutRequest()
	first.OrderID = ""
	if d, _ := f.svc.CheckCheckout(ctx, first); !d.Allowed {
		t.Fatalf("first attempt must pass, got %+v", d)
	}
	second := checkoutRequest()
	second.OrderID = ""
	d, _ := f.svc.CheckCheckout(ctx, second)
	if d.Allowed || !hasSignal(d, domain.SignalPhoneCooldown, true) {
		t.Fatalf("second attempt must hit the cooldown, got %+v", d)
	}
}

func TestCheckCheckout_SameCheckoutIDRetryAllowed(t *testing.T) {
	f := newServiceFixture(t, domain.DefaultPolicy())
	ctx := context.Background()

	req := checkoutRequest()
	req.OrderID = ""
	req.CheckoutID = "cart-7f3a"
	if d, _ := f.svc.CheckCheckout(ctx, req); !d.Allowed {
		t.Fatalf("first attempt must pass, got %+v", d)
	}
	if len(f.attempts.recorded) != 1 || f.attempts.recorded[0].id != "cart-7f3a" {
		t.Fatalf("attempt must be keyed by checkout id, got %+v", f.attempts.recorded)
	}

	// 同一购物车重试
	d, _ := f.svc.CheckCheckout(ctx, req)
	if !d.Allowed || hasSignal(d, domain.SignalPhoneCooldown, true) {
		t.Fatalf("retry of the same checkout must not hit its own attempt, got %+v", d)
	}

	// 另一个购物车仍然命中冷却
	other := checkoutRequest()
	other.OrderID = ""
	other.CheckoutID = "cart-9b21"
	d, _ = f.svc.CheckCheckout(ctx, other)
	if d.Allowed || !hasSignal(d, domain.SignalPhoneCooldown, true) {
		t.Fatalf("a different checkout must hit the cooldown, got %+v", d)
	}
}

func TestCheckCheckout_StoreFailureFailsOpen(t *testing.T) {
	f := newServiceFixture(t, domain.DefaultPolicy())
	f.orders.err = errBackend
	f.blocks.err = errBackend
	f.attempts.err = errBackend
	f.publisher.err = errBackend

	d, err := f.svc.CheckCheckout(context.Background(), checkoutRequest())
	if err != nil {
		t.Fatalf("collaborator failures must not surface: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("expected fail-open, got %+v", d)
	}
}

type fixedRules struct {
	allow bool
	err   error
	seen  port.DecisionFacts
}

func (r *fixedRules) Allow(_ string, facts port.DecisionFacts) (bool, error) {
	r.seen = facts
	return r.allow, r.err
}

func TestCheckCheckout_DecisionRule(t *testing.T) {
	f := newServiceFixture(t, domain.DefaultPolicy())
	rules := &fixedRules{allow: false}
	f.svc.deps.Rules = rules

	d, _ := f.svc.CheckCheckout(context.Background(), checkoutRequest())
	if d.Allowed {
		t.Fatalf("rule rejection must be honoured")
	}
	if rules.seen.Blocking != 0 || rules.seen.Percentage != 0 {
		t.Fatalf("unexpected facts %+v", rules.seen)
	}

	rules.err = errors.New("no such attribute")
	d, _ = f.svc.CheckCheckout(context.Background(), checkoutRequest())
	if !d.Allowed {
		t.Fatalf("broken rule must fail open")
	}
}

func TestCheckCheckout_Cancelled(t *testing.T) {
	f := newServiceFixture(t, domain.DefaultPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.svc.CheckCheckout(ctx, checkoutRequest()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAdmin_BlockAndAllowLists(t *testing.T) {
	f := newServiceFixture(t, domain.DefaultPolicy())
	ctx := context.Background()

	if _, err := f.svc.AddBlock(ctx, &BlockRequest{Type: domain.BlockIP, Value: "not-an-ip"}); !errors.Is(err, domain.ErrInvalidBlockEntry) {
		t.Fatalf("expected ErrInvalidBlockEntry, got %v", err)
	}
	e, err := f.svc.AddBlock(ctx, &BlockRequest{Type: domain.BlockIP, Value: "::ffff:198.51.100.3"})
	if err != nil || e.Value != "198.51.100.3" || !e.CreatedAt.Equal(checkoutNow) {
		t.Fatalf("AddBlock = %+v, %v", e, err)
	}
	list, _ := f.svc.ListBlocks(ctx, domain.BlockIP)
	if len(list) != 1 {
		t.Fatalf("expected one ip block, got %v", list)
	}
	if _, err := f.svc.ListBlocks(ctx, "email"); !errors.Is(err, domain.ErrInvalidBlockEntry) {
		t.Fatalf("unknown type must be rejected, got %v", err)
	}
	if err := f.svc.RemoveBlock(ctx, domain.BlockIP, "198.51.100.3"); err != nil {
		t.Fatalf("RemoveBlock: %v", err)
	}
	if err := f.svc.RemoveBlock(ctx, domain.BlockIP, "198.51.100.3"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	key, err := f.svc.AddAllow(ctx, "+8801912345678")
	if err != nil || key != "01912345678" {
		t.Fatalf("AddAllow = %q, %v", key, err)
	}
	values, _ := f.svc.ListAllow(ctx)
	if len(values) != 1 {
		t.Fatalf("ListAllow = %v", values)
	}
	if err := f.svc.RemoveAllow(ctx, "01912345678"); err != nil {
		t.Fatalf("RemoveAllow: %v", err)
	}
}

func TestRecordOrder(t *testing.T) {
	f := newServiceFixture(t, domain.DefaultPolicy())
	ctx := context.Background()

	if err := f.svc.RecordOrder(ctx, &domain.OrderEvent{}); err == nil {
		t.Fatalf("event without id must be rejected")
	}
	if err := f.svc.RecordOrder(ctx, &domain.OrderEvent{ID: "77", Phone: "01712345678", Status: domain.StatusPending}); err != nil {
		t.Fatalf("RecordOrder: %v", err)
	}
	if err := f.svc.RecordOrder(ctx, &domain.OrderEvent{ID: "77", Phone: "01712345678", Status: domain.StatusCancelled}); err != nil {
		t.Fatalf("RecordOrder: %v", err)
	}
	if len(f.orders.records) != 1 || f.orders.records[0].Status != domain.StatusCancelled || !f.orders.records[0].CreatedAt.Equal(checkoutNow) {
		t.Fatalf("unexpected stored records %+v", f.orders.records)
	}
}

func TestNormalizePhone(t *testing.T) {
	f := newServiceFixture(t, domain.DefaultPolicy())
	resp, err := f.svc.NormalizePhone("০১৭১২৩৪৫৬৭৮")
	if err != nil || resp.Canonical != "01712345678" || len(resp.Variants) != 4 {
		t.Fatalf("NormalizePhone = %+v, %v", resp, err)
	}
	if _, err := f.svc.NormalizePhone("12345"); !errors.Is(err, domain.ErrInvalidPhone) {
		t.Fatalf("expected ErrInvalidPhone, got %v", err)
	}
}

// slowPublisher 在 release 关闭前一直阻塞，并记录推送时身份锁是否仍被持有。
type slowPublisher struct {
	release  chan struct{}
	locker   *trackingLocker
	heldLock chan bool
}

func (p *slowPublisher) PublishAssessment(ctx context.Context, _ *domain.FraudAssessed) error {
	p.heldLock <- p.locker.held()
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type trackingLocker struct {
	mu     sync.Mutex
	locked int
}

func (l *trackingLocker) Lock(context.Context, string) (func(), error) {
	l.mu.Lock()
	l.locked++
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		l.locked--
		l.mu.Unlock()
	}, nil
}

func (l *trackingLocker) held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked > 0
}

func TestCheckCheckout_SlowPublisherDoesNotDelayDecision(t *testing.T) {
	holder, _ := NewPolicyHolder(domain.DefaultPolicy())
	locker := &trackingLocker{}
	pub := &slowPublisher{release: make(chan struct{}), locker: locker, heldLock: make(chan bool, 1)}
	svc := NewFraudApplicationService(Dependencies{
		Tracer:         noop.NewTracerProvider().Tracer("test"),
		Policies:       holder,
		Store:          &memoryOrders{},
		History:        &memoryOrders{},
		Writer:         &memoryOrders{},
		Locker:         locker,
		Publisher:      pub,
		QueryTimeout:   100 * time.Millisecond,
		PublishTimeout: 10 * time.Second,
		Now:            func() time.Time { return checkoutNow },
	})

	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	d, err := svc.CheckCheckout(ctx, checkoutRequest())
	if err != nil {
		t.Fatalf("CheckCheckout: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("decision waited %v for the publisher", elapsed)
	}
	if !d.Allowed {
		t.Fatalf("unexpected decision %+v", d)
	}
	// 请求结束后推送仍在进行
	cancel()

	select {
	case held := <-pub.heldLock:
		if held {
			t.Fatalf("identity lock must be released before publishing")
		}
	case <-time.After(time.Second):
		t.Fatalf("publisher was never called")
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer drainCancel()
	if err := svc.Drain(drainCtx); err == nil {
		t.Fatalf("Drain must wait for the blocked publisher")
	}

	close(pub.release)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	if err := svc.Drain(waitCtx); err != nil {
		t.Fatalf("Drain after release: %v", err)
	}
}

func TestCheckCheckout_PublishTimeoutBoundsPublisher(t *testing.T) {
	holder, _ := NewPolicyHolder(domain.DefaultPolicy())
	pub := &slowPublisher{release: make(chan struct{}), locker: &trackingLocker{}, heldLock: make(chan bool, 1)}
	svc := NewFraudApplicationService(Dependencies{
		Tracer:         noop.NewTracerProvider().Tracer("test"),
		Policies:       holder,
		Store:          &memoryOrders{},
		Publisher:      pub,
		PublishTimeout: 20 * time.Millisecond,
		Now:            func() time.Time { return checkoutNow },
	})

	if _, err := svc.CheckCheckout(context.Background(), checkoutRequest()); err != nil {
		t.Fatalf("CheckCheckout: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Drain(ctx); err != nil {
		t.Fatalf("publisher must be cut off by PublishTimeout: %v", err)
	}
}
