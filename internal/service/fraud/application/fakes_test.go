package application

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"fraudguard/internal/service/fraud/domain"
)

var errBackend = errors.New("backend unavailable")

// memoryOrders 是内存版订单库，按 RecentQuery 的语义过滤。
type memoryOrders struct {
	mu      sync.Mutex
	records []domain.OrderRecord
	err     error
	counts  int
}

func (m *memoryOrders) match(q domain.RecentQuery) []domain.OrderRecord {
	var out []domain.OrderRecord
	for _, r := range m.records {
		if r.CreatedAt.Before(q.Since) || slices.Contains(q.ExcludeIDs, r.ID) || slices.Contains(q.ExcludedStatuses, r.Status) {
			continue
		}
		if q.HasIdentity() &&
			!slices.Contains(q.Phones, r.Phone) &&
			!slices.Contains(q.IPs, r.IP) &&
			!slices.Contains(q.AddressKeys, r.AddressKey()) {
			continue
		}
		out = append(out, r)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}

func (m *memoryOrders) CountRecent(_ context.Context, q domain.RecentQuery) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts++
	if m.err != nil {
		return 0, m.err
	}
	return int64(len(m.match(q))), nil
}

func (m *memoryOrders) FindRecent(_ context.Context, q domain.RecentQuery) ([]domain.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.match(q), nil
}

func (m *memoryOrders) CountCompleted(_ context.Context, variants []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	var n int64
	for _, r := range m.records {
		if r.Status == domain.StatusCompleted && slices.Contains(variants, r.Phone) {
			n++
		}
	}
	return n, nil
}

func (m *memoryOrders) Upsert(_ context.Context, r domain.OrderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == r.ID {
			m.records[i] = r
			return nil
		}
	}
	m.records = append(m.records, r)
	return nil
}

type memoryBlockList struct {
	entries map[domain.BlockType]map[string]domain.BlockEntry
	err     error
}

func newMemoryBlockList() *memoryBlockList {
	return &memoryBlockList{entries: make(map[domain.BlockType]map[string]domain.BlockEntry)}
}

func (b *memoryBlockList) Add(_ context.Context, e domain.BlockEntry) error {
	if b.entries[e.Type] == nil {
		b.entries[e.Type] = make(map[string]domain.BlockEntry)
	}
	b.entries[e.Type][e.Value] = e
	return nil
}

func (b *memoryBlockList) Remove(_ context.Context, t domain.BlockType, value string) error {
	if _, ok := b.entries[t][value]; !ok {
		return domain.ErrNotFound
	}
	delete(b.entries[t], value)
	return nil
}

func (b *memoryBlockList) Contains(_ context.Context, t domain.BlockType, value string) (bool, error) {
	if b.err != nil {
		return false, b.err
	}
	_, ok := b.entries[t][value]
	return ok, nil
}

func (b *memoryBlockList) List(_ context.Context, t domain.BlockType) ([]domain.BlockEntry, error) {
	var out []domain.BlockEntry
	for _, e := range b.entries[t] {
		out = append(out, e)
	}
	return out, nil
}

// memoryAllowList 复用静态白名单的匹配逻辑。
type memoryAllowList struct {
	values []string
}

func (a *memoryAllowList) compiled() *domain.Whitelist {
	w, _ := domain.NewWhitelist(a.values)
	return w
}

func (a *memoryAllowList) ContainsPhone(ctx context.Context, p domain.PhoneNumber) (bool, error) {
	return a.compiled().ContainsPhone(ctx, p)
}

func (a *memoryAllowList) ContainsIP(ctx context.Context, ip string) (bool, error) {
	return a.compiled().ContainsIP(ctx, ip)
}

func (a *memoryAllowList) Add(_ context.Context, e domain.AllowEntry) error {
	a.values = append(a.values, e.Key())
	return nil
}

func (a *memoryAllowList) Remove(_ context.Context, e domain.AllowEntry) error {
	i := slices.Index(a.values, e.Key())
	if i < 0 {
		return domain.ErrNotFound
	}
	a.values = slices.Delete(a.values, i, i+1)
	return nil
}

func (a *memoryAllowList) List(context.Context) ([]string, error) {
	return slices.Clone(a.values), nil
}

type attemptRecord struct {
	id  string
	ids []domain.Identity
	at  time.Time
}

type memoryAttempts struct {
	mu       sync.Mutex
	recorded []attemptRecord
	err      error
}

func (m *memoryAttempts) RecordAttempt(_ context.Context, attemptID string, ids []domain.Identity, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, attemptRecord{id: attemptID, ids: ids, at: at})
	return nil
}

func (m *memoryAttempts) CountAttempts(_ context.Context, id domain.Identity, w domain.MatchWindow) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	var n int64
	for _, a := range m.recorded {
		if a.at.Before(w.Cutoff) || slices.Contains(w.Exclusion, a.id) {
			continue
		}
		for _, other := range a.ids {
			if other.Kind == id.Kind && other.String() == id.String() {
				n++
				break
			}
		}
	}
	return n, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.FraudAssessed
	err    error
}

func (p *recordingPublisher) PublishAssessment(_ context.Context, e *domain.FraudAssessed) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}
