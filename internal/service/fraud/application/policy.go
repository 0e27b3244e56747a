// internal/service/fraud/application/policy.go
package application

import (
	"context"
	"sync/atomic"

	"fraudguard/internal/pkg/logger"
	"fraudguard/internal/service/fraud/domain"
)

type policySnapshot struct {
	policy    domain.Policy
	whitelist *domain.Whitelist
}

// PolicyHolder 保存当前生效的策略，支持配置中心热更新。读多写少，用 atomic.Pointer 无锁读取。
type PolicyHolder struct {
	current atomic.Pointer[policySnapshot]
}

// NewPolicyHolder 校验并装载初始策略。
func NewPolicyHolder(p domain.Policy) (*PolicyHolder, error) {
	h := &PolicyHolder{}
	if err := h.Update(p); err != nil {
		return nil, err
	}
	return h, nil
}

// Update 替换策略；校验失败时保留旧策略。
func (h *PolicyHolder) Update(p domain.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.DecisionRule == "" {
		p.DecisionRule = domain.DefaultDecisionRule
	}
	w, rejected := domain.NewWhitelist(p.Whitelist)
	if len(rejected) > 0 {
		logger.Ctx(context.Background()).Warn().Strs("entries", rejected).Msg("ignoring unrecognised whitelist entries")
	}
	h.current.Store(&policySnapshot{policy: p, whitelist: w})
	return nil
}

// Snapshot 返回当前策略及其编译好的白名单。
func (h *PolicyHolder) Snapshot() (domain.Policy, *domain.Whitelist) {
	s := h.current.Load()
	return s.policy, s.whitelist
}
