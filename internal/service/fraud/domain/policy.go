// internal/service/fraud/domain/policy.go
package domain

import (
	"errors"
	"time"
)

// DefaultDecisionRule 只要存在可单独拒单的信号就拒绝。
const DefaultDecisionRule = "blocking > 0"

// Policy 是风控策略的全部可调参数，按值传入每次调用。
// 分钟/小时为 0 表示关闭对应检查。
type Policy struct {
	CooldownMinutes         int      `yaml:"cooldownMinutes" json:"cooldownMinutes"`
	IPCooldownMinutes       int      `yaml:"ipCooldownMinutes" json:"ipCooldownMinutes"`
	Whitelist               []string `yaml:"whitelist" json:"whitelist"`
	MaxOrdersPerAddress     int      `yaml:"maxOrdersPerAddress" json:"maxOrdersPerAddress"`
	AddressWindowHours      int      `yaml:"addressWindowHours" json:"addressWindowHours"`
	NameSimilarityThreshold int      `yaml:"nameSimilarityThreshold" json:"nameSimilarityThreshold"`
	NameCheckWindowHours    int      `yaml:"nameCheckWindowHours" json:"nameCheckWindowHours"`
	NameCheckLimit          int      `yaml:"nameCheckLimit" json:"nameCheckLimit"`
	DuplicateWindowHours    int      `yaml:"duplicateWindowHours" json:"duplicateWindowHours"`
	PhoneWeight             int      `yaml:"phoneWeight" json:"phoneWeight"`
	IPWeight                int      `yaml:"ipWeight" json:"ipWeight"`
	AddressWeight           int      `yaml:"addressWeight" json:"addressWeight"`
	TrustedOrderCount       int      `yaml:"trustedOrderCount" json:"trustedOrderCount"`
	TrackCheckoutAttempts   bool     `yaml:"trackCheckoutAttempts" json:"trackCheckoutAttempts"`
	DecisionRule            string   `yaml:"decisionRule" json:"decisionRule"`
}

// DefaultPolicy 与插件默认配置一致。
func DefaultPolicy() Policy {
	return Policy{
		CooldownMinutes:         60,
		IPCooldownMinutes:       30,
		MaxOrdersPerAddress:     3,
		AddressWindowHours:      24,
		NameSimilarityThreshold: 80,
		NameCheckWindowHours:    24,
		NameCheckLimit:          200,
		DuplicateWindowHours:    24,
		PhoneWeight:             40,
		IPWeight:                30,
		AddressWeight:           30,
		TrustedOrderCount:       3,
		TrackCheckoutAttempts:   true,
		DecisionRule:            DefaultDecisionRule,
	}
}

var errNegative = errors.New("policy values must not be negative")

// Validate 检查取值范围。
func (p Policy) Validate() error {
	for _, v := range []int{
		p.CooldownMinutes, p.IPCooldownMinutes, p.MaxOrdersPerAddress, p.AddressWindowHours,
		p.NameCheckWindowHours, p.NameCheckLimit, p.DuplicateWindowHours,
		p.PhoneWeight, p.IPWeight, p.AddressWeight, p.TrustedOrderCount,
	} {
		if v < 0 {
			return errNegative
		}
	}
	if p.NameSimilarityThreshold < 0 || p.NameSimilarityThreshold > 100 {
		return errors.New("nameSimilarityThreshold must be within [0,100]")
	}
	return nil
}

func (p Policy) Cooldown() time.Duration { return time.Duration(p.CooldownMinutes) * time.Minute }

func (p Policy) IPCooldown() time.Duration { return time.Duration(p.IPCooldownMinutes) * time.Minute }

func (p Policy) DuplicateWindow() time.Duration {
	return time.Duration(p.DuplicateWindowHours) * time.Hour
}

func (p Policy) AddressWindow() time.Duration {
	return time.Duration(p.AddressWindowHours) * time.Hour
}

func (p Policy) NameWindow() time.Duration {
	return time.Duration(p.NameCheckWindowHours) * time.Hour
}

// LookbackWindow 是打分时需要拉取的最长回溯时间。
func (p Policy) LookbackWindow() time.Duration {
	w := p.DuplicateWindow()
	if a := p.AddressWindow(); a > w {
		w = a
	}
	return w
}
