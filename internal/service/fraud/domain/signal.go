// internal/service/fraud/domain/signal.go
package domain

// SignalKind 是风控信号的类别。
type SignalKind string

const (
	SignalPhoneCooldown SignalKind = "phone_cooldown"
	SignalIPCooldown    SignalKind = "ip_cooldown"
	SignalSameAddress   SignalKind = "same_address"
	SignalSimilarName   SignalKind = "similar_name"
	SignalBlocked       SignalKind = "blocked"
)

// FraudSignal 是一条独立的风控发现。
// Blocking 为 true 的信号单独就足以拒绝本次结账；Weight 只计入百分比分数。
type FraudSignal struct {
	Kind     SignalKind `json:"kind"`
	Weight   int        `json:"weight"`
	Detail   string     `json:"detail"`
	Blocking bool       `json:"blocking"`
}

// Assessment 是打分器的输出。
type Assessment struct {
	Percentage int           `json:"percentage"`
	Signals    []FraudSignal `json:"signals"`
}

// BlockingCount 统计可以单独拒单的信号数量。
func BlockingCount(signals []FraudSignal) int {
	n := 0
	for _, s := range signals {
		if s.Blocking {
			n++
		}
	}
	return n
}

// Kinds 返回去重后的信号类别，保持出现顺序。
func Kinds(signals []FraudSignal) []string {
	seen := make(map[SignalKind]struct{}, len(signals))
	out := make([]string, 0, len(signals))
	for _, s := range signals {
		if _, ok := seen[s.Kind]; ok {
			continue
		}
		seen[s.Kind] = struct{}{}
		out = append(out, string(s.Kind))
	}
	return out
}
