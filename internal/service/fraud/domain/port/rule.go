package port

// DecisionFacts 是决策规则可以引用的变量。
type DecisionFacts struct {
	Percentage int
	Blocking   int
	Kinds      []string
	Trusted    bool
}

// DecisionRuleEngine 根据规则表达式决定是否放行。
type DecisionRuleEngine interface {
	// Allow 返回 true 表示放行。expression 为拒单条件。
	Allow(expression string, facts DecisionFacts) (bool, error)
}
