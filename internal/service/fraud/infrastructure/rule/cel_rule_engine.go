package rule

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"fraudguard/internal/service/fraud/domain/port"
)

// CELRuleEngine 是 port.DecisionRuleEngine 的 CEL 实现。
// 表达式描述拒单条件，可以引用 percentage、blocking、kinds、trusted 四个变量，例如
// `blocking > 0 || (percentage >= 70 && !trusted)`。
type CELRuleEngine struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewCELRuleEngine 声明规则可用的变量。
func NewCELRuleEngine() (*CELRuleEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("percentage", cel.IntType),
		cel.Variable("blocking", cel.IntType),
		cel.Variable("kinds", cel.ListType(cel.StringType)),
		cel.Variable("trusted", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cel env: %w", err)
	}
	return &CELRuleEngine{env: env, programs: make(map[string]cel.Program)}, nil
}

// Compile 编译并缓存表达式，配置热更新前可以先调用它做校验。
func (e *CELRuleEngine) Compile(expression string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, iss := e.env.Compile(expression)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("invalid decision rule %q: %w", expression, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("decision rule %q must evaluate to bool, got %s", expression, ast.OutputType())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build program for %q: %w", expression, err)
	}

	e.mu.Lock()
	e.programs[expression] = prg
	e.mu.Unlock()
	return prg, nil
}

// Allow 执行拒单条件，结果为 false 时放行。
func (e *CELRuleEngine) Allow(expression string, facts port.DecisionFacts) (bool, error) {
	prg, err := e.Compile(expression)
	if err != nil {
		return false, err
	}
	kinds := facts.Kinds
	if kinds == nil {
		kinds = []string{}
	}
	out, _, err := prg.Eval(map[string]any{
		"percentage": int64(facts.Percentage),
		"blocking":   int64(facts.Blocking),
		"kinds":      kinds,
		"trusted":    facts.Trusted,
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate decision rule: %w", err)
	}
	reject, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("decision rule returned %T, want bool", out.Value())
	}
	return !reject, nil
}
