package engine

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExpressionEvaluator abstracts boolean condition evaluation.
type ExpressionEvaluator interface {
	EvaluateBool(expression string, env map[string]any) (bool, error)
}

// ExprLangEvaluator uses expr-lang/expr for safe expression evaluation.
// Compiled programs are cached by expression string.
type ExprLangEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func NewExprLangEvaluator() *ExprLangEvaluator {
	return &ExprLangEvaluator{
		cache: make(map[string]*vm.Program),
	}
}

func (e *ExprLangEvaluator) EvaluateBool(expression string, env map[string]any) (bool, error) {
	prog, err := e.compile(expression)
	if err != nil {
		return false, err
	}

	result, err := expr.Run(prog, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}

	isTrue, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition did not return bool")
	}
	return isTrue, nil
}

// Compile checks an expression without running it.
func (e *ExprLangEvaluator) Compile(expression string) error {
	_, err := e.compile(expression)
	return err
}

func (e *ExprLangEvaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	prog, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	prog, err := expr.Compile(expression, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile condition: %w", err)
	}
	e.mu.Lock()
	e.cache[expression] = prog
	e.mu.Unlock()
	return prog, nil
}
