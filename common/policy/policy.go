// Package policy answers yes/no authorization questions for registry
// operations. Rules are CEL expressions evaluated against the calling
// subject and a view of the resource being acted on, so deployments can
// override individual rules without code changes.
package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/openartifacts/registry/common/apperr"
)

// Subject describes the caller as seen by the policy rules.
type Subject struct {
	TenantID string
	IsAdmin  bool
	ReadOnly bool
}

// DefaultRules mirrors the stock policy set: admins can do anything, owners
// can mutate their artifacts, anyone can read public ones, and quota
// administration is admin-only.
func DefaultRules() map[string]string {
	return map[string]string{
		"artifact:create":       `!subject.read_only && subject.tenant_id != ""`,
		"artifact:get":          `true`,
		"artifact:list":         `true`,
		"artifact:update":       `!subject.read_only && (subject.is_admin || subject.tenant_id == view.owner)`,
		"artifact:delete":       `!subject.read_only && (subject.is_admin || subject.tenant_id == view.owner)`,
		"artifact:publish":      `!subject.read_only && (subject.is_admin || subject.tenant_id == view.owner)`,
		"artifact:activate":     `!subject.read_only && (subject.is_admin || subject.tenant_id == view.owner)`,
		"artifact:deactivate":   `subject.is_admin`,
		"artifact:reactivate":   `subject.is_admin`,
		"artifact:upload":       `!subject.read_only && (subject.is_admin || subject.tenant_id == view.owner)`,
		"artifact:download":     `true`,
		"artifact:set_location": `!subject.read_only && (subject.is_admin || subject.tenant_id == view.owner)`,
		"artifact:delete_blob":  `!subject.read_only && (subject.is_admin || subject.tenant_id == view.owner)`,
		"artifact:set_quotas":   `subject.is_admin`,
		"artifact:list_quotas":  `subject.is_admin`,
		"artifact:list_any":     `subject.is_admin`,
	}
}

// Enforcer compiles and caches CEL rule programs.
type Enforcer struct {
	env      *cel.Env
	rules    map[string]string
	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewEnforcer builds an enforcer from the default rule set with overrides
// applied on top.
func NewEnforcer(overrides map[string]string) (*Enforcer, error) {
	env, err := cel.NewEnv(
		cel.Variable("subject", cel.DynType),
		cel.Variable("view", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}

	rules := DefaultRules()
	for action, expr := range overrides {
		rules[action] = expr
	}

	return &Enforcer{
		env:      env,
		rules:    rules,
		programs: make(map[string]cel.Program),
	}, nil
}

// Authorize evaluates the rule for action and returns Forbidden when it
// denies. view may be nil for actions that are not about one resource.
func (e *Enforcer) Authorize(action string, view map[string]any, sub Subject) error {
	prg, err := e.program(action)
	if err != nil {
		return err
	}

	if view == nil {
		view = map[string]any{}
	}

	out, _, err := prg.Eval(map[string]any{
		"subject": map[string]any{
			"tenant_id": sub.TenantID,
			"is_admin":  sub.IsAdmin,
			"read_only": sub.ReadOnly,
		},
		"view": view,
	})
	if err != nil {
		return fmt.Errorf("evaluate policy %s: %w", action, err)
	}

	allowed, ok := out.Value().(bool)
	if !ok {
		return fmt.Errorf("policy %s did not return a boolean", action)
	}
	if !allowed {
		return apperr.Forbidden("policy does not allow %s to be performed", action)
	}

	return nil
}

// Check is Authorize without the error: it reports whether the action is
// allowed, swallowing evaluation failures as a denial.
func (e *Enforcer) Check(action string, view map[string]any, sub Subject) bool {
	return e.Authorize(action, view, sub) == nil
}

func (e *Enforcer) program(action string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[action]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	expr, ok := e.rules[action]
	if !ok {
		return nil, apperr.Forbidden("no policy rule defined for %s", action)
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile policy %s: %w", action, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build policy program %s: %w", action, err)
	}

	e.mu.Lock()
	e.programs[action] = prg
	e.mu.Unlock()

	return prg, nil
}
