package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/user/aichat/internal/transport"
)

var (
	ErrDuplicateTool = errors.New("tool already registered")
	ErrNotConfigured = errors.New("github token is not configured")
)

// NotConfiguredMessage is returned instead of calling a tool whose
// credentials are missing.
const NotConfiguredMessage = "GitHub token is not configured. Add a token with repo scope and try again."

type Param struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

type Descriptor struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Parameters  map[string]Param `json:"parameters"`
}

// Result is the only tool output that goes back into a conversation.
type Result struct {
	Text    string
	IsError bool
}

func textResult(format string, args ...any) Result {
	return Result{Text: fmt.Sprintf(format, args...)}
}

func errorResult(format string, args ...any) Result {
	return Result{Text: "Error: " + fmt.Sprintf(format, args...), IsError: true}
}

type Tool struct {
	Descriptor
	Execute func(ctx context.Context, args map[string]any) Result
}

type Registry struct {
	order []string
	tools map[string]Tool
	check func() error
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) error {
	name := strings.TrimSpace(t.Name)
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if t.Execute == nil {
		return fmt.Errorf("tool %s: execute is required", name)
	}
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	t.Name = name
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Require installs a precondition checked before every dispatch and by
// Ready.
func (r *Registry) Require(check func() error) {
	r.check = check
}

func (r *Registry) Ready() error {
	if r == nil || r.check == nil {
		return nil
	}
	return r.check()
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

// Describe returns descriptors in registration order.
func (r *Registry) Describe() []Descriptor {
	if r == nil {
		return nil
	}
	defs := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		params := make(map[string]Param, len(t.Parameters))
		for k, v := range t.Parameters {
			params[k] = v
		}
		defs = append(defs, Descriptor{Name: t.Name, Description: t.Description, Parameters: params})
	}
	return defs
}

// JSONSchemas renders the descriptors as function tool declarations.
func (r *Registry) JSONSchemas() []transport.ToolSpec {
	defs := r.Describe()
	specs := make([]transport.ToolSpec, 0, len(defs))
	for _, d := range defs {
		required := make([]string, 0)
		properties := make(map[string]any, len(d.Parameters))
		for key, p := range d.Parameters {
			properties[key] = map[string]any{
				"type":        p.Type,
				"description": p.Description,
			}
			if p.Required {
				required = append(required, key)
			}
		}
		sort.Strings(required)
		specs = append(specs, transport.ToolSpec{
			Type: "function",
			Function: transport.ToolFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters: map[string]any{
					"type":       "object",
					"properties": properties,
					"required":   required,
				},
			},
		})
	}
	return specs
}

// Dispatch validates args against the named tool's parameters and runs it.
// Every failure is reported as a Result.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) Result {
	name = strings.TrimSpace(name)
	t, ok := r.tools[name]
	if !ok {
		return errorResult("unknown tool %q. Available tools: %s", name, strings.Join(r.order, ", "))
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := validateArguments(t.Parameters, args); err != nil {
		return errorResult("invalid arguments for %s: %v", name, err)
	}
	if err := r.Ready(); err != nil {
		return Result{Text: NotConfiguredMessage, IsError: true}
	}
	return t.Execute(ctx, args)
}

// DispatchCall is Dispatch for a parsed model tool call.
func (r *Registry) DispatchCall(ctx context.Context, call transport.ToolCall) Result {
	if call.Malformed {
		if _, ok := r.tools[strings.TrimSpace(call.Name)]; ok {
			return errorResult("invalid arguments for %s: arguments are not a JSON object", call.Name)
		}
	}
	return r.Dispatch(ctx, call.Name, call.Arguments)
}

func validateArguments(params map[string]Param, args map[string]any) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		p := params[key]
		v, present := args[key]
		if !present || v == nil {
			if p.Required {
				return fmt.Errorf("missing required argument %q", key)
			}
			continue
		}
		if !matchesType(p.Type, v) {
			return fmt.Errorf("argument %q must be %s", key, p.Type)
		}
		if s, ok := v.(string); ok && p.Required && strings.TrimSpace(s) == "" {
			return fmt.Errorf("missing required argument %q", key)
		}
	}
	return nil
}

func matchesType(want string, v any) bool {
	switch want {
	case "", "any":
		return true
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "integer":
		switch n := v.(type) {
		case int, int64:
			return true
		case float64:
			return n == math.Trunc(n)
		}
		return false
	case "number":
		switch v.(type) {
		case int, int64, float64:
			return true
		}
		return false
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}

func requiredString(args map[string]any, key string) (string, error) {
	v, err := optionalString(args, key)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return strings.TrimSpace(v), nil
}

func optionalString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}

func optionalInt(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("%s must be a number", key)
	}
}

func optionalBool(args map[string]any, key string) (bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return b, nil
}
