package policy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

// EngineOptions control OPA engine construction.
type EngineOptions struct {
	// Entrypoint is the default decision path (e.g. "vast/decision").
	Entrypoint string
	// Modules contains the Rego modules keyed by file name.
	Modules map[string]string
}

// Engine evaluates URL admission decisions with an embedded OPA instance.
type Engine struct {
	moduleOrder   []string
	parsedModules map[string]*ast.Module
	entrypoint    string
	queries       map[string]*rego.PreparedEvalQuery
	mu            sync.RWMutex
}

const defaultEntrypoint = "vast/decision"

// NewEngine parses the modules and compiles the default entrypoint so syntax
// errors surface at construction time.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	entry := strings.TrimSpace(opts.Entrypoint)
	if entry == "" {
		entry = defaultEntrypoint
	}

	if len(opts.Modules) == 0 {
		return nil, errors.New("policy engine requires at least one rego module")
	}

	moduleOrder := make([]string, 0, len(opts.Modules))
	for name := range opts.Modules {
		moduleOrder = append(moduleOrder, name)
	}
	sort.Strings(moduleOrder)

	parsedModules := make(map[string]*ast.Module, len(opts.Modules))
	for _, name := range moduleOrder {
		module, err := ast.ParseModuleWithOpts(name, opts.Modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		parsedModules[name] = module
	}

	engine := &Engine{
		moduleOrder:   moduleOrder,
		parsedModules: parsedModules,
		entrypoint:    entry,
		queries:       make(map[string]*rego.PreparedEvalQuery),
	}

	if _, err := engine.getPreparedQuery(ctx, entry); err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}

	return engine, nil
}

// Evaluate runs the policy for input. A policy that produces no result allows
// the URL.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	entry := strings.TrimSpace(input.Entrypoint)
	if entry == "" {
		entry = e.entrypoint
	}

	prepared, err := e.getPreparedQuery(ctx, entry)
	if err != nil {
		return Decision{}, fmt.Errorf("prepare query: %w", err)
	}

	results, err := prepared.Eval(ctx, rego.EvalInput(inputPayload(input)))
	if err != nil {
		return Decision{}, fmt.Errorf("opa decision: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Allow: true, Metadata: map[string]string{}}, nil
	}

	return parseDecision(results[0].Expressions[0].Value)
}

func (e *Engine) getPreparedQuery(ctx context.Context, entry string) (*rego.PreparedEvalQuery, error) {
	e.mu.RLock()
	if prepared, ok := e.queries[entry]; ok {
		e.mu.RUnlock()
		return prepared, nil
	}
	e.mu.RUnlock()

	query := "data." + strings.ReplaceAll(entry, "/", ".")

	opts := make([]func(*rego.Rego), 0, len(e.parsedModules)+1)
	opts = append(opts, rego.Query(query))
	for _, name := range e.moduleOrder {
		opts = append(opts, rego.ParsedModule(e.parsedModules[name]))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Another goroutine may have already prepared the query; respect first entry.
	if existing, ok := e.queries[entry]; ok {
		return existing, nil
	}

	e.queries[entry] = &prepared
	return &prepared, nil
}

func inputPayload(input Input) map[string]any {
	payload := map[string]any{
		"url":              input.URL,
		"timeout_ms":       input.TimeoutMS,
		"send_credentials": input.SendCredentials,
	}
	if u, err := url.Parse(input.URL); err == nil {
		query := make(map[string]any, len(u.Query()))
		for k, v := range u.Query() {
			query[k] = append([]string(nil), v...)
		}
		payload["scheme"] = u.Scheme
		payload["host"] = u.Hostname()
		payload["path"] = u.Path
		payload["query"] = query
	}
	return payload
}

func parseDecision(value any) (Decision, error) {
	switch typed := value.(type) {
	case bool:
		return Decision{Allow: typed, Metadata: map[string]string{}}, nil
	case map[string]any:
		allow := true
		if raw, ok := typed["allow"]; ok {
			b, ok := raw.(bool)
			if !ok {
				return Decision{}, fmt.Errorf("opa decision: allow must be bool, got %T", raw)
			}
			allow = b
		}
		reason, _ := typed["reason"].(string)
		return Decision{Allow: allow, Reason: reason, Metadata: parseMetadata(typed["metadata"])}, nil
	default:
		return Decision{}, fmt.Errorf("opa decision: unexpected result type %T", value)
	}
}

func parseMetadata(value any) map[string]string {
	result := map[string]string{}
	raw, ok := value.(map[string]any)
	if !ok {
		return result
	}
	for key, v := range raw {
		if str, ok := v.(string); ok {
			result[key] = str
		}
	}
	return result
}
