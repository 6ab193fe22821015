// Package tools is the registry of tools agent loops may call. Parameters
// are validated against a JSON schema generated from each definition.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/agentenv/internal/tracing"
	"github.com/harun/agentenv/pkg/provider"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

const (
	// DefaultTimeout bounds one tool invocation
	DefaultTimeout = 30 * time.Second

	maxOutputSize = 10 * 1024
)

// ErrUnknownTool is returned for a request naming no registered tool
var ErrUnknownTool = errors.New("unknown tool")

// Parameter defines one tool parameter
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Handler runs a tool
type Handler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Definition describes a tool and its handler
type Definition struct {
	Name        string
	Description string
	Parameters  []Parameter
	Handler     Handler
}

type entry struct {
	def       Definition
	schema    *gojsonschema.Schema
	schemaMap map[string]interface{}
}

// Auditor records tool executions
type Auditor interface {
	RecordTool(ctx context.Context, tool, actor, status string, metadata map[string]interface{})
}

// Registry holds tool definitions and runs tool requests
type Registry struct {
	timeout time.Duration
	logger  zerolog.Logger
	auditor Auditor

	mu    sync.RWMutex
	tools map[string]*entry
}

// Option configures a Registry
type Option func(*Registry)

// WithTimeout overrides DefaultTimeout
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the registry logger
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithAuditor records every tool execution
func WithAuditor(a Auditor) Option {
	return func(r *Registry) {
		r.auditor = a
	}
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		timeout: DefaultTimeout,
		logger:  log.Logger,
		tools:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "tools").Logger()
	return r
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return err
	}

	schemaMap := buildSchema(def)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		return fmt.Errorf("failed to build schema for %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}
	r.tools[def.Name] = &entry{def: def, schema: schema, schemaMap: schemaMap}

	r.logger.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Definitions returns the tools in name order in the provider's format
func (r *Registry) Definitions() []provider.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]provider.Tool, 0, len(names))
	for _, name := range names {
		e := r.tools[name]
		out = append(out, provider.Tool{
			Name:        e.def.Name,
			Description: e.def.Description,
			InputSchema: e.schemaMap,
		})
	}
	return out
}

// RunTool validates and runs one tool request, returning its output as text
func (r *Registry) RunTool(ctx context.Context, req provider.ToolRequest) (string, error) {
	r.mu.RLock()
	e, ok := r.tools[req.Name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, req.Name)
	}

	params := req.Parameters
	if params == nil {
		params = map[string]interface{}{}
	}
	if err := validateParameters(e.schema, params); err != nil {
		return "", fmt.Errorf("invalid parameters for %s: %w", req.Name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	output, err := e.def.Handler(ctx, params)
	duration := time.Since(start)
	logger := r.logger.With().Str("tool", req.Name).Dur("duration", duration).Logger()
	if err != nil {
		logger.Debug().Err(err).Msg("Tool failed")
		r.audit(ctx, req.Name, "failure", map[string]interface{}{"error": err.Error(), "duration_ms": duration.Milliseconds()})
		return "", err
	}
	logger.Debug().Msg("Tool completed")
	r.audit(ctx, req.Name, "success", map[string]interface{}{"duration_ms": duration.Milliseconds()})

	return render(output), nil
}

func (r *Registry) audit(ctx context.Context, tool, status string, metadata map[string]interface{}) {
	if r.auditor != nil {
		r.auditor.RecordTool(ctx, tool, tracing.GetWorkerID(ctx), status, metadata)
	}
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", def.Name)
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	seen := make(map[string]bool, len(def.Parameters))
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("tool %s: parameter name is required", def.Name)
		}
		if seen[param.Name] {
			return fmt.Errorf("tool %s: duplicate parameter %s", def.Name, param.Name)
		}
		seen[param.Name] = true
		if !validTypes[param.Type] {
			return fmt.Errorf("tool %s: invalid parameter type %s for %s", def.Name, param.Type, param.Name)
		}
	}
	return nil
}

func buildSchema(def Definition) map[string]interface{} {
	properties := make(map[string]interface{}, len(def.Parameters))
	required := []interface{}{}

	for _, param := range def.Parameters {
		properties[param.Name] = map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}

// render turns handler output into text, truncated to maxOutputSize
func render(output interface{}) string {
	var text string
	switch v := output.(type) {
	case nil:
		text = ""
	case string:
		text = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			text = fmt.Sprintf("%v", v)
		} else {
			text = string(data)
		}
	}

	if len(text) > maxOutputSize {
		text = text[:maxOutputSize] + "\n... [output truncated]"
	}
	return text
}
