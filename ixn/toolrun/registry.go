package toolrun

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	radix "github.com/armon/go-radix"
	"github.com/invopop/jsonschema"
	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"

	"github.com/voxhollow/interactions-go/ixn/model"
	ports "github.com/voxhollow/interactions-go/ixn/ports"
)

// Handler executes one tool invocation. The returned value becomes the
// result payload: strings pass through, anything else is JSON-marshaled.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Definition describes one registered tool.
type Definition struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
	Handler     Handler
}

// GenerateSchema derives a JSON schema for a tool's input struct. Use
// jsonschema tags on the struct fields to describe them.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)
	// The validator speaks draft-07 at best; omit the dialect header.
	schema.Version = ""
	return schema
}

type registryEntry struct {
	def      Definition
	schema   json.RawMessage
	compiled *gojsonschema.Schema
}

// Registry is the default ToolExecutor: a set of typed tool definitions
// with argument validation and prefix-based allowlisting.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*registryEntry
	allow    *radix.Tree
	validate bool
}

var _ ports.ToolExecutor = (*Registry)(nil)

// NewRegistry returns an empty registry with argument validation enabled.
func NewRegistry() *Registry {
	return &Registry{
		entries:  make(map[string]*registryEntry),
		validate: true,
	}
}

// SetArgumentValidation toggles schema validation of incoming arguments.
func (r *Registry) SetArgumentValidation(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validate = enabled
}

// Register adds a tool. The schema, when present, is compiled once here
// so Execute does not pay for it per call.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s requires a handler", def.Name)
	}

	entry := &registryEntry{def: def}
	if def.InputSchema != nil {
		raw, err := json.Marshal(def.InputSchema)
		if err != nil {
			return fmt.Errorf("failed to marshal schema for tool %s: %w", def.Name, err)
		}
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return fmt.Errorf("failed to compile schema for tool %s: %w", def.Name, err)
		}
		entry.schema = raw
		entry.compiled = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}
	r.entries[def.Name] = entry
	return nil
}

// Allow restricts execution to tools whose names start with one of the
// given prefixes. With no prefixes registered, every tool is allowed.
func (r *Registry) Allow(prefixes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.allow == nil {
		r.allow = radix.New()
	}
	for _, p := range prefixes {
		r.allow.Insert(p, struct{}{})
	}
}

// allowed must be called with r.mu held.
func (r *Registry) allowed(name string) bool {
	if r.allow == nil || r.allow.Len() == 0 {
		return true
	}
	_, _, ok := r.allow.LongestPrefix(name)
	return ok
}

// Specs returns the advertised tool specs, sorted by name, for use in a
// create request.
func (r *Registry) Specs() []ports.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ports.ToolSpec, 0, len(r.entries))
	for name, entry := range r.entries {
		specs = append(specs, ports.ToolSpec{
			Name:        name,
			Description: entry.def.Description,
			InputSchema: entry.schema,
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Execute runs the named tool against the call's arguments. Lookup,
// allowlist, and validation failures are returned as errors; the
// coordinator decides whether they degrade or abort the batch.
func (r *Registry) Execute(ctx context.Context, call model.FunctionCallBlock) (model.FunctionResultBlock, error) {
	r.mu.RLock()
	entry, ok := r.entries[call.Name]
	validate := r.validate
	allowed := r.allowed(call.Name)
	r.mu.RUnlock()

	if !ok {
		return model.FunctionResultBlock{}, fmt.Errorf("unknown tool: %s", call.Name)
	}
	if !allowed {
		return model.FunctionResultBlock{}, fmt.Errorf("tool %s is not allowlisted", call.Name)
	}

	args := call.Arguments
	if args == "" {
		args = "{}"
	}
	if !gjson.Valid(args) {
		return model.FunctionResultBlock{}, fmt.Errorf("tool %s arguments are not valid JSON", call.Name)
	}
	if validate && entry.compiled != nil {
		result, err := entry.compiled.Validate(gojsonschema.NewStringLoader(args))
		if err != nil {
			return model.FunctionResultBlock{}, fmt.Errorf("failed to validate arguments for tool %s: %w", call.Name, err)
		}
		if !result.Valid() {
			msgs := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				msgs = append(msgs, e.String())
			}
			return model.FunctionResultBlock{}, fmt.Errorf("tool %s arguments rejected by schema: %s", call.Name, strings.Join(msgs, "; "))
		}
	}

	out, err := entry.def.Handler(ctx, json.RawMessage(args))
	if err != nil {
		return model.FunctionResultBlock{}, fmt.Errorf("tool %s failed: %w", call.Name, err)
	}

	var content string
	switch v := out.(type) {
	case nil:
		content = ""
	case string:
		content = v
	case json.RawMessage:
		content = string(v)
	default:
		raw, err := json.Marshal(out)
		if err != nil {
			return model.FunctionResultBlock{}, fmt.Errorf("failed to marshal output of tool %s: %w", call.Name, err)
		}
		content = string(raw)
	}
	return model.NewFunctionResult(call.ID, call.Name, content), nil
}
