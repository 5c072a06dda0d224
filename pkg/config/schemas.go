package config

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/seoagent/governor/pkg/policy"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema("policy_entry", builtinPolicyEntrySchema, "#PolicyEntry"); err != nil {
		panic(fmt.Sprintf("built-in schema is invalid: %v", err))
	}

	return sr
}

// RegisterSchema compiles source and registers its definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, source, definition string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definition))
	if err := def.Err(); err != nil {
		return fmt.Errorf("schema %s has no definition %s: %w", name, definition, err)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema. data is
// encoded through its JSON form so that omitempty fields stay absent.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	dataVal := sr.ctx.CompileBytes(raw)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ValidatePolicyEntry validates a catalog entry against #PolicyEntry.
func (sr *SchemaRegistry) ValidatePolicyEntry(ctx context.Context, entry policy.PolicyPatch) error {
	return sr.ValidateAgainstSchema(ctx, "policy_entry", entry)
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinPolicyEntrySchema = `
// Partial policy for one action type. Absent fields keep the built-in value.
#PolicyEntry: {
	environment?: "DRY_RUN" | "STAGING" | "PRODUCTION"

	// Zero means the limit is not enforced.
	max_pages?:   int & >=0
	max_patches?: int & >=0
	timeout_ms?:  int & >=0

	requires_approval?: bool
	respect_robots?:    bool

	blast_radius?: {
		scope?:              "single_page" | "section" | "site_wide"
		max_affected_pages?: int & >=0
		risk_level?:         "low" | "medium" | "high"
		rollback_required?:  bool
	}

	// Registrable domains, lowercase, no scheme.
	allowed_domains?: [...string & =~"^[a-z0-9]([a-z0-9.-]*[a-z0-9])?$"]
}
`
