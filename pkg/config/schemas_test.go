package config

import (
	"context"
	"testing"

	"github.com/seoagent/governor/pkg/policy"
)

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	sr := NewSchemaRegistry()

	customSchema := `
#CustomType: {
	field1: string
	field2: int
}
`

	err := sr.RegisterSchema("custom", customSchema, "#CustomType")
	if err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	schema, ok := sr.GetSchema("custom")
	if !ok {
		t.Fatal("expected to find custom schema")
	}

	if schema.Err() != nil {
		t.Errorf("schema has errors: %v", schema.Err())
	}

	names := sr.ListSchemas()
	if len(names) != 2 || names[0] != "custom" || names[1] != "policy_entry" {
		t.Errorf("ListSchemas() = %v", names)
	}
}

func TestSchemaRegistry_RegisterInvalid(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.RegisterSchema("broken", `#A: {`, "#A"); err == nil {
		t.Error("expected compile error")
	}
	if err := sr.RegisterSchema("nodef", `#A: {x: int}`, "#B"); err == nil {
		t.Error("expected missing definition error")
	}
}

func TestSchemaRegistry_ValidatePolicyEntry(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	env := func(e policy.Environment) *policy.Environment { return &e }
	scope := func(s policy.Scope) *policy.Scope { return &s }
	intp := func(v int) *int { return &v }

	tests := []struct {
		name    string
		entry   policy.PolicyPatch
		wantErr bool
	}{
		{
			name:    "empty entry",
			entry:   policy.PolicyPatch{},
			wantErr: false,
		},
		{
			name: "valid entry",
			entry: policy.PolicyPatch{
				Environment:    env(policy.EnvironmentStaging),
				MaxPages:       intp(10),
				AllowedDomains: []string{"example.com", "shop.example.org"},
				BlastRadius: &policy.BlastRadiusPatch{
					Scope:            scope(policy.ScopeSection),
					MaxAffectedPages: intp(10),
				},
			},
			wantErr: false,
		},
		{
			name:    "invalid environment",
			entry:   policy.PolicyPatch{Environment: env("LIVE")},
			wantErr: true,
		},
		{
			name:    "negative limit",
			entry:   policy.PolicyPatch{MaxPatches: intp(-1)},
			wantErr: true,
		},
		{
			name: "invalid scope",
			entry: policy.PolicyPatch{
				BlastRadius: &policy.BlastRadiusPatch{Scope: scope("everything")},
			},
			wantErr: true,
		},
		{
			name:    "domain with scheme",
			entry:   policy.PolicyPatch{AllowedDomains: []string{"https://example.com"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidatePolicyEntry(ctx, tt.entry)

			if tt.wantErr {
				if err == nil {
					t.Error("expected validation error, got none")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected validation error: %v", err)
				}
			}
		})
	}
}

func TestSchemaRegistry_UnknownSchema(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.ValidateAgainstSchema(context.Background(), "missing", map[string]string{}); err == nil {
		t.Error("expected error for unknown schema")
	}
}
