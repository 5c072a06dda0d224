package guardrails

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadFromFile_Rego(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	ruleFile := filepath.Join(tmpDir, "test-rule.rego")

	regoContent := `package test.rule

# Test rule for validation

deny[msg] {
	input.policy.environment == "PRODUCTION"
	msg := "no production"
}`

	err := os.WriteFile(ruleFile, []byte(regoContent), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	rule, err := loader.loadFromFile(context.Background(), ruleFile)
	if err != nil {
		t.Fatalf("Failed to load rule: %v", err)
	}

	if rule.Name != "test-rule" {
		t.Errorf("Expected name 'test-rule', got '%s'", rule.Name)
	}
	if rule.Rego != regoContent {
		t.Error("Rego content doesn't match")
	}
	if !rule.Enabled {
		t.Error("Rule should be enabled by default")
	}
	if rule.Severity != SeverityError {
		t.Errorf("Expected severity error, got %s", rule.Severity)
	}
	if rule.Source != ruleFile {
		t.Errorf("Expected source %s, got %s", ruleFile, rule.Source)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	ruleFile := filepath.Join(tmpDir, "test-rule.json")

	rule := Rule{
		Name:        "test-json-rule",
		Description: "A test rule",
		Rego:        "package test\ndeny[msg] { false }",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"test"},
		Builtin:     true,
	}

	data, err := json.Marshal(rule)
	if err != nil {
		t.Fatalf("Failed to marshal rule: %v", err)
	}
	if err := os.WriteFile(ruleFile, data, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	loaded, err := loader.loadFromFile(context.Background(), ruleFile)
	if err != nil {
		t.Fatalf("Failed to load rule: %v", err)
	}

	if loaded.Name != rule.Name {
		t.Errorf("Expected name '%s', got '%s'", rule.Name, loaded.Name)
	}
	if loaded.Severity != SeverityWarning {
		t.Errorf("Expected severity warning, got '%s'", loaded.Severity)
	}
	if loaded.Builtin {
		t.Error("File rules must never be marked built-in")
	}
}

func TestLoadFromDirectory_Recursive(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "subdir")
	if err := os.Mkdir(subDir, 0755); err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}

	files := map[string]string{
		filepath.Join(tmpDir, "rule1.rego"): "package p1\ndeny[msg] { false }",
		filepath.Join(subDir, "rule2.rego"): "package p2\ndeny[msg] { false }",
		filepath.Join(tmpDir, "README.md"):  "# not a rule",
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write test file: %v", err)
		}
	}

	loaded, err := loader.loadFromDirectory(context.Background(), tmpDir)
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("Expected 2 rules (including subdirectory), got %d", len(loaded))
	}
}

func TestExtractDescription(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name: "single line comment",
			content: `# Blocks robots changes
package test`,
			expected: "Blocks robots changes",
		},
		{
			name: "multi line comments",
			content: `# Blocks robots changes
# outside business hours
package test`,
			expected: "Blocks robots changes outside business hours",
		},
		{
			name: "no comments",
			content: `package test
deny[msg] { false }`,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := loader.extractDescription(tt.content); got != tt.expected {
				t.Errorf("Expected description '%s', got '%s'", tt.expected, got)
			}
		})
	}
}

func TestClearCache(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	ruleFile := filepath.Join(t.TempDir(), "test.rego")
	if err := os.WriteFile(ruleFile, []byte("package test\ndeny[msg] { false }"), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	if _, err := loader.loadFromFile(context.Background(), ruleFile); err != nil {
		t.Fatalf("Failed to load rule: %v", err)
	}
	if len(loader.cache) != 1 {
		t.Errorf("Expected 1 cache entry, got %d", len(loader.cache))
	}

	loader.ClearCache()

	if len(loader.cache) != 0 {
		t.Errorf("Expected 0 cache entries after clear, got %d", len(loader.cache))
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)
	tmpDir := t.TempDir()

	unsupported := filepath.Join(tmpDir, "test.txt")
	invalidJSON := filepath.Join(tmpDir, "test.json")
	_ = os.WriteFile(unsupported, []byte("not a rule"), 0644)
	_ = os.WriteFile(invalidJSON, []byte("invalid json"), 0644)

	for _, path := range []string{unsupported, invalidJSON} {
		if _, err := loader.loadFromFile(context.Background(), path); err == nil {
			t.Errorf("Expected error loading %s", path)
		}
	}

	if _, err := loader.loadFromPath(context.Background(), "/nonexistent/path"); err == nil {
		t.Error("Expected error for non-existent path")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	dir := t.TempDir()
	path := filepath.Join(dir, "live.rego")
	if err := os.WriteFile(path, []byte("package live\ndeny[msg] { false }"), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reloads atomic.Int32
	err := loader.Watch(ctx, []string{dir}, func(rules []Rule) error {
		if len(rules) == 1 {
			reloads.Add(1)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("package live\ndeny[msg] { true; msg := \"x\" }"), 0644); err != nil {
		t.Fatalf("Failed to rewrite test file: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for reloads.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if reloads.Load() == 0 {
		t.Fatal("expected a reload after the rule file changed")
	}
}
