package guardrails

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDelay debounces bursts of file events into one reload.
const reloadDelay = 500 * time.Millisecond

// Loader reads guardrail rules from .rego and .json files.
type Loader struct {
	logger  zerolog.Logger
	cache   map[string]*Rule
	mu      sync.RWMutex
	watcher *fsnotify.Watcher
}

// NewLoader creates a new rule loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "guardrail-loader").Logger(),
		cache:  make(map[string]*Rule),
	}
}

// LoadFromPaths loads rules from a list of file or directory paths.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Rule, error) {
	var all []Rule

	for _, path := range paths {
		rules, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		all = append(all, rules...)
	}

	l.logger.Info().
		Int("total", len(all)).
		Int("sources", len(paths)).
		Msg("Rules loaded from paths")

	return all, nil
}

// loadFromPath loads rules from a single path (file or directory).
func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Rule, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	if info.IsDir() {
		return l.loadFromDirectory(ctx, path)
	}

	rule, err := l.loadFromFile(ctx, path)
	if err != nil {
		return nil, err
	}

	return []Rule{*rule}, nil
}

// loadFromDirectory loads all rule files from a directory recursively.
// Unreadable files are skipped.
func (l *Loader) loadFromDirectory(ctx context.Context, dirPath string) ([]Rule, error) {
	var rules []Rule

	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isRuleFile(path) {
			return nil
		}

		rule, err := l.loadFromFile(ctx, path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to load rule file")
			return nil
		}

		rules = append(rules, *rule)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return rules, nil
}

// loadFromFile loads a rule from a single file.
func (l *Loader) loadFromFile(_ context.Context, filePath string) (*Rule, error) {
	l.mu.RLock()
	if cached, exists := l.cache[filePath]; exists {
		l.mu.RUnlock()
		return cached, nil
	}
	l.mu.RUnlock()

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var rule *Rule
	switch {
	case strings.HasSuffix(filePath, ".rego"):
		rule = l.parseRegoFile(filePath, data)
	case strings.HasSuffix(filePath, ".json"):
		rule, err = l.parseJSONFile(filePath, data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filePath)
	}

	l.mu.Lock()
	l.cache[filePath] = rule
	l.mu.Unlock()

	l.logger.Debug().
		Str("path", filePath).
		Str("rule", rule.Name).
		Msg("Rule loaded from file")

	return rule, nil
}

// parseRegoFile turns a .rego file into a blocking rule named after the file.
func (l *Loader) parseRegoFile(filePath string, data []byte) *Rule {
	name := strings.TrimSuffix(filepath.Base(filePath), ".rego")

	return &Rule{
		Name:        name,
		Description: l.extractDescription(string(data)),
		Rego:        string(data),
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{},
		Source:      filePath,
		UpdatedAt:   time.Now(),
	}
}

// parseJSONFile parses a JSON rule definition.
func (l *Loader) parseJSONFile(filePath string, data []byte) (*Rule, error) {
	var rule Rule
	if err := json.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("failed to parse JSON rule: %w", err)
	}
	if rule.Name == "" {
		rule.Name = strings.TrimSuffix(filepath.Base(filePath), ".json")
	}
	if rule.Severity == "" {
		rule.Severity = SeverityError
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = time.Now()
	}
	rule.Source = filePath
	rule.Builtin = false

	return &rule, nil
}

// extractDescription collects the leading comment block of a Rego file.
func (l *Loader) extractDescription(content string) string {
	var description strings.Builder

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			if comment != "" {
				if description.Len() > 0 {
					description.WriteString(" ")
				}
				description.WriteString(comment)
			}
		} else if trimmed != "" {
			break
		}
	}

	return description.String()
}

// Watch starts watching paths and calls reloadFn with the full rule set after
// any rule file is written or created.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Rule) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	l.watcher = watcher

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}

		if info.IsDir() {
			if err := l.watchDirectory(path); err != nil {
				l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch directory")
			}
		} else if err := watcher.Add(path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch file")
		}
	}

	go l.processEvents(ctx, watcher, paths, reloadFn)

	l.logger.Info().
		Int("paths", len(paths)).
		Msg("Started watching rule paths")

	return nil
}

// watchDirectory adds a directory tree to the watcher.
func (l *Loader) watchDirectory(dirPath string) error {
	return filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return l.watcher.Add(path)
		}
		return nil
	})
}

// processEvents handles file system events and triggers debounced reloads.
func (l *Loader) processEvents(ctx context.Context, watcher *fsnotify.Watcher, paths []string, reloadFn func([]Rule) error) {
	var reloadTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !isRuleFile(event.Name) {
				continue
			}

			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Rule file changed")

			l.mu.Lock()
			delete(l.cache, event.Name)
			l.mu.Unlock()

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := l.triggerReload(ctx, paths, reloadFn); err != nil {
					l.logger.Error().Err(err).Msg("Failed to reload rules")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// triggerReload reloads all rules from the watched paths.
func (l *Loader) triggerReload(ctx context.Context, paths []string, reloadFn func([]Rule) error) error {
	l.logger.Info().Msg("Reloading rules...")

	rules, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to reload rules: %w", err)
	}

	if err := reloadFn(rules); err != nil {
		return fmt.Errorf("failed to apply reloaded rules: %w", err)
	}

	l.logger.Info().
		Int("count", len(rules)).
		Msg("Rules reloaded successfully")

	return nil
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// ClearCache clears the rule cache.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache = make(map[string]*Rule)
	l.logger.Debug().Msg("Rule cache cleared")
}

func isRuleFile(path string) bool {
	return strings.HasSuffix(path, ".rego") || strings.HasSuffix(path, ".json")
}
