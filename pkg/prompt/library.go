package prompt

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Role selects the system or user template of a path.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

type document struct {
	Prompts map[string]struct {
		System string `yaml:"system"`
		User   string `yaml:"user"`
	} `yaml:"prompts"`
}

type entry struct {
	system *template.Template
	user   *template.Template
}

// Library holds compiled prompt templates keyed by state path.
type Library struct {
	mu      sync.RWMutex
	entries map[string]entry
	base    [][]byte
	dir     string
	logger  zerolog.Logger
}

// Option configures a Library.
type Option func(*Library)

// WithLogger sets the library logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Library) {
		l.logger = logger
	}
}

// WithOverrideDir overlays every YAML file in dir on top of the base
// documents.
func WithOverrideDir(dir string) Option {
	return func(l *Library) {
		l.dir = dir
	}
}

// New compiles a library from base documents and the optional override dir.
func New(base [][]byte, opts ...Option) (*Library, error) {
	l := &Library{
		base:   base,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Parse compiles a library from a single document.
func Parse(data []byte) (*Library, error) {
	return New([][]byte{data})
}

// Reload recompiles the base documents and the override dir. The previous
// templates stay in place when compilation fails.
func (l *Library) Reload() error {
	entries := make(map[string]entry)

	for i, data := range l.base {
		if err := compileInto(entries, data, fmt.Sprintf("base[%d]", i)); err != nil {
			return err
		}
	}

	if l.dir != "" {
		files, err := overrideFiles(l.dir)
		if err != nil {
			return err
		}
		for _, file := range files {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read prompt file: %w", err)
			}
			if err := compileInto(entries, data, file); err != nil {
				return err
			}
		}
	}

	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()

	l.logger.Debug().Int("paths", len(entries)).Msg("Prompt library loaded")
	return nil
}

// Dir returns the override directory.
func (l *Library) Dir() string {
	return l.dir
}

// System renders the system prompt for path.
func (l *Library) System(path string, vars map[string]any) (string, error) {
	return l.Render(path, RoleSystem, vars)
}

// User renders the user prompt for path.
func (l *Library) User(path string, vars map[string]any) (string, error) {
	return l.Render(path, RoleUser, vars)
}

// Render fills the template registered for path and role.
func (l *Library) Render(path string, role Role, vars map[string]any) (string, error) {
	tmpl, err := l.lookup(normalize(path), role)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render %s prompt for %s: %w", role, path, err)
	}
	return buf.String(), nil
}

// Paths returns the registered paths in sorted order.
func (l *Library) Paths() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	paths := make([]string, 0, len(l.entries))
	for path := range l.entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func (l *Library) lookup(path string, role Role) (*template.Template, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for p := path; ; {
		if e, ok := l.entries[p]; ok {
			tmpl := e.user
			if role == RoleSystem {
				tmpl = e.system
			}
			if tmpl != nil {
				return tmpl, nil
			}
		}

		i := strings.LastIndex(p, "/")
		if i < 0 {
			break
		}
		p = p[:i]
	}

	return nil, fmt.Errorf("%w: %s prompt for %s", ErrPromptNotFound, role, path)
}

func compileInto(entries map[string]entry, data []byte, source string) error {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse prompt library %s: %w", source, err)
	}
	if doc.Prompts == nil {
		return fmt.Errorf("%w: %s has no prompts", ErrInvalidLibrary, source)
	}

	for path, p := range doc.Prompts {
		key := normalize(path)
		e := entries[key]

		if p.System != "" {
			tmpl, err := newTemplate(key+"#system", p.System)
			if err != nil {
				return fmt.Errorf("compile %s: %w", source, err)
			}
			e.system = tmpl
		}
		if p.User != "" {
			tmpl, err := newTemplate(key+"#user", p.User)
			if err != nil {
				return fmt.Errorf("compile %s: %w", source, err)
			}
			e.user = tmpl
		}

		entries[key] = e
	}
	return nil
}

func newTemplate(name, text string) (*template.Template, error) {
	return template.New(name).Option("missingkey=error").Parse(text)
}

func overrideFiles(dir string) ([]string, error) {
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("list prompt files: %w", err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

func normalize(path string) string {
	return strings.Trim(strings.ReplaceAll(path, ".", "/"), "/")
}

func isPromptFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
