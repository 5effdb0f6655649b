// Package template renders notification subjects and bodies from a set of
// html/template files keyed by template name.
//
// Each template file defines a "subject" block and a "body" block. The
// defaults are embedded in the binary; an optional directory can override
// or extend them per deployment.
package template

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

//go:embed templates/*.tmpl
var defaultFS embed.FS

var ErrUnknownTemplate = errors.New("unknown template key")

// Renderer resolves template keys to rendered subject/body pairs.
// Safe for concurrent use.
type Renderer struct {
	mu  sync.RWMutex
	set map[string]*template.Template
}

// New builds a renderer from the embedded defaults, then overlays any
// *.tmpl files found in overrideDir (empty means embedded only).
func New(overrideDir string) (*Renderer, error) {
	r := &Renderer{set: map[string]*template.Template{}}

	if err := r.loadFS(defaultFS, "templates"); err != nil {
		return nil, fmt.Errorf("template: embedded defaults: %w", err)
	}
	if dir := strings.TrimSpace(overrideDir); dir != "" {
		if err := r.loadFS(os.DirFS(dir), "."); err != nil {
			return nil, fmt.Errorf("template: override dir %q: %w", dir, err)
		}
	}
	return r, nil
}

func (r *Renderer) loadFS(fsys fs.FS, root string) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tmpl") {
			continue
		}
		b, err := fs.ReadFile(fsys, filepath.Join(root, e.Name()))
		if err != nil {
			return err
		}
		key := strings.TrimSuffix(e.Name(), ".tmpl")
		t, err := template.New(key).Parse(string(b))
		if err != nil {
			return fmt.Errorf("parse %s: %w", e.Name(), err)
		}
		r.mu.Lock()
		r.set[key] = t
		r.mu.Unlock()
	}
	return nil
}

// Keys lists the known template keys.
func (r *Renderer) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.set))
	for k := range r.set {
		out = append(out, k)
	}
	return out
}

// Render executes the template's subject and body blocks with the given
// placeholders. A missing key or a missing block is an error; the caller
// treats it as fatal to that single execution only.
func (r *Renderer) Render(key string, placeholders map[string]string) (subject, body string, err error) {
	r.mu.RLock()
	t, ok := r.set[key]
	r.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownTemplate, key)
	}

	var sb, bb strings.Builder
	if err := t.ExecuteTemplate(&sb, "subject", placeholders); err != nil {
		return "", "", fmt.Errorf("template %q subject: %w", key, err)
	}
	if err := t.ExecuteTemplate(&bb, "body", placeholders); err != nil {
		return "", "", fmt.Errorf("template %q body: %w", key, err)
	}
	return strings.TrimSpace(sb.String()), bb.String(), nil
}
