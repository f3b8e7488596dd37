// Package templates resolves a document kind to its layout and style
// templates.
//
// Templates are looked up by name in a configured directory first and then in
// the defaults embedded in the binary. Parsed templates are cached until
// Invalidate is called, typically by Watch.
package templates

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/issuer"
)

//go:embed defaults/*.tmpl
var embedded embed.FS

const (
	StructureSuffix = ".layout.yaml.tmpl"
	StyleSuffix     = ".style.yaml.tmpl"
)

// Override names the templates to use for one kind instead of the convention.
type Override struct {
	Structure string `yaml:"structure"`
	Style     string `yaml:"style"`
}

// Pair is the resolved structure and style templates of one kind.
type Pair struct {
	Kind      string
	Structure *template.Template
	Style     *template.Template
}

// Resolver maps kinds to template pairs. It is safe for concurrent use.
type Resolver struct {
	root      string
	fsys      fs.FS
	overrides map[string]Override
	logger    *slog.Logger

	mu    sync.RWMutex
	cache map[string]*template.Template
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRoot layers dir over the embedded defaults. A missing directory is
// ignored.
func WithRoot(dir string) Option {
	return func(r *Resolver) { r.root = dir }
}

// WithOverrides sets per-kind template names, keyed by qualified kind.
func WithOverrides(o map[string]Override) Option {
	return func(r *Resolver) { r.overrides = o }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver builds a resolver over the embedded defaults.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		logger: slog.Default(),
		cache:  make(map[string]*template.Template),
	}
	for _, opt := range opts {
		opt(r)
	}

	defaults, err := fs.Sub(embedded, "defaults")
	if err != nil {
		panic(fmt.Sprintf("templates: embedded defaults: %v", err))
	}
	layers := layered{}
	if r.root != "" {
		if info, err := os.Stat(r.root); err == nil && info.IsDir() {
			layers = append(layers, os.DirFS(r.root))
		} else {
			r.logger.Warn("templates: root ignored", slog.String("root", r.root))
			r.root = ""
		}
	}
	r.fsys = append(layers, defaults)
	return r
}

// Root returns the disk layer directory, empty when only defaults are used.
func (r *Resolver) Root() string {
	return r.root
}

// Names returns the template names each kind resolves to, without parsing.
func (r *Resolver) Names(def *issuer.Definition) (structure, style string) {
	base := BaseName(def.Kind)
	structure, style = base+StructureSuffix, base+StyleSuffix
	if def.StructureTemplate != "" {
		structure = def.StructureTemplate
	}
	if def.StyleTemplate != "" {
		style = def.StyleTemplate
	}
	if o, ok := r.overrides[def.Kind]; ok {
		if o.Structure != "" {
			structure = o.Structure
		}
		if o.Style != "" {
			style = o.Style
		}
	}
	return structure, style
}

// Resolve returns the parsed template pair for def.
func (r *Resolver) Resolve(def *issuer.Definition) (Pair, error) {
	structure, style := r.Names(def)
	st, err := r.load(def.Kind, structure)
	if err != nil {
		return Pair{}, err
	}
	sy, err := r.load(def.Kind, style)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Kind: def.Kind, Structure: st, Style: sy}, nil
}

func (r *Resolver) load(kind, name string) (*template.Template, error) {
	r.mu.RLock()
	t, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	if !fs.ValidPath(name) {
		return nil, &apperr.TemplateNotFoundError{Kind: kind, Name: name}
	}
	src, err := fs.ReadFile(r.fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &apperr.TemplateNotFoundError{Kind: kind, Name: name}
	}
	if err != nil {
		return nil, fmt.Errorf("templates: read %s: %w", name, err)
	}
	t, err = template.New(name).Funcs(Funcs()).Option("missingkey=error").Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("templates: parse %s: %w", name, err)
	}

	r.mu.Lock()
	r.cache[name] = t
	r.mu.Unlock()
	return t, nil
}

// Invalidate drops the named templates from the cache, or every template when
// called without names.
func (r *Resolver) Invalidate(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(names) == 0 {
		clear(r.cache)
		return
	}
	for _, n := range names {
		delete(r.cache, n)
	}
}

// Available lists every template name visible through both layers.
func (r *Resolver) Available() ([]string, error) {
	seen := make(map[string]struct{})
	for _, layer := range r.fsys.(layered) {
		err := fs.WalkDir(layer, ".", func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(p, ".tmpl") {
				seen[p] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("templates: list: %w", err)
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

var (
	nonAlnum   = regexp.MustCompile(`[^a-z0-9]+`)
	kindSuffix = []string{"-document", "_document", "-certificate", "_certificate"}
)

// BaseName derives the template base name of a qualified kind:
// "howard.realisation-certificate" → "realisation".
func BaseName(kind string) string {
	name := strings.ToLower(kind)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	for _, s := range kindSuffix {
		if trimmed, ok := strings.CutSuffix(name, s); ok && trimmed != "" {
			name = trimmed
			break
		}
	}
	return strings.Trim(nonAlnum.ReplaceAllString(name, "-"), "-")
}

// layered opens name from the first filesystem that has it.
type layered []fs.FS

func (l layered) Open(name string) (fs.File, error) {
	for _, layer := range l {
		f, err := layer.Open(name)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}
