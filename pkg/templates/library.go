// Package templates keeps a library of reusable plan fragments on disk. Every template
// is a plan document; instantiating one yields a fresh, detached copy that can be
// inserted anywhere in a tree.
package templates

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/skyrun/pkg/plan"
	"github.com/openfroyo/skyrun/pkg/sequencer"
)

// ErrNotFound is returned for names missing from the library.
var ErrNotFound = errors.New("template not found")

// Template is one loaded template.
type Template struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Path        string         `json:"path"`
	Document    *plan.Document `json:"-"`

	prototype sequencer.Item
}

// Library holds the templates of one directory.
type Library struct {
	dir     string
	decoder *plan.Decoder
	logger  zerolog.Logger

	mu        sync.RWMutex
	templates map[string]*Template
}

// NewLibrary creates an empty library over dir. Call Load to read it.
func NewLibrary(dir string, decoder *plan.Decoder, logger zerolog.Logger) *Library {
	return &Library{
		dir:       dir,
		decoder:   decoder,
		logger:    logger.With().Str("component", "templates").Logger(),
		templates: make(map[string]*Template),
	}
}

// Dir returns the library directory.
func (l *Library) Dir() string { return l.dir }

// Load reads every template file of the directory and replaces the library content.
// Files that fail to decode are logged and left out.
func (l *Library) Load() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("failed to read template directory: %w", err)
	}

	loaded := make(map[string]*Template)
	for _, entry := range entries {
		if entry.IsDir() || !isTemplateFile(entry.Name()) {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		tpl, err := l.loadFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to load template")
			continue
		}
		if prev, exists := loaded[tpl.Name]; exists {
			l.logger.Warn().
				Str("template", tpl.Name).
				Str("path", path).
				Str("previous", prev.Path).
				Msg("Duplicate template name, keeping the first")
			continue
		}
		loaded[tpl.Name] = tpl
	}

	l.mu.Lock()
	l.templates = loaded
	l.mu.Unlock()

	l.logger.Info().Int("count", len(loaded)).Str("dir", l.dir).Msg("Templates loaded")
	return nil
}

func (l *Library) loadFile(path string) (*Template, error) {
	doc, err := plan.ReadFile(path)
	if err != nil {
		return nil, err
	}
	root, err := l.decoder.Decode(doc)
	if err != nil {
		return nil, err
	}

	name := doc.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	// A template with a single item and nothing around it is that item; anything else
	// becomes a sequential container.
	var prototype sequencer.Item
	children := root.Items()
	if len(children) == 1 && len(root.Conditions()) == 0 && len(root.Triggers()) == 0 {
		prototype = children[0].Clone()
	} else {
		c := root.Container.CloneContainer()
		meta := c.Metadata()
		meta.Name = name
		c.SetMetadata(meta)
		prototype = c
	}

	return &Template{
		Name:        name,
		Description: doc.Description,
		Path:        path,
		Document:    doc,
		prototype:   prototype,
	}, nil
}

// List returns the templates sorted by name.
func (l *Library) List() []Template {
	l.mu.RLock()
	out := make([]Template, 0, len(l.templates))
	for _, t := range l.templates {
		out = append(out, *t)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a template by name.
func (l *Library) Get(name string) (Template, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.templates[name]
	if !ok {
		return Template{}, false
	}
	return *t, true
}

// Instantiate returns a detached copy of a template with fresh IDs.
func (l *Library) Instantiate(name string) (sequencer.Item, error) {
	l.mu.RLock()
	t, ok := l.templates[name]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return t.prototype.Clone(), nil
}

// Insert instantiates a template into parent at index. Indexes out of range are clamped.
func (l *Library) Insert(parent *sequencer.Container, name string, index int) (sequencer.Item, error) {
	item, err := l.Instantiate(name)
	if err != nil {
		return nil, err
	}
	if err := parent.Insert(index, item); err != nil {
		return nil, fmt.Errorf("failed to insert template %s: %w", name, err)
	}
	return item, nil
}

// Save writes a tree fragment as a template document and adds it to the library.
func (l *Library) Save(name string, item sequencer.Item) (Template, error) {
	node, err := plan.EncodeNode(item)
	if err != nil {
		return Template{}, err
	}
	doc := &plan.Document{
		Version: plan.FormatVersion,
		Name:    name,
		Root: &plan.Node{
			Type:  plan.TypeRootContainer,
			Name:  name,
			Items: []*plan.Node{node},
		},
	}

	path := filepath.Join(l.dir, fileName(name))
	if err := plan.WriteFile(path, doc); err != nil {
		return Template{}, err
	}
	tpl, err := l.loadFile(path)
	if err != nil {
		return Template{}, err
	}

	l.mu.Lock()
	l.templates[tpl.Name] = tpl
	l.mu.Unlock()
	return *tpl, nil
}

func isTemplateFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

func fileName(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	return clean + ".yaml"
}
