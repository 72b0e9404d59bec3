// Package templates renders emails from a YAML catalog of Go templates.
//
// Subjects and text bodies use text/template, HTML bodies use html/template.
// Missing payload keys render as empty strings. Rendering is pure: the catalog
// is parsed once and never changes afterwards.
package templates

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	htmltemplate "html/template"
	"os"
	"sort"
	"strings"
	texttemplate "text/template"

	"github.com/coregx/courier"
	"github.com/coregx/courier/model"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

// Definition is one catalog entry as written in YAML.
type Definition struct {
	Subject     string `yaml:"subject"`
	HTML        string `yaml:"html"`
	Text        string `yaml:"text"`
	MessageType string `yaml:"messageType"`
	Topic       string `yaml:"topic"`
}

type file struct {
	Templates map[string]Definition `yaml:"templates"`
}

type entry struct {
	def     Definition
	subject *texttemplate.Template
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

// Catalog is a parsed set of templates keyed by template key.
type Catalog struct {
	entries map[string]entry
}

var _ courier.Renderer = (*Catalog)(nil)

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load returns the built-in catalog overlaid with the templates of path.
// An empty path returns the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	custom, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template catalog: %w", err)
	}
	return Parse(defaultCatalog, custom)
}

// Parse builds a catalog from YAML documents. Later documents override
// earlier ones key by key.
func Parse(docs ...[]byte) (*Catalog, error) {
	defs := map[string]Definition{}
	for i, doc := range docs {
		var f file
		if err := yaml.Unmarshal(doc, &f); err != nil {
			return nil, fmt.Errorf("parse template catalog %d: %w", i, err)
		}
		for key, def := range f.Templates {
			defs[key] = def
		}
	}

	c := &Catalog{entries: make(map[string]entry, len(defs))}
	for key, def := range defs {
		e, err := compile(key, def)
		if err != nil {
			return nil, err
		}
		c.entries[key] = e
	}
	return c, nil
}

func compile(key string, def Definition) (entry, error) {
	if strings.TrimSpace(def.Subject) == "" {
		return entry{}, fmt.Errorf("template %q: subject is required", key)
	}
	if def.HTML == "" && def.Text == "" {
		return entry{}, fmt.Errorf("template %q: html or text is required", key)
	}
	if def.MessageType != "" && !model.MessageType(def.MessageType).IsValid() {
		return entry{}, fmt.Errorf("template %q: unknown message type %q", key, def.MessageType)
	}
	if def.Topic != "" && !model.Topic(def.Topic).IsValid() {
		return entry{}, fmt.Errorf("template %q: unknown topic %q", key, def.Topic)
	}

	e := entry{def: def}
	var err error
	if e.subject, err = texttemplate.New(key + ".subject").Option("missingkey=zero").Parse(def.Subject); err != nil {
		return entry{}, fmt.Errorf("template %q subject: %w", key, err)
	}
	if e.text, err = texttemplate.New(key + ".text").Option("missingkey=zero").Parse(def.Text); err != nil {
		return entry{}, fmt.Errorf("template %q text: %w", key, err)
	}
	if e.html, err = htmltemplate.New(key + ".html").Option("missingkey=zero").Parse(def.HTML); err != nil {
		return entry{}, fmt.Errorf("template %q html: %w", key, err)
	}
	return e, nil
}

// Render implements courier.Renderer.
func (c *Catalog) Render(_ context.Context, key string, payload model.Data) (courier.Rendered, error) {
	e, ok := c.entries[key]
	if !ok {
		return courier.Rendered{}, courier.NewError(courier.ErrCodeValidation, fmt.Sprintf("unknown template %q", key))
	}
	data := map[string]any(payload)
	if data == nil {
		data = map[string]any{}
	}

	subject, err := execText(e.subject, data)
	if err != nil {
		return courier.Rendered{}, renderError(key, err)
	}
	text, err := execText(e.text, data)
	if err != nil {
		return courier.Rendered{}, renderError(key, err)
	}
	var html bytes.Buffer
	if err := e.html.Execute(&html, data); err != nil {
		return courier.Rendered{}, renderError(key, err)
	}

	return courier.Rendered{
		Subject: strings.TrimSpace(strings.ReplaceAll(subject, "\n", " ")),
		HTML:    html.String(),
		Text:    text,
	}, nil
}

// Keys returns the template keys in sorted order.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Definition returns the raw definition of key.
func (c *Catalog) Definition(key string) (Definition, bool) {
	e, ok := c.entries[key]
	return e.def, ok
}

// execText runs a text template. A nil map value prints "<no value>" under
// text/template even with missingkey=zero, so it is blanked here.
func execText(t *texttemplate.Template, data map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

func renderError(key string, err error) error {
	return courier.NewErrorWithCause(courier.ErrCodeValidation, fmt.Sprintf("failed to render template %q", key), err)
}
