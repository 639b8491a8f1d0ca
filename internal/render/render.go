// Package render turns a merged timeline into the markdown protocol.
package render

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/flosch/pongo2/v6"

	"protoscript/internal/models"
)

// DefaultTemplate is used when the requested template does not exist.
const DefaultTemplate = "default.md.j2"

//go:embed templates/*.j2
var embedded embed.FS

var disableEscape sync.Once

// Renderer renders a job's protocol with a named template.
type Renderer interface {
	Render(ctx context.Context, name string, meta models.Meta, timeline []models.TimelineEntry) (string, error)
}

// Templates renders pongo2 (Jinja-like) templates. Files in dir shadow the
// built-in set.
type Templates struct {
	builtin  fs.FS
	embedSet *pongo2.TemplateSet
	dir      string
	dirSet   *pongo2.TemplateSet
	fallback string
}

// New builds the template set. dir may be empty.
func New(dir, fallback string) (*Templates, error) {
	disableEscape.Do(func() { pongo2.SetAutoescape(false) })

	if fallback == "" {
		fallback = DefaultTemplate
	}
	builtin, err := fs.Sub(embedded, "templates")
	if err != nil {
		return nil, err
	}
	t := &Templates{
		builtin:  builtin,
		embedSet: pongo2.NewSet("builtin", pongo2.NewFSLoader(builtin)),
		fallback: fallback,
	}
	if dir != "" {
		loader, err := pongo2.NewLocalFileSystemLoader(dir)
		if err != nil {
			return nil, fmt.Errorf("template dir %s: %w", dir, err)
		}
		t.dir = dir
		t.dirSet = pongo2.NewSet("dir", loader)
	}
	return t, nil
}

// Resolve finds the template for name, falling back to the default. It
// returns the name that was actually used.
func (t *Templates) Resolve(name string) (*pongo2.Template, string, error) {
	candidates := []string{name}
	if name != t.fallback {
		candidates = append(candidates, t.fallback)
	}
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		set := t.lookup(candidate)
		if set == nil {
			continue
		}
		if candidate != name {
			log.Printf("render: template %q not found, using %q", name, candidate)
		}
		tpl, err := set.FromCache(candidate)
		if err != nil {
			return nil, candidate, fmt.Errorf("compile %s: %w", candidate, err)
		}
		return tpl, candidate, nil
	}
	return nil, "", fmt.Errorf("template %q not found and no %q fallback", name, t.fallback)
}

func (t *Templates) lookup(name string) *pongo2.TemplateSet {
	if t.dirSet != nil {
		if fi, err := os.Stat(filepath.Join(t.dir, name)); err == nil && !fi.IsDir() {
			return t.dirSet
		}
	}
	if _, err := fs.Stat(t.builtin, name); err == nil {
		return t.embedSet
	}
	return nil
}

func (t *Templates) Render(ctx context.Context, name string, meta models.Meta, timeline []models.TimelineEntry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", models.RenderError("render", err)
	}
	tpl, _, err := t.Resolve(name)
	if err != nil {
		return "", models.RenderError("render", err)
	}
	out, err := tpl.Execute(NewContext(meta, timeline))
	if err != nil {
		return "", models.RenderError("render", err)
	}
	return out, nil
}

// NewContext exposes the meta document and the timeline to templates as
// "meta" and "timeline". Start and end times become time values and every
// user carries its own id.
func NewContext(meta models.Meta, timeline []models.TimelineEntry) pongo2.Context {
	m := make(map[string]any, len(meta.Raw)+2)
	for k, v := range meta.Raw {
		m[k] = v
	}
	m["start_time"] = meta.StartTime
	m["end_time"] = meta.EndTime

	users := make(map[string]any, len(meta.Users))
	rawUsers, _ := meta.Raw["users"].(map[string]any)
	for id, u := range meta.Users {
		entry := map[string]any{}
		if raw, ok := rawUsers[id].(map[string]any); ok {
			for k, v := range raw {
				entry[k] = v
			}
		} else {
			entry["name"] = u.Name
			if u.Channel != nil {
				entry["channel"] = *u.Channel
			}
		}
		entry["id"] = id
		users[id] = entry
	}
	m["users"] = users

	items := make([]map[string]any, 0, len(timeline))
	for _, e := range timeline {
		item := map[string]any{
			"type":      string(e.Kind),
			"timestamp": e.Timestamp,
		}
		switch e.Kind {
		case models.EntryEvent:
			item["content"] = e.Content
		case models.EntryTranscript:
			item["user_id"] = e.UserID
			item["user_name"] = e.UserName
			item["text"] = e.Text
		}
		items = append(items, item)
	}
	return pongo2.Context{"meta": m, "timeline": items}
}
