package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"protoscript/internal/models"
	"protoscript/internal/timeline"
)

const scenarioMeta = `{
  "guild_id": "g-42",
  "start_time": "2026-01-30T21:46:00",
  "end_time": "2026-01-30T21:50:00",
  "users": {"u1": {"name": "Alice", "channel": 0}},
  "events": [{"timestamp": "2026-01-30T21:46:05", "message": "Event 1"}]
}`

func scenario(t *testing.T, text string) (models.Meta, []models.TimelineEntry) {
	t.Helper()
	meta, err := models.ParseMeta([]byte(scenarioMeta))
	if err != nil {
		t.Fatalf("parse meta: %v", err)
	}
	segs := []models.Segment{{UserID: "u1", UserName: "Alice", Offset: 10e9, Text: text}}
	return meta, timeline.Merge(meta, segs)
}

func TestDefaultTemplateRendersTimeline(t *testing.T) {
	tpls, err := New("", "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	meta, tl := scenario(t, "Hello")

	out, err := tpls.Render(context.Background(), "default.md.j2", meta, tl)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{
		"# Meeting protocol 2026-01-30",
		"- Alice (u1)",
		"21:46:05: Event 1",
		"21:46:10: **Alice**: Hello",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "Event 1") > strings.Index(out, "Hello") {
		t.Fatalf("event should precede transcript:\n%s", out)
	}
}

func TestDiscordTemplate(t *testing.T) {
	tpls, err := New("", "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	meta, tl := scenario(t, "Hi")
	out, err := tpls.Render(context.Background(), "discord.md.j2", meta, tl)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "in g-42") || !strings.Contains(out, "`21:46:10` **Alice**: Hi") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestUnknownTemplateFallsBackToDefault(t *testing.T) {
	tpls, err := New("", "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, used, err := tpls.Resolve("does-not-exist.md.j2")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if used != DefaultTemplate {
		t.Fatalf("used = %q, want %q", used, DefaultTemplate)
	}
}

func TestTemplateDirShadowsBuiltins(t *testing.T) {
	dir := t.TempDir()
	custom := "# {{ meta.guild_id }}\n{% for item in timeline %}{{ item.timestamp|date:\"15:04:05\" }}: {% if item.type == \"event\" %}{{ item.content }}{% else %}{{ item.text }}{% endif %}\n{% endfor %}"
	if err := os.WriteFile(filepath.Join(dir, "default.md.j2"), []byte(custom), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	tpls, err := New(dir, "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	meta, tl := scenario(t, "<b>Tom & Jerry</b>")

	out, err := tpls.Render(context.Background(), "default.md.j2", meta, tl)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "# g-42\n21:46:05: Event 1\n21:46:10: <b>Tom & Jerry</b>\n"
	if out != want {
		t.Fatalf("output = %q, want %q", out, want)
	}

	// Names missing from the dir still resolve to the built-in set.
	if _, used, err := tpls.Resolve("discord.md.j2"); err != nil || used != "discord.md.j2" {
		t.Fatalf("resolve discord = %q, %v", used, err)
	}
}

func TestBrokenTemplateIsRenderError(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.md.j2"), []byte("{% for item in timeline %}never closed"), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	tpls, err := New(dir, "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	meta, tl := scenario(t, "x")
	if _, err := tpls.Render(context.Background(), "broken.md.j2", meta, tl); !errors.Is(err, models.ErrRender) {
		t.Fatalf("err = %v, want ErrRender", err)
	}
}

func TestMissingFallbackIsRenderError(t *testing.T) {
	tpls, err := New("", "gone.md.j2")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	meta, tl := scenario(t, "x")
	if _, err := tpls.Render(context.Background(), "also-gone.md.j2", meta, tl); !errors.Is(err, models.ErrRender) {
		t.Fatalf("err = %v, want ErrRender", err)
	}
}

func TestNewRejectsMissingDir(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "nope"), ""); err == nil {
		t.Fatalf("expected error for missing template dir")
	}
}

func TestContextAnnotatesUsers(t *testing.T) {
	meta, tl := scenario(t, "x")
	ctx := NewContext(meta, tl)
	m := ctx["meta"].(map[string]any)
	users := m["users"].(map[string]any)
	alice := users["u1"].(map[string]any)
	if alice["id"] != "u1" || alice["name"] != "Alice" {
		t.Fatalf("user = %v", alice)
	}
	if _, ok := m["start_time"].(interface{ Hour() int }); !ok {
		t.Fatalf("start_time = %T, want time value", m["start_time"])
	}
	items := ctx["timeline"].([]map[string]any)
	if len(items) != 2 || items[0]["type"] != "event" || items[1]["user_name"] != "Alice" {
		t.Fatalf("timeline = %v", items)
	}
}
