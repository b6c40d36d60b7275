// Package render turns finished analysis reports into HTML.
package render

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	goldhtml "github.com/yuin/goldmark/renderer/html"
)

const (
	fenceOpen  = "```markdown"
	fenceClose = "```"
)

// Renderer converts markdown text into HTML.
type Renderer interface {
	Render(markdown string) (string, error)
}

// Markdown renders GitHub-flavoured markdown: tables, autolinks,
// strikethrough, task lists, heading ids and single newlines as <br>.
type Markdown struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// Option configures a Markdown renderer.
type Option func(*Markdown)

// WithSanitizer filters rendered HTML through bluemonday's UGC policy before
// it is returned.
func WithSanitizer() Option {
	return func(m *Markdown) {
		m.policy = bluemonday.UGCPolicy()
	}
}

// NewMarkdown creates a Markdown renderer.
func NewMarkdown(opts ...Option) *Markdown {
	m := &Markdown{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
			goldmark.WithRendererOptions(goldhtml.WithHardWraps()),
		),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Markdown) Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	if m.policy != nil {
		return m.policy.Sanitize(buf.String()), nil
	}
	return buf.String(), nil
}

// StripFence removes a ```markdown code fence wrapped around the whole
// report, which the backend sometimes emits. Only a wrapper is removed: the
// report must open with the fence, and a closing ``` is dropped only as the
// final line. Fences elsewhere in the text, including a ```markdown block
// after an introduction, are left for the renderer.
func StripFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, fenceOpen) {
		return s
	}
	t = strings.TrimPrefix(t, fenceOpen)
	t = strings.TrimSuffix(t, fenceClose)
	return strings.TrimSpace(t)
}

// Report strips the fence from a COMPLETE report and renders it.
func Report(r Renderer, content string) (string, error) {
	return r.Render(StripFence(content))
}

// FailureHTML presents backend diagnostic text for a FAILED job. The text is
// escaped and never interpreted as markdown.
func FailureHTML(text string) string {
	return `<p class="error">Analysis Failed:</p><pre>` + html.EscapeString(text) + `</pre>`
}

// Compile-time check that Markdown implements Renderer.
var _ Renderer = (*Markdown)(nil)
