// Package report turns fetch outcomes into what the user receives: a chat message or an HTML
// document with a label/value table.
package report

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"heatbot/internal/caseid"
	"heatbot/internal/heat"
)

type Format string

const (
	FormatText     Format = "text"
	FormatDocument Format = "document"
)

// ParseFormat accepts the configured format names; empty means text.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatText:
		return FormatText, nil
	case FormatDocument, "html":
		return FormatDocument, nil
	}
	return "", fmt.Errorf("unknown report format %q", s)
}

// Report is ready to deliver. Data and Filename are set only for documents; Text is the message
// body or the document caption.
type Report struct {
	Format      Format
	Text        string
	Data        []byte
	Filename    string
	ContentType string
}

const (
	timestampLayout = "2006-01-02 15:04:05 MST"
	filenameLayout  = "20060102-150405"

	syntheticDisclaimer = "⚠️ PLACEHOLDER DATA: HEAT could not be reached, these values are generated and do not describe the real case."
	renderFailedText    = "❌ The report could not be generated. Please try again later."
)

// Renderer is safe for concurrent use.
type Renderer struct {
	labels   map[heat.Field]string
	now      func() time.Time
	location *time.Location
}

type Option func(*Renderer)

// WithClock fixes the time source used for timestamps and filenames.
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) { r.now = now }
}

// WithLabels overrides the display label of some fields.
func WithLabels(labels map[heat.Field]string) Option {
	return func(r *Renderer) {
		for f, l := range labels {
			if l != "" {
				r.labels[f] = l
			}
		}
	}
}

// WithLocation renders timestamps in loc instead of UTC.
func WithLocation(loc *time.Location) Option {
	return func(r *Renderer) {
		if loc != nil {
			r.location = loc
		}
	}
}

func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{
		labels:   make(map[heat.Field]string, len(heat.Fields)),
		now:      time.Now,
		location: time.UTC,
	}
	for _, f := range heat.Fields {
		r.labels[f] = heat.DefaultLabel(f)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Renderer) label(f heat.Field) string {
	if l, ok := r.labels[f]; ok {
		return l
	}
	return string(f)
}

// Render never fails: a panic while rendering yields a plain-text error report. Failures are
// always rendered as text, whatever format was asked for.
func (r *Renderer) Render(o heat.Outcome, format Format) (rep Report) {
	defer func() {
		if p := recover(); p != nil {
			rep = Report{Format: FormatText, Text: renderFailedText}
		}
	}()

	now := r.now().In(r.location)
	if !o.OK() {
		return Report{Format: FormatText, Text: r.failureText(o)}
	}
	if format == FormatDocument {
		return r.document(o.Record, now)
	}
	return Report{Format: FormatText, Text: r.recordText(o.Record, now)}
}

func caseName(id caseid.ID) string {
	if id.IsZero() {
		return "unknown case"
	}
	return id.String()
}

func (r *Renderer) recordText(rec *heat.Record, now time.Time) string {
	var b strings.Builder
	if rec.Synthetic {
		b.WriteString(syntheticDisclaimer)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "✅ Case %s\n", caseName(rec.CaseID))
	for _, f := range heat.Fields {
		fmt.Fprintf(&b, "%s: %s\n", r.label(f), rec.Get(f))
	}
	fmt.Fprintf(&b, "\nGenerated %s", now.Format(timestampLayout))
	return b.String()
}

var suggestions = map[heat.Category]string{
	heat.CategoryAuth:     "Try again later or contact the administrator.",
	heat.CategoryNotFound: "Verify the case number and send it again.",
	heat.CategoryTimeout:  "HEAT is slow or unreachable right now. Try again later.",
	heat.CategoryUnknown:  "Try again later.",
}

var descriptions = map[heat.Category]string{
	heat.CategoryAuth:     "could not sign in to HEAT",
	heat.CategoryNotFound: "no such case in HEAT",
	heat.CategoryTimeout:  "HEAT did not respond in time",
	heat.CategoryUnknown:  "the case page could not be read",
}

func (r *Renderer) failureText(o heat.Outcome) string {
	category := heat.CategoryUnknown
	if o.Failure != nil {
		if _, ok := suggestions[o.Failure.Category]; ok {
			category = o.Failure.Category
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "❌ Could not retrieve %s: %s (%s).\n", caseName(o.CaseID), descriptions[category], category)
	b.WriteString(suggestions[category])
	return b.String()
}

// Filename follows Report_<id>_<yyyymmdd-hhmmss>.html.
func (r *Renderer) Filename(rec *heat.Record, now time.Time) string {
	id := "unknown"
	if rec != nil && !rec.CaseID.IsZero() {
		id = rec.CaseID.String()
	}
	return fmt.Sprintf("Report_%s_%s.html", id, now.Format(filenameLayout))
}

func (r *Renderer) table(rec *heat.Record) table.Writer {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Field", "Value"})
	for _, f := range heat.Fields {
		t.AppendRow(table.Row{r.label(f), rec.Get(f)})
	}
	return t
}

func (r *Renderer) document(rec *heat.Record, now time.Time) Report {
	t := r.table(rec)
	t.Style().HTML = table.HTMLOptions{
		CSSClass:    "case-table",
		EmptyColumn: "&nbsp;",
		EscapeText:  true,
		Newline:     "<br/>",
	}

	id := html.EscapeString(caseName(rec.CaseID))
	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&buf, "<title>Case %s</title>\n", id)
	buf.WriteString("<style>body{font-family:sans-serif;margin:2em}.case-table{border-collapse:collapse}" +
		".case-table td,.case-table th{border:1px solid #999;padding:4px 8px;text-align:left}" +
		".disclaimer{color:#a00;font-weight:bold}</style>\n</head>\n<body>\n")
	fmt.Fprintf(&buf, "<h1>Case %s</h1>\n", id)
	if rec.Synthetic {
		fmt.Fprintf(&buf, "<p class=\"disclaimer\">%s</p>\n", html.EscapeString(syntheticDisclaimer))
	}
	buf.WriteString(t.RenderHTML())
	fmt.Fprintf(&buf, "\n<p>Generated %s</p>\n</body>\n</html>\n", html.EscapeString(now.Format(timestampLayout)))

	caption := fmt.Sprintf("📄 Case %s", caseName(rec.CaseID))
	if rec.Synthetic {
		caption = syntheticDisclaimer + "\n" + caption
	}
	return Report{
		Format:      FormatDocument,
		Text:        caption,
		Data:        buf.Bytes(),
		Filename:    r.Filename(rec, now),
		ContentType: "text/html; charset=utf-8",
	}
}

// Table renders the outcome for a terminal.
func (r *Renderer) Table(o heat.Outcome) string {
	if !o.OK() {
		return r.failureText(o)
	}
	t := r.table(o.Record)
	t.SetStyle(table.StyleRounded)
	if o.Record.Synthetic {
		t.SetCaption(syntheticDisclaimer)
	}
	t.SetTitle("Case " + caseName(o.Record.CaseID))
	return t.Render()
}
