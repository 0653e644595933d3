package heat

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var innerWhitespace = regexp.MustCompile(`\s\s+`)

// CleanText trims, drops non-printable runes and collapses whitespace runs.
func CleanText(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case unicode.IsPrint(r):
			b.WriteRune(r)
		}
	}
	return innerWhitespace.ReplaceAllString(strings.TrimSpace(b.String()), " ")
}

// Extract runs every field's locator chain against doc. The first locator yielding
// non-empty text wins; fields with no match are left out and read back as Unknown.
func Extract(doc *goquery.Document, specs []FieldSpec) map[Field]string {
	out := make(map[Field]string, len(specs))
	if doc == nil || doc.Selection == nil {
		return out
	}
	for _, spec := range specs {
		for _, loc := range spec.Locators {
			if v := firstText(loc.Find(doc.Selection)); v != "" {
				out[spec.Field] = v
				break
			}
		}
	}
	return out
}

// Apply copies extracted values into the record.
func (r *Record) Apply(values map[Field]string) {
	for f, v := range values {
		r.Set(f, v)
	}
}

func firstText(sel *goquery.Selection) string {
	if sel == nil {
		return ""
	}
	var found string
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found = ElementText(s)
		return found == ""
	})
	return found
}

// ElementText reads what a user would see in an element: the value of form controls,
// the selected option of a select, the text content of anything else.
func ElementText(s *goquery.Selection) string {
	if s == nil || s.Length() == 0 {
		return ""
	}
	switch goquery.NodeName(s) {
	case "input":
		return CleanText(s.AttrOr("value", ""))
	case "select":
		opt := s.Find("option[selected]").First()
		if opt.Length() == 0 {
			opt = s.Find("option").First()
		}
		return CleanText(opt.Text())
	default:
		return CleanText(s.Text())
	}
}

func normalizeLabel(s string) string {
	s = strings.ToLower(CleanText(s))
	return strings.TrimSpace(strings.TrimSuffix(s, ":"))
}

// findByLabel locates captions whose text equals label and returns the element holding
// the value next to them: label[for] targets, dd after dt, the next table cell, or the
// next sibling element.
func findByLabel(root *goquery.Selection, label string) *goquery.Selection {
	want := normalizeLabel(label)
	// Fresh selection: growing a sub-slice of root would overwrite root's own nodes.
	result := &goquery.Selection{}
	if want == "" {
		return result
	}
	root.Find("label, th, td, dt, span, b, strong, div").Each(func(_ int, caption *goquery.Selection) {
		if normalizeLabel(caption.Text()) != want {
			return
		}
		if value := valueForCaption(root, caption); value.Length() > 0 {
			result = result.AddSelection(value)
		}
	})
	return result
}

func valueForCaption(root, caption *goquery.Selection) *goquery.Selection {
	if goquery.NodeName(caption) == "label" {
		if target, ok := caption.Attr("for"); ok && target != "" {
			if el := root.Find(`[id="` + escapeAttributeValue(target) + `"]`); el.Length() > 0 {
				return el.First()
			}
		}
	}
	next := caption.Next()
	if next.Length() > 0 {
		return next.First()
	}
	// Caption wrapped in a cell or span: the value sits after the wrapper.
	if parent := caption.Parent(); parent.Length() > 0 && !isContainer(parent.Nodes[0]) {
		return parent.Next().First()
	}
	return &goquery.Selection{}
}

func isContainer(n *html.Node) bool {
	switch n.Data {
	case "body", "html", "table", "tbody", "form":
		return true
	}
	return false
}
