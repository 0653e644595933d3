package heat

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"heatbot/internal/config"
)

// LocatorKind says how a locator value is interpreted.
type LocatorKind string

const (
	// KindCSS is a raw CSS selector.
	KindCSS LocatorKind = "css"
	// KindAttr matches name=value (or bare name for presence).
	KindAttr LocatorKind = "attr"
	// KindClass matches one class name.
	KindClass LocatorKind = "class"
	// KindID matches the id attribute.
	KindID LocatorKind = "id"
	// KindLabel finds a caption with this text and reads the value next to it.
	KindLabel LocatorKind = "label"
)

// Locator is one way of finding an element on an unowned page.
type Locator struct {
	Kind  LocatorKind
	Value string
}

func CSS(sel string) Locator      { return Locator{Kind: KindCSS, Value: sel} }
func Attr(expr string) Locator    { return Locator{Kind: KindAttr, Value: expr} }
func Class(name string) Locator   { return Locator{Kind: KindClass, Value: name} }
func ID(id string) Locator        { return Locator{Kind: KindID, Value: id} }
func Label(text string) Locator   { return Locator{Kind: KindLabel, Value: text} }
func (l Locator) String() string  { return string(l.Kind) + ":" + l.Value }

// Selector returns the CSS form of the locator. Label locators have none.
func (l Locator) Selector() (string, bool) {
	v := strings.TrimSpace(l.Value)
	if v == "" {
		return "", false
	}
	switch l.Kind {
	case KindCSS:
		return v, true
	case KindAttr:
		name, val, hasVal := strings.Cut(v, "=")
		if !hasVal {
			return "[" + strings.TrimSpace(name) + "]", true
		}
		return fmt.Sprintf(`[%s="%s"]`, strings.TrimSpace(name), escapeAttributeValue(strings.TrimSpace(val))), true
	case KindClass:
		return fmt.Sprintf(`[class~="%s"]`, escapeAttributeValue(v)), true
	case KindID:
		return fmt.Sprintf(`[id="%s"]`, escapeAttributeValue(v)), true
	default:
		return "", false
	}
}

// Find resolves the locator inside root. Label locators resolve to the value element.
func (l Locator) Find(root *goquery.Selection) *goquery.Selection {
	if root == nil {
		return &goquery.Selection{}
	}
	if l.Kind == KindLabel {
		return findByLabel(root, l.Value)
	}
	sel, ok := l.Selector()
	if !ok {
		return &goquery.Selection{}
	}
	return root.Find(sel)
}

// escapeAttributeValue escapes characters for use in CSS attribute selectors
func escapeAttributeValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// FieldSpec is the ordered locator chain for one field.
type FieldSpec struct {
	Field    Field
	Label    string
	Locators []Locator
}

// DefaultFieldSpecs covers the HEAT deployments seen so far: form controls named after the
// business object columns, read-only detail tables and the older label/value layout.
func DefaultFieldSpecs() []FieldSpec {
	return []FieldSpec{
		{Field: FieldClient, Label: "Client", Locators: []Locator{
			Attr("name=Customer"), ID("Customer"), Class("customer-name"),
			Label("Client"), Label("Customer"), Label("Cliente"), Label("Solicitante"),
		}},
		{Field: FieldStatus, Label: "Status", Locators: []Locator{
			Attr("name=Status"), ID("Status"), Class("status"),
			Label("Status"), Label("Estado"),
		}},
		{Field: FieldDescription, Label: "Description", Locators: []Locator{
			Attr("name=Subject"), Attr("name=Symptom"), ID("Description"), Class("description"),
			Label("Description"), Label("Summary"), Label("Descripción"), Label("Asunto"),
		}},
		{Field: FieldAssignedTo, Label: "Assigned To", Locators: []Locator{
			Attr("name=Owner"), ID("Owner"), Class("owner"),
			Label("Owner"), Label("Assigned To"), Label("Asignado a"), Label("Responsable"),
		}},
		{Field: FieldPriority, Label: "Priority", Locators: []Locator{
			Attr("name=Priority"), ID("Priority"), Class("priority"),
			Label("Priority"), Label("Prioridad"),
		}},
		{Field: FieldDate, Label: "Date", Locators: []Locator{
			Attr("name=CreatedDateTime"), ID("CreatedDateTime"), Class("created-date"),
			Label("Created On"), Label("Date"), Label("Fecha"), Label("Fecha de creación"),
		}},
	}
}

// LocatorsFromConfig converts YAML locators, rejecting unknown kinds.
func LocatorsFromConfig(raw []config.LocatorConfig) ([]Locator, error) {
	out := make([]Locator, 0, len(raw))
	for _, lc := range raw {
		kind := LocatorKind(strings.ToLower(strings.TrimSpace(lc.Kind)))
		switch kind {
		case KindCSS, KindAttr, KindClass, KindID, KindLabel:
		default:
			return nil, fmt.Errorf("unknown locator kind %q", lc.Kind)
		}
		if strings.TrimSpace(lc.Value) == "" {
			return nil, fmt.Errorf("locator %q has an empty value", lc.Kind)
		}
		out = append(out, Locator{Kind: kind, Value: lc.Value})
	}
	return out, nil
}

// SpecsFromConfig applies field overrides on top of the defaults. An override with locators
// replaces the chain; one with only a label renames the field.
func SpecsFromConfig(overrides []config.FieldConfig) ([]FieldSpec, error) {
	specs := DefaultFieldSpecs()
	index := make(map[Field]int, len(specs))
	for i, s := range specs {
		index[s.Field] = i
	}
	for _, o := range overrides {
		if !IsField(o.Field) {
			return nil, fmt.Errorf("unknown field %q", o.Field)
		}
		i := index[Field(o.Field)]
		if o.Label != "" {
			specs[i].Label = o.Label
		}
		if len(o.Locators) > 0 {
			locs, err := LocatorsFromConfig(o.Locators)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", o.Field, err)
			}
			specs[i].Locators = locs
		}
	}
	return specs, nil
}

// Labels returns display labels keyed by field.
func Labels(specs []FieldSpec) map[Field]string {
	out := make(map[Field]string, len(Fields))
	for _, f := range Fields {
		out[f] = DefaultLabel(f)
	}
	for _, s := range specs {
		if s.Label != "" {
			out[s.Field] = s.Label
		}
	}
	return out
}
