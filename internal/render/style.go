package render

import (
	"fmt"
	"regexp"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Element names a style sheet may target.
var elementNames = []string{
	"heading1", "heading2", "heading3", "paragraph",
	"key", "value", "table_header", "table_cell",
	"list", "hr", "header", "footer",
}

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Style is the expanded style template.
type Style struct {
	Font       Rule            `yaml:"font"`
	Color      string          `yaml:"color"`
	Margins    Margins         `yaml:"margins"`
	LineHeight float64         `yaml:"line_height"`
	Elements   map[string]Rule `yaml:"elements"`
	Classes    map[string]Rule `yaml:"classes"`
}

// Margins are in millimetres.
type Margins struct {
	Top    float64 `yaml:"top"`
	Right  float64 `yaml:"right"`
	Bottom float64 `yaml:"bottom"`
	Left   float64 `yaml:"left"`
}

// Rule is a partial text style; zero fields inherit. Style "regular" clears
// an inherited bold or italic.
type Rule struct {
	Family      string  `yaml:"family"`
	Size        float64 `yaml:"size"`
	Style       string  `yaml:"style"`
	Color       string  `yaml:"color"`
	Fill        string  `yaml:"fill"`
	Align       string  `yaml:"align"`
	SpaceBefore float64 `yaml:"space_before"`
	SpaceAfter  float64 `yaml:"space_after"`
}

func (r Rule) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Family, validation.In("Helvetica", "Arial", "Times", "Courier", UnicodeFamily)),
		validation.Field(&r.Size, validation.Min(0.0), validation.Max(96.0)),
		validation.Field(&r.Style, validation.In("regular", "B", "I", "U", "BI", "BU", "IU", "BIU")),
		validation.Field(&r.Color, validation.Match(hexColor)),
		validation.Field(&r.Fill, validation.Match(hexColor)),
		validation.Field(&r.Align, validation.In(alignments...)),
		validation.Field(&r.SpaceBefore, validation.Min(0.0)),
		validation.Field(&r.SpaceAfter, validation.Min(0.0)),
	)
}

func (s Style) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Font),
		validation.Field(&s.Color, validation.Match(hexColor)),
		validation.Field(&s.Margins),
		validation.Field(&s.LineHeight, validation.Min(0.0), validation.Max(4.0)),
		validation.Field(&s.Elements, validation.By(knownElements)),
	)
}

func (m Margins) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Top, validation.Min(0.0)),
		validation.Field(&m.Right, validation.Min(0.0)),
		validation.Field(&m.Bottom, validation.Min(0.0)),
		validation.Field(&m.Left, validation.Min(0.0)),
	)
}

func knownElements(v any) error {
	rules, _ := v.(map[string]Rule)
	for name, rule := range rules {
		known := false
		for _, e := range elementNames {
			if e == name {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unknown element %q", name)
		}
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// ParseStyle decodes and validates an expanded style document and fills in
// defaults.
func ParseStyle(src []byte) (*Style, error) {
	var s Style
	if err := decodeStrict(src, &s); err != nil {
		return nil, fmt.Errorf("style: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("style: %w", err)
	}
	for name, rule := range s.Classes {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("style: class %s: %w", name, err)
		}
	}
	s.applyDefaults()
	return &s, nil
}

func (s *Style) applyDefaults() {
	if s.Font.Family == "" {
		s.Font.Family = "Helvetica"
	}
	if s.Font.Size == 0 {
		s.Font.Size = 11
	}
	if s.Color == "" {
		s.Color = "#000000"
	}
	if s.Font.Color == "" {
		s.Font.Color = s.Color
	}
	if s.LineHeight == 0 {
		s.LineHeight = 1.4
	}
	if s.Margins == (Margins{}) {
		s.Margins = Margins{Top: 20, Right: 20, Bottom: 20, Left: 20}
	}
}

// Resolve merges the base font, the element rule and the class rule.
func (s *Style) Resolve(element, class string) Rule {
	out := s.Font
	out.merge(s.Elements[element])
	if class != "" {
		out.merge(s.Classes[class])
	}
	if out.Style == "regular" {
		out.Style = ""
	}
	return out
}

func (r *Rule) merge(o Rule) {
	if o.Family != "" {
		r.Family = o.Family
	}
	if o.Size != 0 {
		r.Size = o.Size
	}
	if o.Style != "" {
		r.Style = o.Style
	}
	if o.Color != "" {
		r.Color = o.Color
	}
	if o.Fill != "" {
		r.Fill = o.Fill
	}
	if o.Align != "" {
		r.Align = o.Align
	}
	if o.SpaceBefore != 0 {
		r.SpaceBefore = o.SpaceBefore
	}
	if o.SpaceAfter != 0 {
		r.SpaceAfter = o.SpaceAfter
	}
}

type rgb struct{ r, g, b int }

// parseColor reads "#RRGGBB"; the value has already been validated.
func parseColor(s string) rgb {
	if !hexColor.MatchString(s) {
		return rgb{}
	}
	n, _ := strconv.ParseUint(s[1:], 16, 32)
	return rgb{int(n >> 16 & 0xff), int(n >> 8 & 0xff), int(n & 0xff)}
}
