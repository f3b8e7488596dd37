package render

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Block types understood by the compiler.
const (
	BlockHeading   = "heading"
	BlockParagraph = "paragraph"
	BlockTable     = "table"
	BlockKeyValue  = "keyvalue"
	BlockList      = "list"
	BlockRule      = "hr"
	BlockSpacer    = "spacer"
	BlockImage     = "image"
)

var alignments = []any{"L", "C", "R", "J"}

// Layout is the expanded structure template: a page setup, optional running
// header and footer, and a flat list of blocks drawn top to bottom.
type Layout struct {
	Page   Page    `yaml:"page"`
	Header *Band   `yaml:"header"`
	Footer *Band   `yaml:"footer"`
	Blocks []Block `yaml:"blocks"`
}

type Page struct {
	Size        string `yaml:"size"`        // A4, A5, Letter, Legal (default A4)
	Orientation string `yaml:"orientation"` // portrait (default) or landscape
}

// Band is a header or footer line. Footer text may use {page} and {pages}.
type Band struct {
	Text  string `yaml:"text"`
	Align string `yaml:"align"`
	Class string `yaml:"class"`
}

// Block is one visual element. Type selects which fields are read.
type Block struct {
	Type  string `yaml:"type"`
	Class string `yaml:"class"`
	Align string `yaml:"align"`

	// heading, paragraph
	Text  string `yaml:"text"`
	Level int    `yaml:"level"`

	// keyvalue
	Pairs []Pair `yaml:"pairs"`

	// table
	Columns []Column   `yaml:"columns"`
	Rows    [][]string `yaml:"rows"`

	// list
	Items   []string `yaml:"items"`
	Ordered bool     `yaml:"ordered"`

	// image
	Src    string  `yaml:"src"`
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"` // also the spacer height
}

type Pair struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

type Column struct {
	Header string  `yaml:"header"`
	Width  float64 `yaml:"width"` // 0 shares the remaining width
	Align  string  `yaml:"align"`
}

func (l Layout) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Page),
		validation.Field(&l.Header),
		validation.Field(&l.Footer),
		validation.Field(&l.Blocks, validation.Required),
	)
}

func (p Page) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Size, validation.In("A3", "A4", "A5", "Letter", "Legal")),
		validation.Field(&p.Orientation, validation.In("portrait", "landscape")),
	)
}

func (b Band) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Text, validation.Required),
		validation.Field(&b.Align, validation.In(alignments...)),
	)
}

func (b Block) Validate() error {
	textual := b.Type == BlockHeading || b.Type == BlockParagraph
	return validation.ValidateStruct(&b,
		validation.Field(&b.Type, validation.Required, validation.In(
			BlockHeading, BlockParagraph, BlockTable, BlockKeyValue,
			BlockList, BlockRule, BlockSpacer, BlockImage,
		)),
		validation.Field(&b.Align, validation.In(alignments...)),
		validation.Field(&b.Text, validation.When(textual, validation.Required)),
		validation.Field(&b.Level, validation.When(b.Type == BlockHeading, validation.Min(1), validation.Max(3))),
		validation.Field(&b.Pairs, validation.When(b.Type == BlockKeyValue, validation.Required)),
		validation.Field(&b.Columns, validation.When(b.Type == BlockTable, validation.Required)),
		validation.Field(&b.Rows, validation.When(b.Type == BlockTable, validation.By(b.rowsFitColumns))),
		validation.Field(&b.Items, validation.When(b.Type == BlockList, validation.Required)),
		validation.Field(&b.Src, validation.When(b.Type == BlockImage, validation.Required)),
		validation.Field(&b.Width, validation.Min(0.0)),
		validation.Field(&b.Height, validation.Min(0.0), validation.When(b.Type == BlockSpacer, validation.Required)),
	)
}

func (b Block) rowsFitColumns(any) error {
	for i, row := range b.Rows {
		if len(row) > len(b.Columns) {
			return fmt.Errorf("row %d has %d cells for %d columns", i, len(row), len(b.Columns))
		}
	}
	return nil
}

func (c Column) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Width, validation.Min(0.0)),
		validation.Field(&c.Align, validation.In(alignments...)),
	)
}

// ParseLayout decodes and validates an expanded structure document.
// Unknown keys are rejected so typos in templates fail loudly.
func ParseLayout(src []byte) (*Layout, error) {
	var l Layout
	if err := decodeStrict(src, &l); err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}
	return &l, nil
}

func decodeStrict(src []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(src))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("document is empty")
		}
		return err
	}
	return nil
}
