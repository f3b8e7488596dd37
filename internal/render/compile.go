package render

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
)

// ptToMM converts a font size in points to millimetres.
const ptToMM = 25.4 / 72

// Meta is the document information dictionary written into the PDF.
type Meta struct {
	Title    string
	Authors  []string
	Subject  string
	Keywords []string
	Creator  string
	Date     time.Time
}

type compiler struct {
	pdf    *fpdf.Fpdf
	style  *Style
	assets *Assets
	tr     func(string) string
	loaded map[string]*fpdf.ImageInfoType

	// rule is the last applied rule; fallback reports that its text is
	// currently drawn with UnicodeFamily instead of rule.Family.
	rule     Rule
	fallback bool
	fonts    map[string]bool
}

// Compile draws layout with style into PDF bytes. The output depends only on
// its inputs: dates come from meta.
func Compile(layout *Layout, style *Style, meta Meta, assets *Assets) ([]byte, error) {
	if assets == nil {
		assets = &Assets{}
	}
	orientation := "P"
	if layout.Page.Orientation == "landscape" {
		orientation = "L"
	}
	size := layout.Page.Size
	if size == "" {
		size = "A4"
	}

	pdf := fpdf.New(orientation, "mm", size, "")
	c := &compiler{
		pdf:    pdf,
		style:  style,
		assets: assets,
		tr:     pdf.UnicodeTranslatorFromDescriptor(""),
		loaded: make(map[string]*fpdf.ImageInfoType),
		fonts:  make(map[string]bool),
	}

	m := style.Margins
	pdf.SetMargins(m.Left, m.Top, m.Right)
	pdf.SetAutoPageBreak(true, m.Bottom)
	pdf.AliasNbPages("{nb}")
	pdf.SetCatalogSort(true)
	c.meta(meta)

	if layout.Header != nil {
		h := *layout.Header
		pdf.SetHeaderFuncMode(func() { c.band("header", h, m.Top/2-2) }, true)
	}
	if layout.Footer != nil {
		f := *layout.Footer
		pdf.SetFooterFunc(func() { c.band("footer", f, -m.Bottom/2-3) })
	}

	pdf.AddPage()
	for i, b := range layout.Blocks {
		if err := c.block(b); err != nil {
			return nil, fmt.Errorf("block %d (%s): %w", i, b.Type, err)
		}
		if pdf.Err() {
			return nil, fmt.Errorf("block %d (%s): %w", i, b.Type, pdf.Error())
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf output: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *compiler) meta(m Meta) {
	authors := strings.Join(m.Authors, ", ")
	keywords := strings.Join(m.Keywords, ", ")
	c.pdf.SetTitle(m.Title, !ascii(m.Title))
	c.pdf.SetAuthor(authors, !ascii(authors))
	c.pdf.SetSubject(m.Subject, !ascii(m.Subject))
	c.pdf.SetKeywords(keywords, !ascii(keywords))
	c.pdf.SetCreator(m.Creator, !ascii(m.Creator))
	if !m.Date.IsZero() {
		c.pdf.SetCreationDate(m.Date)
		c.pdf.SetModificationDate(m.Date)
	}
}

// apply sets font and colours for rule and returns its line height.
func (c *compiler) apply(r Rule) float64 {
	c.rule, c.fallback = r, false
	c.setFont(r.Family, r.Style, r.Size)
	col := parseColor(r.Color)
	c.pdf.SetTextColor(col.r, col.g, col.b)
	if r.Fill != "" {
		fill := parseColor(r.Fill)
		c.pdf.SetFillColor(fill.r, fill.g, fill.b)
	}
	return r.Size * ptToMM * c.style.LineHeight
}

func (c *compiler) setFont(family, style string, size float64) {
	if family == UnicodeFamily {
		c.register(style)
	}
	c.pdf.SetFont(family, style, size)
}

func (c *compiler) register(style string) {
	key := faceStyle(style)
	if c.fonts[key] {
		return
	}
	f, err := unicodeFace(key)
	if err != nil {
		c.pdf.SetError(err)
		return
	}
	c.pdf.AddUTF8FontFromBytes(UnicodeFamily, key, f.ttf)
	c.fonts[key] = true
}

// str prepares s for drawing with the current rule. Text the core font
// cannot encode switches to UnicodeFamily until the next cp1252 string.
func (c *compiler) str(s string) string {
	r := c.rule
	if r.Family != UnicodeFamily && c.cp1252(s) {
		if c.fallback {
			c.pdf.SetFont(r.Family, r.Style, r.Size)
			c.fallback = false
		}
		return c.tr(s)
	}
	if r.Family != UnicodeFamily && !c.fallback {
		c.setFont(UnicodeFamily, r.Style, r.Size)
		c.fallback = true
	}
	c.cover(s, r.Style)
	return s
}

func (c *compiler) cp1252(s string) bool {
	for _, r := range s {
		if r >= 0x80 && c.tr(string(r)) == "." {
			return false
		}
	}
	return true
}

func (c *compiler) cover(s, style string) {
	f, err := unicodeFace(style)
	if err != nil {
		c.pdf.SetError(err)
		return
	}
	for _, r := range s {
		if r < 0x20 || f.has(r) {
			continue
		}
		c.pdf.SetError(fmt.Errorf("%w %q (U+%04X)", ErrUnsupportedText, r, r))
		return
	}
}

func (c *compiler) contentWidth() float64 {
	w, _ := c.pdf.GetPageSize()
	left, _, right, _ := c.pdf.GetMargins()
	return w - left - right
}

func (c *compiler) band(element string, b Band, y float64) {
	defer func(r Rule, fallback bool) { c.rule, c.fallback = r, fallback }(c.rule, c.fallback)
	r := c.style.Resolve(element, b.Class)
	lh := c.apply(r)
	text := strings.ReplaceAll(b.Text, "{page}", strconv.Itoa(c.pdf.PageNo()))
	text = strings.ReplaceAll(text, "{pages}", "{nb}")
	c.pdf.SetY(y)
	c.pdf.CellFormat(0, lh, c.str(text), "", 0, align(b.Align, r.Align, "L"), false, 0, "")
}

func (c *compiler) block(b Block) error {
	switch b.Type {
	case BlockHeading:
		c.text("heading"+strconv.Itoa(max(b.Level, 1)), b)
	case BlockParagraph:
		c.text("paragraph", b)
	case BlockKeyValue:
		c.keyValue(b)
	case BlockTable:
		c.table(b)
	case BlockList:
		c.list(b)
	case BlockRule:
		c.hr(b)
	case BlockSpacer:
		c.pdf.Ln(b.Height)
	case BlockImage:
		return c.image(b)
	default:
		return fmt.Errorf("unknown block type %q", b.Type)
	}
	return nil
}

func (c *compiler) text(element string, b Block) {
	r := c.style.Resolve(element, b.Class)
	lh := c.apply(r)
	if r.SpaceBefore > 0 {
		c.pdf.Ln(r.SpaceBefore)
	}
	c.pdf.MultiCell(0, lh, c.str(b.Text), "", align(b.Align, r.Align, "L"), r.Fill != "")
	if r.SpaceAfter > 0 {
		c.pdf.Ln(r.SpaceAfter)
	}
}

func (c *compiler) keyValue(b Block) {
	keyRule := c.style.Resolve("key", b.Class)
	valueRule := c.style.Resolve("value", b.Class)
	keyWidth := c.contentWidth() * 0.35
	left, _, _, _ := c.pdf.GetMargins()

	for _, p := range b.Pairs {
		c.pdf.SetX(left)
		lh := c.apply(keyRule)
		c.pdf.CellFormat(keyWidth, lh, c.str(p.Key), "", 0, "L", false, 0, "")
		lh = c.apply(valueRule)
		c.pdf.MultiCell(0, lh, c.str(p.Value), "", align(b.Align, valueRule.Align, "L"), false)
	}
	if valueRule.SpaceAfter > 0 {
		c.pdf.Ln(valueRule.SpaceAfter)
	}
}

func (c *compiler) table(b Block) {
	widths := c.columnWidths(b.Columns)
	left, _, _, bottom := c.pdf.GetMargins()
	_, pageHeight := c.pdf.GetPageSize()

	head := c.style.Resolve("table_header", b.Class)
	lh := c.apply(head)
	c.pdf.SetX(left)
	for i, col := range b.Columns {
		c.pdf.CellFormat(widths[i], lh, c.str(col.Header), "1", 0, align(col.Align, head.Align, "L"), head.Fill != "", 0, "")
	}
	c.pdf.Ln(lh)

	cell := c.style.Resolve("table_cell", b.Class)
	lh = c.apply(cell)
	for _, row := range b.Rows {
		lines := 1
		for i, v := range row {
			if n := len(c.pdf.SplitText(c.str(v), widths[i]-2)); n > lines {
				lines = n
			}
		}
		height := float64(lines) * lh
		if c.pdf.GetY()+height > pageHeight-bottom {
			c.pdf.AddPage()
			c.apply(cell)
		}
		x, y := left, c.pdf.GetY()
		for i := range b.Columns {
			v := ""
			if i < len(row) {
				v = row[i]
			}
			c.pdf.Rect(x, y, widths[i], height, "D")
			c.pdf.SetXY(x, y)
			c.pdf.MultiCell(widths[i], lh, c.str(v), "", align(b.Columns[i].Align, cell.Align, "L"), false)
			x += widths[i]
		}
		c.pdf.SetXY(left, y+height)
	}
	if cell.SpaceAfter > 0 {
		c.pdf.Ln(cell.SpaceAfter)
	} else {
		c.pdf.Ln(2)
	}
}

func (c *compiler) columnWidths(cols []Column) []float64 {
	total := c.contentWidth()
	fixed, auto := 0.0, 0
	for _, col := range cols {
		if col.Width > 0 {
			fixed += col.Width
		} else {
			auto++
		}
	}
	share := 0.0
	if auto > 0 && total > fixed {
		share = (total - fixed) / float64(auto)
	}
	out := make([]float64, len(cols))
	for i, col := range cols {
		out[i] = col.Width
		if col.Width == 0 {
			out[i] = share
		}
	}
	return out
}

func (c *compiler) list(b Block) {
	r := c.style.Resolve("list", b.Class)
	lh := c.apply(r)
	left, _, _, _ := c.pdf.GetMargins()
	indent := r.Size * ptToMM * 2
	for i, item := range b.Items {
		bullet := "-"
		if b.Ordered {
			bullet = strconv.Itoa(i+1) + "."
		}
		c.pdf.SetX(left)
		c.pdf.CellFormat(indent, lh, c.str(bullet), "", 0, "R", false, 0, "")
		c.pdf.SetX(left + indent + 1)
		c.pdf.MultiCell(0, lh, c.str(item), "", align(b.Align, r.Align, "L"), false)
	}
	if r.SpaceAfter > 0 {
		c.pdf.Ln(r.SpaceAfter)
	}
}

func (c *compiler) hr(b Block) {
	r := c.style.Resolve("hr", b.Class)
	col := parseColor(r.Color)
	c.pdf.SetDrawColor(col.r, col.g, col.b)
	left, _, right, _ := c.pdf.GetMargins()
	w, _ := c.pdf.GetPageSize()
	c.pdf.Ln(r.SpaceBefore + 1)
	y := c.pdf.GetY()
	c.pdf.Line(left, y, w-right, y)
	c.pdf.SetDrawColor(0, 0, 0)
	c.pdf.Ln(r.SpaceAfter + 1)
}

func (c *compiler) image(b Block) error {
	img, err := c.assets.load(b.Src)
	if err != nil {
		return err
	}
	opts := fpdf.ImageOptions{ImageType: img.kind}
	info, ok := c.loaded[img.name]
	if !ok {
		info = c.pdf.RegisterImageOptionsReader(img.name, opts, img.reader())
		if c.pdf.Err() {
			return c.pdf.Error()
		}
		c.loaded[img.name] = info
	}

	w, h := b.Width, b.Height
	switch {
	case w == 0 && h == 0:
		w, h = info.Width(), info.Height()
	case w == 0:
		w = info.Width() * h / info.Height()
	case h == 0:
		h = info.Height() * w / info.Width()
	}
	if cw := c.contentWidth(); w > cw {
		h, w = h*cw/w, cw
	}

	left, _, _, _ := c.pdf.GetMargins()
	x := left
	switch b.Align {
	case "C":
		x = left + (c.contentWidth()-w)/2
	case "R":
		x = left + c.contentWidth() - w
	}
	c.pdf.ImageOptions(img.name, x, c.pdf.GetY(), w, h, true, opts, 0, "")
	return nil
}

// ascii strings are written as plain PDF strings, others as UTF-16.
func ascii(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func align(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return "L"
}
