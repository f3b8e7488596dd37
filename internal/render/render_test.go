package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/issuer"
	"github.com/starford/othala/internal/issuer/kinds"
	"github.com/starford/othala/internal/storage"
	"github.com/starford/othala/internal/templates"
)

var created = time.Date(2021, 3, 24, 15, 7, 27, 0, time.UTC)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for x := 0; x < 4; x++ {
		for y := 0; y < 2; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: uint8(x * 40), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fixture struct {
	renderer *Renderer
	store    *storage.FS
	resolver *templates.Resolver
	assets   string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)

	assetsDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(assetsDir, "logos"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(assetsDir, "logos", "babbage.png"), pngBytes(t), 0o644))
	assets, err := NewAssets(assetsDir)
	require.NoError(t, err)

	return fixture{
		renderer: New(store, WithAssets(assets), WithGenerator(Generator("test")), WithAuthor("Othala")),
		store:    store,
		resolver: templates.NewResolver(),
		assets:   assetsDir,
	}
}

func (f fixture) issue(t *testing.T, def issuer.Definition, query any) (*issuer.Context, templates.Pair) {
	t.Helper()
	c, err := def.Issue(query, issuer.NewIdentifier(), created)
	require.NoError(t, err)
	pair, err := f.resolver.Resolve(&def)
	require.NoError(t, err)
	return c, pair
}

func queries(t *testing.T) map[string]any {
	signature := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t))
	return map[string]any{
		kinds.DummyKind: `{"fullname": "Ada Lovelace"}`,
		kinds.CertificateKind: map[string]any{
			"student": map[string]any{"name": "Ada Lovelace"},
			"course":  map[string]any{"name": "Analytical engines"},
			"organization": map[string]any{
				"name":           "Babbage & Co",
				"representative": "Charles Babbage",
				"signature":      signature,
				"logo":           "logos/babbage.png",
			},
		},
		kinds.InvoiceKind: `{
			"metadata": {"reference": "F-2021-001", "issued_on": "2021-03-24T10:00:00Z", "type": "credit_note"},
			"order": {
				"customer": {"name": "Ada", "address": "1 rue de la Paix\n75002 Paris"},
				"company": "Howard",
				"product": {"name": "Training", "description": "Two days on analytical engines"},
				"amount": {"total": "1200.00", "subtotal": 1000, "vat_amount": 200, "vat": 0.2, "currency": "EUR"},
				"seller": {"address": "2 avenue Foch"}
			}
		}`,
		kinds.RealisationKind: map[string]any{
			"student": map[string]any{
				"first_name": "Ada", "last_name": "Lovelace", "gender": "Mme",
				"organization": map[string]any{"name": "Babbage & Co"},
			},
			"course": map[string]any{
				"name": "Machines analytiques",
				"session": map[string]any{
					"date":     map[string]any{"from": "2021-03-01", "to": "20210324"},
					"duration": 14,
					"scope":    kinds.ScopeFormation,
					"manager":  map[string]any{"first_name": "Charles", "last_name": "Babbage", "position": "Directeur"},
				},
				"organization": map[string]any{"name": "Howard", "location": "Paris"},
			},
		},
	}
}

func TestRender_EveryBuiltinKind(t *testing.T) {
	f := newFixture(t)
	qs := queries(t)
	for _, def := range kinds.Builtin() {
		t.Run(def.Kind, func(t *testing.T) {
			c, pair := f.issue(t, def, qs[def.Kind])

			art, err := f.renderer.Render(context.Background(), c, pair)
			require.NoError(t, err)
			assert.Equal(t, c.Identifier.String()+".pdf", art.Name)
			assert.Equal(t, filepath.Join(f.store.Root(), art.Name), art.Path)

			data, err := os.ReadFile(art.Path)
			require.NoError(t, err)
			assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
			assert.Equal(t, storage.Checksum(data), art.Checksum)
			assert.Equal(t, int64(len(data)), art.Size)
			assert.Contains(t, string(data), "Othala, version test")
		})
	}
}

func TestExpand_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	qs := queries(t)
	for _, def := range kinds.Builtin() {
		c, pair := f.issue(t, def, qs[def.Kind])
		first, err := f.renderer.Expand(context.Background(), c, pair)
		require.NoError(t, err)
		second, err := f.renderer.Expand(context.Background(), c, pair)
		require.NoError(t, err)
		assert.Equal(t, first, second, def.Kind)

		_, err = ParseLayout(first.Structure)
		require.NoError(t, err, "%s layout:\n%s", def.Kind, first.Structure)
		_, err = ParseStyle(first.Style)
		require.NoError(t, err, "%s style:\n%s", def.Kind, first.Style)
	}
}

func TestExpand_InvoiceLabelsFollowType(t *testing.T) {
	f := newFixture(t)
	c, pair := f.issue(t, kinds.Invoice(), queries(t)[kinds.InvoiceKind])
	e, err := f.renderer.Expand(context.Background(), c, pair)
	require.NoError(t, err)
	assert.Contains(t, string(e.Structure), `"CREDIT NOTE"`)
	assert.Contains(t, string(e.Structure), `"Refunded to"`)
	assert.Contains(t, string(e.Structure), `1200.00 EUR`)
}

func TestRender_NilContext(t *testing.T) {
	f := newFixture(t)
	_, err := f.renderer.Render(context.Background(), nil, templates.Pair{Kind: "x"})
	var mc *apperr.MissingContextError
	require.ErrorAs(t, err, &mc)

	_, err = f.renderer.Render(context.Background(), &issuer.Context{}, templates.Pair{})
	require.ErrorAs(t, err, &mc)
}

func TestRender_MissingVariableFails(t *testing.T) {
	f := newFixture(t)
	c, pair := f.issue(t, kinds.Dummy(), queries(t)[kinds.DummyKind])
	delete(c.Values, "fullname")

	_, err := f.renderer.Render(context.Background(), c, pair)
	var re *apperr.RenderError
	require.ErrorAs(t, err, &re)
	assert.False(t, re.Retryable)

	files, err := f.store.List()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestRender_CancelledBeforeCompile(t *testing.T) {
	f := newFixture(t)
	c, pair := f.issue(t, kinds.Dummy(), queries(t)[kinds.DummyKind])
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.renderer.Render(ctx, c, pair)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRender_SameIdentifierOverwrites(t *testing.T) {
	f := newFixture(t)
	def := kinds.Dummy()
	id := issuer.NewIdentifier()
	pair, err := f.resolver.Resolve(&def)
	require.NoError(t, err)

	for _, name := range []string{"Ada Lovelace", "Grace Hopper"} {
		c, err := def.Issue(map[string]any{"fullname": name}, id, created)
		require.NoError(t, err)
		_, err = f.renderer.Render(context.Background(), c, pair)
		require.NoError(t, err)
	}
	files, err := f.store.List()
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestCompile_ImageErrors(t *testing.T) {
	style, err := ParseStyle([]byte("font: {family: Helvetica}"))
	require.NoError(t, err)
	assets, err := NewAssets(t.TempDir())
	require.NoError(t, err)

	for _, src := range []string{
		"../outside.png",
		"missing.png",
		"logo.bmp",
		"data:text/plain;base64,aGVsbG8=",
		"data:image/png,not-base64-declared",
	} {
		layout := &Layout{Blocks: []Block{{Type: BlockImage, Src: src}}}
		_, err := Compile(layout, style, Meta{Date: created}, assets)
		assert.Error(t, err, src)
	}
}

func TestParseLayout_Validation(t *testing.T) {
	tests := map[string]string{
		"empty":           ``,
		"no blocks":       `page: {size: A4}`,
		"unknown type":    "blocks:\n  - type: video",
		"heading level":   "blocks:\n  - {type: heading, text: x, level: 7}",
		"missing text":    "blocks:\n  - {type: paragraph}",
		"bad align":       "blocks:\n  - {type: paragraph, text: x, align: middle}",
		"unknown key":     "blocks:\n  - {type: paragraph, text: x, colour: red}",
		"row overflow":    "blocks:\n  - {type: table, columns: [{header: a}], rows: [[x, y]]}",
		"page size":       "page: {size: B7}\nblocks:\n  - {type: hr}",
		"spacer height":   "blocks:\n  - {type: spacer}",
		"keyvalue pairs":  "blocks:\n  - {type: keyvalue}",
		"image src":       "blocks:\n  - {type: image}",
		"footer text":     "footer: {align: C}\nblocks:\n  - {type: hr}",
		"negative column": "blocks:\n  - {type: table, columns: [{header: a, width: -1}]}",
	}
	for name, src := range tests {
		_, err := ParseLayout([]byte(src))
		assert.Error(t, err, name)
	}

	l, err := ParseLayout([]byte("blocks:\n  - {type: heading, text: Title, level: 1}\n  - {type: hr}"))
	require.NoError(t, err)
	assert.Len(t, l.Blocks, 2)
}

func TestStyle_ResolveMergesRules(t *testing.T) {
	s, err := ParseStyle([]byte(`
font: {family: Times, size: 12, style: I}
color: "#111111"
elements:
  heading1: {size: 20, style: B, color: "#1a3c6e"}
  paragraph: {style: regular}
classes:
  muted: {color: "#888888"}
`))
	require.NoError(t, err)

	h := s.Resolve("heading1", "muted")
	assert.Equal(t, "Times", h.Family)
	assert.Equal(t, 20.0, h.Size)
	assert.Equal(t, "B", h.Style)
	assert.Equal(t, "#888888", h.Color)

	p := s.Resolve("paragraph", "")
	assert.Equal(t, "", p.Style)
	assert.Equal(t, "#111111", p.Color)

	assert.Equal(t, rgb{0x1a, 0x3c, 0x6e}, parseColor("#1a3c6e"))

	_, err = ParseStyle([]byte(`elements: {banner: {size: 10}}`))
	assert.Error(t, err)
	_, err = ParseStyle([]byte(`color: red`))
	assert.Error(t, err)
}

func TestCompile_TextOutsideCP1252UsesUnicodeFont(t *testing.T) {
	style, err := ParseStyle([]byte("font: {family: Helvetica}\nelements: {heading1: {style: B}}"))
	require.NoError(t, err)

	latin := &Layout{Blocks: []Block{{Type: BlockParagraph, Text: "Ada Lovelace, née Byron"}}}
	pdf, err := Compile(latin, style, Meta{Date: created}, nil)
	require.NoError(t, err)
	assert.NotContains(t, string(pdf), "/BaseFont /utf8"+strings.ToLower(UnicodeFamily))

	layout := &Layout{Blocks: []Block{
		{Type: BlockHeading, Level: 1, Text: "Łukasz Żółć"},
		{Type: BlockKeyValue, Pairs: []Pair{{Key: "Name", Value: "Łukasz Żółć"}, {Key: "City", Value: "Paris"}}},
		{Type: BlockTable, Columns: []Column{{Header: "Имя"}, {Header: "Total"}}, Rows: [][]string{{"Привет", "12 €"}}},
		{Type: BlockList, Items: []string{"Ωmega", "plain"}},
	}}
	pdf, err = Compile(layout, style, Meta{Title: "Łukasz Żółć", Date: created}, nil)
	require.NoError(t, err)
	assert.Contains(t, string(pdf), "/BaseFont /utf8"+strings.ToLower(UnicodeFamily))
}

func TestCompile_UnsupportedCharacters(t *testing.T) {
	for _, family := range []string{"Helvetica", UnicodeFamily} {
		style, err := ParseStyle([]byte("font: {family: " + family + "}"))
		require.NoError(t, err)
		layout := &Layout{Blocks: []Block{{Type: BlockParagraph, Text: "李小龙"}}}

		_, err = Compile(layout, style, Meta{Date: created}, nil)
		assert.ErrorIs(t, err, ErrUnsupportedText, family)
	}
}

func TestRender_UnsupportedCharactersAreNotRetryable(t *testing.T) {
	f := newFixture(t)
	c, pair := f.issue(t, kinds.Dummy(), `{"fullname": "李小龙"}`)

	_, err := f.renderer.Render(context.Background(), c, pair)
	var re *apperr.RenderError
	require.ErrorAs(t, err, &re)
	assert.False(t, re.Retryable)
	assert.ErrorIs(t, err, ErrUnsupportedText)

	files, err := f.store.List()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestCmapCoverage(t *testing.T) {
	f, err := unicodeFace("BU")
	require.NoError(t, err)
	for _, r := range "AzŁżЖΩ€" {
		assert.True(t, f.has(r), string(r))
	}
	for _, r := range []rune{'李', 0x1F600, -1} {
		assert.False(t, f.has(r), string(r))
	}

	_, err = cmapCoverage([]byte("not a font"))
	assert.Error(t, err)
}
