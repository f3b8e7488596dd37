package templates

import (
	"bytes"
	"testing"
	"text/template"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/starford/othala/internal/schema"
)

func run(t *testing.T, src string, data map[string]any) string {
	t.Helper()
	tpl, err := template.New("t").Funcs(Funcs()).Option("missingkey=error").Parse(src)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, tpl.Execute(&buf, data))
	return buf.String()
}

func TestQuote_ProducesYAMLScalars(t *testing.T) {
	for _, in := range []string{
		`plain`,
		`colon: and # hash`,
		"multi\nline",
		`"quoted" and \backslash`,
		`réalisation`,
		`- dash`,
	} {
		out := run(t, `v: {{ q .v }}`, map[string]any{"v": in})
		var doc struct{ V string }
		require.NoError(t, yaml.Unmarshal([]byte(out), &doc), out)
		assert.Equal(t, in, doc.V)
	}
}

func TestFormatting(t *testing.T) {
	data := map[string]any{
		"day":    schema.NewDate(2021, time.March, 24),
		"stamp":  time.Date(2021, 3, 24, 15, 7, 27, 0, time.UTC),
		"amount": decimal.RequireFromString("1200.5"),
		"name":   "ada",
		"empty":  "",
		"nested": map[string]any{"a": 1},
	}
	tests := map[string]string{
		`{{ date "02/01/2006" .day }}`:           "24/03/2021",
		`{{ date "02/01/2006" "20210324" }}`:     "24/03/2021",
		`{{ datetime "15:04" .stamp }}`:          "15:07",
		`{{ money .amount }}`:                    "1200.50",
		`{{ money "3" }}`:                        "3.00",
		`{{ upper .name }}`:                      "ADA",
		`{{ default "n/a" .empty }}`:             "n/a",
		`{{ default "n/a" .name }}`:              "ada",
		`{{ has .nested "a" }}`:                  "true",
		`{{ get .nested "b" | default "none" }}`: "none",
	}
	for src, want := range tests {
		assert.Equal(t, want, run(t, src, data), src)
	}
}

func TestMoney_RejectsFloats(t *testing.T) {
	tpl := template.Must(template.New("t").Funcs(Funcs()).Parse(`{{ money .v }}`))
	err := tpl.Execute(&bytes.Buffer{}, map[string]any{"v": 1.5})
	assert.Error(t, err)
}
