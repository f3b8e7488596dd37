package templates

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/issuer"
	"github.com/starford/othala/internal/issuer/kinds"
)

func TestBaseName(t *testing.T) {
	tests := map[string]string{
		"howard.realisation-certificate": "realisation",
		"marion.dummy-document":          "dummy",
		"howard.certificate":             "certificate",
		"howard.invoice":                 "invoice",
		"acme.Purchase_Order_document":   "purchase-order",
		"acme.-document":                 "document",
		"Plain":                          "plain",
	}
	for kind, want := range tests {
		assert.Equal(t, want, BaseName(kind), kind)
	}
}

func TestResolve_EmbeddedDefaultsForEveryBuiltin(t *testing.T) {
	r := NewResolver()
	for _, def := range kinds.Builtin() {
		def := def
		pair, err := r.Resolve(&def)
		require.NoError(t, err, def.Kind)
		assert.Equal(t, def.Kind, pair.Kind)
		assert.Equal(t, BaseName(def.Kind)+StructureSuffix, pair.Structure.Name())
		assert.Equal(t, BaseName(def.Kind)+StyleSuffix, pair.Style.Name())
	}
}

func TestResolve_NotFound(t *testing.T) {
	r := NewResolver()
	def := &issuer.Definition{Kind: "acme.unknown"}

	_, err := r.Resolve(def)
	var nf *apperr.TemplateNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "acme.unknown", nf.Kind)
	assert.Equal(t, "unknown"+StructureSuffix, nf.Name)

	def.StructureTemplate = "../etc/passwd"
	_, err = r.Resolve(def)
	require.ErrorAs(t, err, &nf)
}

func writeTemplate(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func execute(t *testing.T, pair Pair, data map[string]any) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, pair.Structure.Execute(&buf, data))
	return buf.String()
}

func TestResolve_DiskLayerShadowsDefaults(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "dummy"+StructureSuffix, "custom {{ .fullname }}")

	r := NewResolver(WithRoot(dir))
	def := kinds.Dummy()
	pair, err := r.Resolve(&def)
	require.NoError(t, err)
	assert.Equal(t, "custom Ada", execute(t, pair, map[string]any{"fullname": "Ada"}))
	// style still comes from the embedded set
	assert.Equal(t, "dummy"+StyleSuffix, pair.Style.Name())
}

func TestResolve_Overrides(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "brand/invoice.tmpl", "config override")
	writeTemplate(t, dir, "definition.tmpl", "definition override")

	def := kinds.Invoice()
	def.StructureTemplate = "definition.tmpl"

	pair, err := NewResolver(WithRoot(dir)).Resolve(&def)
	require.NoError(t, err)
	assert.Equal(t, "definition override", execute(t, pair, nil))

	r := NewResolver(WithRoot(dir), WithOverrides(map[string]Override{
		kinds.InvoiceKind: {Structure: "brand/invoice.tmpl"},
	}))
	pair, err = r.Resolve(&def)
	require.NoError(t, err)
	assert.Equal(t, "config override", execute(t, pair, nil))
}

func TestResolve_MissingRootFallsBackToDefaults(t *testing.T) {
	r := NewResolver(WithRoot(filepath.Join(t.TempDir(), "absent")))
	assert.Empty(t, r.Root())

	def := kinds.Dummy()
	_, err := r.Resolve(&def)
	require.NoError(t, err)
}

func TestResolve_MissingKeyIsAnError(t *testing.T) {
	r := NewResolver()
	def := kinds.Dummy()
	pair, err := r.Resolve(&def)
	require.NoError(t, err)

	var buf bytes.Buffer
	err = pair.Structure.Execute(&buf, map[string]any{"identifier": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fullname")
}

func TestInvalidate(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "dummy"+StructureSuffix, "v1")
	r := NewResolver(WithRoot(dir))
	def := kinds.Dummy()

	pair, err := r.Resolve(&def)
	require.NoError(t, err)
	assert.Equal(t, "v1", execute(t, pair, nil))

	writeTemplate(t, dir, "dummy"+StructureSuffix, "v2")
	pair, err = r.Resolve(&def)
	require.NoError(t, err)
	assert.Equal(t, "v1", execute(t, pair, nil), "cached until invalidated")

	r.Invalidate("dummy" + StructureSuffix)
	pair, err = r.Resolve(&def)
	require.NoError(t, err)
	assert.Equal(t, "v2", execute(t, pair, nil))
}

func TestAvailable(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "extra.layout.yaml.tmpl", "x")
	names, err := NewResolver(WithRoot(dir)).Available()
	require.NoError(t, err)
	assert.Contains(t, names, "extra.layout.yaml.tmpl")
	assert.Contains(t, names, "invoice"+StructureSuffix)
}

func TestWatch_InvalidatesOnChange(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "dummy"+StructureSuffix, "v1")
	r := NewResolver(WithRoot(dir))
	def := kinds.Dummy()
	_, err := r.Resolve(&def)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var changed []string
	go r.Watch(ctx, func(names []string) {
		mu.Lock()
		changed = append(changed, names...)
		mu.Unlock()
	})
	time.Sleep(100 * time.Millisecond)

	writeTemplate(t, dir, "dummy"+StructureSuffix, "v2")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changed) > 0
	}, 3*time.Second, 50*time.Millisecond)

	pair, err := r.Resolve(&def)
	require.NoError(t, err)
	assert.Equal(t, "v2", execute(t, pair, nil))
}

func TestWatch_NoRootReturnsImmediately(t *testing.T) {
	err := NewResolver().Watch(context.Background(), nil)
	assert.NoError(t, err)
}
