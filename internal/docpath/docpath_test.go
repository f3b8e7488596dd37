package docpath

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/othala/internal/issuer"
)

const rawID = "53ced5ac-d3af-4b08-8ead-096a8cd007a4"

func mustID(t *testing.T) issuer.Identifier {
	t.Helper()
	id, err := issuer.ParseIdentifier(rawID)
	require.NoError(t, err)
	return id
}

func TestURL(t *testing.T) {
	id := mustID(t)
	r := New("/srv/documents", "")

	tests := []struct {
		name string
		r    Resolver
		opts []URLOption
		want string
	}{
		{"relative", r, nil, "/media/" + rawID + ".pdf"},
		{"with host", r, []URLOption{WithHost("example.org")}, "https://example.org/media/" + rawID + ".pdf"},
		{"with scheme", r, []URLOption{WithHost("localhost:8080"), WithScheme("http")}, "http://localhost:8080/media/" + rawID + ".pdf"},
		{"scheme without host stays relative", r, []URLOption{WithScheme("http")}, "/media/" + rawID + ".pdf"},
		{"custom media url", New("/tmp", "files"), nil, "/files/" + rawID + ".pdf"},
		{"unnormalized literal", Resolver{MediaURL: "docs"}, nil, "/docs/" + rawID + ".pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.r.URL(id, tt.opts...))
		})
	}
}

func TestPath(t *testing.T) {
	id := mustID(t)
	r := New("/srv/documents", "/media/")
	assert.Equal(t, filepath.Join("/srv/documents", rawID+".pdf"), r.Path(id))
}

func TestParseFileName(t *testing.T) {
	id, ok := ParseFileName("/srv/documents/" + rawID + ".pdf")
	require.True(t, ok)
	assert.Equal(t, rawID, id.String())

	for _, bad := range []string{rawID, "notes.pdf", "00000000-0000-0000-0000-000000000000.pdf"} {
		_, ok := ParseFileName(bad)
		assert.False(t, ok, bad)
	}
}
