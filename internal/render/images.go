package render

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/othala/internal/storage"
)

var imageTypes = map[string]string{
	"png":  "PNG",
	"jpg":  "JPG",
	"jpeg": "JPG",
	"gif":  "GIF",
}

// loadedImage is a decoded image ready to register with the PDF.
type loadedImage struct {
	name string // stable key, derived from the source
	kind string // fpdf image type
	data []byte
}

// Assets loads images referenced by layout blocks: base64 data URIs, or
// paths relative to a root directory.
type Assets struct {
	root string
}

// NewAssets returns a loader for root. An empty root only accepts data URIs.
func NewAssets(root string) (*Assets, error) {
	if root == "" {
		return &Assets{}, nil
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("render: assets root: %w", err)
	}
	return &Assets{root: abs}, nil
}

func (a *Assets) load(src string) (loadedImage, error) {
	sum := sha256.Sum256([]byte(src))
	name := "img-" + hex.EncodeToString(sum[:8])

	if rest, ok := strings.CutPrefix(src, "data:"); ok {
		kind, data, err := decodeDataURI(rest)
		if err != nil {
			return loadedImage{}, err
		}
		return loadedImage{name: name, kind: kind, data: data}, nil
	}

	if a.root == "" {
		return loadedImage{}, fmt.Errorf("image %s: no assets root configured", src)
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(src)), ".")
	kind, ok := imageTypes[ext]
	if !ok {
		return loadedImage{}, fmt.Errorf("image %s: unsupported format %q", src, ext)
	}
	abs, err := storage.SafeJoin(a.root, src)
	if err != nil {
		return loadedImage{}, fmt.Errorf("image %s: %w", src, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return loadedImage{}, fmt.Errorf("image %s: %w", src, err)
	}
	return loadedImage{name: name, kind: kind, data: data}, nil
}

// decodeDataURI reads "image/<type>;base64,<payload>".
func decodeDataURI(s string) (string, []byte, error) {
	meta, payload, ok := strings.Cut(s, ",")
	if !ok {
		return "", nil, errors.New("data uri: missing payload")
	}
	mediaType, encoding, _ := strings.Cut(meta, ";")
	if encoding != "base64" {
		return "", nil, fmt.Errorf("data uri: unsupported encoding %q", encoding)
	}
	sub, ok := strings.CutPrefix(mediaType, "image/")
	if !ok {
		return "", nil, fmt.Errorf("data uri: not an image: %q", mediaType)
	}
	kind, ok := imageTypes[strings.ToLower(sub)]
	if !ok {
		return "", nil, fmt.Errorf("data uri: unsupported image type %q", sub)
	}
	payload = strings.TrimSpace(payload)
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return "", nil, fmt.Errorf("data uri: %w", err)
		}
	}
	return kind, data, nil
}

func (i loadedImage) reader() *bytes.Reader {
	return bytes.NewReader(i.data)
}
