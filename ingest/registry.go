// Package ingest reads requirement and drawing documents produced by the
// extraction front ends and turns them into validated collections.
package ingest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Decoder defines the interface for document decoders.
type Decoder interface {
	// Decode unmarshals content into v.
	Decode(content []byte, v any) error

	// CanDecode returns true if this decoder handles the given MIME type.
	CanDecode(mimeType string) bool

	// MimeType returns the primary MIME type for this decoder.
	MimeType() string
}

// Registry manages document decoders.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]Decoder // keyed by primary MIME type
}

// NewRegistry creates a new decoder registry with the JSON and YAML decoders.
func NewRegistry() *Registry {
	r := &Registry{
		decoders: make(map[string]Decoder),
	}

	r.Register(JSONDecoder{})
	r.Register(YAMLDecoder{})

	return r
}

// Register adds a decoder to the registry.
func (r *Registry) Register(d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[d.MimeType()] = d
}

// GetByMimeType returns a decoder for the given MIME type.
func (r *Registry) GetByMimeType(mimeType string) Decoder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.decoders[mimeType]; ok {
		return d
	}
	for _, d := range r.decoders {
		if d.CanDecode(mimeType) {
			return d
		}
	}
	return nil
}

// GetByExtension returns a decoder for a file based on its extension.
func (r *Registry) GetByExtension(filename string) Decoder {
	return r.GetByMimeType(MimeTypeFromExtension(filepath.Ext(filename)))
}

// Decode decodes content using the decoder for filename's extension.
func (r *Registry) Decode(filename string, content []byte, v any) error {
	d := r.GetByExtension(filename)
	if d == nil {
		return fmt.Errorf("no decoder for file type: %q", filepath.Ext(filename))
	}
	if err := d.Decode(content, v); err != nil {
		return fmt.Errorf("decode %s: %w", filename, err)
	}
	return nil
}

// ListMimeTypes returns all registered MIME types, sorted.
func (r *Registry) ListMimeTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.decoders))
	for t := range r.decoders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Extensions returns the file extensions the registry can decode.
func (r *Registry) Extensions() []string {
	var out []string
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		if r.GetByExtension("x"+ext) != nil {
			out = append(out, ext)
		}
	}
	return out
}

// MimeTypeFromExtension returns the MIME type for a file extension.
func MimeTypeFromExtension(ext string) string {
	switch strings.ToLower(ext) {
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "application/octet-stream"
	}
}

// JSONDecoder decodes JSON documents.
type JSONDecoder struct{}

// Decode implements Decoder.
func (JSONDecoder) Decode(content []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	return dec.Decode(v)
}

// CanDecode implements Decoder.
func (JSONDecoder) CanDecode(mimeType string) bool {
	return mimeType == "application/json" || mimeType == "text/json"
}

// MimeType implements Decoder.
func (JSONDecoder) MimeType() string { return "application/json" }

// YAMLDecoder decodes YAML documents.
type YAMLDecoder struct{}

// Decode implements Decoder.
func (YAMLDecoder) Decode(content []byte, v any) error {
	return yaml.Unmarshal(content, v)
}

// CanDecode implements Decoder.
func (YAMLDecoder) CanDecode(mimeType string) bool {
	switch mimeType {
	case "application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml":
		return true
	}
	return false
}

// MimeType implements Decoder.
func (YAMLDecoder) MimeType() string { return "application/yaml" }

// ContentHash computes a SHA256 hash of the content.
func ContentHash(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}
