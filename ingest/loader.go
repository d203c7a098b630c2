package ingest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360studio/codecomply/measurement"
	"github.com/c360studio/codecomply/requirement"
	"github.com/c360studio/codecomply/units"
)

// SourceFile identifies a document that was read.
type SourceFile struct {
	Path string `json:"path" yaml:"path"`
	Hash string `json:"hash" yaml:"hash"`
	// CID is the content identifier of the same bytes.
	CID string `json:"cid" yaml:"cid"`
}

// Requirements is the result of loading one or more requirements documents.
type Requirements struct {
	Collection *requirement.Collection
	Files      []SourceFile
	// Rejected holds one error per record excluded from the collection.
	Rejected []error
}

// Drawing is the result of loading one drawing document.
type Drawing struct {
	// Name identifies the drawing in reports and publish subjects.
	Name         string
	File         SourceFile
	Unit         units.Unit
	Scale        float64
	Context      measurement.DrawingContext
	Measurements *measurement.Collection
	Rejected     []error
}

// Loader reads documents through a decoder registry.
type Loader struct {
	registry *Registry
	logger   *slog.Logger
}

// NewLoader creates a loader. A nil registry uses NewRegistry().
func NewLoader(registry *Registry, logger *slog.Logger) *Loader {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{registry: registry, logger: logger}
}

// Registry returns the loader's decoder registry.
func (l *Loader) Registry() *Registry { return l.registry }

func (l *Loader) read(path string, v any) (SourceFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return SourceFile{}, fmt.Errorf("read %s: %w", path, err)
	}
	if err := l.registry.Decode(path, content, v); err != nil {
		return SourceFile{}, err
	}
	return SourceFile{Path: path, Hash: ContentHash(content), CID: ContentID(content)}, nil
}

// LoadRequirements reads every requirements document in paths into a single
// collection. Clause ids must be unique across all documents. Unreadable
// documents are errors; malformed records are returned in Rejected.
func (l *Loader) LoadRequirements(paths []string) (*Requirements, error) {
	out := &Requirements{}
	var specs []requirement.Spec

	for _, path := range paths {
		var doc RequirementDocument
		file, err := l.read(path, &doc)
		if err != nil {
			return nil, err
		}
		out.Files = append(out.Files, file)

		source := doc.Source
		if source == "" {
			source = filepath.Base(path)
		}
		for _, rec := range doc.Requirements {
			specs = append(specs, rec.Spec(source))
		}
		l.logger.Debug("Read requirements document",
			slog.String("path", path),
			slog.String("source", source),
			slog.Int("records", len(doc.Requirements)))
	}

	out.Collection, out.Rejected = requirement.NewCollection(specs)
	return out, nil
}

// LoadDrawing reads one drawing document.
func (l *Loader) LoadDrawing(path string) (*Drawing, error) {
	var doc DrawingDocument
	file, err := l.read(path, &doc)
	if err != nil {
		return nil, err
	}

	unit, _, err := doc.DrawingUnit()
	if err != nil {
		return nil, fmt.Errorf("drawing %s: %w", path, err)
	}
	if doc.Scale < 0 {
		return nil, fmt.Errorf("drawing %s: scale %v is negative", path, doc.Scale)
	}
	scale := doc.Scale
	if scale == 0 {
		scale = 1
	}

	name := doc.Filename
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	specs := make([]measurement.Spec, len(doc.Measurements))
	for i, rec := range doc.Measurements {
		specs[i] = rec.Spec(unit, scale)
	}
	coll, rejected := measurement.NewCollection(specs)

	d := &Drawing{
		Name:         name,
		File:         file,
		Unit:         unit,
		Scale:        scale,
		Context:      measurement.NewDrawingContext(stringMap(doc.Context)),
		Measurements: coll,
		Rejected:     rejected,
	}
	l.logger.Debug("Read drawing document",
		slog.String("path", path),
		slog.String("drawing", name),
		slog.Int("measurements", coll.Len()),
		slog.Int("rejected", len(rejected)))
	return d, nil
}
