package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/codecomply/engine"
	"github.com/c360studio/codecomply/ingest"
	"github.com/c360studio/codecomply/report"
)

// Document is the exported envelope around a report.
type Document struct {
	Drawing     string              `json:"drawing" yaml:"drawing"`
	RunID       string              `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	GeneratedAt time.Time           `json:"generated_at" yaml:"generated_at"`
	Inputs      []ingest.SourceFile `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Changes     []report.Change     `json:"changes,omitempty" yaml:"changes,omitempty"`
	Report      *report.Report      `json:"report" yaml:"report"`
}

var statusSymbols = map[engine.Status]string{
	engine.StatusPass:          "✓",
	engine.StatusFail:          "✗",
	engine.StatusInconclusive:  "?",
	engine.StatusNotApplicable: "-",
}

// Symbol returns the console mark for a status.
func Symbol(s engine.Status) string {
	if sym, ok := statusSymbols[s]; ok {
		return sym
	}
	return "?"
}

// Write renders doc to w in format.
func Write(w io.Writer, doc Document, format Format) error {
	if doc.Report == nil {
		return fmt.Errorf("export: document has no report")
	}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	case FormatText:
		_, err := io.WriteString(w, renderText(doc))
		return err
	case FormatMarkdown:
		_, err := io.WriteString(w, renderMarkdown(doc))
		return err
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

// FileName returns the default report file name for a drawing.
func FileName(drawing string, format Format) string {
	info, ok := GetFormatInfo(format)
	ext := ".out"
	if ok {
		ext = info.Extension
	}
	if drawing == "" {
		drawing = "validation"
	}
	return drawing + "-report" + ext
}

// WriteFile writes doc into dir, creating the directory if needed. An empty
// filename uses FileName. The written path is returned.
func WriteFile(dir, filename string, doc Document, format Format) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	if filename == "" {
		filename = FileName(doc.Drawing, format)
	}
	path := filepath.Join(dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	if err := Write(f, doc, format); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}
	return path, nil
}

func renderText(doc Document) string {
	var sb strings.Builder
	s := doc.Report.Summary

	fmt.Fprintf(&sb, "Compliance Summary: %s\n", doc.Drawing)
	fmt.Fprintf(&sb, "Overall Status: %s\n", s.Overall)
	fmt.Fprintf(&sb, "Total Checks: %d\n", s.Total)
	fmt.Fprintf(&sb, "Passed: %d\n", s.Pass)
	fmt.Fprintf(&sb, "Failed: %d\n", s.Fail)
	fmt.Fprintf(&sb, "Inconclusive: %d\n", s.Inconclusive)
	fmt.Fprintf(&sb, "Not Applicable: %d\n", s.NotApplicable)
	sb.WriteString("\n")

	for _, v := range doc.Report.Verdicts {
		fmt.Fprintf(&sb, "%s %s %s: %s\n", Symbol(v.Status), v.ClauseID, v.Subject, v.Detail)
	}

	if len(doc.Changes) > 0 {
		sb.WriteString("\nChanges since previous run:\n")
		for _, c := range doc.Changes {
			fmt.Fprintf(&sb, "  %s: %s -> %s\n", c.ClauseID, orNone(c.From), orNone(c.To))
		}
	}
	return sb.String()
}

func orNone(s engine.Status) string {
	if s == "" {
		return "(none)"
	}
	return string(s)
}

func renderMarkdown(doc Document) string {
	var sb strings.Builder
	r := doc.Report
	s := r.Summary

	fmt.Fprintf(&sb, "# Compliance report: %s\n\n", doc.Drawing)
	if doc.RunID != "" {
		fmt.Fprintf(&sb, "Run `%s`", doc.RunID)
		if !doc.GeneratedAt.IsZero() {
			fmt.Fprintf(&sb, " at %s", doc.GeneratedAt.UTC().Format(time.RFC3339))
		}
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "**Overall: %s** (%d checks: %d pass, %d fail, %d inconclusive, %d not applicable)\n\n",
		s.Overall, s.Total, s.Pass, s.Fail, s.Inconclusive, s.NotApplicable)

	sb.WriteString("| Clause | Subject | Operator | Status | Layers | Detail |\n")
	sb.WriteString("|---|---|---|---|---|---|\n")
	for _, v := range r.Verdicts {
		fmt.Fprintf(&sb, "| %s | %s | %s | %s %s | %s | %s |\n",
			cell(v.ClauseID), cell(v.Subject), v.Operator, Symbol(v.Status), v.Status,
			cell(strings.Join(v.Layers(), ", ")), cell(v.Detail))
	}

	if layers := r.Layers(); len(layers) > 0 {
		sb.WriteString("\n## By layer\n\n")
		sb.WriteString("| Layer | Pass | Fail | Inconclusive | Not applicable |\n")
		sb.WriteString("|---|---|---|---|---|\n")
		for _, l := range layers {
			c := r.ByLayer[l]
			fmt.Fprintf(&sb, "| %s | %d | %d | %d | %d |\n", cell(l), c.Pass, c.Fail, c.Inconclusive, c.NotApplicable)
		}
	}

	if len(doc.Inputs) > 0 {
		sb.WriteString("\n## Inputs\n\n")
		for _, in := range doc.Inputs {
			fmt.Fprintf(&sb, "- `%s` %s\n", in.CID, in.Path)
		}
	}
	return sb.String()
}

// cell escapes table separators and newlines.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
