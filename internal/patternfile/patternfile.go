// Package patternfile reads and writes declarative pattern files.
//
// A pattern file is a YAML, TOML or JSON document holding an ordered list of
// expression/category pairs:
//
//	generated_at: 2026-01-02T15:04:05Z
//	scope: custom
//	patterns:
//	  - expression: 'kernel panic'
//	    category: KERNEL_PANIC
//
// Decoding is strict: unknown keys, a document without a pattern list and
// entries with an empty expression or category reject the whole file.
package patternfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/harrison/logscan/internal/detector"
	"github.com/harrison/logscan/internal/filelock"
)

// Format is a pattern file encoding.
type Format string

// Supported encodings
const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// Export scopes
const (
	ScopeEffective = "effective"
	ScopeCustom    = "custom"
)

// Document is the on-disk layout of a pattern file.
type Document struct {
	GeneratedAt time.Time          `json:"generated_at,omitempty" yaml:"generated_at,omitempty" toml:"generated_at,omitempty"`
	Scope       string             `json:"scope,omitempty" yaml:"scope,omitempty" toml:"scope,omitempty"`
	Patterns    []detector.Pattern `json:"patterns" yaml:"patterns" toml:"patterns"`
}

// FileError reports a pattern file that could not be used.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("pattern file %s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// FormatFromPath infers the encoding from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unsupported pattern file extension %q (want .yaml, .yml, .toml or .json)", filepath.Ext(path))
}

// Decode parses a pattern document and validates its structure.
func Decode(data []byte, format Format) (*Document, error) {
	var doc Document
	var err error
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			err = errors.New("document is empty")
		}
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&doc)
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&doc)
	default:
		return nil, fmt.Errorf("unknown pattern file format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("malformed %s: %w", format, err)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *Document) validate() error {
	if d.Patterns == nil && d.Scope == "" && d.GeneratedAt.IsZero() {
		return &detector.ValidationError{Field: "patterns", Message: "missing pattern list"}
	}
	for i, p := range d.Patterns {
		if strings.TrimSpace(p.Expression) == "" {
			return &detector.ValidationError{Field: "patterns", Message: fmt.Sprintf("entry %d has an empty expression", i+1)}
		}
		if strings.TrimSpace(p.Category) == "" {
			return &detector.ValidationError{Field: "patterns", Message: fmt.Sprintf("pattern %q has an empty category", p.Expression)}
		}
	}
	return nil
}

// Encode writes doc in format.
func Encode(w io.Writer, doc *Document, format Format) error {
	switch format {
	case FormatYAML:
		if !doc.GeneratedAt.IsZero() {
			fmt.Fprintf(w, "# logscan patterns (%s), generated %s\n", doc.Scope, doc.GeneratedAt.Format(time.RFC3339))
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	case FormatTOML:
		if !doc.GeneratedAt.IsZero() {
			fmt.Fprintf(w, "# logscan patterns (%s), generated %s\n", doc.Scope, doc.GeneratedAt.Format(time.RFC3339))
		}
		return toml.NewEncoder(w).Encode(doc)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}
	return fmt.Errorf("unknown pattern file format %q", format)
}

// Load reads and validates the pattern file at path.
func Load(path string) ([]detector.Pattern, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	doc, err := Decode(data, format)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	return doc.Patterns, nil
}

// LoadOptional is Load, except a missing file yields no patterns.
func LoadOptional(path string) ([]detector.Pattern, error) {
	patterns, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return patterns, err
}

// Save atomically replaces path with patterns, holding the file's lock.
func Save(path string, patterns []detector.Pattern, scope string) error {
	return filelock.WithLock(path, func() error {
		return write(path, patterns, scope, time.Now().UTC())
	})
}

func write(path string, patterns []detector.Pattern, scope string, now time.Time) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return &FileError{Path: path, Err: err}
	}
	if patterns == nil {
		patterns = []detector.Pattern{}
	}
	doc := &Document{GeneratedAt: now.Truncate(time.Second), Scope: scope, Patterns: patterns}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &FileError{Path: path, Err: err}
	}
	return filelock.AtomicWriteFunc(path, func(w io.Writer) error {
		return Encode(w, doc, format)
	})
}

// Update runs a read-modify-write cycle on the custom pattern file at path
// under its lock. A missing file starts empty. fn returns the new list and a
// message for the user; when fn fails the file is left untouched.
func Update(path string, fn func(customs []detector.Pattern) ([]detector.Pattern, string, error)) (string, error) {
	var msg string
	err := filelock.WithLock(path, func() error {
		customs, err := LoadOptional(path)
		if err != nil {
			return err
		}
		updated, m, err := fn(customs)
		if err != nil {
			return err
		}
		msg = m
		return write(path, updated, ScopeCustom, time.Now().UTC())
	})
	return msg, err
}

// Export writes the detector's effective set, or only its customs, sorted by
// expression.
func Export(path string, d *detector.Detector, customOnly bool) (string, error) {
	scope := ScopeEffective
	patterns := d.Effective()
	if customOnly {
		scope = ScopeCustom
		patterns = d.Customs()
	}
	if err := Save(path, detector.SortedByExpression(patterns), scope); err != nil {
		return "", err
	}
	return fmt.Sprintf("Exported %d %s patterns to %s", len(patterns), scope, path), nil
}

// Import replaces the detector's customs with the patterns in path.
// A malformed file leaves the detector unchanged.
func Import(path string, d *detector.Detector) (string, error) {
	patterns, err := Load(path)
	if err != nil {
		return "", err
	}
	return d.LoadCustoms(patterns)
}
