package pointer_path

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format selects how a path list is written.
type Format string

const (
	FormatText Format = "text"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat accepts "text", "yaml"/"yml" and "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text", "txt":
		return FormatText, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// Document is the exported form of a scan result.
type Document struct {
	Target string  `yaml:"target,omitempty" json:"target,omitempty"`
	Paths  []Entry `yaml:"paths" json:"paths"`
}

// Entry is one exported path. Only Path is read back; the other fields are
// for people reading the file.
type Entry struct {
	Path    string   `yaml:"path" json:"path"`
	Module  string   `yaml:"module" json:"module"`
	Base    string   `yaml:"base" json:"base"`
	Offsets []string `yaml:"offsets,flow" json:"offsets"`
	Depth   int      `yaml:"depth" json:"depth"`
}

func NewDocument(target string, paths []PointerPath) Document {
	doc := Document{Target: target, Paths: make([]Entry, 0, len(paths))}
	for _, p := range paths {
		e := Entry{
			Path:    Render(p),
			Module:  p.Module,
			Base:    p.BaseOffset.String(),
			Offsets: make([]string, 0, len(p.Steps)),
			Depth:   p.Depth(),
		}
		for _, o := range p.Steps {
			e.Offsets = append(e.Offsets, o.String())
		}
		doc.Paths = append(doc.Paths, e)
	}
	return doc
}

// Write emits paths to w in the given format. Text output is one rendered
// path per line.
func Write(w io.Writer, format Format, target string, paths []PointerPath) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(NewDocument(target, paths)); err != nil {
			return err
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(NewDocument(target, paths))
	case FormatText:
		bw := bufio.NewWriter(w)
		for _, p := range paths {
			if _, err := fmt.Fprintln(bw, Render(p)); err != nil {
				return err
			}
		}
		return bw.Flush()
	}
	return fmt.Errorf("unknown output format %q", format)
}

// Read loads paths written by Write in any format. JSON is read through the
// YAML decoder. Anything that is not a document is taken as text, one path
// per line, with blank lines and '#' comments skipped.
func Read(r io.Reader) (string, []PointerPath, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", nil, err
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err == nil && doc.Paths != nil {
		paths := make([]PointerPath, 0, len(doc.Paths))
		for _, e := range doc.Paths {
			p, err := Parse(e.Path)
			if err != nil {
				return "", nil, err
			}
			paths = append(paths, p)
		}
		return doc.Target, paths, nil
	}

	var paths []PointerPath
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := Parse(line)
		if err != nil {
			return "", nil, err
		}
		paths = append(paths, p)
	}
	return "", paths, sc.Err()
}
