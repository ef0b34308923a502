// Package dataset reads and writes the JSON record lists of a recording
// session: the input prompts, the completed takes and the skip log.
package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Entry is one dataset record. ID is unique within a file.
type Entry struct {
	ID         string   `json:"id"`
	SourceText string   `json:"source_text"`
	TargetText string   `json:"target_text,omitempty"`
	Dialect    string   `json:"dialect,omitempty"`
	AudioRef   string   `json:"audio_ref,omitempty"`
	DurationS  *float64 `json:"duration_s,omitempty"`
}

// Duration returns DurationS or 0 when the entry carries none.
func (e Entry) Duration() float64 {
	if e.DurationS == nil {
		return 0
	}
	return *e.DurationS
}

// Schema names the JSON fields of a dataset file.
type Schema struct {
	SourceField   string // required source text
	TargetField   string // dialect-agnostic target text, preferred when present
	TargetPrefix  string // dialect-specific target text is TargetPrefix + dialect code
	DialectField  string
	AudioField    string
	DurationField string
}

// InputSchema describes prompt files: {"id", "de", "ch", "ch_<dialect>"}.
var InputSchema = Schema{
	SourceField:  "de",
	TargetField:  "ch",
	TargetPrefix: "ch_",
}

// OutputSchema describes the completed-takes file written by Write.
var OutputSchema = Schema{
	SourceField:   "source_text",
	TargetField:   "target_text",
	DialectField:  "dialect",
	AudioField:    "audio_ref",
	DurationField: "duration_s",
}

// FormatError reports a dataset file that does not have the expected shape.
type FormatError struct {
	Path   string
	Index  int // -1 for the top-level value
	Reason string
}

func (e *FormatError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid dataset %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("invalid dataset %s: item %d: %s", e.Path, e.Index, e.Reason)
}

// DialectTextField returns the dialect-specific field name for code, e.g. "ch_zh".
func (s Schema) DialectTextField(code string) string {
	return s.TargetPrefix + strings.ToLower(code)
}

// Read loads the entries of a dataset file. With a non-empty dialect only
// entries carrying the dialect-specific text field are kept, and only those
// are validated. A missing file is reported with an error wrapping
// fs.ErrNotExist.
func Read(path string, schema Schema, dialect string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var top any
	if err := dec.Decode(&top); err != nil {
		return nil, &FormatError{Path: path, Index: -1, Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &FormatError{Path: path, Index: -1, Reason: "unexpected data after the top-level value"}
	}

	items, ok := top.([]any)
	if !ok {
		return nil, &FormatError{Path: path, Index: -1, Reason: fmt.Sprintf("expected a list, got %s", jsonType(top))}
	}

	filterField := ""
	if dialect != "" && schema.TargetPrefix != "" {
		filterField = schema.DialectTextField(dialect)
	}

	entries := make([]Entry, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, &FormatError{Path: path, Index: i, Reason: fmt.Sprintf("expected an object, got %s", jsonType(item))}
		}
		if filterField != "" {
			if _, ok := obj[filterField]; !ok {
				continue
			}
		}

		entry, err := decodeEntry(obj, schema, filterField)
		if err != nil {
			return nil, &FormatError{Path: path, Index: i, Reason: err.Error()}
		}
		if filterField != "" {
			entry.Dialect = strings.ToUpper(dialect)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ReadInput loads a prompt file filtered to dialect.
func ReadInput(path, dialect string) ([]Entry, error) {
	return Read(path, InputSchema, dialect)
}

// ReadOutput loads a completed-takes file.
func ReadOutput(path string) ([]Entry, error) {
	return Read(path, OutputSchema, "")
}

func decodeEntry(obj map[string]any, schema Schema, dialectField string) (Entry, error) {
	var e Entry

	rawID, hasID := obj["id"]
	rawSource, hasSource := obj[schema.SourceField]
	if !hasID || !hasSource {
		return e, fmt.Errorf("missing required keys %q and %q, found %v", "id", schema.SourceField, keys(obj))
	}

	id, err := idString(rawID)
	if err != nil {
		return e, err
	}
	e.ID = id

	source, ok := rawSource.(string)
	if !ok {
		return e, fmt.Errorf("%q must be a string, got %s", schema.SourceField, jsonType(rawSource))
	}
	e.SourceText = source

	if s, ok := stringField(obj, schema.TargetField); ok && s != "" {
		e.TargetText = s
	} else if s, ok := stringField(obj, dialectField); ok {
		e.TargetText = s
	}
	if s, ok := stringField(obj, schema.DialectField); ok {
		e.Dialect = s
	}
	if s, ok := stringField(obj, schema.AudioField); ok {
		e.AudioRef = s
	}
	if schema.DurationField != "" {
		if n, ok := obj[schema.DurationField].(json.Number); ok {
			d, err := n.Float64()
			if err != nil {
				return e, fmt.Errorf("%q is not a number: %v", schema.DurationField, err)
			}
			e.DurationS = &d
		}
	}
	return e, nil
}

// idString accepts string and numeric ids; numbers keep their literal text.
func idString(v any) (string, error) {
	switch id := v.(type) {
	case string:
		if id == "" {
			return "", fmt.Errorf("id cannot be empty")
		}
		if strings.ContainsAny(id, "\r\n") {
			return "", fmt.Errorf("id %q must not contain line breaks", id)
		}
		return id, nil
	case json.Number:
		return id.String(), nil
	default:
		return "", fmt.Errorf("id must be a string or number, got %s", jsonType(v))
	}
}

func stringField(obj map[string]any, field string) (string, bool) {
	if field == "" {
		return "", false
	}
	s, ok := obj[field].(string)
	return s, ok
}

func keys(obj map[string]any) []string {
	out := make([]string, 0, len(obj))
	for k := range obj {
		out = append(out, k)
	}
	return out
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "bool"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Write replaces path with entries as a JSON list. Parent directories are
// created; the previous file is only replaced once the new one is complete.
func Write(path string, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create dataset directory: %w", err)
	}
	return writeFileAtomic(path, buf.Bytes(), 0644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".dataset-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
