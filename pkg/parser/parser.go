// Package parser turns raw bytes into the []map[string]any records every
// other package in this module works with. It is a pure function at its
// core (records = parse(bytes, format)); pkg/bulk depends only on the
// Parser interface, so a caller can supply any implementation.
package parser

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	jmlerrors "github.com/jira-magic-library/jml/pkg/errors"
)

// Format identifies the wire format of the input bytes.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Options configures a single Parse call.
type Options struct {
	Data   []byte
	Format Format
}

// Result is the parsed record set.
type Result struct {
	Records []map[string]any
}

// Parser is the consumed parsing boundary. pkg/bulk depends on this
// interface, not on any concrete implementation.
type Parser interface {
	Parse(opts Options) (Result, error)
}

// Default implements Parser for CSV, JSON, and YAML, including the
// `<<<...>>>` multiline block preprocessor used to embed a field value
// containing commas/newlines inside an otherwise flat CSV/record row.
type Default struct{}

// New builds the default Parser implementation.
func New() Default { return Default{} }

var blockPattern = regexp.MustCompile(`(?s)<<<(.*?)>>>`)

// preprocessBlocks replaces every `<<<...>>>` span with a single opaque
// token recorded in the returned map, so the outer format's own
// tokenizer (CSV field splitting, in particular) never sees the
// newlines/commas/quotes inside the block. Callers restore the original
// text by looking the token up after the outer parse completes.
func preprocessBlocks(input string) (string, map[string]string) {
	tokens := map[string]string{}
	n := 0
	replaced := blockPattern.ReplaceAllStringFunc(input, func(match string) string {
		inner := blockPattern.FindStringSubmatch(match)[1]
		token := fmt.Sprintf("\x00BLOCK%d\x00", n)
		tokens[token] = inner
		n++
		return token
	})
	return replaced, tokens
}

func restoreBlocks(value string, tokens map[string]string) string {
	for token, original := range tokens {
		value = strings.ReplaceAll(value, token, original)
	}
	return value
}

func (Default) Parse(opts Options) (Result, error) {
	switch opts.Format {
	case FormatCSV:
		return parseCSV(opts.Data)
	case FormatJSON:
		return parseJSON(opts.Data)
	case FormatYAML:
		return parseYAML(opts.Data)
	default:
		return Result{}, jmlerrors.InputParse(fmt.Sprintf("unsupported input format %q", opts.Format), nil)
	}
}

func parseCSV(data []byte) (Result, error) {
	preprocessed, tokens := preprocessBlocks(string(data))

	reader := csv.NewReader(strings.NewReader(preprocessed))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return Result{Records: []map[string]any{}}, nil
	}
	if err != nil {
		return Result{}, jmlerrors.InputParse("failed to read CSV header", err)
	}

	var records []map[string]any
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, jmlerrors.InputParse("failed to read CSV row", err)
		}
		rec := make(map[string]any, len(header))
		for i, col := range header {
			if i >= len(row) {
				continue
			}
			rec[strings.TrimSpace(col)] = restoreBlocks(row[i], tokens)
		}
		records = append(records, rec)
	}
	if records == nil {
		records = []map[string]any{}
	}
	return Result{Records: records}, nil
}

func parseJSON(data []byte) (Result, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))

	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return Result{}, jmlerrors.InputParse("failed to parse JSON input", err)
	}

	switch v := raw.(type) {
	case []any:
		records, err := toRecords(v)
		if err != nil {
			return Result{}, err
		}
		return Result{Records: records}, nil
	case map[string]any:
		return Result{Records: []map[string]any{v}}, nil
	default:
		return Result{}, jmlerrors.InputParse("JSON input must be an object or array of objects", nil)
	}
}

func parseYAML(data []byte) (Result, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Result{}, jmlerrors.InputParse("failed to parse YAML input", err)
	}

	switch v := raw.(type) {
	case []any:
		records, err := toRecords(v)
		if err != nil {
			return Result{}, err
		}
		return Result{Records: records}, nil
	case map[string]any:
		return Result{Records: []map[string]any{normalizeYAMLMap(v)}}, nil
	default:
		return Result{}, jmlerrors.InputParse("YAML input must be a mapping or sequence of mappings", nil)
	}
}

func toRecords(items []any) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, jmlerrors.InputParse(fmt.Sprintf("record %d is not an object", i), nil)
		}
		out = append(out, normalizeYAMLMap(m))
	}
	return out, nil
}

// normalizeYAMLMap returns a shallow copy of m. gopkg.in/yaml.v3 already
// decodes mappings into map[string]any, so no key conversion is done and
// nested values are kept exactly as decoded.
func normalizeYAMLMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
