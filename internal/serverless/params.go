// Package serverless runs one OCR job per invocation for a queue-driven
// worker: it validates the job input, acquires the file, asks the engine for
// the single requested artifact and always removes the job workspace.
package serverless

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/QThans/MinerU-runpod/internal/domain"
	"github.com/QThans/MinerU-runpod/internal/ingest"
)

// Option sets accepted by a job, in the order they are reported to callers.
var (
	Backends      = []string{"pipeline", "vlm-auto-engine", "vlm-http-client", "hybrid-auto-engine", "hybrid-http-client"}
	Methods       = []string{"auto", "txt", "ocr"}
	ReturnFormats = []string{"markdown", "json", "content_list"}
)

// Return formats
const (
	FormatMarkdown    = "markdown"
	FormatJSON        = "json"
	FormatContentList = "content_list"
)

// Job parameter defaults
const (
	DefaultBackend      = "hybrid-auto-engine"
	DefaultMethod       = "auto"
	DefaultLang         = "ch"
	DefaultReturnFormat = FormatMarkdown
	DefaultFileName     = "input.pdf"
	DefaultEndPage      = 99999
)

// JobParameters is the validated form of a job's input map.
type JobParameters struct {
	FileBase64    string
	FileURL       string
	FileName      string
	Backend       string
	Method        string
	Lang          string
	ReturnFormat  string
	FormulaEnable bool
	TableEnable   bool
	StartPage     int
	EndPage       int
}

// inputSchema constrains the types of the free-form job options. The
// enumerated options are checked separately so their messages list the
// accepted values.
const inputSchema = `{
  "type": "object",
  "properties": {
    "file_base64":    {"type": "string"},
    "file_url":       {"type": "string"},
    "file_name":      {"type": "string"},
    "lang":           {"type": "string", "minLength": 1},
    "formula_enable": {"type": "boolean"},
    "table_enable":   {"type": "boolean"},
    "start_page":     {"type": "integer", "minimum": 0},
    "end_page":       {"type": ["integer", "null"], "minimum": 0}
  }
}`

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("job_input.json", strings.NewReader(inputSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile("job_input.json")
})

// jobInput mirrors the schema for decoding once the types are known to be right.
type jobInput struct {
	FileBase64    string `json:"file_base64"`
	FileURL       string `json:"file_url"`
	FileName      string `json:"file_name"`
	Lang          string `json:"lang"`
	FormulaEnable *bool  `json:"formula_enable"`
	TableEnable   *bool  `json:"table_enable"`
	StartPage     *int   `json:"start_page"`
	EndPage       *int   `json:"end_page"`
}

// ParseParameters validates input and applies defaults. It never touches the
// filesystem or the network.
func ParseParameters(input map[string]any) (JobParameters, error) {
	b64, hasB64 := nonEmptyString(input["file_base64"])
	fileURL, hasURL := nonEmptyString(input["file_url"])
	if !hasB64 && !hasURL {
		return JobParameters{}, domain.ValidationError("Missing required parameter: file_base64 or file_url", nil)
	}
	if hasB64 && hasURL {
		return JobParameters{}, domain.ValidationError("Provide only one of file_base64 or file_url", nil)
	}

	p := JobParameters{
		FileBase64:    b64,
		FileURL:       fileURL,
		FileName:      DefaultFileName,
		Lang:          DefaultLang,
		FormulaEnable: true,
		TableEnable:   true,
		StartPage:     0,
		EndPage:       DefaultEndPage,
	}

	var err error
	if p.Backend, err = enumOption(input, "backend", DefaultBackend, Backends); err != nil {
		return JobParameters{}, err
	}
	if p.Method, err = enumOption(input, "method", DefaultMethod, Methods); err != nil {
		return JobParameters{}, err
	}
	if p.ReturnFormat, err = enumOption(input, "return_format", DefaultReturnFormat, ReturnFormats); err != nil {
		return JobParameters{}, err
	}

	data, err := json.Marshal(input)
	if err != nil {
		return JobParameters{}, domain.ValidationError("Invalid job input", err)
	}
	if err := validateTypes(data); err != nil {
		return JobParameters{}, err
	}

	var in jobInput
	if err := json.Unmarshal(data, &in); err != nil {
		return JobParameters{}, domain.ValidationError("Invalid job input", err)
	}

	if in.FileName != "" {
		p.FileName = in.FileName
	}
	if in.Lang != "" {
		p.Lang = in.Lang
	}
	if in.FormulaEnable != nil {
		p.FormulaEnable = *in.FormulaEnable
	}
	if in.TableEnable != nil {
		p.TableEnable = *in.TableEnable
	}
	if in.StartPage != nil {
		p.StartPage = *in.StartPage
	}
	if in.EndPage != nil {
		p.EndPage = *in.EndPage
	}
	return p, nil
}

func validateTypes(data []byte) error {
	schema, err := compileSchema()
	if err != nil {
		return domain.ConfigError("compile job input schema", err)
	}

	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return domain.ValidationError("Invalid job input", err)
	}
	if err := schema.Validate(v); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return domain.ValidationError(describe(ve), nil)
		}
		return domain.ValidationError("Invalid job input", err)
	}
	return nil
}

// describe reports the first leaf failure, e.g.
// "Invalid parameter start_page: expected integer, but got string".
func describe(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	field := strings.TrimLeft(ve.InstanceLocation, "#/")
	if field == "" {
		return "Invalid job input: " + ve.Message
	}
	return fmt.Sprintf("Invalid parameter %s: %s", field, ve.Message)
}

func enumOption(input map[string]any, key, def string, valid []string) (string, error) {
	raw, ok := input[key]
	if !ok || raw == nil {
		return def, nil
	}
	if s, ok := raw.(string); ok {
		for _, v := range valid {
			if s == v {
				return s, nil
			}
		}
	}
	return "", domain.ValidationError(
		fmt.Sprintf("Invalid %s: %v. Valid options: %s", key, raw, optionList(valid)), nil)
}

// optionList renders options as ['a', 'b'], the form job clients already
// match on.
func optionList(opts []string) string {
	quoted := make([]string, len(opts))
	for i, o := range opts {
		quoted[i] = "'" + o + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func nonEmptyString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok && s != ""
}

// Extension resolves the input extension from the URL path or file name,
// falling back to pdf.
func (p JobParameters) Extension() string {
	var ext string
	if p.FileURL != "" {
		if u, err := url.Parse(p.FileURL); err == nil {
			ext = ingest.ExtOfURLPath(u.Path)
		}
	} else {
		ext = ingest.ExtOf(p.FileName)
	}
	if ext == "" {
		return "pdf"
	}
	return ext
}

// Options converts the parameters into engine options.
func (p JobParameters) Options() domain.ExtractOptions {
	return domain.ExtractOptions{
		Backend:       p.Backend,
		Method:        p.Method,
		Lang:          p.Lang,
		FormulaEnable: p.FormulaEnable,
		TableEnable:   p.TableEnable,
		StartPage:     p.StartPage,
		EndPage:       p.EndPage,
	}
}

// artifact returns the suffix of the file a return format reads and the
// message reported when the engine did not produce it.
func artifact(format string) (suffix, missing string) {
	switch format {
	case FormatJSON:
		return domain.SuffixMiddleJSON, "Failed to generate JSON output"
	case FormatContentList:
		return domain.SuffixContentList, "Failed to generate content list output"
	default:
		return domain.SuffixMarkdown, "Failed to generate markdown output"
	}
}
