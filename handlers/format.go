package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/opsflow/orchestrate"
	"github.com/BaSui01/opsflow/types"
)

// Format renders a previously published value for humans. Parameters:
//
//	input_key  required context key
//	format     json | yaml | table (default json)
//	title      optional heading line
//	fields     for table: ordered list of dot paths into each item
//
// Output: the rendered string.
type Format struct {
	logger *zap.Logger
}

func NewFormat(logger *zap.Logger) *Format {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Format{logger: logger}
}

func (h *Format) Kind() orchestrate.StepKind { return orchestrate.KindFormat }

func (h *Format) Handle(_ context.Context, step orchestrate.Step, ec *orchestrate.ExecutionContext) (any, []orchestrate.APICall, error) {
	inputKey, err := stringParam(step.Parameters, "input_key")
	if err != nil {
		return nil, nil, err
	}
	value, ok := ec.Get(inputKey)
	if !ok {
		return nil, nil, types.NewErrorf(types.ErrInvalidRequest, "context key %q not found", inputKey)
	}

	format := optStringParam(step.Parameters, "format", "json")
	title := optStringParam(step.Parameters, "title", "")

	var body string
	switch format {
	case "json":
		encoded, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return nil, nil, types.NewError(types.ErrInternalError, "encode value as JSON").WithCause(err)
		}
		body = string(encoded)

	case "yaml":
		encoded, err := yaml.Marshal(value)
		if err != nil {
			return nil, nil, types.NewError(types.ErrInternalError, "encode value as YAML").WithCause(err)
		}
		body = string(encoded)

	case "table":
		body, err = renderTable(value, step.Parameters)
		if err != nil {
			return nil, nil, err
		}

	default:
		return nil, nil, types.NewErrorf(types.ErrInvalidRequest, "unknown format %q", format)
	}

	if title != "" {
		body = title + "\n" + body
	}
	return body, nil, nil
}

func renderTable(value any, params map[string]any) (string, error) {
	var items []any
	switch v := value.(type) {
	case []any:
		items = v
	case []map[string]any:
		for _, item := range v {
			items = append(items, item)
		}
	default:
		return "", types.NewError(types.ErrInvalidRequest, "table format requires a list value")
	}

	rawFields, ok := params["fields"].([]any)
	if !ok || len(rawFields) == 0 {
		return "", types.NewError(types.ErrInvalidRequest, "table format requires a fields list")
	}
	fields := make([]string, 0, len(rawFields))
	for _, f := range rawFields {
		fields = append(fields, fmt.Sprint(f))
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	for i, f := range fields {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, f)
	}
	fmt.Fprintln(w)

	for _, item := range items {
		for i, f := range fields {
			if i > 0 {
				fmt.Fprint(w, "\t")
			}
			cell := dotLookup(item, f)
			if cell == nil {
				fmt.Fprint(w, "-")
			} else {
				fmt.Fprintf(w, "%v", cell)
			}
		}
		fmt.Fprintln(w)
	}
	if err := w.Flush(); err != nil {
		return "", types.NewError(types.ErrInternalError, "render table").WithCause(err)
	}
	return buf.String(), nil
}
