package gomssql

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Row is one result row as the boundary delivers it: column name to opaque
// decoded value. Binary columns arrive as base64 text; DecodeBinary turns
// them back into bytes.
type Row map[string]any

// DecodeBinary decodes a base64 binary column value back into the original
// bytes. The round trip through the envelope is exact.
func DecodeBinary(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, &ShapeError{Msg: fmt.Sprintf("binary column value is %T, not base64 text", v)}
	}
	return decodeBase64(s)
}

func decodeRows(payload []byte) ([]Row, error) {
	var rows []Row
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	return rows, nil
}

func decodeRowsAffected(payload []byte) int64 {
	return gjson.GetBytes(payload, "rowsAffected").Int()
}

// CallResult is the decoded outcome of a rich exec: rows affected, zero or
// more result sets, and the final values of OUTPUT parameters.
type CallResult struct {
	RowsAffected int64

	resultSets [][]Row
	outputs    map[string]any
}

func decodeCallResult(payload []byte) (*CallResult, error) {
	var wire struct {
		RowsAffected int64          `json:"rowsAffected"`
		ResultSets   [][]Row        `json:"resultSets"`
		OutputParams map[string]any `json:"outputParams"`
	}
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("decode exec result: %w", err)
	}
	return &CallResult{
		RowsAffected: wire.RowsAffected,
		resultSets:   wire.ResultSets,
		outputs:      wire.OutputParams,
	}, nil
}

// Output returns the value of an OUTPUT parameter. The leading @ marker is
// optional: Output("total") and Output("@total") are equivalent. A missing
// parameter is a ShapeError, never a silent nil.
func (r *CallResult) Output(name string) (any, error) {
	clean := strings.TrimPrefix(name, "@")
	if v, ok := r.outputs[clean]; ok {
		return v, nil
	}
	if v, ok := r.outputs[name]; ok {
		return v, nil
	}
	return nil, &ShapeError{Msg: fmt.Sprintf("output parameter %q not found", name)}
}

// Outputs returns a copy of every OUTPUT parameter value, keyed without the
// @ marker.
func (r *CallResult) Outputs() map[string]any {
	out := make(map[string]any, len(r.outputs))
	for k, v := range r.outputs {
		out[strings.TrimPrefix(k, "@")] = v
	}
	return out
}

// ResultSetCount returns the number of result sets the call produced.
func (r *CallResult) ResultSetCount() int {
	return len(r.resultSets)
}

// ResultSet returns result set i. An out-of-range index is a ShapeError,
// never a silent empty set.
func (r *CallResult) ResultSet(i int) ([]Row, error) {
	if i < 0 || i >= len(r.resultSets) {
		return nil, &ShapeError{Msg: fmt.Sprintf("result set index %d out of range (have %d)", i, len(r.resultSets))}
	}
	return r.resultSets[i], nil
}
