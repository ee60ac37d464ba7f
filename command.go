package gomssql

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// CommandType tells the boundary how to interpret the SQL text.
type CommandType string

// Command types carried in the envelope.
const (
	CommandText            CommandType = "text"
	CommandStoredProcedure CommandType = "stored_procedure"
)

// Param is a named command parameter. A plain value param leaves Type empty
// and the boundary infers the SQL type; a typed param passes its declared
// type through, and Output marks an OUTPUT parameter whose final value comes
// back in the rich-exec result.
type Param struct {
	Name   string
	Value  any
	Type   string // declared SQL type, e.g. "int", "nvarchar", "varbinary"
	Output bool
}

// P builds a plain value parameter.
func P(name string, value any) Param {
	return Param{Name: name, Value: value}
}

// TypedP builds a parameter with a declared SQL type.
func TypedP(name string, value any, sqlType string) Param {
	return Param{Name: name, Value: value, Type: sqlType}
}

// Out builds an OUTPUT parameter with a declared SQL type and no input
// value. Read the result with CallResult.Output.
func Out(name, sqlType string) Param {
	return Param{Name: name, Type: sqlType, Output: true}
}

type wireParam struct {
	Name   string  `json:"name"`
	Value  any     `json:"value"`
	Type   *string `json:"type"`
	Output bool    `json:"output"`
}

type wireCommand struct {
	SQL              string      `json:"sql"`
	Params           []wireParam `json:"params"`
	TransactionID    *string     `json:"transaction_id"`
	CommandTimeoutMS *int64      `json:"command_timeout_ms"`
	CommandType      CommandType `json:"command_type"`
}

// buildCommand serializes one command envelope. txID is empty for
// auto-commit commands; timeout 0 omits the field and leaves the boundary's
// default in force.
func buildCommand(sql string, params []Param, txID string, timeout time.Duration, kind CommandType) ([]byte, error) {
	cmd := wireCommand{
		SQL:         sql,
		Params:      make([]wireParam, 0, len(params)),
		CommandType: kind,
	}
	for _, p := range params {
		wp := wireParam{
			Name:   p.Name,
			Value:  encodeParamValue(p.Value),
			Output: p.Output,
		}
		if p.Type != "" {
			t := p.Type
			wp.Type = &t
		}
		cmd.Params = append(cmd.Params, wp)
	}
	if txID != "" {
		id := txID
		cmd.TransactionID = &id
	}
	if timeout > 0 {
		ms := timeout.Milliseconds()
		cmd.CommandTimeoutMS = &ms
	}
	return json.Marshal(cmd)
}

// encodeParamValue maps Go values onto the envelope's JSON conventions:
// nil stays null, date/time values become ISO-8601 text, binary becomes
// base64 text, everything else passes through as-is.
func encodeParamValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.Format(time.RFC3339Nano)
	case []byte:
		if t == nil {
			return nil
		}
		return base64.StdEncoding.EncodeToString(t)
	default:
		return v
	}
}

func decodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return b, nil
}
