package gomssql

import "encoding/json"

// BulkColumn describes one target column of a bulk load.
type BulkColumn struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// BulkRequest describes a bulk insert: target table, column layout, and the
// row values. Values follow the command codec's conventions (time becomes
// ISO-8601 text, []byte becomes base64 text, nil stays null). BatchSize 0
// leaves the boundary's default batching in force.
type BulkRequest struct {
	Table     string
	Columns   []BulkColumn
	Rows      [][]any
	BatchSize int
}

type wireBulkRequest struct {
	Table     string       `json:"table"`
	Columns   []BulkColumn `json:"columns"`
	Rows      [][]any      `json:"rows"`
	BatchSize int          `json:"batch_size,omitempty"`
}

func (r BulkRequest) marshal() ([]byte, error) {
	rows := make([][]any, len(r.Rows))
	for i, row := range r.Rows {
		encoded := make([]any, len(row))
		for j, v := range row {
			encoded[j] = encodeParamValue(v)
		}
		rows[i] = encoded
	}
	return json.Marshal(wireBulkRequest{
		Table:     r.Table,
		Columns:   r.Columns,
		Rows:      rows,
		BatchSize: r.BatchSize,
	})
}
