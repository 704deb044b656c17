// Package rowcodec converts between the store's native row representation
// and the JSON value model used at the gateway boundary.
package rowcodec

import (
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/framewell/dbsvc/pkg/schema"
)

// Coerce converts a JSON-decoded value into a store value matching the
// column's semantic type. JSON null passes through for nullable columns.
// The caller tags the returned error with the appropriate kind
// (value_type_mismatch for payloads, filter_type_mismatch for filters).
func Coerce(value any, col schema.Column) (any, error) {
	if value == nil {
		if !col.Nullable {
			return nil, fmt.Errorf("column %q is not nullable", col.Name)
		}
		return nil, nil
	}

	switch col.Type {
	case schema.ColInteger:
		switch v := value.(type) {
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("column %q expects an integer, got %v", col.Name, v)
			}
			return int64(v), nil
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		}
	case schema.ColText:
		if v, ok := value.(string); ok {
			return v, nil
		}
	case schema.ColBool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case schema.ColReal:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
	}
	return nil, fmt.Errorf("column %q expects %s, got %T", col.Name, col.Type, value)
}

// EncodeRow coerces every value in a row mapping. Column membership must
// already be validated; unknown columns here are a programming error.
func EncodeRow(row map[string]any, table schema.Table) (map[string]any, error) {
	encoded := make(map[string]any, len(row))
	for name, value := range row {
		col, ok := table.Column(name)
		if !ok {
			return nil, fmt.Errorf("table %q has no column %q", table.Name, name)
		}
		v, err := Coerce(value, col)
		if err != nil {
			return nil, err
		}
		encoded[name] = v
	}
	return encoded, nil
}

// DecodeRows drains a result set into JSON-ready row mappings, applying
// semantic-type normalization. The caller is responsible for rows.Close.
func DecodeRows(rows pgx.Rows) ([]map[string]any, error) {
	fieldDescriptions := rows.FieldDescriptions()
	columnNames := make([]string, len(fieldDescriptions))
	for i, fd := range fieldDescriptions {
		columnNames[i] = string(fd.Name)
	}

	result := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columnNames))
		valuePointers := make([]any, len(columnNames))
		for i := range values {
			valuePointers[i] = &values[i]
		}

		if err := rows.Scan(valuePointers...); err != nil {
			return nil, err
		}

		rowMap := make(map[string]any, len(columnNames))
		for i, name := range columnNames {
			rowMap[name] = normalize(values[i])
		}
		result = append(result, rowMap)
	}
	return result, rows.Err()
}

// normalize converts driver-native scalars into the JSON value model.
func normalize(v any) any {
	switch val := v.(type) {
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return v
	}
}
