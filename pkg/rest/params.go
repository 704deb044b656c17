package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/framewell/dbsvc/pkg/crud"
	"github.com/framewell/dbsvc/pkg/dberr"
	"github.com/framewell/dbsvc/pkg/filter"
)

// requestBody is the JSON body accepted on write verbs.
type requestBody struct {
	Values  json.RawMessage `json:"values"`
	Filters map[string]any  `json:"filters"`
}

func decodeBody(r *http.Request) (*requestBody, error) {
	if r.Body == nil || r.ContentLength == 0 {
		return &requestBody{}, nil
	}
	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, dberr.New(dberr.InvalidFilter, "invalid JSON body: %v", err)
	}
	return &body, nil
}

// rows interprets the `values` field for create: a single row object or a
// list of row objects.
func (b *requestBody) rows() ([]map[string]any, error) {
	if len(b.Values) == 0 {
		return nil, nil
	}
	var list []map[string]any
	if err := json.Unmarshal(b.Values, &list); err == nil {
		return list, nil
	}
	var single map[string]any
	if err := json.Unmarshal(b.Values, &single); err == nil {
		return []map[string]any{single}, nil
	}
	return nil, dberr.New(dberr.InvalidValues, "values must be a row object or a list of row objects")
}

// row interprets the `values` field for update: a single row object.
func (b *requestBody) row() (map[string]any, error) {
	if len(b.Values) == 0 {
		return nil, nil
	}
	var single map[string]any
	if err := json.Unmarshal(b.Values, &single); err != nil {
		return nil, dberr.New(dberr.InvalidValues, "values must be a row object")
	}
	return single, nil
}

// parseFilters builds the filter spec from the body, or for reads from the
// `filters` query parameter.
func parseFilters(r *http.Request, body *requestBody) (*filter.Spec, error) {
	raw := body.Filters
	if raw == nil {
		if q := r.URL.Query().Get("filters"); q != "" {
			if err := json.Unmarshal([]byte(q), &raw); err != nil {
				return nil, dberr.New(dberr.InvalidFilter, "filters parameter is not valid JSON: %v", err)
			}
		}
	}
	return filter.Parse(raw)
}

// parseReadOptions extracts projection, ordering, and pagination from query
// parameters.
func parseReadOptions(r *http.Request) (crud.ReadOptions, error) {
	var opts crud.ReadOptions
	q := r.URL.Query()

	if columns := q.Get("columns"); columns != "" {
		for _, col := range strings.Split(columns, ",") {
			col = strings.TrimSpace(col)
			if col != "" {
				opts.Columns = append(opts.Columns, col)
			}
		}
	}

	if order := q.Get("order"); order != "" {
		for _, term := range strings.Split(order, ",") {
			term = strings.TrimSpace(term)
			if term == "" {
				continue
			}
			o := crud.Order{Column: term}
			if strings.HasSuffix(term, ".desc") {
				o = crud.Order{Column: strings.TrimSuffix(term, ".desc"), Desc: true}
			} else if strings.HasSuffix(term, ".asc") {
				o = crud.Order{Column: strings.TrimSuffix(term, ".asc")}
			}
			opts.Order = append(opts.Order, o)
		}
	}

	var err error
	if opts.Limit, err = parseIntParam(q.Get("limit")); err != nil {
		return opts, err
	}
	if opts.Offset, err = parseIntParam(q.Get("offset")); err != nil {
		return opts, err
	}
	return opts, nil
}

func parseIntParam(value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, dberr.New(dberr.InvalidFilter, "expected a non-negative integer, got %q", value)
	}
	return n, nil
}

// batchRequest is the body of POST /$batch.
type batchRequest struct {
	Commands []batchCommand `json:"commands"`
}

type batchCommand struct {
	Cmd     string          `json:"cmd"`
	Table   string          `json:"table"`
	Values  json.RawMessage `json:"values"`
	Filters map[string]any  `json:"filters"`
}

// toCommand parses one batch entry into an executor command.
func (c batchCommand) toCommand() (crud.Command, error) {
	cmd := crud.Command{Op: crud.Operation(c.Cmd), Table: c.Table}
	body := &requestBody{Values: c.Values, Filters: c.Filters}

	var err error
	if cmd.Filter, err = filter.Parse(c.Filters); err != nil {
		return cmd, err
	}

	switch cmd.Op {
	case crud.OpCreate:
		if cmd.Rows, err = body.rows(); err != nil {
			return cmd, err
		}
	case crud.OpUpdate:
		if cmd.Values, err = body.row(); err != nil {
			return cmd, err
		}
	}
	return cmd, nil
}

func operationOf(method string) (crud.Operation, error) {
	switch method {
	case http.MethodGet:
		return crud.OpRead, nil
	case http.MethodPost:
		return crud.OpCreate, nil
	case http.MethodPut, http.MethodPatch:
		return crud.OpUpdate, nil
	case http.MethodDelete:
		return crud.OpDelete, nil
	default:
		return "", fmt.Errorf("method %s not allowed", method)
	}
}
