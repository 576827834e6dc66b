package rest

import (
	"cmp"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/edgeflare/stationstream/pkg/station"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

var ErrBadQuery = errors.New("bad query")

// column describes one filterable/sortable field of a station view.
type column struct {
	numeric bool
	value   func(station.TransformedStation) any
}

var columns = map[string]column{
	"station_id":   {numeric: true, value: func(s station.TransformedStation) any { return s.StationID }},
	"station_name": {value: func(s station.TransformedStation) any { return s.StationName }},
	"order":        {numeric: true, value: func(s station.TransformedStation) any { return s.Order }},
	"line":         {value: func(s station.TransformedStation) any { return s.Line }},
}

// QueryParams holds parsed query parameters in a structured way
type QueryParams struct {
	Select  []string
	Order   []OrderParam
	Limit   int
	Offset  int
	Filters map[string][]FilterParam
}

type OrderParam struct {
	Column    string
	Direction string // asc or desc
}

type FilterParam struct {
	Operator string
	Values   []string
	pattern  *regexp.Regexp
}

func isReservedParam(name string) bool {
	switch name {
	case "select", "order", "limit", "offset":
		return true
	}
	return false
}

// parseQueryParams parses a PostgREST-style query string:
//
//	?select=station_id,line  ?order=order.desc  ?limit=10&offset=20
//	?line=eq.blue  ?station_id=in.40360,40380  ?station_name=like.*Austin*  ?station_id=gte.40000
//
// Filters on the same column are OR'd, different columns are AND'd. The
// "order" column can be sorted on but not filtered, as in PostgREST.
func parseQueryParams(q url.Values) (QueryParams, error) {
	params := QueryParams{
		Limit:   defaultLimit,
		Filters: make(map[string][]FilterParam),
	}

	if sel := q.Get("select"); sel != "" {
		for col := range strings.SplitSeq(sel, ",") {
			col = strings.TrimSpace(col)
			if _, ok := columns[col]; !ok {
				return params, fmt.Errorf("%w: unknown column %q in select", ErrBadQuery, col)
			}
			params.Select = append(params.Select, col)
		}
	}

	if order := q.Get("order"); order != "" {
		o, err := parseOrderParam(order)
		if err != nil {
			return params, err
		}
		params.Order = o
	}

	var err error
	if params.Limit, err = parseIntParam(q, "limit", defaultLimit); err != nil {
		return params, err
	}
	params.Limit = min(params.Limit, maxLimit)
	if params.Offset, err = parseIntParam(q, "offset", 0); err != nil {
		return params, err
	}

	for key, values := range q {
		if isReservedParam(key) {
			continue
		}
		col, ok := columns[key]
		if !ok {
			return params, fmt.Errorf("%w: unknown column %q", ErrBadQuery, key)
		}
		for _, v := range values {
			f, err := parseFilterParam(v, col.numeric)
			if err != nil {
				return params, fmt.Errorf("%w: %s: %v", ErrBadQuery, key, err)
			}
			params.Filters[key] = append(params.Filters[key], f)
		}
	}

	return params, nil
}

func parseIntParam(q url.Values, name string, def int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrBadQuery, name)
	}
	return n, nil
}

func parseOrderParam(order string) ([]OrderParam, error) {
	var result []OrderParam
	for part := range strings.SplitSeq(order, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		direction := "asc"
		if c, ok := strings.CutSuffix(part, ".desc"); ok {
			part, direction = c, "desc"
		} else if c, ok := strings.CutSuffix(part, ".asc"); ok {
			part = c
		}
		if _, ok := columns[part]; !ok {
			return nil, fmt.Errorf("%w: unknown column %q in order", ErrBadQuery, part)
		}
		result = append(result, OrderParam{Column: part, Direction: direction})
	}
	return result, nil
}

func parseFilterParam(value string, numeric bool) (FilterParam, error) {
	op, val, found := strings.Cut(value, ".")
	if !found {
		op, val = "eq", value
	}

	f := FilterParam{Operator: op, Values: []string{val}}
	switch op {
	case "eq", "neq":
	case "in":
		f.Values = strings.Split(strings.Trim(val, "()"), ",")
	case "gt", "gte", "lt", "lte":
		if !numeric {
			return f, fmt.Errorf("operator %s needs a numeric column", op)
		}
	case "like", "ilike":
		if numeric {
			return f, fmt.Errorf("operator %s needs a text column", op)
		}
		expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(val), `\*`, ".*") + "$"
		if op == "ilike" {
			expr = "(?i)" + expr
		}
		f.pattern = regexp.MustCompile(expr)
	default:
		return f, fmt.Errorf("unknown operator %q", op)
	}

	if numeric {
		for _, v := range f.Values {
			if _, err := strconv.Atoi(v); err != nil {
				return f, fmt.Errorf("%q is not an integer", v)
			}
		}
	}
	return f, nil
}

func (f FilterParam) match(v any) bool {
	switch v := v.(type) {
	case int:
		n, _ := strconv.Atoi(f.Values[0])
		switch f.Operator {
		case "eq":
			return v == n
		case "neq":
			return v != n
		case "gt":
			return v > n
		case "gte":
			return v >= n
		case "lt":
			return v < n
		case "lte":
			return v <= n
		case "in":
			return slices.ContainsFunc(f.Values, func(s string) bool {
				m, _ := strconv.Atoi(s)
				return m == v
			})
		}
	case string:
		switch f.Operator {
		case "eq":
			return v == f.Values[0]
		case "neq":
			return v != f.Values[0]
		case "in":
			return slices.Contains(f.Values, v)
		case "like", "ilike":
			return f.pattern.MatchString(v)
		}
	}
	return false
}

// apply filters, orders and pages rows.
func (p QueryParams) apply(rows []station.TransformedStation) []station.TransformedStation {
	out := slices.DeleteFunc(slices.Clone(rows), func(s station.TransformedStation) bool {
		for name, filters := range p.Filters {
			v := columns[name].value(s)
			if !slices.ContainsFunc(filters, func(f FilterParam) bool { return f.match(v) }) {
				return true
			}
		}
		return false
	})

	if len(p.Order) > 0 {
		slices.SortStableFunc(out, func(a, b station.TransformedStation) int {
			for _, o := range p.Order {
				c := compareValues(columns[o.Column].value(a), columns[o.Column].value(b))
				if o.Direction == "desc" {
					c = -c
				}
				if c != 0 {
					return c
				}
			}
			return 0
		})
	}

	if p.Offset >= len(out) {
		return out[:0]
	}
	out = out[p.Offset:]
	return out[:min(p.Limit, len(out))]
}

func compareValues(a, b any) int {
	switch a := a.(type) {
	case int:
		return cmp.Compare(a, b.(int))
	case string:
		return cmp.Compare(a, b.(string))
	}
	return 0
}

// project returns rows as-is, or reduced to the selected columns.
func (p QueryParams) project(rows []station.TransformedStation) any {
	if len(p.Select) == 0 {
		return rows
	}
	out := make([]map[string]any, len(rows))
	for i, s := range rows {
		m := make(map[string]any, len(p.Select))
		for _, col := range p.Select {
			m[col] = columns[col].value(s)
		}
		out[i] = m
	}
	return out
}
