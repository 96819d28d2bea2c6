// Package util parses the query and order parameters accepted by list
// endpoints.
//
// A query is a comma separated list of conditions, each one of
//
//	field|value            equality
//	field|isnull           null check (also isnotnull)
//	field|operator|value   eq, ne, gt, gte, lt, lte, in, nin
//
// Values of in and nin are separated by semicolons. An order is a comma
// separated list of field|asc or field|desc.
package util

import (
	"fmt"
	"strings"
)

type QueryOperator string

const (
	OpEq        QueryOperator = "eq"
	OpNe        QueryOperator = "ne"
	OpGt        QueryOperator = "gt"
	OpGte       QueryOperator = "gte"
	OpLt        QueryOperator = "lt"
	OpLte       QueryOperator = "lte"
	OpIn        QueryOperator = "in"
	OpNin       QueryOperator = "nin"
	OpIsNull    QueryOperator = "isnull"
	OpIsNotNull QueryOperator = "isnotnull"
)

// arity is the number of |-separated parts an operator is written with.
var arity = map[QueryOperator]int{
	OpEq: 3, OpNe: 3, OpGt: 3, OpGte: 3, OpLt: 3, OpLte: 3,
	OpIn: 3, OpNin: 3,
	OpIsNull: 2, OpIsNotNull: 2,
}

// QueryFilter is one condition. Value is nil for null checks, a []string for
// in and nin, and a string otherwise.
type QueryFilter struct {
	Field    string
	Operator QueryOperator
	Value    any
}

type OrderDirection string

const (
	OrderAsc  OrderDirection = "asc"
	OrderDesc OrderDirection = "desc"
)

type OrderClause struct {
	Field     string
	Direction OrderDirection
}

// ListFilter carries the parsed conditions and paging of one list request.
// Page is 1-based; PerPage 0 returns everything.
type ListFilter struct {
	Filters []QueryFilter
	Order   []OrderClause
	Page    int
	PerPage int
}

// Offset is the number of rows skipped before the requested page.
func (f ListFilter) Offset() int {
	if f.PerPage <= 0 || f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.PerPage
}

func ParseQueryString(queryStr string) ([]QueryFilter, error) {
	var filters []QueryFilter
	for _, cond := range splitList(queryStr) {
		f, err := parseCondition(cond)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

func parseCondition(cond string) (QueryFilter, error) {
	parts := strings.Split(cond, "|")
	switch len(parts) {
	case 2:
		op := QueryOperator(strings.ToLower(parts[1]))
		if arity[op] == 2 {
			return QueryFilter{Field: parts[0], Operator: op}, nil
		}
		return QueryFilter{Field: parts[0], Operator: OpEq, Value: parts[1]}, nil
	case 3:
		op := QueryOperator(strings.ToLower(parts[1]))
		if arity[op] != 3 {
			return QueryFilter{}, fmt.Errorf("invalid operator: %s", parts[1])
		}
		f := QueryFilter{Field: parts[0], Operator: op, Value: parts[2]}
		if op == OpIn || op == OpNin {
			f.Value = strings.Split(parts[2], ";")
		}
		return f, nil
	default:
		return QueryFilter{}, fmt.Errorf("invalid query format: %s (expected field|value or field|operator|value)", cond)
	}
}

func ParseOrderString(orderStr string) ([]OrderClause, error) {
	var orders []OrderClause
	for _, clause := range splitList(orderStr) {
		field, dir, ok := strings.Cut(clause, "|")
		if !ok || strings.Contains(dir, "|") {
			return nil, fmt.Errorf("invalid order format: %s (expected field|direction)", clause)
		}
		direction := OrderDirection(strings.ToLower(dir))
		if direction != OrderAsc && direction != OrderDesc {
			return nil, fmt.Errorf("invalid order direction: %s (expected asc or desc)", dir)
		}
		orders = append(orders, OrderClause{Field: field, Direction: direction})
	}
	return orders, nil
}

// ParseListQuery parses both parameters and rejects fields the endpoint does
// not expose. Field names end up in SQL, so this check is mandatory.
func ParseListQuery(queryStr, orderStr string, queryFields, orderFields []string) ([]QueryFilter, []OrderClause, error) {
	filters, err := ParseQueryString(queryStr)
	if err != nil {
		return nil, nil, err
	}
	for _, f := range filters {
		if err := checkField("query", f.Field, queryFields); err != nil {
			return nil, nil, err
		}
	}

	orders, err := ParseOrderString(orderStr)
	if err != nil {
		return nil, nil, err
	}
	for _, o := range orders {
		if err := checkField("order", o.Field, orderFields); err != nil {
			return nil, nil, err
		}
	}

	return filters, orders, nil
}

func checkField(kind, field string, allowed []string) error {
	for _, a := range allowed {
		if a == field {
			return nil
		}
	}
	return fmt.Errorf("invalid %s field: %s (valid fields: %s)", kind, field, strings.Join(allowed, ", "))
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
