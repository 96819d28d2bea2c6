package sqlite

import (
	"fmt"
	"strings"
	"time"

	"github.com/martijn/vaultkeep/internal/api/util"
)

// Timestamps are stored as "2006-01-02 15:04:05..." in UTC, so filter values
// on these columns are rewritten to the same layout before comparison.
var timestampColumns = map[string]bool{
	"created_at":   true,
	"started_at":   true,
	"completed_at": true,
	"finished_at":  true,
	"expires_at":   true,
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var comparisons = map[util.QueryOperator]string{
	util.OpEq:  "=",
	util.OpNe:  "!=",
	util.OpGt:  ">",
	util.OpGte: ">=",
	util.OpLt:  "<",
	util.OpLte: "<=",
}

func sqliteTimestamp(value string) string {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC().Format("2006-01-02 15:04:05")
		}
	}
	return value
}

// condition renders one filter. Field names must already be validated
// against the endpoint's allow list.
func condition(f util.QueryFilter) (string, []any) {
	switch f.Operator {
	case util.OpIsNull:
		return f.Field + " IS NULL", nil
	case util.OpIsNotNull:
		return f.Field + " IS NOT NULL", nil
	case util.OpIn, util.OpNin:
		values, _ := f.Value.([]string)
		if len(values) == 0 {
			return "", nil
		}
		args := make([]any, len(values))
		for i, v := range values {
			args[i] = v
		}
		not := ""
		if f.Operator == util.OpNin {
			not = "NOT "
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		return fmt.Sprintf("%s %sIN (%s)", f.Field, not, placeholders), args
	}

	cmp, ok := comparisons[f.Operator]
	if !ok {
		return "", nil
	}
	value := f.Value
	if s, isString := value.(string); isString && timestampColumns[f.Field] {
		value = sqliteTimestamp(s)
	}
	return fmt.Sprintf("%s %s ?", f.Field, cmp), []any{value}
}

// whereClause appends the filters to a query ending in "WHERE 1=1".
func whereClause(query string, filters []util.QueryFilter) (string, []any) {
	var args []any
	for _, f := range filters {
		clause, clauseArgs := condition(f)
		if clause == "" {
			continue
		}
		query += " AND " + clause
		args = append(args, clauseArgs...)
	}
	return query, args
}

// listQuery adds filtering, ordering and paging to base.
func listQuery(base string, f util.ListFilter, defaultOrder string) (string, []any) {
	query, args := whereClause(base, f.Filters)

	order := defaultOrder
	if len(f.Order) > 0 {
		clauses := make([]string, len(f.Order))
		for i, o := range f.Order {
			clauses[i] = o.Field + " " + strings.ToUpper(string(o.Direction))
		}
		order = strings.Join(clauses, ", ")
	}
	query += " ORDER BY " + order

	if f.PerPage > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.PerPage, f.Offset())
	}
	return query, args
}
