package db

import (
	"fmt"
	"strings"
)

// ListQuery builds filtered, paginated SELECTs with positional arguments.
type ListQuery struct {
	table   string
	cols    string
	where   string
	args    []interface{}
	idx     int
	orderBy string
}

func NewListQuery(table, cols string) *ListQuery {
	return &ListQuery{table: table, cols: cols, idx: 1}
}

// Idx returns the next placeholder index.
func (q *ListQuery) Idx() int { return q.idx }

// Add appends a WHERE fragment (without the leading AND). Placeholders in
// clause must start at Idx().
func (q *ListQuery) Add(clause string, args ...interface{}) {
	q.where += " AND " + clause
	q.args = append(q.args, args...)
	q.idx += len(args)
}

// AddEq adds "column = $n".
func (q *ListQuery) AddEq(column string, value interface{}) {
	q.Add(fmt.Sprintf("%s = $%d", column, q.idx), value)
}

func (q *ListQuery) OrderBy(orderBy string) {
	q.orderBy = orderBy
}

// ApplySort orders by a comma separated list of keys, each optionally
// prefixed with "-" for descending. Keys not in allowed are ignored and
// defaultOrder is used when nothing valid remains.
func (q *ListQuery) ApplySort(sort, defaultOrder string, allowed map[string]string) {
	var parts []string
	for _, key := range strings.Split(sort, ",") {
		key = strings.TrimSpace(key)
		dir := "ASC"
		if strings.HasPrefix(key, "-") {
			dir = "DESC"
			key = key[1:]
		}
		if col, ok := allowed[key]; ok {
			parts = append(parts, col+" "+dir)
		}
	}
	if len(parts) == 0 {
		q.orderBy = defaultOrder
		return
	}
	q.orderBy = strings.Join(parts, ", ")
}

func (q *ListQuery) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.table, q.where)
}

func (q *ListQuery) CountArgs() []interface{} {
	return q.args
}

func (q *ListQuery) DataSQL(limit, offset int) string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.cols, q.table, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.idx, q.idx+1)
	return sql
}

// DataArgs returns the filter arguments followed by limit and offset.
func (q *ListQuery) DataArgs(limit, offset int) []interface{} {
	result := make([]interface{}, len(q.args)+2)
	copy(result, q.args)
	result[len(q.args)] = limit
	result[len(q.args)+1] = offset
	return result
}
