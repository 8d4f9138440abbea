package database

import (
	"fmt"
	"strings"
)

type FilterOp string

const (
	OpEq   FilterOp = "eq"
	OpNe   FilterOp = "ne"
	OpGt   FilterOp = "gt"
	OpGte  FilterOp = "gte"
	OpLt   FilterOp = "lt"
	OpLte  FilterOp = "lte"
	OpLike FilterOp = "like"
	OpIn   FilterOp = "in"
)

type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

type Sort struct {
	Field string
	Order SortOrder
}

// where renders filters joined by AND, without the WHERE keyword.
func where(filters []*Filter) (string, []any) {
	conditions := make([]string, 0, len(filters))
	var args []any
	for _, f := range filters {
		cond, fArgs := f.build()
		conditions = append(conditions, cond)
		args = append(args, fArgs...)
	}
	return strings.Join(conditions, " AND "), args
}

func (f *Filter) build() (string, []any) {
	switch f.Op {
	case OpNe:
		return fmt.Sprintf("%s != ?", f.Field), []any{f.Value}
	case OpGt:
		return fmt.Sprintf("%s > ?", f.Field), []any{f.Value}
	case OpGte:
		return fmt.Sprintf("%s >= ?", f.Field), []any{f.Value}
	case OpLt:
		return fmt.Sprintf("%s < ?", f.Field), []any{f.Value}
	case OpLte:
		return fmt.Sprintf("%s <= ?", f.Field), []any{f.Value}
	case OpLike:
		return fmt.Sprintf("%s LIKE ?", f.Field), []any{f.Value}
	case OpIn:
		values, ok := f.Value.([]any)
		if !ok || len(values) == 0 {
			return fmt.Sprintf("%s = ?", f.Field), []any{f.Value}
		}
		placeholders := make([]string, len(values))
		for i := range values {
			placeholders[i] = "?"
		}
		return fmt.Sprintf("%s IN (%s)", f.Field, strings.Join(placeholders, ", ")), values
	default:
		return fmt.Sprintf("%s = ?", f.Field), []any{f.Value}
	}
}

type QueryBuilder struct {
	table   string
	selects []string
	filters []*Filter
	sorts   []*Sort
	limit   int
	offset  int
}

func NewQuery(table string) *QueryBuilder {
	return &QueryBuilder{
		table:   table,
		selects: []string{"*"},
	}
}

func (q *QueryBuilder) Select(fields ...string) *QueryBuilder {
	q.selects = fields
	return q
}

func (q *QueryBuilder) Filter(field string, op FilterOp, value any) *QueryBuilder {
	q.filters = append(q.filters, &Filter{Field: field, Op: op, Value: value})
	return q
}

func (q *QueryBuilder) Where(field string, value any) *QueryBuilder {
	return q.Filter(field, OpEq, value)
}

func (q *QueryBuilder) Sort(field string, order SortOrder) *QueryBuilder {
	q.sorts = append(q.sorts, &Sort{Field: field, Order: order})
	return q
}

func (q *QueryBuilder) OrderBy(field string) *QueryBuilder {
	return q.Sort(field, SortAsc)
}

func (q *QueryBuilder) OrderByDesc(field string) *QueryBuilder {
	return q.Sort(field, SortDesc)
}

func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	return q
}

func (q *QueryBuilder) Offset(n int) *QueryBuilder {
	q.offset = n
	return q
}

func (q *QueryBuilder) Build() (string, []any) {
	var sb strings.Builder
	var args []any

	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(q.selects, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(q.table)

	if len(q.filters) > 0 {
		cond, fArgs := where(q.filters)
		sb.WriteString(" WHERE ")
		sb.WriteString(cond)
		args = fArgs
	}

	if len(q.sorts) > 0 {
		sortClauses := make([]string, 0, len(q.sorts))
		for _, s := range q.sorts {
			sortClauses = append(sortClauses, fmt.Sprintf("%s %s", s.Field, s.Order))
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(sortClauses, ", "))
	}

	if q.limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.limit)
	}

	if q.offset > 0 {
		if q.limit <= 0 {
			sb.WriteString(" LIMIT -1")
		}
		fmt.Fprintf(&sb, " OFFSET %d", q.offset)
	}

	return sb.String(), args
}

func (q *QueryBuilder) BuildCount() (string, []any) {
	var sb strings.Builder
	var args []any

	sb.WriteString("SELECT COUNT(*) FROM ")
	sb.WriteString(q.table)

	if len(q.filters) > 0 {
		cond, fArgs := where(q.filters)
		sb.WriteString(" WHERE ")
		sb.WriteString(cond)
		args = fArgs
	}

	return sb.String(), args
}

type InsertBuilder struct {
	table  string
	fields []string
	values []any
}

func NewInsert(table string) *InsertBuilder {
	return &InsertBuilder{table: table}
}

func (b *InsertBuilder) Set(field string, value any) *InsertBuilder {
	b.fields = append(b.fields, field)
	b.values = append(b.values, value)
	return b
}

func (b *InsertBuilder) Build() (string, []any) {
	placeholders := make([]string, len(b.fields))
	for i := range b.fields {
		placeholders[i] = "?"
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		b.table,
		strings.Join(b.fields, ", "),
		strings.Join(placeholders, ", "))

	return sql, b.values
}

type UpdateBuilder struct {
	table   string
	sets    []string
	values  []any
	filters []*Filter
}

func NewUpdate(table string) *UpdateBuilder {
	return &UpdateBuilder{table: table}
}

func (b *UpdateBuilder) Set(field string, value any) *UpdateBuilder {
	b.sets = append(b.sets, fmt.Sprintf("%s = ?", field))
	b.values = append(b.values, value)
	return b
}

func (b *UpdateBuilder) Where(field string, value any) *UpdateBuilder {
	b.filters = append(b.filters, &Filter{Field: field, Op: OpEq, Value: value})
	return b
}

func (b *UpdateBuilder) Build() (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, len(b.values)+len(b.filters))

	sb.WriteString("UPDATE ")
	sb.WriteString(b.table)
	sb.WriteString(" SET ")
	sb.WriteString(strings.Join(b.sets, ", "))

	args = append(args, b.values...)

	if len(b.filters) > 0 {
		cond, fArgs := where(b.filters)
		sb.WriteString(" WHERE ")
		sb.WriteString(cond)
		args = append(args, fArgs...)
	}

	return sb.String(), args
}

type DeleteBuilder struct {
	table   string
	filters []*Filter
}

func NewDelete(table string) *DeleteBuilder {
	return &DeleteBuilder{table: table}
}

func (b *DeleteBuilder) Filter(field string, op FilterOp, value any) *DeleteBuilder {
	b.filters = append(b.filters, &Filter{Field: field, Op: op, Value: value})
	return b
}

func (b *DeleteBuilder) Where(field string, value any) *DeleteBuilder {
	return b.Filter(field, OpEq, value)
}

func (b *DeleteBuilder) Build() (string, []any) {
	var sb strings.Builder
	var args []any

	sb.WriteString("DELETE FROM ")
	sb.WriteString(b.table)

	if len(b.filters) > 0 {
		cond, fArgs := where(b.filters)
		sb.WriteString(" WHERE ")
		sb.WriteString(cond)
		args = fArgs
	}

	return sb.String(), args
}
