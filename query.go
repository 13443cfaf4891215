package firebasil

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/k2bd/firebasil.go/pkg/constants"
)

// InvalidQueryError reports a query whose constraints conflict. It names
// the fields involved so the caller can see what to fix.
type InvalidQueryError struct {
	Fields []string
	Reason string
}

func (e *InvalidQueryError) Error() string {
	return fmt.Sprintf("invalid query (%s): %s", strings.Join(e.Fields, ", "), e.Reason)
}

func (e *InvalidQueryError) Unwrap() error {
	return constants.ErrInvalidQuery
}

type ordering int

const (
	orderNone ordering = iota
	orderKey
	orderValue
	orderPriority
	orderChild
)

func (o ordering) fieldName() string {
	switch o {
	case orderKey:
		return "orderByKey"
	case orderValue:
		return "orderByValue"
	case orderPriority:
		return "orderByPriority"
	case orderChild:
		return "orderByChild"
	default:
		return "orderBy"
	}
}

func (o ordering) wireValue(childKey string) string {
	switch o {
	case orderKey:
		return "$key"
	case orderValue:
		return "$value"
	case orderPriority:
		return "$priority"
	default:
		return childKey
	}
}

type bound struct {
	set   bool
	value any
}

// Query is an immutable set of ordering, bounding and limiting constraints.
// The zero Query matches everything. Every setter returns a copy, so a
// Query can safely be kept around as a template; conflicting constraints
// are detected by Validate (called by the client before any request) and
// reported as an InvalidQueryError.
type Query struct {
	order      ordering
	orderPrev  ordering // first ordering when two were set
	childKey   string
	limitFirst *int
	limitLast  *int
	startAt    bound
	endAt      bound
	equalTo    bound
}

func (q Query) setOrder(o ordering, childKey string) Query {
	if q.order != orderNone {
		q.orderPrev = q.order
	}
	q.order = o
	q.childKey = childKey
	return q
}

// OrderByKey orders results by child key.
func (q Query) OrderByKey() Query { return q.setOrder(orderKey, "") }

// OrderByValue orders results by child value.
func (q Query) OrderByValue() Query { return q.setOrder(orderValue, "") }

// OrderByPriority orders results by child priority.
func (q Query) OrderByPriority() Query { return q.setOrder(orderPriority, "") }

// OrderByChild orders results by the named child key of each result.
func (q Query) OrderByChild(key string) Query { return q.setOrder(orderChild, key) }

// LimitToFirst keeps only the first n results in query order.
func (q Query) LimitToFirst(n int) Query {
	q.limitFirst = &n
	return q
}

// LimitToLast keeps only the last n results in query order.
func (q Query) LimitToLast(n int) Query {
	q.limitLast = &n
	return q
}

// StartAt bounds results to those at or after v under the ordering.
func (q Query) StartAt(v any) Query {
	q.startAt = bound{set: true, value: v}
	return q
}

// EndAt bounds results to those at or before v under the ordering.
func (q Query) EndAt(v any) Query {
	q.endAt = bound{set: true, value: v}
	return q
}

// EqualTo bounds results to those exactly equal to v under the ordering.
func (q Query) EqualTo(v any) Query {
	q.equalTo = bound{set: true, value: v}
	return q
}

// IsZero reports whether the query carries no constraints at all.
func (q Query) IsZero() bool {
	return q.order == orderNone && q.limitFirst == nil && q.limitLast == nil &&
		!q.startAt.set && !q.endAt.set && !q.equalTo.set
}

// Validate checks the cross-field rules: at most one ordering, at most one
// limit direction, equalTo exclusive with the range bounds, non-negative
// limits, bounds only together with an ordering, and bound values comparable
// under the chosen ordering.
func (q Query) Validate() error {
	if q.orderPrev != orderNone {
		return &InvalidQueryError{
			Fields: []string{q.orderPrev.fieldName(), q.order.fieldName()},
			Reason: "at most one ordering may be set",
		}
	}
	if q.order == orderChild && q.childKey == "" {
		return &InvalidQueryError{
			Fields: []string{"orderByChild"},
			Reason: "child key must not be empty",
		}
	}
	if q.limitFirst != nil && q.limitLast != nil {
		return &InvalidQueryError{
			Fields: []string{"limitToFirst", "limitToLast"},
			Reason: "limits are mutually exclusive",
		}
	}
	if q.limitFirst != nil && *q.limitFirst < 0 {
		return &InvalidQueryError{
			Fields: []string{"limitToFirst"},
			Reason: "limit must be non-negative",
		}
	}
	if q.limitLast != nil && *q.limitLast < 0 {
		return &InvalidQueryError{
			Fields: []string{"limitToLast"},
			Reason: "limit must be non-negative",
		}
	}
	if q.equalTo.set && (q.startAt.set || q.endAt.set) {
		fields := []string{"equalTo"}
		if q.startAt.set {
			fields = append(fields, "startAt")
		}
		if q.endAt.set {
			fields = append(fields, "endAt")
		}
		return &InvalidQueryError{
			Fields: fields,
			Reason: "equalTo cannot be combined with range bounds",
		}
	}

	if q.order == orderNone && (q.startAt.set || q.endAt.set || q.equalTo.set) {
		var fields []string
		if q.startAt.set {
			fields = append(fields, "startAt")
		}
		if q.endAt.set {
			fields = append(fields, "endAt")
		}
		if q.equalTo.set {
			fields = append(fields, "equalTo")
		}
		return &InvalidQueryError{
			Fields: append(fields, "orderBy"),
			Reason: "bounds require an ordering",
		}
	}

	for _, b := range []struct {
		name  string
		bound bound
	}{
		{"startAt", q.startAt},
		{"endAt", q.endAt},
		{"equalTo", q.equalTo},
	} {
		if !b.bound.set {
			continue
		}
		if err := q.checkBound(b.name, b.bound.value); err != nil {
			return err
		}
	}

	return nil
}

func (q Query) checkBound(field string, v any) error {
	switch v.(type) {
	case string:
	case bool:
		if q.order == orderKey {
			return &InvalidQueryError{
				Fields: []string{q.order.fieldName(), field},
				Reason: "key ordering compares strings, bound must be a string",
			}
		}
	case int, int32, int64, float32, float64:
		if q.order == orderKey {
			return &InvalidQueryError{
				Fields: []string{q.order.fieldName(), field},
				Reason: "key ordering compares strings, bound must be a string",
			}
		}
	case nil:
		return &InvalidQueryError{
			Fields: []string{field},
			Reason: "bound must not be null",
		}
	default:
		return &InvalidQueryError{
			Fields: []string{field},
			Reason: fmt.Sprintf("bound type %T is not comparable", v),
		}
	}
	return nil
}

// WireParams renders the query into the REST query protocol's parameters.
// This is the only place query semantics reach the network boundary.
func (q Query) WireParams() (url.Values, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	params := url.Values{}
	if q.order != orderNone {
		encoded, err := json.Marshal(q.order.wireValue(q.childKey))
		if err != nil {
			return nil, err
		}
		params.Set("orderBy", string(encoded))
	}
	if q.limitFirst != nil {
		params.Set("limitToFirst", strconv.Itoa(*q.limitFirst))
	}
	if q.limitLast != nil {
		params.Set("limitToLast", strconv.Itoa(*q.limitLast))
	}
	for _, b := range []struct {
		name  string
		bound bound
	}{
		{"startAt", q.startAt},
		{"endAt", q.endAt},
		{"equalTo", q.equalTo},
	} {
		if !b.bound.set {
			continue
		}
		encoded, err := json.Marshal(b.bound.value)
		if err != nil {
			return nil, err
		}
		params.Set(b.name, string(encoded))
	}

	return params, nil
}
