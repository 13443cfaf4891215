package firebasil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/k2bd/firebasil.go/pkg/constants"
	"github.com/k2bd/firebasil.go/pkg/path"
	"github.com/k2bd/firebasil.go/pkg/tree"
)

// Ref is a reference to a location in the database, optionally filtered by
// a query. Refs are immutable; Child and the query methods return new Refs.
type Ref struct {
	db    *Rtdb
	path  path.Path
	query Query
}

// Path returns the location this Ref addresses.
func (r *Ref) Path() path.Path {
	return r.path
}

// Query returns the constraints attached to this Ref.
func (r *Ref) Query() Query {
	return r.query
}

// Child returns a Ref to a descendant location. Any attached query is not
// carried over: queries bind to exactly one location.
func (r *Ref) Child(segments ...string) (*Ref, error) {
	p := r.path
	for _, seg := range segments {
		next, err := p.Child(seg)
		if err != nil {
			return nil, err
		}
		p = next
	}
	return &Ref{db: r.db, path: p}, nil
}

// Parent returns a Ref one level up, and false at the root.
func (r *Ref) Parent() (*Ref, bool) {
	parent, ok := r.path.Parent()
	if !ok {
		return nil, false
	}
	return &Ref{db: r.db, path: parent}, true
}

// Root returns a Ref to the database root.
func (r *Ref) Root() *Ref {
	return &Ref{db: r.db, path: path.Root}
}

func (r *Ref) withQuery(q Query) *Ref {
	return &Ref{db: r.db, path: r.path, query: q}
}

// OrderByKey returns a Ref whose query orders results by key.
func (r *Ref) OrderByKey() *Ref { return r.withQuery(r.query.OrderByKey()) }

// OrderByValue returns a Ref whose query orders results by value.
func (r *Ref) OrderByValue() *Ref { return r.withQuery(r.query.OrderByValue()) }

// OrderByPriority returns a Ref whose query orders results by priority.
func (r *Ref) OrderByPriority() *Ref { return r.withQuery(r.query.OrderByPriority()) }

// OrderByChild returns a Ref whose query orders results by the named child.
func (r *Ref) OrderByChild(key string) *Ref { return r.withQuery(r.query.OrderByChild(key)) }

// LimitToFirst returns a Ref whose query keeps the first n results.
func (r *Ref) LimitToFirst(n int) *Ref { return r.withQuery(r.query.LimitToFirst(n)) }

// LimitToLast returns a Ref whose query keeps the last n results.
func (r *Ref) LimitToLast(n int) *Ref { return r.withQuery(r.query.LimitToLast(n)) }

// StartAt returns a Ref whose query starts at v.
func (r *Ref) StartAt(v any) *Ref { return r.withQuery(r.query.StartAt(v)) }

// EndAt returns a Ref whose query ends at v.
func (r *Ref) EndAt(v any) *Ref { return r.withQuery(r.query.EndAt(v)) }

// EqualTo returns a Ref whose query matches exactly v.
func (r *Ref) EqualTo(v any) *Ref { return r.withQuery(r.query.EqualTo(v)) }

func (r *Ref) request(ctx context.Context, method string, body []byte) ([]byte, error) {
	params, err := r.query.WireParams()
	if err != nil {
		return nil, err
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.db.nodeURL(r.path, params), reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", constants.ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := r.db.bearerToken(ctx)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.db.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", constants.ErrRequestFailed, method, r.path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: reading response: %v", constants.ErrRequestFailed, method, r.path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %s: %s", constants.ErrRequestFailed, method, r.path, resp.Status)
	}

	return data, nil
}

// Get reads the value at this Ref, nil when the location is absent.
func (r *Ref) Get(ctx context.Context) (*tree.Value, error) {
	data, err := r.request(ctx, http.MethodGet, nil)
	if err != nil {
		return nil, err
	}
	v, err := tree.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", constants.ErrRequestFailed, err)
	}
	return v, nil
}

// Set replaces the value at this Ref. Setting nil deletes the location.
func (r *Ref) Set(ctx context.Context, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: encoding body: %v", constants.ErrRequestFailed, err)
	}
	_, err = r.request(ctx, http.MethodPut, body)
	return err
}

// Update writes multiple children of this Ref in one call. Keys may be
// multi-segment relative paths; null values delete their locations.
func (r *Ref) Update(ctx context.Context, data map[string]any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: encoding body: %v", constants.ErrRequestFailed, err)
	}
	_, err = r.request(ctx, http.MethodPatch, body)
	return err
}

// Delete removes the value at this Ref and everything under it.
func (r *Ref) Delete(ctx context.Context) error {
	_, err := r.request(ctx, http.MethodDelete, nil)
	return err
}

// Push appends data under this Ref with a server-generated key and returns
// that key.
func (r *Ref) Push(ctx context.Context, data any) (string, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("%w: encoding body: %v", constants.ErrRequestFailed, err)
	}
	respBody, err := r.request(ctx, http.MethodPost, body)
	if err != nil {
		return "", err
	}

	var named struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(respBody, &named); err != nil {
		return "", fmt.Errorf("%w: decoding push response: %v", constants.ErrRequestFailed, err)
	}
	if named.Name == "" {
		return "", fmt.Errorf("%w: push response carried no key", constants.ErrRequestFailed)
	}
	return named.Name, nil
}
