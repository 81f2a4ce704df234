// Package vectorindex stores product embeddings and answers restricted
// nearest-neighbor queries over them.
package vectorindex

import (
	"context"
	"errors"
)

// ErrDimensionMismatch indicates a vector whose length differs from the index.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Restrict limits a datapoint or query to a namespace. A datapoint carries
// the tokens it belongs to; a query carries the tokens it accepts.
type Restrict struct {
	Namespace string   `json:"namespace"`
	AllowList []string `json:"allow_list"`
}

// Datapoint is one indexed vector.
type Datapoint struct {
	ID        string
	Vector    []float32
	Restricts []Restrict
}

// Neighbor is a query match. Smaller distances are closer.
type Neighbor struct {
	ID       string
	Distance float64
}

// Index is a vector similarity index with namespace restricts.
type Index interface {
	// Upsert inserts the datapoint or replaces the one with the same id.
	Upsert(ctx context.Context, dp Datapoint) error
	// Remove deletes the datapoint; unknown ids are ignored.
	Remove(ctx context.Context, id string) error
	// Query returns up to k neighbors per vector in one call, closest first.
	// Only datapoints matching every restrict are considered.
	Query(ctx context.Context, vectors [][]float32, k int, restricts []Restrict) ([][]Neighbor, error)
	Close() error
}

// Matches reports whether a datapoint with the given restricts passes the
// query restricts. For every query namespace, the datapoint must carry a
// token of that namespace in the query's allow list.
func Matches(datapoint, query []Restrict) bool {
	for _, q := range query {
		if !namespaceMatches(datapoint, q) {
			return false
		}
	}
	return true
}

func namespaceMatches(datapoint []Restrict, q Restrict) bool {
	for _, r := range datapoint {
		if r.Namespace != q.Namespace {
			continue
		}
		for _, token := range r.AllowList {
			for _, allowed := range q.AllowList {
				if token == allowed {
					return true
				}
			}
		}
	}
	return false
}
