// Package projection assembles the read views of the social backend. Every view is computed by a
// Plan: an ordered list of filter, sort, page and join steps over documents loaded from the Entity
// Store, followed by a shape step turning each document into its view.
package projection

import (
	"context"
	"sort"
	"time"

	"social-backend/internal/apperr"
)

// Cursor is the position of a document in the createdAt-descending order of a view
type Cursor struct {
	CreatedAt time.Time
	ID        int64
}

// before reports whether c sorts before o, newest first with ties broken by id
func (c Cursor) before(o Cursor) bool {
	if !c.CreatedAt.Equal(o.CreatedAt) {
		return c.CreatedAt.After(o.CreatedAt)
	}
	return c.ID > o.ID
}

type step[T any] struct {
	name string
	run  func(ctx context.Context, docs []T) ([]T, error)
}

// Plan is a typed query plan over documents of type T. Steps run in the order they were added.
// A Join must follow a Page so the join set is bounded.
type Plan[T any] struct {
	name      string
	key       func(T) Cursor
	maxFanout int
	steps     []step[T]
	sorted    bool
	paged     bool
	err       error
}

// NewPlan returns an empty plan; key positions a document for sorting and paging
func NewPlan[T any](name string, key func(T) Cursor, maxFanout int) *Plan[T] {
	return &Plan[T]{name: name, key: key, maxFanout: maxFanout}
}

func (p *Plan[T]) add(name string, run func(ctx context.Context, docs []T) ([]T, error)) *Plan[T] {
	p.steps = append(p.steps, step[T]{name: name, run: run})
	return p
}

// Filter keeps the documents for which keep returns true
func (p *Plan[T]) Filter(keep func(T) bool) *Plan[T] {
	return p.add("filter", func(_ context.Context, docs []T) ([]T, error) {
		out := docs[:0:0]
		for _, d := range docs {
			if keep(d) {
				out = append(out, d)
			}
		}
		return out, nil
	})
}

// Sort orders documents by createdAt descending, then id descending
func (p *Plan[T]) Sort() *Plan[T] {
	p.sorted = true
	return p.add("sort", func(_ context.Context, docs []T) ([]T, error) {
		sort.SliceStable(docs, func(i, j int) bool {
			return p.key(docs[i]).before(p.key(docs[j]))
		})
		return docs, nil
	})
}

// Page drops every document up to and including after, then keeps at most limit of them
func (p *Plan[T]) Page(after *Cursor, limit int) *Plan[T] {
	if !p.sorted {
		p.err = apperr.Internal(nil, "plan %s pages before sorting", p.name)
	}
	p.paged = true
	return p.add("page", func(_ context.Context, docs []T) ([]T, error) {
		start := 0
		if after != nil {
			for start < len(docs) && !after.before(p.key(docs[start])) {
				start++
			}
		}
		docs = docs[start:]
		if len(docs) > limit {
			docs = docs[:limit]
		}
		return docs, nil
	})
}

// Join collects the references refs returns for every document and hands them, deduplicated, to
// resolve in batches of at most the plan's fan-out bound, checking ctx between batches.
func (p *Plan[T]) Join(name string, refs func(T) []int64, resolve func(ctx context.Context, ids []int64) error) *Plan[T] {
	if !p.paged {
		p.err = apperr.Internal(nil, "plan %s joins %s before paging", p.name, name)
	}
	return p.add("join "+name, func(ctx context.Context, docs []T) ([]T, error) {
		seen := make(map[int64]struct{})
		var ids []int64
		for _, d := range docs {
			for _, id := range refs(d) {
				if _, ok := seen[id]; ok {
					continue
				}
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
		for len(ids) > 0 {
			n := len(ids)
			if p.maxFanout > 0 && n > p.maxFanout {
				n = p.maxFanout
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := resolve(ctx, ids[:n]); err != nil {
				return nil, err
			}
			ids = ids[n:]
		}
		return docs, nil
	})
}

// Run executes the steps over docs, checking ctx between steps
func (p *Plan[T]) Run(ctx context.Context, docs []T) ([]T, error) {
	if p.err != nil {
		return nil, p.err
	}
	var err error
	for _, s := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if docs, err = s.run(ctx, docs); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// Project runs p over docs and shapes every remaining document into a view
func Project[T, V any](ctx context.Context, p *Plan[T], docs []T, shape func(T) V) ([]V, error) {
	docs, err := p.Run(ctx, docs)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	views := make([]V, 0, len(docs))
	for _, d := range docs {
		views = append(views, shape(d))
	}
	return views, nil
}
