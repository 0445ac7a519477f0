// Package docrepos implements the domain repositories on top of a core.Store.
package docrepos

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

type docRepository struct {
	store core.Store
}

// write stages w in the caller's batch when one is given, otherwise commits it right away.
func (repo docRepository) write(ctx context.Context, msg string, w core.Write, batch []*core.Batch) error {
	if len(batch) > 0 && batch[0] != nil {
		batch[0].Add(w)
		return nil
	}
	return errors.Wrap(repo.store.WriteBatch(ctx, w), msg)
}

// trapNotFoundErr maps core.ErrNotFound to notFound
func trapNotFoundErr(err, notFound error, msg string) error {
	if errors.Is(err, core.ErrNotFound) {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// lessFunc compares two records on a single field; it returns (less, comparable).
type lessFunc func(i, j int, field string) (bool, bool)

// orderBy sorts n records by ordering, falling back on defaultOrder. Unknown fields are ignored.
func orderBy(n int, swap func(i, j int), ordering []core.DBOrdering, less lessFunc, defaultOrder ...core.DBOrdering) {
	if len(ordering) == 0 {
		ordering = defaultOrder
	}
	sort.Stable(sorter{n: n, swap: swap, less: func(i, j int) bool {
		for _, ord := range ordering {
			if l, ok := less(i, j, ord.Field); ok {
				g, _ := less(j, i, ord.Field)
				if l == g { // equal
					continue
				}
				if ord.Ascending {
					return l
				}
				return g
			}
		}
		return false
	}})
}

type sorter struct {
	n    int
	swap func(i, j int)
	less func(i, j int) bool
}

func (s sorter) Len() int           { return s.n }
func (s sorter) Swap(i, j int)      { s.swap(i, j) }
func (s sorter) Less(i, j int) bool { return s.less(i, j) }
