package concurrent

import (
	"iter"

	"golang.org/x/sync/errgroup"
)

// Each runs action for every element of seq in its own goroutine, at most
// limit at a time when limit is positive. It waits for all of them and returns
// the first error encountered.
func Each[T any](seq iter.Seq[T], limit int, action func(T) error) error {
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for value := range seq {
		g.Go(func() error {
			return action(value)
		})
	}
	return g.Wait()
}
