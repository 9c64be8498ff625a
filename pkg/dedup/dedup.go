// Package dedup collapses concurrent work for identical keys into one
// awaited call, grounded on the resolution service in
// open-component-model/kubernetes/controller/resolution: it wraps
// golang.org/x/sync/singleflight.Group the same way that controller wraps
// its resolver's cache-miss path ("v, err, shared := r.sf.Do(key, func() ...")
// ahead of an enqueue — here the generic Group[T] adds static typing over
// singleflight's any-typed result.
package dedup

import "golang.org/x/sync/singleflight"

// Group deduplicates concurrent GetOrCreate calls with the same key.
type Group[T any] struct {
	sf singleflight.Group
}

// New creates an empty Group.
func New[T any]() *Group[T] {
	return &Group[T]{}
}

// GetOrCreate runs factory for key if no call for that key is already in
// flight; otherwise it waits for the in-flight call and returns its result.
// factory is invoked exactly once per set of concurrent callers sharing key
// (spec §4.2, §8). The pending entry is cleared once factory settles, so a
// later call is free to retry.
func (g *Group[T]) GetOrCreate(key string, factory func() (T, error)) (T, error) {
	v, err, _ := g.sf.Do(key, func() (interface{}, error) {
		return factory()
	})
	result, _ := v.(T)
	return result, err
}

// Forget evicts key so the next GetOrCreate call starts a fresh factory run
// even if one is (incorrectly) believed to still be in flight. Exposed for
// tests and for callers that want to force revalidation.
func (g *Group[T]) Forget(key string) {
	g.sf.Forget(key)
}
