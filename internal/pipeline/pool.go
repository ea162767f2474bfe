package pipeline

import "context"

// pool hands out a fixed set of items, one caller at a time per item.
type pool[T any] struct {
	items chan T
}

func newPool[T any](items []T) *pool[T] {
	p := &pool[T]{items: make(chan T, len(items))}
	for _, it := range items {
		p.items <- it
	}
	return p
}

func (p *pool[T]) acquire(ctx context.Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	select {
	case it := <-p.items:
		return it, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (p *pool[T]) release(it T) {
	p.items <- it
}

// busy reports how many items are currently checked out.
func (p *pool[T]) busy() int {
	return cap(p.items) - len(p.items)
}
