package plugin

import (
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
)

type cellState uint8

const (
	cellPending cellState = iota
	cellResolving
	cellResolved
	cellFailed
)

// Resolution is the chain of cells being resolved on behalf of one caller. A resolver that forces other
// cells hands its Resolution on, so the cells can tell a dependency cycle apart from another goroutine
// resolving the same cell.
type Resolution struct {
	cell   any
	parent *Resolution
}

func (r *Resolution) with(cell any) *Resolution {
	return &Resolution{cell: cell, parent: r}
}

func (r *Resolution) contains(cell any) bool {
	for ; r != nil; r = r.parent {
		if r.cell == cell {
			return true
		}
	}
	return false
}

// Lazy is a memoized, lazily resolved value. The resolver runs at most once. Callers that force a cell
// while another goroutine resolves it wait for that result. Forcing a cell from inside its own resolution
// chain returns ErrCircularUse rather than recursing, so a dependency cycle is only an error when a value
// is actually used during construction.
type Lazy[T any] struct {
	mu      sync.Mutex
	state   cellState
	resolve func(*Resolution) (T, error)
	done    chan struct{}
	value   T
	err     error
}

// NewLazy wraps a resolver that does not force other cells. A resolver that does must use NewLazyWithin,
// or forcing the cell from itself blocks forever.
func NewLazy[T any](resolve func() (T, error)) *Lazy[T] {
	return NewLazyWithin(func(*Resolution) (T, error) { return resolve() })
}

// NewLazyWithin wraps a resolver that receives the resolution chain it runs in.
func NewLazyWithin[T any](resolve func(*Resolution) (T, error)) *Lazy[T] {
	return &Lazy[T]{resolve: resolve, done: make(chan struct{})}
}

// Get forces the cell and returns its value.
func (l *Lazy[T]) Get() (T, error) {
	return l.GetWithin(nil)
}

// GetWithin forces the cell as part of chain.
func (l *Lazy[T]) GetWithin(chain *Resolution) (T, error) {
	var zero T

	l.mu.Lock()
	switch l.state {
	case cellResolved:
		v := l.value
		l.mu.Unlock()
		return v, nil
	case cellFailed:
		err := l.err
		l.mu.Unlock()
		return zero, err
	case cellResolving:
		l.mu.Unlock()
		if chain.contains(l) {
			return zero, eris.Wrap(ErrCircularUse, "")
		}
		<-l.done
		return l.GetWithin(chain)
	case cellPending:
	}
	l.state = cellResolving
	resolve := l.resolve
	l.mu.Unlock()

	v, err := runResolver(resolve, chain.with(l))

	l.mu.Lock()
	defer l.mu.Unlock()
	defer close(l.done)
	l.resolve = nil
	if err != nil {
		l.state = cellFailed
		l.err = err
		return zero, err
	}
	l.state = cellResolved
	l.value = v
	return v, nil
}

// Peek returns the value without forcing the cell. ok is false until the cell has resolved successfully.
func (l *Lazy[T]) Peek() (value T, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.state == cellResolved
}

// Resolved reports whether the resolver has run, successfully or not.
func (l *Lazy[T]) Resolved() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == cellResolved || l.state == cellFailed
}

func runResolver[T any](resolve func(*Resolution) (T, error), chain *Resolution) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("panic during resolution: %v", fmt.Sprint(r))
		}
	}()
	return resolve(chain)
}
