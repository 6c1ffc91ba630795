package cart

import (
	"sync"

	"github.com/Olympe-Studio/ferndev/internal/store"
)

// loadingCounter counts operations in flight and mirrors count > 0 into busy.
type loadingCounter struct {
	mu   sync.Mutex
	n    int
	busy *store.Store[bool]
}

func newLoadingCounter() *loadingCounter {
	return &loadingCounter{busy: store.New(false)}
}

func (l *loadingCounter) inc() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.n++
	if l.n == 1 {
		l.busy.Set(true)
	}
}

// dec never takes the count below zero.
func (l *loadingCounter) dec() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.n == 0 {
		return
	}
	l.n--
	if l.n == 0 {
		l.busy.Set(false)
	}
}

func (l *loadingCounter) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}
