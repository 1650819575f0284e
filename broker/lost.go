package broker

import "sync"

// lostSignal records the first loss cause and closes its channel once
type lostSignal struct {
	once sync.Once
	ch   chan struct{}
	mu   sync.Mutex
	err  error
}

func newLostSignal() *lostSignal {
	return &lostSignal{ch: make(chan struct{})}
}

func (l *lostSignal) fire(err error) {
	l.once.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.ch)
	})
}

func (l *lostSignal) Lost() <-chan struct{} { return l.ch }

func (l *lostSignal) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}
