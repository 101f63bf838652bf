package store

import (
	"context"
	"sync"

	appLog "schedsync/internal/log"
)

// Table names a group of rows watchers can subscribe to.
type Table string

const (
	TableLessons Table = "lessons"
	TableNotes   Table = "notes"
)

// broker fans out change signals per table. Each subscriber channel holds
// at most one pending signal, so bursts of writes coalesce.
type broker struct {
	mu   sync.Mutex
	subs map[Table]map[chan struct{}]struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[Table]map[chan struct{}]struct{})}
}

func (b *broker) subscribe(tables ...Table) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	for _, t := range tables {
		if b.subs[t] == nil {
			b.subs[t] = make(map[chan struct{}]struct{})
		}
		b.subs[t][ch] = struct{}{}
	}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			for _, t := range tables {
				delete(b.subs[t], ch)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

func (b *broker) publish(t Table) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[t] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe returns a channel that receives a signal after every committed
// write to any of tables, and a func that ends the subscription.
func (s *Store) Subscribe(tables ...Table) (<-chan struct{}, func()) {
	return s.broker.subscribe(tables...)
}

// Watch evaluates query immediately and again after every committed write
// to tables, sending each result until ctx is done. The channel is closed
// on exit. Failed evaluations are logged and skipped.
func Watch[T any](ctx context.Context, s *Store, query func(context.Context) (T, error), tables ...Table) <-chan T {
	out := make(chan T)
	changed, cancel := s.Subscribe(tables...)

	go func() {
		defer close(out)
		defer cancel()

		for {
			v, err := query(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				appLog.Error("watch query failed", err, "tables", tables)
			} else {
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
