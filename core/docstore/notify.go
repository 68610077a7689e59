package docstore

import (
	"context"
	"sync"

	"gopkg.in/tomb.v2"
)

// QueryFunc runs a query against a backend.
type QueryFunc func(ctx context.Context, q Query) ([]*Snapshot, error)

// Hub fans write notifications out to live queries. Every subscription owns a pump goroutine
// that re-runs its query after each write touching its collection and hands the result to the
// listener. Notifications are coalesced: a slow listener only sees the latest state.
type Hub struct {
	mu   sync.Mutex
	subs map[*hubSubscription]struct{}
}

type hubSubscription struct {
	hub        *Hub
	collection string
	dirty      chan struct{}
	t          tomb.Tomb
}

// OnError is called when a subscription pump fails to re-run its query.
type OnError func(q Query, err error)

func NewHub() *Hub {
	return &Hub{subs: make(map[*hubSubscription]struct{})}
}

// Subscribe registers a live query; fn receives the initial result right away.
func (h *Hub) Subscribe(ctx context.Context, run QueryFunc, q Query, fn func([]*Snapshot), onErr OnError) Subscription {
	sub := &hubSubscription{
		hub:        h,
		collection: q.Collection,
		dirty:      make(chan struct{}, 1),
	}
	sub.dirty <- struct{}{} // initial delivery

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	sub.t.Go(func() error {
		defer h.remove(sub)
		for {
			select {
			case <-sub.t.Dying():
				return nil
			case <-ctx.Done():
				return nil
			case <-sub.dirty:
				snaps, err := run(ctx, q)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					if onErr != nil {
						onErr(q, err)
					}
					continue
				}
				fn(snaps)
			}
		}
	})
	return sub
}

// Notify marks every live query on the given collections as stale.
func (h *Hub) Notify(collections ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		for _, c := range collections {
			if sub.collection == c {
				select {
				case sub.dirty <- struct{}{}:
				default: // already pending
				}
				break
			}
		}
	}
}

// Close stops every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*hubSubscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Stop()
	}
}

func (h *Hub) remove(sub *hubSubscription) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

func (s *hubSubscription) Stop() error {
	s.t.Kill(nil)
	return s.t.Wait()
}
