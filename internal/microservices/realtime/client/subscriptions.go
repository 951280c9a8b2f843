package client

import (
	"encoding/json"
	"sync"
)

// Callback receives the data payload of an inbound envelope.
type Callback func(data json.RawMessage)

// Subscription identifies one Subscribe call. Go funcs are not comparable,
// so the handle is what Unsubscribe matches on.
type Subscription struct {
	id uint64
}

type subscriber struct {
	id uint64
	fn Callback
}

type subscriptions struct {
	mu     sync.RWMutex
	nextID uint64
	byType map[string][]subscriber
}

func newSubscriptions() *subscriptions {
	return &subscriptions{byType: make(map[string][]subscriber)}
}

func (s *subscriptions) add(msgType string, fn Callback) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.byType[msgType] = append(s.byType[msgType], subscriber{id: s.nextID, fn: fn})
	return Subscription{id: s.nextID}
}

func (s *subscriptions) remove(msgType string, sub Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.byType[msgType]
	for i, existing := range subs {
		if existing.id != sub.id {
			continue
		}
		rest := append(subs[:i:i], subs[i+1:]...)
		if len(rest) == 0 {
			delete(s.byType, msgType)
		} else {
			s.byType[msgType] = rest
		}
		return true
	}
	return false
}

// snapshot returns the callbacks for a type in registration order.
func (s *subscriptions) snapshot(msgType string) []Callback {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs := s.byType[msgType]
	out := make([]Callback, len(subs))
	for i, sub := range subs {
		out[i] = sub.fn
	}
	return out
}

func (s *subscriptions) types() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byType)
}
