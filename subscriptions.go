package realtime

import (
	"sort"
	"sync"
)

// subscriptionSet holds the channels the client wants to be subscribed to.
// The set outlives individual connections: it is seeded from config, merged
// by SubscribeToChannels and replayed in full after every handshake.
type subscriptionSet struct {
	mu       sync.Mutex
	channels map[string]struct{}
}

func newSubscriptionSet(seed []string) *subscriptionSet {
	s := &subscriptionSet{channels: make(map[string]struct{}, len(seed))}
	s.add(seed)
	return s
}

// add merges channels into the set and reports whether anything new was added.
// Empty names are dropped.
func (s *subscriptionSet) add(channels []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := false
	for _, ch := range channels {
		if ch == "" {
			continue
		}
		if _, ok := s.channels[ch]; !ok {
			s.channels[ch] = struct{}{}
			added = true
		}
	}
	return added
}

// snapshot returns the full channel set, sorted for stable wire frames.
func (s *subscriptionSet) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

func (s *subscriptionSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.channels)
}
