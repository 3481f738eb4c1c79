// Package activity tracks which users have recently been active in which
// channels, and lets notification waits watch for new activity.
package activity

import (
	"container/list"
	"sync"
	"time"
)

// Defaults for the tracker.
const (
	// DefaultWindow is how long after an activity signal a user is still
	// considered to be watching the channel.
	DefaultWindow = 10 * time.Second
	// DefaultCapacity bounds the number of (channel, user) entries kept.
	DefaultCapacity = 1000
)

type key struct {
	channelID string
	userID    string
}

type entry struct {
	key  key
	seen time.Time
}

// Tracker is a bounded, recency-ordered map of (channel, user) to the last
// time an activity signal was recorded. Entries carry monotonic clock
// readings: a time-stamped window, not a boolean, so overlapping activity in
// several channels cannot expire each other early. All methods are safe for
// concurrent use.
type Tracker struct {
	mu       sync.Mutex
	entries  map[key]*list.Element // of entry
	order    *list.List            // front = most recently touched
	capacity int
	window   time.Duration
	now      func() time.Time

	watchers map[key][]chan struct{}
}

// NewTracker creates a Tracker. capacity and window fall back to the
// defaults when non-positive.
func NewTracker(capacity int, window time.Duration) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		entries:  make(map[key]*list.Element),
		order:    list.New(),
		capacity: capacity,
		window:   window,
		now:      time.Now,
		watchers: make(map[key][]chan struct{}),
	}
}

// SetClock overrides the time source, for tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Window returns the configured recency window.
func (t *Tracker) Window() time.Duration {
	return t.window
}

// Record stamps genuine activity for the pair at the current time and wakes
// any watchers.
func (t *Tracker) Record(channelID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stamp(key{channelID, userID}, t.now())
	t.wake(key{channelID, userID})
}

// RecordAt stamps activity that happened at a known earlier time, such as a
// reaction to an old message. The stamp only moves forward, and watchers are
// only woken when the activity is still within the window.
func (t *Tracker) RecordAt(channelID, userID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{channelID, userID}
	if el, ok := t.entries[k]; ok && el.Value.(*entry).seen.After(at) {
		t.touch(el)
		return
	}
	t.stamp(k, at)
	if t.now().Sub(at) < t.window {
		t.wake(k)
	}
}

// StampIfInactive atomically checks the pair's recency and, when no activity
// fell within the window, records an optimistic stamp and reports true. The
// check and the stamp are one critical section so two concurrent callers
// cannot both observe the pair as inactive. The stamp does not wake watchers
// and therefore cannot cancel a pending notification.
func (t *Tracker) StampIfInactive(channelID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{channelID, userID}
	if el, ok := t.entries[k]; ok && t.now().Sub(el.Value.(*entry).seen) < t.window {
		t.touch(el)
		return false
	}
	t.stamp(k, t.now())
	return true
}

// RecentlyActive reports whether the pair saw activity within the window.
func (t *Tracker) RecentlyActive(channelID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	el, ok := t.entries[key{channelID, userID}]
	if !ok {
		return false
	}
	t.touch(el)
	return t.now().Sub(el.Value.(*entry).seen) < t.window
}

// Watch returns a channel that is closed on the next genuine activity for
// the pair, and a cancel func that must be called when done watching.
func (t *Tracker) Watch(channelID, userID string) (<-chan struct{}, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{channelID, userID}
	ch := make(chan struct{})
	t.watchers[k] = append(t.watchers[k], ch)

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		ws := t.watchers[k]
		for i, w := range ws {
			if w == ch {
				t.watchers[k] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		if len(t.watchers[k]) == 0 {
			delete(t.watchers, k)
		}
	}
	return ch, cancel
}

// stamp records the time for a key, promoting it and evicting the least
// recently touched entry when over capacity. Caller holds the lock.
func (t *Tracker) stamp(k key, at time.Time) {
	if el, ok := t.entries[k]; ok {
		el.Value.(*entry).seen = at
		t.touch(el)
		return
	}
	t.entries[k] = t.order.PushFront(&entry{key: k, seen: at})
	if t.order.Len() > t.capacity {
		oldest := t.order.Back()
		t.order.Remove(oldest)
		delete(t.entries, oldest.Value.(*entry).key)
	}
}

func (t *Tracker) touch(el *list.Element) {
	t.order.MoveToFront(el)
}

// wake closes all watcher channels for a key. Caller holds the lock.
func (t *Tracker) wake(k key) {
	for _, ch := range t.watchers[k] {
		close(ch)
	}
	delete(t.watchers, k)
}
