// Package registry owns all mutable group state: the active-group set,
// per-group link overrides and titles, broadcast timestamps, and the
// process-wide default link and broadcast interval.
//
// Both the command dispatcher and the periodic broadcaster read and write
// this state concurrently, so every operation goes through a single mutex.
// Nothing here persists: state is memory-only and resets on restart.
package registry

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrInvalidURL is returned when a link does not start with http:// or https://.
var ErrInvalidURL = errors.New("invalid url: must start with http:// or https://")

// ErrInvalidInterval is returned for non-positive broadcast intervals.
var ErrInvalidInterval = errors.New("interval must be at least 1 hour")

// GroupState is a snapshot of one group's state.
type GroupState struct {
	ID            int64
	Title         string
	Link          string // effective link (override or default)
	HasOverride   bool
	LastBroadcast time.Time // zero if never broadcast
}

// ValidLink reports whether s is acceptable as a link.
func ValidLink(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

type group struct {
	title         string
	link          string // custom override; empty means default
	lastBroadcast time.Time
}

type Registry struct {
	mu sync.Mutex

	defaultLink string
	interval    time.Duration

	active map[int64]struct{}
	groups map[int64]*group
}

func New(defaultLink string, interval time.Duration) *Registry {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Registry{
		defaultLink: defaultLink,
		interval:    interval,
		active:      map[int64]struct{}{},
		groups:      map[int64]*group{},
	}
}

// Activate marks a chat as active, creating its state record if needed.
func (r *Registry) Activate(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[id] = struct{}{}
	if r.groups[id] == nil {
		r.groups[id] = &group{}
	}
}

// Deactivate removes a chat from the active set and deletes its state,
// including any custom link override. A later re-add starts fresh.
func (r *Registry) Deactivate(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
	delete(r.groups, id)
}

// Active reports whether a chat is in the active set.
func (r *Registry) Active(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[id]
	return ok
}

// ActiveIDs returns a point-in-time copy of the active set, sorted by id.
func (r *Registry) ActiveIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SetTitle records a chat's display title.
func (r *Registry) SetTitle(id int64, title string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.groups[id]
	if g == nil {
		g = &group{}
		r.groups[id] = g
	}
	g.title = title
}

// SetLink installs a custom link for a chat. The input is validated first;
// on failure no state changes.
func (r *Registry) SetLink(id int64, url string) error {
	if !ValidLink(url) {
		return ErrInvalidURL
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.groups[id]
	if g == nil {
		g = &group{}
		r.groups[id] = g
	}
	g.link = url
	return nil
}

// ResetLink clears a chat's custom link so it falls back to the default.
func (r *Registry) ResetLink(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g := r.groups[id]; g != nil {
		g.link = ""
	}
}

// Link returns the effective link for a chat: the custom override when set,
// otherwise the process-wide default.
func (r *Registry) Link(id int64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g := r.groups[id]; g != nil && g.link != "" {
		return g.link
	}
	return r.defaultLink
}

// RecordBroadcast stores the time a link was last sent to a chat.
func (r *Registry) RecordBroadcast(id int64, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.groups[id]
	if g == nil {
		g = &group{}
		r.groups[id] = g
	}
	g.lastBroadcast = t
}

// LastBroadcast returns the last broadcast time for a chat, if any.
func (r *Registry) LastBroadcast(id int64) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.groups[id]
	if g == nil || g.lastBroadcast.IsZero() {
		return time.Time{}, false
	}
	return g.lastBroadcast, true
}

// DefaultLink returns the process-wide default link.
func (r *Registry) DefaultLink() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaultLink
}

// SetDefaultLink replaces the process-wide default link after validation.
func (r *Registry) SetDefaultLink(url string) error {
	if !ValidLink(url) {
		return ErrInvalidURL
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultLink = url
	return nil
}

// Interval returns the process-wide broadcast interval.
func (r *Registry) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// SetInterval replaces the broadcast interval. It takes effect on the
// broadcaster's next sleep cycle, never retroactively.
func (r *Registry) SetInterval(d time.Duration) error {
	if d < time.Hour {
		return ErrInvalidInterval
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interval = d
	return nil
}

// Snapshot returns a copy of every known group's state, sorted by id.
func (r *Registry) Snapshot() []GroupState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]GroupState, 0, len(r.groups))
	for id, g := range r.groups {
		link := g.link
		if link == "" {
			link = r.defaultLink
		}
		out = append(out, GroupState{
			ID:            id,
			Title:         g.title,
			Link:          link,
			HasOverride:   g.link != "",
			LastBroadcast: g.lastBroadcast,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveCount returns the number of active groups.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
