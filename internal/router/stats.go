// ABOUTME: Snapshot views of router state for the stats and metrics endpoints

package router

import "time"

// Stats summarizes the current watch state.
type Stats struct {
	WatchedForms int            `json:"watched_forms"`
	Connections  int            `json:"connections"`
	ByForm       map[string]int `json:"by_form"`
}

// Metrics extends Stats with activity spread and debounce backlog.
type Metrics struct {
	Stats
	PendingDebounces int       `json:"pending_debounces"`
	OldestActivity   time.Time `json:"oldest_activity,omitzero"`
	NewestActivity   time.Time `json:"newest_activity,omitzero"`
}

// Stats returns aggregate watch counts.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statsLocked()
}

func (r *Router) statsLocked() Stats {
	byForm := make(map[string]int, len(r.watchers))
	for formID, set := range r.watchers {
		byForm[formID] = len(set)
	}
	return Stats{
		WatchedForms: len(r.watchers),
		Connections:  len(r.forms),
		ByForm:       byForm,
	}
}

// Metrics returns Stats plus the oldest and newest connection activity and
// the number of debounce timers currently pending.
func (r *Router) Metrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := Metrics{
		Stats:            r.statsLocked(),
		PendingDebounces: len(r.timers),
	}
	for _, at := range r.activity {
		if m.OldestActivity.IsZero() || at.Before(m.OldestActivity) {
			m.OldestActivity = at
		}
		if at.After(m.NewestActivity) {
			m.NewestActivity = at
		}
	}
	return m
}
