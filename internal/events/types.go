// Package events provides the in-process event bus used for plugin, page
// and data-source lifecycle notifications.
package events

import "time"

// EventType identifies the kind of event.
type EventType string

const (
	// Plugin lifecycle
	EventPluginDiscovered  EventType = "plugin.discovered"
	EventPluginLoaded      EventType = "plugin.loaded"
	EventPluginActivated   EventType = "plugin.activated"
	EventPluginDeactivated EventType = "plugin.deactivated"
	EventPluginUninstalled EventType = "plugin.uninstalled"
	EventPluginError       EventType = "plugin.error"

	// Component registry
	EventComponentRegistered   EventType = "component.registered"
	EventComponentActivated    EventType = "component.activated"
	EventComponentDeactivated  EventType = "component.deactivated"
	EventComponentUnregistered EventType = "component.unregistered"

	// Pages & sites
	EventPageCreated     EventType = "page.created"
	EventPageDeleted     EventType = "page.deleted"
	EventVersionSaved    EventType = "page.version.saved"
	EventVersionRestored EventType = "page.version.restored"
	EventSitePublished   EventType = "site.published"
	EventSiteUnpublished EventType = "site.unpublished"

	// System
	EventSystemStarted EventType = "system.started"
	EventSystemStopped EventType = "system.stopped"
)

// EventPriority orders events for the admin feed.
type EventPriority int

const (
	PriorityLow      EventPriority = 1
	PriorityNormal   EventPriority = 5
	PriorityHigh     EventPriority = 10
	PriorityCritical EventPriority = 20
)

// Event is one bus message.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Source    string         `json:"source"` // system, plugin:<id>, user:<id>
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Priority  EventPriority  `json:"priority"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler consumes matched events. Handler errors are logged, not retried.
type Handler func(Event) error

// Filter selects events for a subscription or a query.
type Filter struct {
	Types   []EventType `json:"types,omitempty"`
	Sources []string    `json:"sources,omitempty"`
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e Event) bool {
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if e.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Sources) > 0 {
		ok := false
		for _, s := range f.Sources {
			if e.Source == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Subscription ties a filter to a handler.
type Subscription struct {
	ID      string    `json:"id"`
	Filter  Filter    `json:"filter"`
	Handler Handler   `json:"-"`
	Created time.Time `json:"created"`
}

// New builds an event with sensible defaults; the bus fills ID and
// timestamp on publish if left zero.
func New(t EventType, source, title, message string) Event {
	return Event{
		Type:     t,
		Source:   source,
		Title:    title,
		Message:  message,
		Priority: PriorityNormal,
	}
}

// WithData attaches a payload to the event.
func (e Event) WithData(data map[string]any) Event {
	e.Data = data
	return e
}

// WithPriority overrides the default priority.
func (e Event) WithPriority(p EventPriority) Event {
	e.Priority = p
	return e
}
