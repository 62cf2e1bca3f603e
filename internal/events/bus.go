/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventStreamStarted    EventType = "stream.started"
	EventStreamStopped    EventType = "stream.stopped"
	EventStreamCrashed    EventType = "stream.crashed"
	EventStreamRestarting EventType = "stream.restarting"
	EventStreamCompleted  EventType = "stream.completed"

	EventScheduleExecuted EventType = "schedule.executed"
	EventScheduleFailed   EventType = "schedule.failed"
	EventScheduleSkipped  EventType = "schedule.skipped"

	// Cache invalidation events
	EventTemplateUpdated   EventType = "cache.template_updated"
	EventTemplateDeleted   EventType = "cache.template_deleted"
	EventCredentialUpdated EventType = "cache.credential_updated"

	// Audit events (for operations that need explicit audit logging)
	EventAuditAPIKeyCreate  EventType = "audit.apikey.create"
	EventAuditAPIKeyRevoke  EventType = "audit.apikey.revoke"
	EventAuditStreamStart   EventType = "audit.stream.start"
	EventAuditStreamStop    EventType = "audit.stream.stop"
	EventAuditTemplateWrite EventType = "audit.template.write"
)

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// EventBus is the pub/sub surface shared by the in-memory bus and the
// Redis-backed bridge in the eventbus package.
type EventBus interface {
	Subscribe(eventType EventType) Subscriber
	Publish(eventType EventType, payload Payload)
	Unsubscribe(eventType EventType, sub Subscriber)
}

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}
