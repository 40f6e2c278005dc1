package mocks

import (
	"context"
	"sync"
)

// PublisherMock records published events for assertions.
type PublisherMock struct {
	mu     sync.Mutex
	Events []PublishedEvent
}

type PublishedEvent struct {
	RoutingKey string
	Message    interface{}
	Headers    map[string]string
}

func (p *PublisherMock) PublishJSON(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, PublishedEvent{RoutingKey: routingKey, Message: message, Headers: headers})
	return nil
}

// Published returns a copy of the recorded events.
func (p *PublisherMock) Published() []PublishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PublishedEvent, len(p.Events))
	copy(out, p.Events)
	return out
}
