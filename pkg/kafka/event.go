package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedEvent marks a message that can never be handled, however
// often it is retried.
var ErrMalformedEvent = errors.New("malformed event")

// Event is the envelope of the catalogue's Kafka messages.
type Event struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	AggregateID   string            `json:"aggregate_id"`
	AggregateType string            `json:"aggregate_type"`
	Version       int               `json:"version"`
	Timestamp     time.Time         `json:"timestamp"`
	Source        string            `json:"source"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// UnmarshalEvent decodes and checks an envelope. Errors wrap
// ErrMalformedEvent.
func UnmarshalEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if strings.TrimSpace(event.EventType) == "" {
		return nil, fmt.Errorf("%w: event %q has no event_type", ErrMalformedEvent, event.EventID)
	}
	return &event, nil
}

// QualifiedType returns the event type with the topic prefix, so
// "product.updated" and "ecommerce.product.updated" compare equal.
func (e *Event) QualifiedType() string {
	if strings.HasPrefix(e.EventType, TopicPrefix+".") {
		return e.EventType
	}
	return TopicPrefix + "." + e.EventType
}

// Lag returns how long ago the catalogue emitted the event. It reports
// false when the producer set no timestamp. Clock skew can make the lag
// negative; it is clamped to zero.
func (e *Event) Lag(now time.Time) (time.Duration, bool) {
	if e.Timestamp.IsZero() {
		return 0, false
	}
	return max(now.Sub(e.Timestamp), 0), true
}

// HasData reports whether the event carries a non-null payload.
func (e *Event) HasData() bool {
	d := strings.TrimSpace(string(e.Data))
	return d != "" && d != "null"
}

// UnmarshalData decodes the payload into target. Decode failures wrap
// ErrMalformedEvent.
func (e *Event) UnmarshalData(target any) error {
	if err := json.Unmarshal(e.Data, target); err != nil {
		return fmt.Errorf("%w: %s data: %w", ErrMalformedEvent, e.EventType, err)
	}
	return nil
}
