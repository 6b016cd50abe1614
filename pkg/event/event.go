package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RawEvent is an analytics event as delivered by the ingestion boundary.
// The nested context carries the acting user's identity, the originating
// plugin, and an optional client-side timestamp.
type RawEvent struct {
	Action     string                 `json:"action"`
	Subject    string                 `json:"subject"`
	Value      interface{}            `json:"value,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Identity returns the user identity carried in the raw context, or ""
// when the event is anonymous.
func (r RawEvent) Identity() string {
	if r.Context == nil {
		return ""
	}
	if name, ok := r.Context["userName"].(string); ok && name != "" {
		return name
	}
	if id, ok := r.Context["userId"].(string); ok && id != "" {
		return id
	}
	return ""
}

// Event is the canonical analytics record. Context and Attributes hold
// either a map[string]interface{} or its JSON string form; which one is
// decided once, at construction, from the destination store's JSON support.
type Event struct {
	ID         string
	UserRef    string
	PluginID   string
	Action     string
	Subject    string
	Value      interface{}
	Context    interface{}
	Attributes interface{}
	CreatedAt  time.Time
}

// Record is the persisted field set of an event. The internal ID is used
// only for queue identity and is not part of the stored payload.
type Record struct {
	UserRef    string      `json:"user_ref"`
	PluginID   string      `json:"plugin_id"`
	Action     string      `json:"action"`
	Context    interface{} `json:"context"`
	Subject    string      `json:"subject"`
	Attributes interface{} `json:"attributes"`
	CreatedAt  time.Time   `json:"created_at"`
	Value      interface{} `json:"value"`
}

// Normalize converts a raw event into its canonical form. jsonCapable
// reports whether the destination store supports native JSON columns; when
// it does not, context and attributes are serialized to strings.
func Normalize(raw RawEvent, jsonCapable bool) Event {
	e := Event{
		ID:      uuid.NewString(),
		UserRef: raw.Identity(),
		Action:  raw.Action,
		Subject: raw.Subject,
		Value:   raw.Value,
	}

	if raw.Context != nil {
		if pluginID, ok := raw.Context["pluginId"].(string); ok {
			e.PluginID = pluginID
		}
	}

	e.CreatedAt = arrivalTime(raw.Context)

	ctx := raw.Context
	if ctx == nil {
		ctx = map[string]interface{}{}
	}
	attrs := raw.Attributes
	if attrs == nil {
		attrs = map[string]interface{}{}
	}

	if jsonCapable {
		e.Context = ctx
		e.Attributes = attrs
	} else {
		e.Context = stringify(ctx)
		e.Attributes = stringify(attrs)
	}

	return e
}

// arrivalTime picks the context timestamp when present and parseable,
// falling back to the current time.
func arrivalTime(ctx map[string]interface{}) time.Time {
	if ctx != nil {
		if raw, ok := ctx["timestamp"].(string); ok {
			if ts, err := time.Parse(time.RFC3339, raw); err == nil {
				return ts.UTC()
			}
		}
	}
	return time.Now().UTC()
}

func stringify(payload map[string]interface{}) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// CanonicalRecord exposes exactly the persisted field set.
func (e Event) CanonicalRecord() Record {
	return Record{
		UserRef:    e.UserRef,
		PluginID:   e.PluginID,
		Action:     e.Action,
		Context:    e.Context,
		Subject:    e.Subject,
		Attributes: e.Attributes,
		CreatedAt:  e.CreatedAt,
		Value:      e.Value,
	}
}

// Serialize returns the JSON form of the persisted field set, used by the
// failed-event store.
func (e Event) Serialize() (string, error) {
	data, err := json.Marshal(e.CanonicalRecord())
	if err != nil {
		return "", err
	}
	return string(data), nil
}
