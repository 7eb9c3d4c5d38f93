package command

import (
	"encoding/json"

	"github.com/authapp/iamcore/domain"
	"github.com/authapp/iamcore/eventstore"
)

// newEvent builds a PendingEvent stamped with the acting context's
// instance and user, shared by every command handler in this package.
func newEvent(cc domain.Context, aggType domain.AggregateType, aggID string, eventType domain.EventType, owner domain.ResourceOwner, payload interface{}) eventstore.PendingEvent {
	return eventstore.PendingEvent{
		InstanceID:    cc.InstanceID,
		AggregateType: aggType,
		AggregateID:   aggID,
		EventType:     eventType,
		ResourceOwner: owner,
		Payload:       payload,
		EditorUserID:  cc.UserID,
	}
}

// decodePayload is used by reducers to pull an event's JSON payload back
// into a typed struct. Unknown fields are ignored, not rejected, so
// reducers stay forward-compatible with payloads written by a newer
// deployment.
func decodePayload(e eventstore.Event, dest interface{}) {
	if len(e.Payload) == 0 {
		return
	}
	_ = json.Unmarshal(e.Payload, dest)
}
