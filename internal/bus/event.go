package bus

import "time"

// Event kinds published by the chat core.
const (
	KindMessageAppended       = "message.appended"
	KindReadAdvanced          = "read.advanced"
	KindRoomJoined            = "room.joined"
	KindRoomLeft              = "room.left"
	KindConnectionState       = "connection.state_changed"
	KindCaseCreated           = "case.created"
	KindNotificationSent      = "notification.sent"
	KindNotificationFailed    = "notification.failed"
	KindRelayDeliveryReceived = "relay.received"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
