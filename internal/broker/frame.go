package broker

import "encoding/json"

// Frame is the canonical outbound wire shape: data is always a JSON-encoded
// string, even when the logical payload is an object. This matches Pusher
// wire compatibility and is never "cleaned up" to send data as a nested
// object.
type Frame struct {
	Event   string `json:"event"`
	Channel string `json:"channel,omitempty"`
	Data    string `json:"data,omitempty"`
}

// EncodeFrame serializes f to its wire bytes. Channels call this exactly
// once per broadcast and fan the resulting bytes out to every subscriber.
func EncodeFrame(f Frame) []byte {
	b, _ := json.Marshal(f)
	return b
}

// NewFrame builds a Frame whose Data field is the double-encoded JSON of
// data. Passing a nil data omits the field entirely (pusher:ping/pong).
func NewFrame(event, channel string, data interface{}) Frame {
	f := Frame{Event: event, Channel: channel}
	if data != nil {
		encoded, _ := json.Marshal(data)
		f.Data = string(encoded)
	}
	return f
}

func memberAddedFrame(channel, userID string, userInfo interface{}) Frame {
	return NewFrame("pusher_internal:member_added", channel, map[string]interface{}{
		"user_id":   userID,
		"user_info": userInfo,
	})
}

func memberRemovedFrame(channel, userID string) Frame {
	return NewFrame("pusher_internal:member_removed", channel, map[string]interface{}{
		"user_id": userID,
	})
}
