// Package bus decouples channel adapters from the dispatch core with a
// small pair of buffered queues: channels publish InboundMessage and
// drain OutboundMessage; the gateway consumer does the reverse.
package bus

// InboundMessage is a message received from a channel adapter (Telegram,
// Discord, WhatsApp, ...), destined for the store and dispatch queue.
type InboundMessage struct {
	Channel  string            `json:"channel"`
	SenderID string            `json:"sender_id"`
	ChatID   string            `json:"chat_id"` // channel-local chat ID (chataddr.Address.LocalID), e.g. "-100123"
	Content  string            `json:"content"`
	Media    []string          `json:"media,omitempty"`
	PeerKind string            `json:"peer_kind,omitempty"` // "direct" or "group"
	Metadata map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a message to be delivered to a channel adapter.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Media    []MediaAttachment `json:"media,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MediaAttachment is a media file to send alongside a message.
type MediaAttachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Caption     string `json:"caption,omitempty"`
}

// MessageHandler handles one inbound message.
type MessageHandler func(InboundMessage) error
