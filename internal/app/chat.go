package app

import (
	"time"

	"github.com/google/uuid"

	"examroom-service/internal/domain"
)

// ChatRelay fans chat messages out to room members. Delivery is best-effort
// and unpersisted; ordering is the order the room actor accepted each post.
type ChatRelay struct {
	roomCode string
	registry *ParticipantRegistry
	clock    func() time.Time
}

func NewChatRelay(roomCode string, registry *ParticipantRegistry, clock func() time.Time) *ChatRelay {
	return &ChatRelay{roomCode: roomCode, registry: registry, clock: clock}
}

// Post validates membership, stamps the message, and broadcasts it to every
// attached connection (including the sender, which doubles as the ack).
func (c *ChatRelay) Post(userID, text string) (domain.ChatMessage, error) {
	p, ok := c.registry.Get(userID)
	if !ok || p.Status == domain.ParticipantLeft {
		return domain.ChatMessage{}, domain.ErrNotAMember
	}
	msg := domain.ChatMessage{
		ID:       uuid.NewString(),
		RoomCode: c.roomCode,
		UserID:   userID,
		Text:     text,
		SentAt:   c.clock(),
	}
	c.registry.Broadcast(domain.Event{Type: domain.EventChatMessage, Payload: msg})
	return msg, nil
}
