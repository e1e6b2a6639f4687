package app

import "examroom-service/internal/domain"

// Sender delivers outbound events to one attached connection. Send must not
// block; it reports false when the event was dropped (buffer full or the
// connection is gone). Delivery is fire-and-forget by design.
type Sender interface {
	Send(ev domain.Event) bool
}

// ParticipantRegistry tracks membership and per-participant state for one
// room. Connection handles are weak references keyed by user id, so a
// reconnect is a lookup-and-reattach rather than an identity change.
//
// Not safe for concurrent use: it is owned and serialized by the room actor.
type ParticipantRegistry struct {
	participants map[string]*domain.Participant
	conns        map[string]Sender
	order        []string // user ids in join order
	nextOrder    int
}

func NewParticipantRegistry() *ParticipantRegistry {
	return &ParticipantRegistry{
		participants: make(map[string]*domain.Participant),
		conns:        make(map[string]Sender),
	}
}

// Register returns the participant record for userID, creating it if absent.
// Re-registering an existing user id reuses the record (idempotent join).
func (r *ParticipantRegistry) Register(userID, displayName string) (*domain.Participant, bool) {
	if p, ok := r.participants[userID]; ok {
		if displayName != "" {
			p.DisplayName = displayName
		}
		return p, false
	}
	p := &domain.Participant{
		UserID:      userID,
		DisplayName: displayName,
		Status:      domain.ParticipantJoined,
		Answers:     make(map[string]string),
		Flagged:     make(map[string]bool),
		JoinOrder:   r.nextOrder,
	}
	r.nextOrder++
	r.participants[userID] = p
	r.order = append(r.order, userID)
	return p, true
}

// Get looks up a participant record without creating one.
func (r *ParticipantRegistry) Get(userID string) (*domain.Participant, bool) {
	p, ok := r.participants[userID]
	return p, ok
}

// AttachConnection binds a connection to a registered user id. A fresh handle
// always supersedes a stale one: last writer wins on the physical connection,
// never on the logical participant state.
func (r *ParticipantRegistry) AttachConnection(userID string, s Sender) {
	if p, ok := r.participants[userID]; ok {
		r.conns[userID] = s
		p.Connected = true
	}
}

// DetachConnection nulls the connection handle without removing the
// participant, so progress survives a reconnect. The handle is only cleared
// when it still belongs to the detaching connection; a detach from an old
// connection must not sever a newer one.
func (r *ParticipantRegistry) DetachConnection(userID string, s Sender) {
	if cur, ok := r.conns[userID]; ok && cur == s {
		delete(r.conns, userID)
		if p, ok := r.participants[userID]; ok {
			p.Connected = false
		}
	}
}

// Remove drops the participant record entirely (lobby leave).
func (r *ParticipantRegistry) Remove(userID string) {
	if _, ok := r.participants[userID]; !ok {
		return
	}
	delete(r.participants, userID)
	delete(r.conns, userID)
	for i, id := range r.order {
		if id == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// SetStatus updates a participant's progress state.
func (r *ParticipantRegistry) SetStatus(userID string, status domain.ParticipantStatus) {
	if p, ok := r.participants[userID]; ok {
		p.Status = status
	}
}

// List returns the participants in join order.
func (r *ParticipantRegistry) List() []*domain.Participant {
	out := make([]*domain.Participant, 0, len(r.participants))
	for _, id := range r.order {
		out = append(out, r.participants[id])
	}
	return out
}

// ActiveCount counts members that have not left, for capacity checks.
func (r *ParticipantRegistry) ActiveCount() int {
	n := 0
	for _, p := range r.participants {
		if p.Status != domain.ParticipantLeft {
			n++
		}
	}
	return n
}

// ConnectedCount counts currently attached connections.
func (r *ParticipantRegistry) ConnectedCount() int {
	return len(r.conns)
}

// Broadcast fans an event out to every attached connection.
func (r *ParticipantRegistry) Broadcast(ev domain.Event) {
	for _, s := range r.conns {
		s.Send(ev)
	}
}
