package app

import "examroom-service/internal/domain"

// Blocking command wrappers. Each enqueues onto the actor's inbox and waits
// for the typed reply; a stopped or evicted session answers ErrRoomNotFound.
// Safe for concurrent use from any goroutine.

func (s *RoomSession) Join(userID, displayName string, sender Sender) (domain.RoomSnapshot, error) {
	reply := make(chan joinReply, 1)
	if !s.dispatch(joinCmd{userID: userID, displayName: displayName, sender: sender, reply: reply}) {
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}
	select {
	case r := <-reply:
		return r.snapshot, r.err
	case <-s.done:
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}
}

func (s *RoomSession) Start(userID string) error {
	return s.doErr(func(reply chan error) command { return startCmd{userID: userID, reply: reply} })
}

func (s *RoomSession) Submit(userID, questionRef, choice string, seq uint64) (SubmitOutcome, int, error) {
	reply := make(chan submitReply, 1)
	if !s.dispatch(submitCmd{userID: userID, questionRef: questionRef, choice: choice, seq: seq, reply: reply}) {
		return OutcomeRejected, 0, domain.ErrRoomNotFound
	}
	select {
	case r := <-reply:
		return r.outcome, r.score, r.err
	case <-s.done:
		return OutcomeRejected, 0, domain.ErrRoomNotFound
	}
}

func (s *RoomSession) Finish(userID string, timeTakenMS int64) (int, bool, error) {
	reply := make(chan finishReply, 1)
	if !s.dispatch(finishCmd{userID: userID, timeTakenMS: timeTakenMS, reply: reply}) {
		return 0, false, domain.ErrRoomNotFound
	}
	select {
	case r := <-reply:
		return r.score, r.already, r.err
	case <-s.done:
		return 0, false, domain.ErrRoomNotFound
	}
}

func (s *RoomSession) Navigate(userID string, index int) error {
	return s.doErr(func(reply chan error) command { return navigateCmd{userID: userID, index: index, reply: reply} })
}

func (s *RoomSession) Chat(userID, text string) (domain.ChatMessage, error) {
	reply := make(chan chatReply, 1)
	if !s.dispatch(chatCmd{userID: userID, text: text, reply: reply}) {
		return domain.ChatMessage{}, domain.ErrRoomNotFound
	}
	select {
	case r := <-reply:
		return r.msg, r.err
	case <-s.done:
		return domain.ChatMessage{}, domain.ErrRoomNotFound
	}
}

func (s *RoomSession) Reset(userID string) error {
	return s.doErr(func(reply chan error) command { return resetCmd{userID: userID, reply: reply} })
}

func (s *RoomSession) CloseRoom(userID string) error {
	return s.doErr(func(reply chan error) command { return closeCmd{userID: userID, reply: reply} })
}

func (s *RoomSession) Flag(userID, questionRef string, flagged bool) error {
	return s.doErr(func(reply chan error) command {
		return flagCmd{userID: userID, questionRef: questionRef, flagged: flagged, reply: reply}
	})
}

func (s *RoomSession) Leave(userID string, sender Sender) error {
	return s.doErr(func(reply chan error) command { return leaveCmd{userID: userID, sender: sender, reply: reply} })
}

// Detach is fire-and-forget: disconnects race with eviction and need no reply.
func (s *RoomSession) Detach(userID string, sender Sender) {
	s.dispatch(detachCmd{userID: userID, sender: sender})
}

// Snapshot returns the current full room state (what a joiner would receive).
func (s *RoomSession) Snapshot() (domain.RoomSnapshot, error) {
	reply := make(chan domain.RoomSnapshot, 1)
	if !s.dispatch(snapshotCmd{reply: reply}) {
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-s.done:
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}
}

func (s *RoomSession) state() (sessionState, bool) {
	reply := make(chan sessionState, 1)
	if !s.dispatch(stateCmd{reply: reply}) {
		return sessionState{}, false
	}
	select {
	case st := <-reply:
		return st, true
	case <-s.done:
		return sessionState{}, false
	}
}

func (s *RoomSession) doErr(build func(chan error) command) error {
	reply := make(chan error, 1)
	if !s.dispatch(build(reply)) {
		return domain.ErrRoomNotFound
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return domain.ErrRoomNotFound
	}
}
