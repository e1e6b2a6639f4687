package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"examroom-service/internal/domain"
)

// RoomSession is the coordinator for one room: a single-goroutine actor that
// owns the registry, ledger, cursor, and chat relay, serializes every mutating
// event, and fans results back out to attached connections. Concurrency
// across different rooms is unconstrained; within a room each command is
// processed to completion before the next is dequeued, which makes the
// sub-components race-free without locks.
type RoomSession struct {
	room     domain.Room
	status   domain.RoomStatus
	registry *ParticipantRegistry
	ledger   *ScoreLedger
	cursor   *NavigationCursor
	chat     *ChatRelay

	inbox chan command
	quit  chan struct{} // closed by the manager to stop the actor
	done  chan struct{} // closed by the actor on exit

	results  ResultSink
	clock    func() time.Time
	log      zerolog.Logger
	timerGen uint64
	deadline *time.Timer

	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
}

// command is the closed union of inbound room events. Every variant is
// matched exhaustively in handle, so adding an event without handling it is a
// compile-visible gap rather than a silently dropped message.
type command interface{ isCommand() }

type joinCmd struct {
	userID, displayName string
	sender              Sender
	reply               chan joinReply
}
type joinReply struct {
	snapshot domain.RoomSnapshot
	err      error
}
type startCmd struct {
	userID string
	reply  chan error
}
type submitCmd struct {
	userID, questionRef, choice string
	seq                         uint64
	reply                       chan submitReply
}
type submitReply struct {
	outcome SubmitOutcome
	score   int
	err     error
}
type finishCmd struct {
	userID      string
	timeTakenMS int64
	reply       chan finishReply
}
type finishReply struct {
	score   int
	already bool
	err     error
}
type navigateCmd struct {
	userID string
	index  int
	reply  chan error
}
type chatCmd struct {
	userID, text string
	reply        chan chatReply
}
type chatReply struct {
	msg domain.ChatMessage
	err error
}
type resetCmd struct {
	userID string
	reply  chan error
}
type closeCmd struct {
	userID string
	reply  chan error
}
type flagCmd struct {
	userID, questionRef string
	flagged             bool
	reply               chan error
}
type leaveCmd struct {
	userID string
	sender Sender
	reply  chan error
}
type detachCmd struct {
	userID string
	sender Sender
}
type snapshotCmd struct {
	reply chan domain.RoomSnapshot
}
type stateCmd struct {
	reply chan sessionState
}
type deadlineCmd struct {
	gen uint64
}

func (joinCmd) isCommand()     {}
func (startCmd) isCommand()    {}
func (submitCmd) isCommand()   {}
func (finishCmd) isCommand()   {}
func (navigateCmd) isCommand() {}
func (chatCmd) isCommand()     {}
func (resetCmd) isCommand()    {}
func (closeCmd) isCommand()    {}
func (flagCmd) isCommand()     {}
func (leaveCmd) isCommand()    {}
func (detachCmd) isCommand()   {}
func (snapshotCmd) isCommand() {}
func (stateCmd) isCommand()    {}
func (deadlineCmd) isCommand() {}

// sessionState is the manager's view for eviction decisions.
type sessionState struct {
	status     domain.RoomStatus
	active     int
	connected  int
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
}

// NewRoomSession builds a session in the waiting state. The caller (normally
// the RoomSessionManager) must invoke Run in its own goroutine.
func NewRoomSession(room domain.Room, results ResultSink, logger zerolog.Logger) *RoomSession {
	return NewRoomSessionWithClock(room, results, logger, time.Now)
}

// NewRoomSessionWithClock injects the clock for deterministic timestamps in tests.
func NewRoomSessionWithClock(room domain.Room, results ResultSink, logger zerolog.Logger, now func() time.Time) *RoomSession {
	registry := NewParticipantRegistry()
	s := &RoomSession{
		room:      room,
		status:    domain.StatusWaiting,
		registry:  registry,
		ledger:    NewScoreLedger(room.Questions),
		cursor:    NewNavigationCursor(len(room.Questions)),
		chat:      NewChatRelay(room.Code, registry, now),
		inbox:     make(chan command, 64),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		results:   results,
		clock:     now,
		log:       logger.With().Str("room", room.Code).Logger(),
		createdAt: now(),
	}
	return s
}

// Run is the actor loop. It exits when the manager stops the session; any
// callers still waiting on a reply are released via the done channel.
func (s *RoomSession) Run() {
	defer close(s.done)
	for {
		select {
		case cmd := <-s.inbox:
			s.handle(cmd)
		case <-s.quit:
			s.disarmDeadline()
			s.log.Debug().Msg("room actor stopped")
			return
		}
	}
}

func (s *RoomSession) stop() {
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
}

// dispatch enqueues a command unless the actor is gone. Reply channels are
// buffered so the actor never blocks answering, and every waiter also selects
// on done so a stopped room surfaces as ErrRoomNotFound instead of a hang.
func (s *RoomSession) dispatch(cmd command) bool {
	select {
	case s.inbox <- cmd:
		return true
	case <-s.done:
		return false
	}
}

func (s *RoomSession) handle(cmd command) {
	switch c := cmd.(type) {
	case joinCmd:
		c.reply <- s.handleJoin(c)
	case startCmd:
		c.reply <- s.handleStart(c)
	case submitCmd:
		c.reply <- s.handleSubmit(c)
	case finishCmd:
		c.reply <- s.handleFinish(c)
	case navigateCmd:
		c.reply <- s.handleNavigate(c)
	case chatCmd:
		c.reply <- s.handleChat(c)
	case resetCmd:
		c.reply <- s.handleReset(c)
	case closeCmd:
		c.reply <- s.handleClose(c)
	case flagCmd:
		c.reply <- s.handleFlag(c)
	case leaveCmd:
		c.reply <- s.handleLeave(c)
	case detachCmd:
		s.registry.DetachConnection(c.userID, c.sender)
	case snapshotCmd:
		c.reply <- s.snapshot()
	case stateCmd:
		c.reply <- sessionState{
			status:     s.status,
			active:     s.registry.ActiveCount(),
			connected:  s.registry.ConnectedCount(),
			createdAt:  s.createdAt,
			startedAt:  s.startedAt,
			finishedAt: s.finishedAt,
		}
	case deadlineCmd:
		s.handleDeadline(c)
	}
}

func (s *RoomSession) handleJoin(c joinCmd) joinReply {
	p, ok := s.registry.Get(c.userID)
	if !ok {
		// First-time join: gate on lifecycle and capacity. Re-joins are
		// always allowed regardless of either, since the record exists.
		if s.status == domain.StatusFinished {
			return joinReply{err: domain.ErrInvalidState}
		}
		if s.room.Capacity > 0 && s.registry.ActiveCount() >= s.room.Capacity {
			return joinReply{err: domain.ErrRoomFull}
		}
		p, _ = s.registry.Register(c.userID, c.displayName)
		if s.status == domain.StatusPlaying {
			p.Status = domain.ParticipantInProgress
		}
		s.log.Info().Str("user", c.userID).Msg("participant joined")
	} else if p.Status == domain.ParticipantLeft {
		// Returning member: reinstate without touching accumulated state.
		if s.status == domain.StatusPlaying {
			p.Status = domain.ParticipantInProgress
		} else {
			p.Status = domain.ParticipantJoined
		}
	}
	if c.sender != nil {
		s.registry.AttachConnection(c.userID, c.sender)
	}
	s.registry.Broadcast(domain.Event{Type: domain.EventParticipantJoined, Payload: s.participantView(p)})
	return joinReply{snapshot: s.snapshot()}
}

func (s *RoomSession) handleStart(c startCmd) error {
	if c.userID != s.room.HostID {
		return domain.ErrForbidden
	}
	if s.status != domain.StatusWaiting {
		return domain.ErrInvalidState
	}
	s.status = domain.StatusPlaying
	s.startedAt = s.clock()
	for _, p := range s.registry.List() {
		if p.Status == domain.ParticipantJoined {
			p.Status = domain.ParticipantInProgress
		}
	}
	if s.room.Mode == domain.ModeTutor {
		s.cursor.Reset()
	}
	s.armDeadline()
	s.registry.Broadcast(domain.Event{Type: domain.EventExamStarted})
	s.log.Info().Msg("room started")
	return nil
}

func (s *RoomSession) handleSubmit(c submitCmd) submitReply {
	p, ok := s.registry.Get(c.userID)
	if !ok {
		return submitReply{outcome: OutcomeRejected, err: domain.ErrNotAMember}
	}
	if s.status != domain.StatusPlaying {
		return submitReply{outcome: OutcomeRejected, err: domain.ErrInvalidState}
	}
	switch p.Status {
	case domain.ParticipantJoined:
		// First submission from a participant who joined mid-game.
		p.Status = domain.ParticipantInProgress
	case domain.ParticipantInProgress:
	default:
		return submitReply{outcome: OutcomeRejected, err: domain.ErrInvalidState}
	}
	outcome, err := s.ledger.Submit(p, c.questionRef, c.choice, c.seq)
	if outcome == OutcomeAccepted {
		s.registry.Broadcast(domain.Event{
			Type:    domain.EventScoreUpdated,
			Payload: domain.ScoreUpdatedPayload{UserID: p.UserID, Score: p.Score},
		})
	}
	return submitReply{outcome: outcome, score: p.Score, err: err}
}

func (s *RoomSession) handleFinish(c finishCmd) finishReply {
	p, ok := s.registry.Get(c.userID)
	if !ok {
		return finishReply{err: domain.ErrNotAMember}
	}
	if s.status != domain.StatusPlaying {
		return finishReply{err: domain.ErrInvalidState}
	}
	score, already := s.ledger.Finish(p, c.timeTakenMS)
	if !already {
		p.Status = domain.ParticipantFinished
		s.registry.Broadcast(domain.Event{
			Type:    domain.EventScoreUpdated,
			Payload: domain.ScoreUpdatedPayload{UserID: p.UserID, Score: score},
		})
		if s.room.Mode == domain.ModeExam && s.allFinished() {
			s.finalize()
		}
	}
	return finishReply{score: score, already: already}
}

func (s *RoomSession) handleNavigate(c navigateCmd) error {
	if c.userID != s.room.HostID {
		return domain.ErrForbidden
	}
	if s.room.Mode != domain.ModeTutor || s.status != domain.StatusPlaying {
		return domain.ErrInvalidState
	}
	if err := s.cursor.Set(c.index); err != nil {
		return err
	}
	s.registry.Broadcast(domain.Event{
		Type:    domain.EventNavigationChanged,
		Payload: domain.NavigationPayload{Index: s.cursor.Index()},
	})
	return nil
}

func (s *RoomSession) handleChat(c chatCmd) chatReply {
	msg, err := s.chat.Post(c.userID, c.text)
	return chatReply{msg: msg, err: err}
}

func (s *RoomSession) handleReset(c resetCmd) error {
	if c.userID != s.room.HostID {
		return domain.ErrForbidden
	}
	if s.status == domain.StatusFinished {
		return domain.ErrInvalidState
	}
	s.status = domain.StatusWaiting
	s.disarmDeadline()
	s.ledger.Reset()
	s.cursor.Reset()
	for _, p := range s.registry.List() {
		if p.Status == domain.ParticipantLeft {
			continue
		}
		p.Status = domain.ParticipantJoined
		p.Score = 0
		p.Answers = make(map[string]string)
		p.Flagged = make(map[string]bool)
	}
	s.registry.Broadcast(domain.Event{Type: domain.EventRoomReset})
	s.log.Info().Msg("room reset")
	return nil
}

func (s *RoomSession) handleClose(c closeCmd) error {
	if c.userID != s.room.HostID {
		return domain.ErrForbidden
	}
	if s.room.Mode != domain.ModeTutor || s.status != domain.StatusPlaying {
		return domain.ErrInvalidState
	}
	// Tutor walkthroughs have no per-participant finish; freeze everyone at
	// close so the ranking covers the whole roster.
	elapsed := s.clock().Sub(s.startedAt).Milliseconds()
	for _, p := range s.registry.List() {
		if p.Status == domain.ParticipantInProgress || p.Status == domain.ParticipantJoined {
			s.ledger.Finish(p, elapsed)
			p.Status = domain.ParticipantFinished
		}
	}
	s.finalize()
	return nil
}

func (s *RoomSession) handleFlag(c flagCmd) error {
	p, ok := s.registry.Get(c.userID)
	if !ok || p.Status == domain.ParticipantLeft {
		return domain.ErrNotAMember
	}
	if c.flagged {
		p.Flagged[c.questionRef] = true
	} else {
		delete(p.Flagged, c.questionRef)
	}
	return nil
}

func (s *RoomSession) handleLeave(c leaveCmd) error {
	p, ok := s.registry.Get(c.userID)
	if !ok {
		return domain.ErrNotAMember
	}
	if c.sender != nil {
		s.registry.DetachConnection(c.userID, c.sender)
	}
	if s.status == domain.StatusWaiting {
		s.registry.Remove(c.userID)
	} else {
		// Mid-game leave keeps the ledger entry so a re-join resumes.
		s.registry.SetStatus(c.userID, domain.ParticipantLeft)
	}
	s.registry.Broadcast(domain.Event{Type: domain.EventParticipantLeft, Payload: s.participantView(p)})
	return nil
}

// handleDeadline fires when the room's wall-clock budget elapses. The server
// is authoritative here: participants still in progress are force-finished
// with the full time budget, closing the trust gap of client-side timers.
func (s *RoomSession) handleDeadline(c deadlineCmd) {
	if c.gen != s.timerGen || s.status != domain.StatusPlaying {
		return
	}
	limitMS := s.room.TimeLimit.Milliseconds()
	for _, p := range s.registry.List() {
		if p.Status == domain.ParticipantInProgress || p.Status == domain.ParticipantJoined {
			s.ledger.Finish(p, limitMS)
			p.Status = domain.ParticipantFinished
		}
	}
	s.log.Info().Msg("time limit elapsed, force-finishing room")
	s.finalize()
}

// finalize computes the ranking, broadcasts room_closed, and hands the result
// off for persistence. Persistence is fire-and-forget after the state
// transition and broadcast, so a slow history store can never stall the room.
func (s *RoomSession) finalize() {
	s.status = domain.StatusFinished
	s.finishedAt = s.clock()
	s.disarmDeadline()
	ranking := s.ledger.Ranking()
	s.registry.Broadcast(domain.Event{
		Type:    domain.EventRoomClosed,
		Payload: domain.RoomClosedPayload{Ranking: ranking},
	})
	s.log.Info().Int("participants", len(ranking)).Msg("room closed")
	if s.results != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.results.SaveResults(ctx, s.room.Code, ranking); err != nil {
				s.log.Warn().Err(err).Msg("failed to persist room results")
			}
		}()
	}
}

func (s *RoomSession) allFinished() bool {
	any := false
	for _, p := range s.registry.List() {
		switch p.Status {
		case domain.ParticipantLeft:
		case domain.ParticipantFinished:
			any = true
		default:
			return false
		}
	}
	return any
}

func (s *RoomSession) armDeadline() {
	s.disarmDeadline()
	if s.room.TimeLimit <= 0 {
		return
	}
	s.timerGen++
	gen := s.timerGen
	s.deadline = time.AfterFunc(s.room.TimeLimit, func() {
		select {
		case s.inbox <- deadlineCmd{gen: gen}:
		case <-s.done:
		}
	})
}

func (s *RoomSession) disarmDeadline() {
	if s.deadline != nil {
		s.deadline.Stop()
		s.deadline = nil
	}
	s.timerGen++
}

func (s *RoomSession) participantView(p *domain.Participant) domain.ParticipantView {
	return domain.ParticipantView{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Status:      p.Status,
		Score:       p.Score,
		Connected:   p.Connected,
	}
}

func (s *RoomSession) snapshot() domain.RoomSnapshot {
	list := s.registry.List()
	views := make([]domain.ParticipantView, 0, len(list))
	for _, p := range list {
		views = append(views, s.participantView(p))
	}
	snap := domain.RoomSnapshot{
		Code:          s.room.Code,
		Mode:          s.room.Mode,
		Status:        s.status,
		HostID:        s.room.HostID,
		Capacity:      s.room.Capacity,
		QuestionCount: len(s.room.Questions),
		QuestionTime:  s.room.QuestionTime,
		TimeLimit:     s.room.TimeLimit,
		CursorIndex:   s.cursor.Index(),
		Participants:  views,
		Theme:         s.room.Theme,
	}
	if s.status == domain.StatusFinished {
		snap.Ranking = s.ledger.Ranking()
	}
	return snap
}
