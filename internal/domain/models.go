package domain

import "time"

// RoomMode selects how a room is driven: self-paced exam or host-led tutor walkthrough.
type RoomMode string

const (
	ModeExam  RoomMode = "exam"
	ModeTutor RoomMode = "tutor"
)

// RoomStatus is the lifecycle state of a room. Finished is terminal except
// that a host-issued reset returns a waiting or playing room to waiting.
type RoomStatus string

const (
	StatusWaiting  RoomStatus = "waiting"
	StatusPlaying  RoomStatus = "playing"
	StatusFinished RoomStatus = "finished"
)

// ParticipantStatus tracks one member's progress within a room.
type ParticipantStatus string

const (
	ParticipantJoined     ParticipantStatus = "joined"
	ParticipantInProgress ParticipantStatus = "in_progress"
	ParticipantFinished   ParticipantStatus = "finished"
	ParticipantLeft       ParticipantStatus = "left"
)

// Question is one entry of a room's immutable question set. Answer holds the
// correct choice; comparison against submissions is case/whitespace-normalized.
type Question struct {
	Ref     string   `json:"ref"`
	Prompt  string   `json:"prompt"`
	Choices []string `json:"choices,omitempty"`
	Answer  string   `json:"answer"`
	Points  int      `json:"points"` // defaults to 1 if zero
}

// Room is the static definition of one exam or tutor session, produced by the
// room-creation flow and immutable for the session's lifetime.
type Room struct {
	ID           int64          `json:"id"`
	Code         string         `json:"code"`
	Mode         RoomMode       `json:"mode"`
	Capacity     int            `json:"capacity"`
	HostID       string         `json:"hostId"`
	Questions    []Question     `json:"questions"`
	QuestionTime time.Duration  `json:"questionTime,omitempty"` // per-question budget, passed through to clients
	TimeLimit    time.Duration  `json:"timeLimit,omitempty"`    // whole-room budget; zero disables the server deadline
	Theme        map[string]any `json:"theme,omitempty"`        // cosmetic pass-through, opaque to the core
}

// Participant is one user's membership and progress record within a room.
// The record survives disconnects; only the connection handle is transient.
type Participant struct {
	UserID      string
	DisplayName string
	Status      ParticipantStatus
	Score       int
	Answers     map[string]string // question ref -> first accepted choice
	Flagged     map[string]bool   // question refs marked for review
	JoinOrder   int
	Connected   bool
}

// ParticipantView is the snapshot-friendly projection of a Participant.
type ParticipantView struct {
	UserID      string            `json:"userId"`
	DisplayName string            `json:"displayName"`
	Status      ParticipantStatus `json:"status"`
	Score       int               `json:"score"`
	Connected   bool              `json:"connected"`
}

// RankingEntry is one row of a room's final leaderboard. Ordering is score
// descending, then time taken ascending, then join order, so every client
// rendering the same snapshot agrees on the same ranking.
type RankingEntry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
	TimeTakenMS int64  `json:"timeTakenMs"`
}

// RoomSnapshot is the full catch-up state sent to every joining or
// reconnecting client, so a late joiner is never stuck on stale local state.
type RoomSnapshot struct {
	Code          string            `json:"code"`
	Mode          RoomMode          `json:"mode"`
	Status        RoomStatus        `json:"status"`
	HostID        string            `json:"hostId"`
	Capacity      int               `json:"capacity"`
	QuestionCount int               `json:"questionCount"`
	QuestionTime  time.Duration     `json:"questionTime,omitempty"`
	TimeLimit     time.Duration     `json:"timeLimit,omitempty"`
	CursorIndex   int               `json:"cursorIndex"`
	Participants  []ParticipantView `json:"participants"`
	Ranking       []RankingEntry    `json:"ranking,omitempty"`
	Theme         map[string]any    `json:"theme,omitempty"`
}

// ChatMessage is a relayed in-room message. Not persisted by the core;
// ordering is the order the room accepted it, not wall-clock send order.
type ChatMessage struct {
	ID       string    `json:"id"`
	RoomCode string    `json:"roomCode"`
	UserID   string    `json:"userId"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"ts"`
}
