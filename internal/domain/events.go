package domain

// Event is one outbound coordinator-to-client message. The Type values below
// are the closed outbound vocabulary; payloads are the structs defined here,
// so every event a room can emit is enumerable at compile time.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

const (
	EventRoomStateSnapshot = "room_state_snapshot"
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventScoreUpdated      = "score_updated"
	EventNavigationChanged = "navigation_changed"
	EventChatMessage       = "chat_message"
	EventExamStarted       = "exam_started"
	EventRoomClosed        = "room_closed"
	EventRoomReset         = "room_reset"
	EventSubmitResult      = "submit_result"
	EventFinishResult      = "finish_result"
	EventFlagResult        = "flag_result"
	EventError             = "error"
)

type ScoreUpdatedPayload struct {
	UserID string `json:"userId"`
	Score  int    `json:"score"`
}

type NavigationPayload struct {
	Index int `json:"index"`
}

type RoomClosedPayload struct {
	Ranking []RankingEntry `json:"ranking"`
}

type SubmitResultPayload struct {
	QuestionRef string `json:"questionRef"`
	Outcome     string `json:"outcome"` // accepted | duplicate
	Score       int    `json:"score"`
}

type FinishResultPayload struct {
	Score       int  `json:"score"`
	AlreadyDone bool `json:"alreadyDone"`
}

type FlagResultPayload struct {
	QuestionRef string `json:"questionRef"`
	Flagged     bool   `json:"flagged"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorEvent(err error) Event {
	return Event{Type: EventError, Payload: ErrorPayload{Code: ErrorCode(err), Message: err.Error()}}
}
