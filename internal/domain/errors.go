package domain

import "errors"

var (
	// ErrRoomNotFound is returned when a room code has no definition or live session.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNotAMember is returned when a user acts in a room they never joined.
	ErrNotAMember = errors.New("not a member of this room")
	// ErrForbidden is returned for host-only operations issued by a non-host.
	ErrForbidden = errors.New("host privileges required")
	// ErrInvalidState is returned when an event is not valid for the room's
	// current lifecycle state or the participant's progress state.
	ErrInvalidState = errors.New("operation not valid in current state")
	// ErrOutOfRange is returned for navigation outside the question list.
	ErrOutOfRange = errors.New("index out of range")
	// ErrRoomFull is returned when a first-time join would exceed capacity.
	ErrRoomFull = errors.New("room is full")
	// ErrQuestionNotFound is returned for submissions against an unknown question ref.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrStaleSequence is returned for submissions sequenced before the last reset.
	ErrStaleSequence = errors.New("stale sequence number")
)

// ErrorCode maps a core error to the wire code clients branch on when
// deciding between "show an error" and "silently resync".
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return "not_found"
	case errors.Is(err, ErrNotAMember):
		return "not_a_member"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrStaleSequence):
		return "invalid_state"
	case errors.Is(err, ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, ErrRoomFull):
		return "room_full"
	case errors.Is(err, ErrQuestionNotFound):
		return "question_not_found"
	default:
		return "internal"
	}
}
