package app

import "examroom-service/internal/domain"

// NavigationCursor is the tutor-mode shared pointer to the currently shown
// question. Mutated only through the room actor; host and lifecycle checks
// live in the session, bounds checking lives here.
type NavigationCursor struct {
	index int
	max   int // last valid index
}

func NewNavigationCursor(questionCount int) *NavigationCursor {
	return &NavigationCursor{max: questionCount - 1}
}

// Set moves the cursor, rejecting indexes outside [0, len(questions)-1].
func (c *NavigationCursor) Set(index int) error {
	if index < 0 || index > c.max {
		return domain.ErrOutOfRange
	}
	c.index = index
	return nil
}

// Index returns the current position; late joiners receive it in their
// join-time snapshot so they are never stuck on question 0.
func (c *NavigationCursor) Index() int {
	return c.index
}

// Reset returns the cursor to the first question.
func (c *NavigationCursor) Reset() {
	c.index = 0
}
