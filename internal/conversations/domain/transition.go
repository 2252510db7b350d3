package domain

import (
	"errors"
	"fmt"
)

// validTransitions defines the legal conversation status transitions.
// Each key is a source status, and the value is the set of valid targets.
var validTransitions = map[ConversationStatus]map[ConversationStatus]bool{
	StatusAI:           {StatusWaitingHuman: true},
	StatusWaitingHuman: {StatusHuman: true, StatusAI: true},
	StatusHuman:        {StatusAI: true, StatusClosed: true},
	StatusClosed:       {StatusAI: true},
}

// ErrInvalidTransition matches every InvalidTransitionError via errors.Is.
var ErrInvalidTransition = errors.New("invalid conversation transition")

// InvalidTransitionError reports an attempted status change outside the transition table.
// It signals a caller bug or a lost race, never a retryable condition.
type InvalidTransitionError struct {
	From ConversationStatus
	To   ConversationStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid conversation transition: %s -> %s", e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidTransition) match.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// IsValidTransition checks if a status transition is legal.
func IsValidTransition(from, to ConversationStatus) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// ValidateTransition returns an *InvalidTransitionError when from -> to is not legal.
func ValidateTransition(from, to ConversationStatus) error {
	if !IsValidTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

