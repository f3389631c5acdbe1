package sourceuser

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending                Status = "pending"
	StatusReassignmentInProgress Status = "reassignment_in_progress"
	StatusCompleted              Status = "completed"
	StatusFailed                 Status = "failed"
)

var transitions = map[Status][]Status{
	StatusPending:                {StatusReassignmentInProgress},
	StatusReassignmentInProgress: {StatusCompleted, StatusFailed},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusReassignmentInProgress, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a source user in status s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SourceUser ties a placeholder user created by an import to the real user that
// will receive its contributions.
type SourceUser struct {
	ID                 int64     `json:"id"`
	NamespaceID        int64     `json:"namespace_id"`
	SourceHostname     string    `json:"source_hostname"`
	SourceUsername     string    `json:"source_username"`
	PlaceholderUserID  int64     `json:"placeholder_user_id"`
	ReassignToUserID   *int64    `json:"reassign_to_user_id,omitempty"`
	ReassignedByUserID *int64    `json:"reassigned_by_user_id,omitempty"`
	Status             Status    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (s *SourceUser) ReassignmentInProgress() bool {
	return s.Status == StatusReassignmentInProgress
}

// Transition moves the source user to next or returns an error when the move is not allowed.
func (s *SourceUser) Transition(next Status) error {
	if !s.Status.CanTransition(next) {
		return fmt.Errorf("invalid source user status transition %s -> %s", s.Status, next)
	}
	s.Status = next
	return nil
}
