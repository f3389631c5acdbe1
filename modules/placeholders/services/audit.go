package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kai-sub/gitlab/modules/placeholders/domain/sourceuser"
)

const (
	msgAdminTarget        = "Reassigning contributions to user with admin privileges"
	msgDifferentEmailHost = "Reassigning contributions to user with different email host from user who triggered the reassignment"
	msgUnknownModel       = "%s is not a model, %s cannot be reassigned."
	msgUnknownColumn      = "%s is not a user reference column of %s, cannot be reassigned."
	msgUnaddressableKey   = "%s reference %d does not address a %s record, cannot be reassigned."
	msgRecordConflict     = "Unable to reassign record, reassigned user is invalid or not unique"
	msgDirectMembership   = "Existing direct membership of lower or equal access level found for user, skipping"
	msgInheritedHigher    = "Existing membership of higher access level found for user, skipping"
	msgGrantorMissing     = "Reassigned by user was not found, this may affect membership checks"
	msgMembershipFailed   = "Unable to create membership"
	msgPassFailed         = "Placeholder user reassignment failed"
)

// Run carries the per-pass state shared by the rewriter and the merger.
type Run struct {
	ID         uuid.UUID
	SourceUser *sourceuser.SourceUser
	StartedAt  time.Time

	log            *logrus.Entry
	conflictLogged bool
}

func NewRun(su *sourceuser.SourceUser, logger *logrus.Entry, now time.Time) *Run {
	id := uuid.New()
	return &Run{
		ID:         id,
		SourceUser: su,
		StartedAt:  now,
		log: logger.WithFields(logrus.Fields{
			"source_user_id": su.ID,
			"run_id":         id.String(),
		}),
	}
}

// Logger returns the audit logger of the run. Every entry carries source_user_id.
func (r *Run) Logger() *logrus.Entry {
	return r.log
}

// warnConflict logs the aggregated conflict warning the first time it is called.
func (r *Run) warnConflict() {
	if r.conflictLogged {
		return
	}
	r.conflictLogged = true
	r.log.Warn(msgRecordConflict)
}

// ErrorTracker receives recoverable errors that are otherwise swallowed.
type ErrorTracker interface {
	Track(ctx context.Context, err error, message string, fields logrus.Fields)
}

type LogErrorTracker struct {
	logger *logrus.Entry
}

func NewLogErrorTracker(logger *logrus.Entry) *LogErrorTracker {
	if logger == nil {
		logger = logrusNop()
	}
	return &LogErrorTracker{logger: logger}
}

func (t *LogErrorTracker) Track(_ context.Context, err error, message string, fields logrus.Fields) {
	trackedErrorsTotal.WithLabelValues(message).Inc()
	t.logger.WithError(err).WithFields(fields).Error(message)
}
