package services

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kai-sub/gitlab/modules/placeholders/domain/membership"
)

type MergeOutcome string

const (
	MergeCreated           MergeOutcome = "created"
	MergeSkippedOutOfScope MergeOutcome = "skipped_out_of_scope"
	MergeSkippedDirect     MergeOutcome = "skipped_direct"
	MergeSkippedInherited  MergeOutcome = "skipped_inherited"
	MergeFailed            MergeOutcome = "failed"
)

// MembershipMerger turns one pending grant into a membership of the destination user, or a no-op.
type MembershipMerger struct {
	access   *AccessResolver
	members  MemberRepository
	tx       Transactor
	tracker  ErrorTracker
	validate *validator.Validate
}

func NewMembershipMerger(access *AccessResolver, members MemberRepository, tx Transactor, tracker ErrorTracker) (*MembershipMerger, error) {
	if access == nil {
		return nil, invalidConfig("access resolver is required")
	}
	if members == nil {
		return nil, invalidConfig("member repository is required")
	}
	if tx == nil {
		return nil, invalidConfig("transactor is required")
	}
	if tracker == nil {
		tracker = NewLogErrorTracker(nil)
	}
	return &MembershipMerger{
		access:   access,
		members:  members,
		tx:       tx,
		tracker:  tracker,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// Merge grants p to target unless target already has direct access at the scope
// or inherited access at least as high. grantedBy is nil when the reassigning user is unknown.
func (m *MembershipMerger) Merge(ctx context.Context, run *Run, p *membership.Placeholder, target int64, grantedBy *int64) (MergeOutcome, error) {
	outcome, err := m.merge(ctx, run, p, target, grantedBy)
	if err != nil {
		return "", err
	}
	recordMembership(outcome)
	return outcome, nil
}

func (m *MembershipMerger) merge(ctx context.Context, run *Run, p *membership.Placeholder, target int64, grantedBy *int64) (MergeOutcome, error) {
	log := run.Logger()

	access, err := m.access.EffectiveAccess(ctx, target, p.Scope, run.SourceUser.NamespaceID)
	if err != nil {
		return "", errors.Wrap(err, "resolve effective access")
	}
	if access.OutOfScope {
		return MergeSkippedOutOfScope, nil
	}

	if access.Direct != nil {
		log.WithFields(logrus.Fields{
			"placeholder_membership": p.LogFields(),
			"existing_membership":    access.Direct.LogFields(),
		}).Info(msgDirectMembership)
		return MergeSkippedDirect, nil
	}

	if access.Inherited != nil && access.Inherited.AccessLevel >= p.AccessLevel {
		log.WithFields(logrus.Fields{
			"placeholder_membership": p.LogFields(),
			"existing_membership":    access.Inherited.LogFields(),
		}).Info(msgInheritedHigher)
		return MergeSkippedInherited, nil
	}

	if grantedBy == nil {
		log.Warn(msgGrantorMissing)
	}

	member := membership.NewMember(p, target, grantedBy)
	err = m.validate.Struct(member)
	if err == nil {
		err = m.tx.InSavepoint(ctx, func(spCtx context.Context) error {
			_, err := m.members.Create(spCtx, member)
			return err
		})
	}
	if err != nil {
		if !isRecoverable(err) {
			return "", errors.Wrap(err, "create membership")
		}
		m.tracker.Track(ctx, err, msgMembershipFailed, logrus.Fields{
			"source_user_id":         run.SourceUser.ID,
			"placeholder_membership": p.LogFields(),
		})
		return MergeFailed, nil
	}
	return MergeCreated, nil
}
