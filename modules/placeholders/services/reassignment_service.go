package services

import (
	"context"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/idna"

	"github.com/kai-sub/gitlab/modules/placeholders/domain/membership"
	"github.com/kai-sub/gitlab/modules/placeholders/domain/reference"
	"github.com/kai-sub/gitlab/modules/placeholders/domain/sourceuser"
	"github.com/kai-sub/gitlab/pkg/composables"
)

type Dependencies struct {
	SourceUsers SourceUserRepository
	Users       UserRepository
	Ledger      LedgerStore
	Access      AccessRepository
	Members     MemberRepository
	Registry    *ModelRegistry
}

type Options struct {
	BatchSize          int
	RelationBatchSleep time.Duration

	Logger       *logrus.Entry
	Clock        clockwork.Clock
	Transactor   Transactor
	Pauser       Pauser
	ErrorTracker ErrorTracker
}

func (o *Options) setDefaults() {
	if o.BatchSize == 0 {
		o.BatchSize = 500
	}
	if o.Logger == nil {
		o.Logger = logrusNop()
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Transactor == nil {
		o.Transactor = composables.NewTransactor()
	}
	if o.Pauser == nil {
		o.Pauser = NewRateLimiter(o.RelationBatchSleep, o.Clock)
	}
	if o.ErrorTracker == nil {
		o.ErrorTracker = NewLogErrorTracker(o.Logger)
	}
}

// Report summarises one pass. A completed pass may still leave references behind.
type Report struct {
	RunID       string
	Executed    bool
	Completed   bool
	References  RewriteResult
	Groups      map[reference.Group]RewriteResult
	Memberships map[MergeOutcome]int
}

// FullyReassigned reports whether nothing was left in the reference ledger.
func (r *Report) FullyReassigned() bool {
	return r.Completed && r.References.Retained() == 0
}

// ReassignmentService drives a source user from reassignment_in_progress to a terminal status.
type ReassignmentService struct {
	sourceUsers SourceUserRepository
	users       UserRepository
	ledger      LedgerStore
	rewriter    *BatchRewriter
	merger      *MembershipMerger
	opts        Options
}

func NewReassignmentService(deps Dependencies, opts Options) (*ReassignmentService, error) {
	if deps.SourceUsers == nil {
		return nil, invalidConfig("source user repository is required")
	}
	if deps.Users == nil {
		return nil, invalidConfig("user repository is required")
	}
	if deps.Access == nil {
		return nil, invalidConfig("access repository is required")
	}
	opts.setDefaults()

	rewriter, err := NewBatchRewriter(deps.Registry, deps.Ledger, opts.Transactor, opts.BatchSize)
	if err != nil {
		return nil, err
	}
	merger, err := NewMembershipMerger(NewAccessResolver(deps.Access, opts.Clock), deps.Members, opts.Transactor, opts.ErrorTracker)
	if err != nil {
		return nil, err
	}
	return &ReassignmentService{
		sourceUsers: deps.SourceUsers,
		users:       deps.Users,
		ledger:      deps.Ledger,
		rewriter:    rewriter,
		merger:      merger,
		opts:        opts,
	}, nil
}

// Execute runs one reassignment pass for the source user.
// Nothing happens unless the source user is in reassignment_in_progress.
func (s *ReassignmentService) Execute(ctx context.Context, sourceUserID int64) error {
	_, err := s.Reassign(ctx, sourceUserID)
	return err
}

// Reassign is Execute with a report of what the pass did.
func (s *ReassignmentService) Reassign(ctx context.Context, sourceUserID int64) (*Report, error) {
	su, err := s.sourceUsers.GetByID(ctx, sourceUserID)
	if err != nil {
		return nil, errors.Wrap(err, "load source user")
	}
	report := &Report{
		Groups:      map[reference.Group]RewriteResult{},
		Memberships: map[MergeOutcome]int{},
	}
	if !su.ReassignmentInProgress() {
		return report, nil
	}

	run := NewRun(su, s.opts.Logger, s.opts.Clock.Now())
	report.RunID = run.ID.String()
	report.Executed = true

	err = s.reassign(ctx, run, report)
	if err != nil {
		recordPass("error", s.opts.Clock.Since(run.StartedAt))
		return report, err
	}
	recordPass("completed", s.opts.Clock.Since(run.StartedAt))
	return report, nil
}

func (s *ReassignmentService) reassign(ctx context.Context, run *Run, report *Report) error {
	su := run.SourceUser
	if su.ReassignToUserID == nil {
		return ErrNoReassignTarget
	}
	target, err := s.users.GetByID(ctx, *su.ReassignToUserID)
	if err != nil {
		return errors.Wrap(err, "load reassign_to user")
	}
	grantor, err := s.reassignedBy(ctx, su)
	if err != nil {
		return err
	}

	s.warnOnTarget(ctx, run, target, grantor)

	if err := s.reassignReferences(ctx, run, target.ID, report); err != nil {
		return err
	}

	var grantedBy *int64
	if grantor != nil {
		grantedBy = &grantor.ID
	}
	if err := s.reassignMemberships(ctx, run, target.ID, grantedBy, report); err != nil {
		return err
	}

	ok, err := s.sourceUsers.UpdateStatus(ctx, su.ID, sourceuser.StatusReassignmentInProgress, sourceuser.StatusCompleted)
	if err != nil {
		return errors.Wrap(err, "complete source user")
	}
	report.Completed = ok
	if ok {
		return su.Transition(sourceuser.StatusCompleted)
	}
	return nil
}

func (s *ReassignmentService) reassignedBy(ctx context.Context, su *sourceuser.SourceUser) (*User, error) {
	if su.ReassignedByUserID == nil {
		return nil, nil
	}
	u, err := s.users.GetByID(ctx, *su.ReassignedByUserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load reassigned_by user")
	}
	return u, nil
}

// warnOnTarget emits advisory warnings only. A failed namespace lookup drops the field, not the pass.
func (s *ReassignmentService) warnOnTarget(ctx context.Context, run *Run, target, grantor *User) {
	differentHost := grantor != nil && emailHost(target.Email) != emailHost(grantor.Email)
	if !target.Admin && !differentHost {
		return
	}

	su := run.SourceUser
	var reassignedBy any
	if su.ReassignedByUserID != nil {
		reassignedBy = *su.ReassignedByUserID
	}
	fields := logrus.Fields{
		"source_hostname":       su.SourceHostname,
		"reassign_to_user_id":   target.ID,
		"reassigned_by_user_id": reassignedBy,
	}
	path, err := s.sourceUsers.NamespaceFullPath(ctx, su.NamespaceID)
	if err != nil {
		run.Logger().WithError(err).Debug("failed to load root namespace path")
	} else {
		fields["namespace"] = path
	}

	log := run.Logger().WithFields(fields)
	if target.Admin {
		log.Warn(msgAdminTarget)
	}
	if differentHost {
		log.Warn(msgDifferentEmailHost)
	}
}

func (s *ReassignmentService) reassignReferences(ctx context.Context, run *Run, target int64, report *Report) error {
	groups, err := s.ledger.ListReferenceGroups(ctx, run.SourceUser.ID)
	if err != nil {
		return errors.Wrap(err, "list reference groups")
	}
	for i, group := range groups {
		if i > 0 {
			if err := s.opts.Pauser.Pause(ctx); err != nil {
				return err
			}
		}
		res, err := s.rewriter.Rewrite(ctx, run, group, target)
		if err != nil {
			return err
		}
		report.Groups[group] = res
		report.References.Add(res)
	}
	return nil
}

func (s *ReassignmentService) reassignMemberships(ctx context.Context, run *Run, target int64, grantedBy *int64, report *Report) error {
	sourceUserID := run.SourceUser.ID
	var afterID int64
	for {
		page, err := s.ledger.ListMemberships(ctx, sourceUserID, afterID, s.opts.BatchSize)
		if err != nil {
			return errors.Wrap(err, "list placeholder memberships")
		}
		for _, p := range page {
			if err := s.mergeOne(ctx, run, p, target, grantedBy, report); err != nil {
				return err
			}
		}
		if len(page) < s.opts.BatchSize {
			break
		}
		afterID = page[len(page)-1].ID
	}

	if _, err := s.ledger.DeleteMemberships(ctx, sourceUserID); err != nil {
		return errors.Wrap(err, "delete placeholder memberships")
	}
	return nil
}

func (s *ReassignmentService) mergeOne(ctx context.Context, run *Run, p *membership.Placeholder, target int64, grantedBy *int64, report *Report) error {
	return s.opts.Transactor.InTx(ctx, func(txCtx context.Context) error {
		outcome, err := s.merger.Merge(txCtx, run, p, target, grantedBy)
		if err != nil {
			return err
		}
		if err := s.ledger.DeleteMembership(txCtx, p.ID); err != nil {
			return errors.Wrap(err, "delete placeholder membership")
		}
		report.Memberships[outcome]++
		return nil
	})
}

// Fail marks a source user whose passes keep erroring as failed.
func (s *ReassignmentService) Fail(ctx context.Context, sourceUserID int64, cause error) error {
	ok, err := s.sourceUsers.UpdateStatus(ctx, sourceUserID, sourceuser.StatusReassignmentInProgress, sourceuser.StatusFailed)
	if err != nil {
		return errors.Wrap(err, "fail source user")
	}
	if !ok {
		return nil
	}
	entry := s.opts.Logger.WithField("source_user_id", sourceUserID)
	if cause != nil {
		entry = entry.WithError(cause)
	}
	entry.Error(msgPassFailed)
	return nil
}

func emailHost(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	host := strings.ToLower(strings.TrimSpace(email[at+1:]))
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		return ascii
	}
	return host
}
