package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/kai-sub/gitlab/modules/placeholders/domain/membership"
	"github.com/kai-sub/gitlab/modules/placeholders/domain/reference"
	"github.com/kai-sub/gitlab/modules/placeholders/domain/sourceuser"
)

type memSourceUsers struct {
	users   map[int64]*sourceuser.SourceUser
	paths   map[int64]string
	pathErr error
	updates []sourceuser.Status
}

func (m *memSourceUsers) GetByID(_ context.Context, id int64) (*sourceuser.SourceUser, error) {
	su, ok := m.users[id]
	if !ok {
		return nil, ErrSourceUserNotFound
	}
	cp := *su
	return &cp, nil
}

func (m *memSourceUsers) UpdateStatus(_ context.Context, id int64, from, to sourceuser.Status) (bool, error) {
	su, ok := m.users[id]
	if !ok || su.Status != from {
		return false, nil
	}
	su.Status = to
	m.updates = append(m.updates, to)
	return true, nil
}

func (m *memSourceUsers) NamespaceFullPath(_ context.Context, namespaceID int64) (string, error) {
	if m.pathErr != nil {
		return "", m.pathErr
	}
	return m.paths[namespaceID], nil
}

func (m *memSourceUsers) ListInProgressIDs(_ context.Context, limit int) ([]int64, error) {
	var ids []int64
	for id, su := range m.users {
		if su.ReassignmentInProgress() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type memUsers map[int64]*User

func (m memUsers) GetByID(_ context.Context, id int64) (*User, error) {
	u, ok := m[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

type memLedger struct {
	refs        []*reference.Reference
	memberships []*membership.Placeholder
	listErr     error
}

func (l *memLedger) ListReferenceGroups(_ context.Context, sourceUserID int64) ([]reference.Group, error) {
	seen := map[reference.Group]bool{}
	var out []reference.Group
	for _, r := range l.refs {
		if r.SourceUserID != sourceUserID || seen[r.Group()] {
			continue
		}
		seen[r.Group()] = true
		out = append(out, r.Group())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Model != out[j].Model {
			return out[i].Model < out[j].Model
		}
		return out[i].Column < out[j].Column
	})
	return out, nil
}

func (l *memLedger) CountReferences(_ context.Context, sourceUserID int64, group reference.Group) (int64, error) {
	var n int64
	for _, r := range l.refs {
		if r.SourceUserID == sourceUserID && r.Group() == group {
			n++
		}
	}
	return n, nil
}

func (l *memLedger) ListReferences(_ context.Context, sourceUserID int64, group reference.Group, afterID int64, limit int) ([]*reference.Reference, error) {
	if l.listErr != nil {
		return nil, l.listErr
	}
	var out []*reference.Reference
	for _, r := range l.refs {
		if r.SourceUserID == sourceUserID && r.Group() == group && r.ID > afterID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *memLedger) DeleteReferences(_ context.Context, ids []int64) (int64, error) {
	drop := map[int64]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	kept := l.refs[:0]
	var n int64
	for _, r := range l.refs {
		if drop[r.ID] {
			n++
			continue
		}
		kept = append(kept, r)
	}
	l.refs = kept
	return n, nil
}

func (l *memLedger) ListMemberships(_ context.Context, sourceUserID int64, afterID int64, limit int) ([]*membership.Placeholder, error) {
	var out []*membership.Placeholder
	for _, m := range l.memberships {
		if m.SourceUserID == sourceUserID && m.ID > afterID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *memLedger) DeleteMembership(_ context.Context, id int64) error {
	kept := l.memberships[:0]
	for _, m := range l.memberships {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	l.memberships = kept
	return nil
}

func (l *memLedger) DeleteMemberships(_ context.Context, sourceUserID int64) (int64, error) {
	kept := l.memberships[:0]
	var n int64
	for _, m := range l.memberships {
		if m.SourceUserID == sourceUserID {
			n++
			continue
		}
		kept = append(kept, m)
	}
	l.memberships = kept
	return n, nil
}

func (l *memLedger) snapshot() func() {
	refs := append([]*reference.Reference(nil), l.refs...)
	memberships := append([]*membership.Placeholder(nil), l.memberships...)
	return func() {
		l.refs = refs
		l.memberships = memberships
	}
}

func (l *memLedger) refsFor(sourceUserID int64) []*reference.Reference {
	var out []*reference.Reference
	for _, r := range l.refs {
		if r.SourceUserID == sourceUserID {
			out = append(out, r)
		}
	}
	return out
}

// fakeModel is a table of rows addressed by "id" or by compositeKey columns.
// Unique column sets are checked after every RewriteRows call, which is rolled back on violation.
type fakeModel struct {
	name         string
	columns      []string
	compositeKey []string
	unique       [][]string
	rows         []map[string]int64
	err          error
	failOnCall   int
	calls        int
}

func (m *fakeModel) Name() string { return m.name }

func (m *fakeModel) HasUserColumn(column string) bool {
	for _, c := range m.columns {
		if c == column {
			return true
		}
	}
	return false
}

func (m *fakeModel) AcceptsKey(key reference.Key) bool {
	if len(m.compositeKey) == 0 {
		return key.Numeric != nil
	}
	return key.IsComposite() && strings.Join(key.Composite.Columns(), ",") == strings.Join(m.compositeKey, ",")
}

func (m *fakeModel) RewriteRows(_ context.Context, column string, keys []reference.Key, from, to int64) (int64, error) {
	m.calls++
	if m.err != nil && (m.failOnCall == 0 || m.failOnCall == m.calls) {
		return 0, m.err
	}
	snapshot := m.copyRows()

	var n int64
	for _, key := range keys {
		for _, row := range m.rows {
			if m.matches(row, key) && row[column] == from {
				row[column] = to
				n++
			}
		}
	}
	if err := m.checkUnique(); err != nil {
		m.rows = snapshot
		return 0, err
	}
	return n, nil
}

func (m *fakeModel) copyRows() []map[string]int64 {
	out := make([]map[string]int64, len(m.rows))
	for i, row := range m.rows {
		cp := make(map[string]int64, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}

func (m *fakeModel) snapshot() func() {
	rows := m.copyRows()
	return func() { m.rows = rows }
}

func (m *fakeModel) matches(row map[string]int64, key reference.Key) bool {
	if key.Numeric != nil {
		return row["id"] == *key.Numeric
	}
	for _, p := range key.Composite {
		if row[p.Column] != p.Value {
			return false
		}
	}
	return true
}

func (m *fakeModel) checkUnique() error {
	for _, cols := range m.unique {
		seen := map[string]bool{}
		for _, row := range m.rows {
			var parts []string
			for _, c := range cols {
				parts = append(parts, fmt.Sprint(row[c]))
			}
			k := strings.Join(parts, "/")
			if seen[k] {
				return &pgconn.PgError{Code: "23505", ConstraintName: m.name + "_unique"}
			}
			seen[k] = true
		}
	}
	return nil
}

func (m *fakeModel) column(rowID int64, column string) int64 {
	for _, row := range m.rows {
		if row["id"] == rowID {
			return row[column]
		}
	}
	return -1
}

// restorable fakes hand the transactor a closure that puts their state back.
type restorable interface {
	snapshot() func()
}

// fakeTransactor rolls every registered fake back when a tx or savepoint fails.
type fakeTransactor struct {
	state      []restorable
	txs        int
	savepoints int
	rollbacks  int
}

func (f *fakeTransactor) run(ctx context.Context, fn func(context.Context) error) error {
	restores := make([]func(), len(f.state))
	for i, s := range f.state {
		restores[i] = s.snapshot()
	}
	if err := fn(ctx); err != nil {
		for _, restore := range restores {
			restore()
		}
		return err
	}
	return nil
}

func (f *fakeTransactor) InTx(ctx context.Context, fn func(context.Context) error) error {
	f.txs++
	err := f.run(ctx, fn)
	if err != nil {
		f.rollbacks++
	}
	return err
}

func (f *fakeTransactor) InSavepoint(ctx context.Context, fn func(context.Context) error) error {
	f.savepoints++
	return f.run(ctx, fn)
}

type countingPauser struct {
	pauses int
	err    error
}

func (p *countingPauser) Pause(context.Context) error {
	p.pauses++
	return p.err
}

// memAccess models a namespace tree, projects and the members table.
type memAccess struct {
	parents  map[int64]int64
	projects map[int64]int64
	members  []*membership.Existing
	nextID   int64
	created  []*membership.Member
	createFn func(m *membership.Member) error
}

func newMemAccess() *memAccess {
	return &memAccess{parents: map[int64]int64{}, projects: map[int64]int64{}, nextID: 1000}
}

func (a *memAccess) snapshot() func() {
	members := append([]*membership.Existing(nil), a.members...)
	created := append([]*membership.Member(nil), a.created...)
	nextID := a.nextID
	return func() {
		a.members = members
		a.created = created
		a.nextID = nextID
	}
}

func (a *memAccess) addGroup(id, parent int64) { a.parents[id] = parent }

func (a *memAccess) ScopeAncestry(_ context.Context, scope membership.Scope) ([]int64, error) {
	start := scope.ID
	if scope.Kind == membership.ScopeProject {
		ns, ok := a.projects[scope.ID]
		if !ok {
			return nil, ErrScopeNotFound
		}
		start = ns
	}
	if _, ok := a.parents[start]; !ok {
		return nil, ErrScopeNotFound
	}
	var chain []int64
	for id := start; id != 0; id = a.parents[id] {
		chain = append(chain, id)
	}
	return chain, nil
}

func (a *memAccess) ListMemberships(_ context.Context, userID int64, scope membership.Scope, namespaceIDs []int64) ([]*membership.Existing, error) {
	ns := map[int64]bool{}
	for _, id := range namespaceIDs {
		ns[id] = true
	}
	var out []*membership.Existing
	for _, m := range a.members {
		if m.UserID != userID {
			continue
		}
		exact := m.SourceType == scope.Kind.SourceType() && m.SourceID == scope.ID
		if exact || (m.SourceType == "Namespace" && ns[m.SourceID]) {
			out = append(out, m)
		}
	}
	return out, nil
}

// Create enforces members_user_source_key like the members table does.
func (a *memAccess) Create(_ context.Context, m *membership.Member) (int64, error) {
	if a.createFn != nil {
		if err := a.createFn(m); err != nil {
			return 0, err
		}
	}
	for _, e := range a.members {
		if e.UserID == m.UserID && e.SourceID == m.Scope.ID && e.SourceType == m.SourceType {
			return 0, &pgconn.PgError{Code: "23505", ConstraintName: "members_user_source_key"}
		}
	}
	a.nextID++
	a.created = append(a.created, m)
	a.members = append(a.members, &membership.Existing{
		ID:          a.nextID,
		UserID:      m.UserID,
		SourceID:    m.Scope.ID,
		SourceType:  m.SourceType,
		AccessLevel: m.AccessLevel,
		ExpiresAt:   m.ExpiresAt,
	})
	return a.nextID, nil
}

type trackedError struct {
	err     error
	message string
	fields  logrus.Fields
}

type recordingTracker struct {
	tracked []trackedError
}

func (r *recordingTracker) Track(_ context.Context, err error, message string, fields logrus.Fields) {
	r.tracked = append(r.tracked, trackedError{err: err, message: message, fields: fields})
}
