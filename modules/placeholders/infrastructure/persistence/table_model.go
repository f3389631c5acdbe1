package persistence

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/kai-sub/gitlab/modules/placeholders/domain/reference"
	"github.com/kai-sub/gitlab/modules/placeholders/services"
	"github.com/kai-sub/gitlab/pkg/composables"
)

// TableModel maps a record type to a table whose user columns can be rewritten.
// Rows are addressed by PrimaryKey, or by CompositeKey when the table has no surrogate key.
type TableModel struct {
	ModelName    string
	Table        pgx.Identifier
	PrimaryKey   string
	CompositeKey []string
	UserColumns  []string
}

func (m *TableModel) Name() string {
	return m.ModelName
}

func (m *TableModel) HasUserColumn(column string) bool {
	return slices.Contains(m.UserColumns, column)
}

func (m *TableModel) AcceptsKey(key reference.Key) bool {
	if key.Validate() != nil {
		return false
	}
	if len(m.CompositeKey) == 0 {
		return key.Numeric != nil
	}
	if !key.IsComposite() {
		return false
	}
	want := slices.Clone(m.CompositeKey)
	sort.Strings(want)
	return slices.Equal(want, key.Composite.Columns())
}

func (m *TableModel) RewriteRows(ctx context.Context, column string, keys []reference.Key, from, to int64) (int64, error) {
	if !m.HasUserColumn(column) {
		return 0, errors.Errorf("%s is not a user reference column of %s", column, m.ModelName)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	sql, args, err := m.rewriteSQL(column, keys, from, to)
	if err != nil {
		return 0, err
	}

	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to reassign %s.%s", m.ModelName, column)
	}
	return tag.RowsAffected(), nil
}

func (m *TableModel) rewriteSQL(column string, keys []reference.Key, from, to int64) (string, []any, error) {
	table := m.Table.Sanitize()
	col := pgx.Identifier{column}.Sanitize()

	if len(m.CompositeKey) == 0 {
		ids := make([]int64, 0, len(keys))
		for _, k := range keys {
			if k.Numeric == nil {
				return "", nil, errors.Errorf("%s requires numeric keys", m.ModelName)
			}
			ids = append(ids, *k.Numeric)
		}
		pk := pgx.Identifier{m.PrimaryKey}.Sanitize()
		sql := fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE %s = ANY($2) AND %s = $3`, table, col, pk, col)
		return sql, []any{to, ids, from}, nil
	}

	columns := keys[0].Composite.Columns()
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}

	args := []any{to, from}
	tuples := make([]string, 0, len(keys))
	for _, k := range keys {
		if !m.AcceptsKey(k) {
			return "", nil, errors.Errorf("key %s does not address %s", k, m.ModelName)
		}
		placeholders := make([]string, len(k.Composite))
		for i, part := range k.Composite {
			args = append(args, part.Value)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		tuples = append(tuples, "("+strings.Join(placeholders, ", ")+")")
	}
	sql := fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE (%s) IN (%s) AND %s = $2`,
		table, col, strings.Join(quoted, ", "), strings.Join(tuples, ", "), col)
	return sql, args, nil
}

// DefaultModels is the closed set of record types placeholder references may point at.
func DefaultModels() []*TableModel {
	return []*TableModel{
		{ModelName: "MergeRequest", Table: pgx.Identifier{"merge_requests"}, PrimaryKey: "id", UserColumns: []string{"author_id", "merge_user_id", "updated_by_id"}},
		{ModelName: "Approval", Table: pgx.Identifier{"approvals"}, PrimaryKey: "id", UserColumns: []string{"user_id"}},
		{ModelName: "MergeRequestAssignee", Table: pgx.Identifier{"merge_request_assignees"}, PrimaryKey: "id", UserColumns: []string{"user_id"}},
		{ModelName: "MergeRequestReviewer", Table: pgx.Identifier{"merge_request_reviewers"}, PrimaryKey: "id", UserColumns: []string{"user_id"}},
		{ModelName: "Issue", Table: pgx.Identifier{"issues"}, PrimaryKey: "id", UserColumns: []string{"author_id", "updated_by_id", "closed_by_id"}},
		{ModelName: "IssueAssignee", Table: pgx.Identifier{"issue_assignees"}, CompositeKey: []string{"issue_id", "user_id"}, UserColumns: []string{"user_id"}},
		{ModelName: "Note", Table: pgx.Identifier{"notes"}, PrimaryKey: "id", UserColumns: []string{"author_id", "updated_by_id", "resolved_by_id"}},
		{ModelName: "AwardEmoji", Table: pgx.Identifier{"award_emoji"}, PrimaryKey: "id", UserColumns: []string{"user_id"}},
		{ModelName: "Event", Table: pgx.Identifier{"events"}, PrimaryKey: "id", UserColumns: []string{"author_id"}},
		{ModelName: "Ci::Build", Table: pgx.Identifier{"ci_builds"}, PrimaryKey: "id", UserColumns: []string{"user_id"}},
		{ModelName: "Ci::Pipeline", Table: pgx.Identifier{"ci_pipelines"}, PrimaryKey: "id", UserColumns: []string{"user_id"}},
		{ModelName: "Timelog", Table: pgx.Identifier{"timelogs"}, PrimaryKey: "id", UserColumns: []string{"user_id"}},
	}
}

func NewDefaultModelRegistry() (*services.ModelRegistry, error) {
	models := DefaultModels()
	out := make([]services.RecordModel, len(models))
	for i, m := range models {
		out[i] = m
	}
	return services.NewModelRegistry(out...)
}
