package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/kai-sub/gitlab/modules/placeholders/domain/reference"
)

// RecordModel is a record type whose user columns can be reassigned.
type RecordModel interface {
	Name() string
	HasUserColumn(column string) bool
	// AcceptsKey reports whether key can address a row of this model.
	AcceptsKey(key reference.Key) bool
	// RewriteRows sets column to `to` on every addressed row that still holds `from`
	// and returns the number of rows changed.
	RewriteRows(ctx context.Context, column string, keys []reference.Key, from, to int64) (int64, error)
}

// ModelRegistry is the closed set of record types known at startup.
type ModelRegistry struct {
	models map[string]RecordModel
}

func NewModelRegistry(models ...RecordModel) (*ModelRegistry, error) {
	r := &ModelRegistry{models: make(map[string]RecordModel, len(models))}
	for _, m := range models {
		if m == nil {
			return nil, invalidConfig("nil record model")
		}
		if _, dup := r.models[m.Name()]; dup {
			return nil, invalidConfig(fmt.Sprintf("duplicate record model %q", m.Name()))
		}
		r.models[m.Name()] = m
	}
	return r, nil
}

func (r *ModelRegistry) Lookup(name string) (RecordModel, bool) {
	m, ok := r.models[name]
	return m, ok
}

func (r *ModelRegistry) Names() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
