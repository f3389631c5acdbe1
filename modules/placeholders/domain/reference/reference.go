package reference

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-faster/errors"
)

var (
	ErrInvalidKey = errors.New("placeholder reference must have exactly one of numeric_key or composite_key")
)

// Group is the unit of batched rewriting: one record type and one user column.
type Group struct {
	Model  string `json:"model"`
	Column string `json:"user_reference_column"`
}

func (g Group) String() string {
	return g.Model + "." + g.Column
}

// KeyPart is one column=value pair of a composite key.
type KeyPart struct {
	Column string `json:"column"`
	Value  int64  `json:"value"`
}

// CompositeKey identifies a row by several columns. Parts are kept sorted by column.
type CompositeKey []KeyPart

func NewCompositeKey(values map[string]int64) CompositeKey {
	key := make(CompositeKey, 0, len(values))
	for column, value := range values {
		key = append(key, KeyPart{Column: column, Value: value})
	}
	sort.Slice(key, func(i, j int) bool { return key[i].Column < key[j].Column })
	return key
}

// ParseCompositeKey decodes the JSON object stored in the composite_key column.
func ParseCompositeKey(raw []byte) (CompositeKey, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	values := map[string]int64{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode composite key: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	return NewCompositeKey(values), nil
}

func (k CompositeKey) Columns() []string {
	out := make([]string, len(k))
	for i, p := range k {
		out[i] = p.Column
	}
	return out
}

func (k CompositeKey) String() string {
	parts := make([]string, len(k))
	for i, p := range k {
		parts[i] = fmt.Sprintf("%s=%d", p.Column, p.Value)
	}
	return strings.Join(parts, ",")
}

// Key addresses one row either by its numeric primary key or by a composite key.
type Key struct {
	Numeric   *int64
	Composite CompositeKey
}

func NumericKey(id int64) Key {
	return Key{Numeric: &id}
}

func (k Key) IsComposite() bool {
	return k.Numeric == nil && len(k.Composite) > 0
}

func (k Key) Validate() error {
	if (k.Numeric != nil) == (len(k.Composite) > 0) {
		return ErrInvalidKey
	}
	return nil
}

func (k Key) String() string {
	if k.Numeric != nil {
		return fmt.Sprintf("%d", *k.Numeric)
	}
	return "(" + k.Composite.String() + ")"
}

// Reference is one pending pointer from a record column to a placeholder user.
type Reference struct {
	ID                  int64  `json:"id"`
	SourceUserID        int64  `json:"source_user_id"`
	Model               string `json:"model"`
	UserReferenceColumn string `json:"user_reference_column"`
	Key                 Key    `json:"-"`
}

func (r *Reference) Group() Group {
	return Group{Model: r.Model, Column: r.UserReferenceColumn}
}

// IDs returns reference ids in input order.
func IDs(refs []*Reference) []int64 {
	out := make([]int64, len(refs))
	for i, r := range refs {
		out[i] = r.ID
	}
	return out
}

// Keys returns row keys in input order.
func Keys(refs []*Reference) []Key {
	out := make([]Key, len(refs))
	for i, r := range refs {
		out[i] = r.Key
	}
	return out
}
