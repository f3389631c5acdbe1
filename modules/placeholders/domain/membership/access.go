package membership

import "time"

type Provenance string

const (
	ProvenanceNone      Provenance = "none"
	ProvenanceDirect    Provenance = "direct"
	ProvenanceInherited Provenance = "inherited"
)

// Access is the effective access of a user at a scope.
// Direct is the membership at the exact scope, Inherited the best one on an ancestor group.
type Access struct {
	Level      AccessLevel
	Provenance Provenance
	Direct     *Existing
	Inherited  *Existing
	OutOfScope bool
}

func OutOfScopeAccess() Access {
	return Access{Provenance: ProvenanceNone, OutOfScope: true}
}

// ResolveAccess folds the memberships found on the scope chain into an Access.
// chain[0] is the scope itself (group or project), the rest are ancestor namespaces.
// Expired memberships grant no level, but an expired row at the exact scope is still
// reported as Direct since the members table holds one row per user and scope.
// Equal levels report direct provenance.
func ResolveAccess(scope Scope, ancestors []int64, found []*Existing, now time.Time) Access {
	ancestorSet := make(map[int64]struct{}, len(ancestors))
	for _, id := range ancestors {
		ancestorSet[id] = struct{}{}
	}

	var out Access
	for _, m := range found {
		if m == nil {
			continue
		}
		if m.SourceType == scope.Kind.SourceType() && m.SourceID == scope.ID {
			if out.Direct == nil || betterDirect(m, out.Direct, now) {
				out.Direct = m
			}
			continue
		}
		if !m.Active(now) {
			continue
		}
		if m.SourceType != ScopeGroup.SourceType() {
			continue
		}
		if _, ok := ancestorSet[m.SourceID]; !ok {
			continue
		}
		if out.Inherited == nil || m.AccessLevel > out.Inherited.AccessLevel {
			out.Inherited = m
		}
	}

	out.Provenance = ProvenanceNone
	if out.Inherited != nil {
		out.Level = out.Inherited.AccessLevel
		out.Provenance = ProvenanceInherited
	}
	if out.Direct != nil && out.Direct.Active(now) && out.Direct.AccessLevel >= out.Level {
		out.Level = out.Direct.AccessLevel
		out.Provenance = ProvenanceDirect
	}
	return out
}

func betterDirect(m, cur *Existing, now time.Time) bool {
	if m.Active(now) != cur.Active(now) {
		return m.Active(now)
	}
	return m.AccessLevel > cur.AccessLevel
}
