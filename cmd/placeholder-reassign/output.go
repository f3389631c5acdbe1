package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/kai-sub/gitlab/modules/placeholders/services"
)

type runSummary struct {
	RunID           string         `json:"run_id,omitempty"`
	SourceUserID    int64          `json:"source_user_id"`
	Executed        bool           `json:"executed"`
	Completed       bool           `json:"completed"`
	FullyReassigned bool           `json:"fully_reassigned"`
	Rewritten       int            `json:"rewritten"`
	Stale           int            `json:"stale"`
	Conflicts       int            `json:"conflicts"`
	Unresolved      int            `json:"unresolved"`
	Groups          []groupSummary `json:"groups,omitempty"`
	Memberships     map[string]int `json:"memberships,omitempty"`
}

type groupSummary struct {
	Group      string `json:"group"`
	Rewritten  int    `json:"rewritten"`
	Stale      int    `json:"stale"`
	Conflicts  int    `json:"conflicts"`
	Unresolved int    `json:"unresolved"`
}

func summarize(sourceUserID int64, r *services.Report) runSummary {
	s := runSummary{
		RunID:           r.RunID,
		SourceUserID:    sourceUserID,
		Executed:        r.Executed,
		Completed:       r.Completed,
		FullyReassigned: r.FullyReassigned(),
		Rewritten:       r.References.Rewritten,
		Stale:           r.References.Stale,
		Conflicts:       r.References.Conflicts,
		Unresolved:      r.References.Unresolved,
	}
	for g, res := range r.Groups {
		s.Groups = append(s.Groups, groupSummary{
			Group:      g.String(),
			Rewritten:  res.Rewritten,
			Stale:      res.Stale,
			Conflicts:  res.Conflicts,
			Unresolved: res.Unresolved,
		})
	}
	sort.Slice(s.Groups, func(i, j int) bool { return s.Groups[i].Group < s.Groups[j].Group })
	if len(r.Memberships) > 0 {
		s.Memberships = make(map[string]int, len(r.Memberships))
		for outcome, n := range r.Memberships {
			s.Memberships[string(outcome)] = n
		}
	}
	return s
}

func writeJSONLine(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return withCode(exitReassign, fmt.Errorf("json encode: %w", err))
	}
	return nil
}
