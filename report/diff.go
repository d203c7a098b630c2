package report

import (
	"sort"

	"github.com/c360studio/codecomply/engine"
)

// Change is a clause whose status differs between two reports. From is empty
// for a clause that is new; To is empty for one that was removed.
type Change struct {
	ClauseID string        `json:"clause_id" yaml:"clause_id"`
	From     engine.Status `json:"from,omitempty" yaml:"from,omitempty"`
	To       engine.Status `json:"to,omitempty" yaml:"to,omitempty"`
}

// Regression reports whether the clause moved from PASS to anything else.
func (c Change) Regression() bool {
	return c.From == engine.StatusPass && c.To != engine.StatusPass
}

// Diff lists the clauses whose status changed from prev to cur, ordered by
// clause id. A nil prev yields no changes.
func Diff(prev, cur *Report) []Change {
	if prev == nil || cur == nil {
		return nil
	}
	before := statusByClause(prev)
	after := statusByClause(cur)

	var changes []Change
	for id, to := range after {
		if from := before[id]; from != to {
			changes = append(changes, Change{ClauseID: id, From: from, To: to})
		}
	}
	for id, from := range before {
		if _, ok := after[id]; !ok {
			changes = append(changes, Change{ClauseID: id, From: from})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].ClauseID < changes[j].ClauseID })
	return changes
}

func statusByClause(r *Report) map[string]engine.Status {
	out := make(map[string]engine.Status, len(r.Verdicts))
	for _, v := range r.Verdicts {
		out[v.ClauseID] = v.Status
	}
	return out
}
