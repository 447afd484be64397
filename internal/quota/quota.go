// Package quota allocates per-source article budgets for one fetch window.
package quota

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/arbor-commodities/sugarwire/internal/model"
)

// Plan maps source ID to the maximum number of articles to request from
// that source within one window. Derived per window and never persisted.
type Plan map[string]int

// Total returns the sum of all allocated quotas.
func (p Plan) Total() int {
	total := 0
	for _, q := range p {
		total += q
	}
	return total
}

// Allocate distributes budget across sources proportionally to
// categoryWeight x reliability. Every source first receives floor; the rest
// of the budget is split by normalized share with the remainder handed out
// one unit at a time in descending share order (ties by source ID
// ascending). The result always sums to exactly budget, and identical
// inputs always produce an identical plan.
func Allocate(sources []model.Source, budget, floor int) (Plan, error) {
	if len(sources) == 0 {
		return nil, eris.New("quota: no sources")
	}
	if budget <= 0 {
		return nil, eris.Errorf("quota: budget %d must be positive", budget)
	}
	if floor < 0 {
		return nil, eris.Errorf("quota: floor %d must be non-negative", floor)
	}
	reserved := floor * len(sources)
	if reserved > budget {
		return nil, eris.Errorf("quota: floor %d x %d sources exceeds budget %d", floor, len(sources), budget)
	}

	// Stable ordering: descending share, ties by ID ascending.
	ordered := make([]model.Source, len(sources))
	copy(ordered, sources)
	sort.Slice(ordered, func(i, j int) bool {
		si, sj := ordered[i].Share(), ordered[j].Share()
		if si != sj {
			return si > sj
		}
		return ordered[i].ID < ordered[j].ID
	})

	var totalShare float64
	for _, s := range ordered {
		totalShare += s.Share()
	}

	plan := make(Plan, len(ordered))
	remaining := budget - reserved
	allocated := 0
	for _, s := range ordered {
		q := 0
		if totalShare > 0 {
			q = int(math.Floor(s.Share() / totalShare * float64(remaining)))
		}
		plan[s.ID] = floor + q
		allocated += q
	}

	// Hand out the rounding remainder one unit at a time. When every share
	// is zero this degrades to round-robin in ID order, which still
	// exhausts the budget deterministically.
	leftover := remaining - allocated
	for leftover > 0 {
		for _, s := range ordered {
			if leftover == 0 {
				break
			}
			plan[s.ID]++
			leftover--
		}
	}

	return plan, nil
}
