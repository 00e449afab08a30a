package core

import "math"

// DistributionAssignment is one node's computed share from an auto split.
type DistributionAssignment struct {
	NodeID        string  `json:"node_id"`
	NodeLabel     string  `json:"node_label"`
	AllocationPct float64 `json:"allocation_pct"`
}

// DistributeEqually splits 100% evenly across the given entries. Shares are
// rounded to two decimals and the final entry absorbs the rounding remainder,
// so the assignments always sum to exactly 100. Fewer than two entries means
// there is nothing to split; the caller gets ok=false and no assignments.
func DistributeEqually(entries []AllocationEntry) ([]DistributionAssignment, bool) {
	if len(entries) < 2 {
		return nil, false
	}
	share := math.Round(100.0/float64(len(entries))*100) / 100
	assignments := make([]DistributionAssignment, len(entries))
	allocated := 0.0
	for i, entry := range entries {
		pct := share
		if i == len(entries)-1 {
			pct = math.Round((100.0-allocated)*100) / 100
		}
		assignments[i] = DistributionAssignment{
			NodeID:        entry.NodeID,
			NodeLabel:     entry.NodeLabel,
			AllocationPct: pct,
		}
		allocated += pct
	}
	return assignments, true
}

// ApplyDistribution writes the computed shares back onto the node graph in
// place. Only live instances matching the identifier are touched. Returns the
// number of instances updated.
func ApplyDistribution(nodes []Node, identifier string, assignments []DistributionAssignment) int {
	byNode := make(map[string]float64, len(assignments))
	for _, a := range assignments {
		byNode[a.NodeID] = a.AllocationPct
	}
	updated := 0
	for ni := range nodes {
		pct, ok := byNode[nodes[ni].ID]
		if !ok {
			continue
		}
		for si := range nodes[ni].Scopes {
			scope := &nodes[ni].Scopes[si]
			if scope.Identifier != identifier || scope.Deleted {
				continue
			}
			scope.AllocationPct = pct
			updated++
		}
	}
	return updated
}
