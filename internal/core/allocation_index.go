package core

// AllocationEntry is one node's claim on a scope identifier.
type AllocationEntry struct {
	NodeID        string      `json:"node_id"`
	NodeLabel     string      `json:"node_label"`
	AllocationPct float64     `json:"allocation_pct"`
	Tier          ScopeTier   `json:"tier"`
	CategoryName  string      `json:"category_name"`
	ActivityName  string      `json:"activity_name"`
	Department    string      `json:"department"`
	Location      string      `json:"location"`
	InputMethod   InputMethod `json:"input_method"`
}

// AllocationIndex maps each scope identifier to the ordered entries
// referencing it. The index is an immutable value built fresh per call and
// never references back into the source node graph, so validation and
// aggregation passes cannot alias each other's state.
type AllocationIndex struct {
	entries map[string][]AllocationEntry
	order   []string
}

// IndexOptions controls which scope instances participate in the index.
// Soft-deleted and imported instances are skipped unless re-included.
type IndexOptions struct {
	IncludeDeleted  bool
	IncludeImported bool
}

// BuildAllocationIndex scans the node graph in node-then-scope order and
// produces the identifier index. Order is deterministic: identifiers appear
// in first-seen order, entries in scan order. No sorting by value.
func BuildAllocationIndex(nodes []Node, opts IndexOptions) AllocationIndex {
	idx := AllocationIndex{entries: make(map[string][]AllocationEntry)}
	for _, node := range nodes {
		if node.Deleted && !opts.IncludeDeleted {
			continue
		}
		for _, scope := range node.Scopes {
			if scope.Identifier == "" {
				continue
			}
			if scope.Deleted && !opts.IncludeDeleted {
				continue
			}
			if scope.Imported && !opts.IncludeImported {
				continue
			}
			if _, seen := idx.entries[scope.Identifier]; !seen {
				idx.order = append(idx.order, scope.Identifier)
			}
			idx.entries[scope.Identifier] = append(idx.entries[scope.Identifier], AllocationEntry{
				NodeID:        node.ID,
				NodeLabel:     node.Label,
				AllocationPct: scope.AllocationPct,
				Tier:          scope.Tier,
				CategoryName:  scope.CategoryName,
				ActivityName:  scope.ActivityName,
				Department:    node.Department,
				Location:      node.Location,
				InputMethod:   scope.InputMethod,
			})
		}
	}
	return idx
}

// Entries returns the entries recorded for an identifier, in scan order.
func (idx AllocationIndex) Entries(identifier string) []AllocationEntry {
	return idx.entries[identifier]
}

// Identifiers returns all indexed identifiers in first-seen order.
func (idx AllocationIndex) Identifiers() []string {
	return idx.order
}

// Len returns the number of distinct identifiers in the index.
func (idx AllocationIndex) Len() int {
	return len(idx.order)
}

// SharedIdentifiers returns the identifiers referenced by more than one node,
// computed as a pure reduction over the built index.
func (idx AllocationIndex) SharedIdentifiers() []string {
	var shared []string
	for _, id := range idx.order {
		if len(idx.entries[id]) > 1 {
			shared = append(shared, id)
		}
	}
	return shared
}
