package types

// MutationKind classifies a write through the coordinator.
type MutationKind string

const (
	MutationPatch    MutationKind = "patch"
	MutationLabelSet MutationKind = "label_set"
	MutationCreate   MutationKind = "create"
	MutationDelete   MutationKind = "delete"
)

// MutationStatus is the lifecycle state of an optimistic mutation.
// Transitions: optimistic -> committed | rolled_back. Terminal states
// never change.
type MutationStatus string

const (
	MutationOptimistic MutationStatus = "optimistic"
	MutationCommitted  MutationStatus = "committed"
	MutationRolledBack MutationStatus = "rolled_back"
)

// MutationRecord describes one write submitted to the coordinator.
// Snapshots taken for rollback are held privately by the coordinator;
// the record itself is safe to hand to callers for retry UX.
type MutationRecord struct {
	ID     string         `json:"id"` // ULID, orders mutations by issue time
	ItemID string         `json:"item_id"`
	Kind   MutationKind   `json:"kind"`
	Status MutationStatus `json:"status"`
	Patch  *ItemPatch     `json:"patch,omitempty"` // original arguments, retained for retry
}

// BulkCreateResult aggregates per-item outcomes of a bulk create.
// Successes are never rolled back when later items fail.
type BulkCreateResult struct {
	CreatedCount int         `json:"created_count"`
	ErrorCount   int         `json:"error_count"`
	CreatedItems []*WorkItem `json:"created_items,omitempty"`
	Errors       []string    `json:"errors,omitempty"`
}
