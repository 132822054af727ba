package models

// WriteKind says how a staged write applies to its document.
type WriteKind int

const (
	// WriteCreate writes a full new document with createdAt and updatedAt.
	WriteCreate WriteKind = iota
	// WriteMerge overwrites business fields of an existing document and
	// refreshes updatedAt, leaving createdAt untouched.
	WriteMerge
)

func (k WriteKind) String() string {
	if k == WriteMerge {
		return "merge"
	}
	return "create"
}

// WriteOp is one staged write of an upsert batch. An empty DocID asks the
// store to assign one.
type WriteOp struct {
	Kind     WriteKind
	DocID    string
	DedupKey string
	Fields   map[string]interface{}
}
