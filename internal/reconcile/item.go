package reconcile

import "fmt"

// Kind classifies a diff item.
type Kind int

const (
	// KindSummary items carry a count for logging and are never applied.
	KindSummary Kind = iota
	// KindAddition: key present only in the partner collection.
	KindAddition
	// KindEdition: key present on both sides with at least one differing field.
	KindEdition
	// KindDeletion: key present only locally.
	KindDeletion
)

func (k Kind) String() string {
	switch k {
	case KindSummary:
		return "SUMMARY"
	case KindAddition:
		return "ADDITION"
	case KindEdition:
		return "EDITION"
	case KindDeletion:
		return "DELETION"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Summary categories.
const (
	CategoryCommon  = "common"
	CategoryAdded   = "added"
	CategoryRemoved = "removed"
)

// Item is one element of a diff stream.
type Item struct {
	Kind  Kind
	Key   string // empty for summaries
	Label string // human readable, ready to log

	// Field is the local field that differs, for editions driven by comparisons.
	Field string

	// Category and Count are set on summaries only.
	Category string
	Count    int

	Raw   *Record // set on additions and editions
	Local *Entity // set on editions and deletions
}
