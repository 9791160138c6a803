package parcel

import "github.com/sells-group/parcelpicker/internal/model"

// OutcomeKind tags a seed resolution result.
type OutcomeKind int

const (
	// NotFound means every strategy ran and none matched.
	NotFound OutcomeKind = iota
	// Found means Parcel holds the match.
	Found
)

func (k OutcomeKind) String() string {
	if k == Found {
		return "found"
	}
	return "not_found"
}

// Outcome is the result of a seed lookup. Fatal conditions travel as a
// separate error, never as an Outcome.
type Outcome struct {
	Kind      OutcomeKind
	Parcel    model.Parcel
	MatchedBy model.MatchMethod
}

// Found reports whether a parcel matched.
func (o Outcome) Found() bool { return o.Kind == Found }

func found(p model.Parcel, by model.MatchMethod) Outcome {
	return Outcome{Kind: Found, Parcel: p, MatchedBy: by}
}

func notFound() Outcome {
	return Outcome{Kind: NotFound}
}
