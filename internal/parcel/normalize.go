package parcel

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeAddress folds compatibility characters, collapses whitespace and
// uppercases. It is the key for address caches and aliases.
func NormalizeAddress(address string) string {
	return collapseUpper(norm.NFKC.String(address))
}

// NormalizeOwner is the deterministic owner-name normalization: whitespace
// collapsed and uppercased, nothing else. Owner grouping keys depend on it.
func NormalizeOwner(owner string) string {
	return collapseUpper(owner)
}

func collapseUpper(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}
