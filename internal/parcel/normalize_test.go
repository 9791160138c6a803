package parcel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"123 Main St", "123 MAIN ST"},
		{"  123\tmain   st \n", "123 MAIN ST"},
		{"", ""},
		{"   ", ""},
		{"１２３ Ｍａｉｎ St", "123 MAIN ST"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeAddress(tt.in), "input %q", tt.in)
	}
}

func TestNormalizeOwner(t *testing.T) {
	assert.Equal(t, "SMITH JOHN & JANE", NormalizeOwner(" smith  john & jane "))
	assert.Equal(t, "", NormalizeOwner(""))
	// Compatibility forms are left alone for owners.
	assert.Equal(t, "ＳＭＩＴＨ JOHN", NormalizeOwner("ｓｍｉｔｈ  john"))
}

func TestOutcomeKind(t *testing.T) {
	assert.Equal(t, "found", Found.String())
	assert.Equal(t, "not_found", NotFound.String())
	assert.False(t, Outcome{}.Found())
}
