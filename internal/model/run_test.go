package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStatus_Terminal(t *testing.T) {
	assert.False(t, RunStatusRunning.Terminal())
	for _, s := range []RunStatus{RunStatusCompleted, RunStatusCapped, RunStatusNotFound, RunStatusFailed} {
		assert.True(t, s.Terminal(), s)
	}
}

func TestRunStatus_Reusable(t *testing.T) {
	assert.True(t, RunStatusCompleted.Reusable())
	assert.True(t, RunStatusCapped.Reusable())
	assert.False(t, RunStatusFailed.Reusable())
	assert.False(t, RunStatusNotFound.Reusable())
	assert.False(t, RunStatusRunning.Reusable())
}

func TestRun_Recount(t *testing.T) {
	r := Run{Parcels: []RunParcel{
		{Parcel: Parcel{ID: "P1", OwnerName: "smith john", NormalizedOwnerName: "SMITH JOHN"}},
		{Parcel: Parcel{ID: "P2", OwnerName: "Smith  John", NormalizedOwnerName: "smith john "}},
		{Parcel: Parcel{ID: "P3", OwnerName: "Acme LLC"}},
		{Parcel: Parcel{ID: "P4"}},
	}}
	r.Recount()
	assert.Equal(t, 4, r.ParcelCount)
	assert.Equal(t, 2, r.OwnerCount)
}

func TestRun_MaxRingAndSeed(t *testing.T) {
	r := Run{Parcels: []RunParcel{
		{Parcel: Parcel{ID: "P1"}, RingNumber: 0, IsSeed: true},
		{Parcel: Parcel{ID: "P2"}, RingNumber: 2},
		{Parcel: Parcel{ID: "P3"}, RingNumber: 1},
	}}
	assert.Equal(t, 2, r.MaxRing())

	seed, ok := r.Seed()
	require.True(t, ok)
	assert.Equal(t, "P1", seed.ID)

	empty := Run{}
	assert.Equal(t, 0, empty.MaxRing())
	_, ok = empty.Seed()
	assert.False(t, ok)
}

func TestRunParcel_JSONFlattensParcel(t *testing.T) {
	rp := RunParcel{
		Parcel:     Parcel{ID: "P1", OwnerName: "A", Source: "wright_county_arcgis"},
		RingNumber: 1,
		MatchedBy:  MatchTouches,
	}
	data, err := json.Marshal(rp)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "P1", m["parcel_id"])
	assert.Equal(t, "touches_adjacency", m["matched_by"])
	assert.Nil(t, m["geometry"])
	assert.EqualValues(t, 1, m["ring_number"])
}
