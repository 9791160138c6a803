package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertSQL(t *testing.T) {
	q, err := UpsertSQL(UpsertConfig{
		Table:        "parcels",
		Columns:      []string{"parcel_id", "owner_name", "updated_at"},
		ConflictKeys: []string{"parcel_id"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "parcels" ("parcel_id", "owner_name", "updated_at") VALUES ($1, $2, $3) `+
			`ON CONFLICT ("parcel_id") DO UPDATE SET "owner_name" = EXCLUDED."owner_name", "updated_at" = EXCLUDED."updated_at"`,
		q)
}

func TestUpsertSQL_ExplicitUpdateCols(t *testing.T) {
	q, err := UpsertSQL(UpsertConfig{
		Table:        "public.run_parcels",
		Columns:      []string{"run_id", "parcel_id", "ring_number"},
		ConflictKeys: []string{"run_id", "parcel_id"},
		UpdateCols:   []string{"ring_number"},
	})
	require.NoError(t, err)
	assert.Contains(t, q, `INSERT INTO "public"."run_parcels"`)
	assert.Contains(t, q, `ON CONFLICT ("run_id", "parcel_id") DO UPDATE SET "ring_number" = EXCLUDED."ring_number"`)
}

func TestUpsertSQL_AllKeysDoNothing(t *testing.T) {
	q, err := UpsertSQL(UpsertConfig{
		Table:        "t",
		Columns:      []string{"a"},
		ConflictKeys: []string{"a"},
	})
	require.NoError(t, err)
	assert.Contains(t, q, "DO NOTHING")
}

func TestUpsertSQL_NoColumns(t *testing.T) {
	_, err := UpsertSQL(UpsertConfig{Table: "t", ConflictKeys: []string{"id"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestUpsertSQL_NoConflictKeys(t *testing.T) {
	_, err := UpsertSQL(UpsertConfig{Table: "t", Columns: []string{"id", "name"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestMustUpsertSQL_Panics(t *testing.T) {
	assert.Panics(t, func() { MustUpsertSQL(UpsertConfig{Table: "t"}) })
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.parcels", `"public"."parcels"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"id", "name", "value"})
	assert.Equal(t, `"id", "name", "value"`, result)
}
