package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 1, 10, 0, 0, 500_000_000, time.UTC)

	tests := []struct {
		name  string
		input string
	}{
		{"RFC3339", "2024-03-01T10:00:00.5Z"},
		{"RFC3339Offset", "2024-03-01T12:00:00.5+02:00"},
		{"NoZone", "2024-03-01T10:00:00.5"},
		{"PostgresText", "2024-03-01 10:00:00.5+00"},
		{"PostgresTextLongZone", "2024-03-01 10:00:00.5+00:00"},
		{"PostgresNoZone", "2024-03-01 10:00:00.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, err := ParseTimestamp(tt.input)
			require.NoError(t, err)
			assert.True(t, want.Equal(ts.Time), "got %s", ts.Time)
		})
	}

	_, err := ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestItemJSON(t *testing.T) {
	var it Item
	require.NoError(t, json.Unmarshal([]byte(`{"id":3,"task":"buy milk","is_complete":true,"inserted_at":"2024-03-01 10:00:00+00"}`), &it))
	assert.Equal(t, int64(3), it.ID)
	assert.True(t, it.IsComplete)
	assert.Equal(t, 2024, it.InsertedAt.Year())

	var bare Item
	require.NoError(t, json.Unmarshal([]byte(`{"id":4,"task":"x","inserted_at":null}`), &bare))
	assert.True(t, bare.InsertedAt.IsZero())

	b, err := json.Marshal(Item{ID: 5, Task: "y"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":5,"task":"y","is_complete":false,"inserted_at":null}`, string(b))

	assert.Error(t, json.Unmarshal([]byte(`{"id":6,"inserted_at":"soon"}`), &bare))
}

func TestPatch(t *testing.T) {
	assert.True(t, Patch{}.Empty())

	p := CompletePatch()
	assert.False(t, p.Empty())
	require.NotNil(t, p.IsComplete)
	assert.True(t, *p.IsComplete)

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"is_complete":true}`, string(b))
}

func TestEventValidate(t *testing.T) {
	assert.NoError(t, InsertEvent(Item{ID: 1}).Validate())
	assert.NoError(t, UpdateEvent(Item{ID: 1}).Validate())
	assert.NoError(t, DeleteEvent(1).Validate())

	assert.Error(t, InsertEvent(Item{}).Validate())
	assert.Error(t, Event{Kind: "TRUNCATE", Item: Item{ID: 1}}.Validate())
	assert.Equal(t, "DELETE id=9", DeleteEvent(9).String())
}
