package rowset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	rows := Rows{
		NewRow([]string{"id", "name", "active", "ratio", "note", "seen_at"},
			[]Value{IntValue(1), StringValue("JFK"), BoolValue(true), FloatValue(0.5), NullValue(), TimeValue(now)}),
	}

	data, err := Marshal(rows)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, rows[0].Columns, got[0].Columns)
	require.Equal(t, int64(1), got[0].Fields["id"].Int)
	require.Equal(t, "JFK", got[0].Fields["name"].Str)
	require.True(t, got[0].Fields["active"].Bool)
	require.Equal(t, 0.5, got[0].Fields["ratio"].Float)
	require.Equal(t, KindNull, got[0].Fields["note"].Kind)
	require.True(t, now.Equal(got[0].Fields["seen_at"].Time))
}

func TestUnmarshal_InvalidShapeErrors(t *testing.T) {
	_, err := Unmarshal([]byte(`{"not": "a row list"}`))
	require.Error(t, err)
}

func TestFromNative(t *testing.T) {
	require.Equal(t, KindInt, FromNative(int64(5)).Kind)
	require.Equal(t, KindString, FromNative("x").Kind)
	require.Equal(t, KindNull, FromNative(nil).Kind)
}
