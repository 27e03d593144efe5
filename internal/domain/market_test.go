package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChoice(t *testing.T) {
	tests := []struct {
		in    string
		want  Choice
		valid bool
	}{
		{in: "yes", want: ChoiceYes, valid: true},
		{in: " Y ", want: ChoiceYes, valid: true},
		{in: "1", want: ChoiceYes, valid: true},
		{in: "no", want: ChoiceNo, valid: true},
		{in: "2", want: ChoiceNo, valid: true},
		{in: "", want: ChoiceUnset},
		{in: "unset", want: ChoiceUnset},
		{in: "3", want: Choice(3)},
		{in: "255", want: Choice(255)},
		{in: "300", want: Choice(255)},
		{in: "-1", want: Choice(255)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseChoice(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.valid, got.Valid())
		})
	}
}

func TestParseChoiceRejectsText(t *testing.T) {
	for _, in := range []string{"maybe", "1.5", "0x01"} {
		_, err := ParseChoice(in)
		require.ErrorIs(t, err, ErrInvalidChoice, in)
	}
}

func TestChoiceUnmarshalJSON(t *testing.T) {
	var req struct {
		Choice Choice `json:"choice"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"choice":"no"}`), &req))
	assert.Equal(t, ChoiceNo, req.Choice)

	require.NoError(t, json.Unmarshal([]byte(`{"choice":1}`), &req))
	assert.Equal(t, ChoiceYes, req.Choice)

	require.NoError(t, json.Unmarshal([]byte(`{"choice":"300"}`), &req))
	assert.False(t, req.Choice.Valid())

	require.NoError(t, json.Unmarshal([]byte(`{"choice":-1}`), &req))
	assert.False(t, req.Choice.Valid())

	require.ErrorIs(t, json.Unmarshal([]byte(`{"choice":"maybe"}`), &req), ErrInvalidChoice)
}
