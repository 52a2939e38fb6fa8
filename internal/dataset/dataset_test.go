package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"sections", true},
		{"rooms2", true},
		{"a b", true},
		{"", false},
		{"   ", false},
		{"\t", false},
		{"my_data", false},
		{"_", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateID(tt.id)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidID)
			}
		})
	}
}

func TestRecordAccessors(t *testing.T) {
	r := Record{"Avg": 85.5, "Title": "intro"}

	v, ok := r.Number("Avg")
	assert.True(t, ok)
	assert.Equal(t, 85.5, v)

	_, ok = r.Number("Title")
	assert.False(t, ok)

	s, ok := r.Text("Title")
	assert.True(t, ok)
	assert.Equal(t, "intro", s)

	_, ok = r.Text("Missing")
	assert.False(t, ok)
}
