package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		page, limit string
		want        Params
	}{
		{"", "", Params{Page: 1, Limit: 20, Offset: 0}},
		{"3", "10", Params{Page: 3, Limit: 10, Offset: 20}},
		{"0", "0", Params{Page: 1, Limit: 1, Offset: 0}},
		{"-4", "500", Params{Page: 1, Limit: 100, Offset: 0}},
	}
	for _, tt := range tests {
		got, err := Parse(tt.page, tt.limit)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "page=%q limit=%q", tt.page, tt.limit)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("two", "")
	assert.Error(t, err)
	_, err = Parse("", "ten")
	assert.Error(t, err)
}

func TestNewPage(t *testing.T) {
	p := Params{Page: 1, Limit: 2}

	full := NewPage(p, []int{1, 2})
	assert.True(t, full.HasMore)

	short := NewPage(p, []int{1})
	assert.False(t, short.HasMore)

	empty := NewPage[int](p, nil)
	assert.NotNil(t, empty.Items)
	assert.False(t, empty.HasMore)
}
