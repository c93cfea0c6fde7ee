package store

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNameLength(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"", 0},
		{"orders", 6},
		{"주문", 2},
		{"😀", 2},
		{"a😀b", 4},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, NameLength(tt.name), "name %q", tt.name)
	}
}

func TestValidateName(t *testing.T) {
	require.True(t, errors.Is(ValidateName(""), ErrInvalidArgument))
	require.NoError(t, ValidateName(strings.Repeat("x", MaxNameLength)))
	require.True(t, errors.Is(ValidateName(strings.Repeat("x", MaxNameLength+1)), ErrInvalidArgument))

	// 100 Hangul syllables are 300 bytes but 100 units
	require.NoError(t, ValidateName(strings.Repeat("가", 100)))
	require.NoError(t, ValidateName(strings.Repeat("가", MaxNameLength)))
	require.True(t, errors.Is(ValidateName(strings.Repeat("가", MaxNameLength+1)), ErrInvalidArgument))

	// supplementary characters take two units each
	require.NoError(t, ValidateName(strings.Repeat("😀", MaxNameLength/2)))
	require.True(t, errors.Is(ValidateName(strings.Repeat("😀", MaxNameLength/2+1)), ErrInvalidArgument))
}
