package store

import (
	"testing"

	"github.com/cibfe/cibfe/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChooseAuto(t *testing.T) {
	cases := []struct {
		caps Capabilities
		want string
	}{
		{Capabilities{Vector: true, Trigram: true}, "vector"},
		{Capabilities{Vector: true}, "vector"},
		{Capabilities{Trigram: true}, "trigram"},
		{Capabilities{}, "text"},
	}
	for _, tc := range cases {
		got, err := Choose(tc.caps, "auto")
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestChooseForcedVectorRequiresCapability(t *testing.T) {
	_, err := Choose(Capabilities{}, "vector")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindBackendUnavailable))

	got, err := Choose(Capabilities{Vector: true}, "vector")
	require.NoError(t, err)
	assert.Equal(t, "vector", got)
}

func TestChooseTextPrefersTrigram(t *testing.T) {
	got, err := Choose(Capabilities{Trigram: true}, "text")
	require.NoError(t, err)
	assert.Equal(t, "trigram", got)

	got, err = Choose(Capabilities{}, "text")
	require.NoError(t, err)
	assert.Equal(t, "text", got)
}

func TestChooseFallbackIgnoresCapabilities(t *testing.T) {
	got, err := Choose(Capabilities{Vector: true, Trigram: true}, "fallback")
	require.NoError(t, err)
	assert.Equal(t, "text", got)
}
