package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_ConcurrencyCap(t *testing.T) {
	l := NewLimiter(Limits{MaxConcurrentPerUser: 2})

	require.NoError(t, l.Acquire("u1"))
	require.NoError(t, l.Acquire("u1"))
	err := l.Acquire("u1")
	require.Error(t, err)
	assert.Equal(t, KindLimit, KindOf(err))

	// Other users are unaffected.
	assert.NoError(t, l.Acquire("u2"))

	// Releasing frees a slot.
	l.Release("u1")
	assert.NoError(t, l.Acquire("u1"))
}

func TestLimiter_DailyTokenCap(t *testing.T) {
	l := NewLimiter(Limits{MaxTokensPerDay: 100})

	require.NoError(t, l.Acquire("u1"))
	l.RecordTokens("u1", 100)
	l.Release("u1")
	assert.Equal(t, 100, l.TokensToday("u1"))

	err := l.Acquire("u1")
	require.Error(t, err)
	assert.Equal(t, KindLimit, KindOf(err))
}

func TestLimiter_BlueprintSize(t *testing.T) {
	l := NewLimiter(Limits{MaxBlueprintBytes: 128})

	assert.NoError(t, l.CheckBlueprintSize(chatBlueprint()))

	big := chatBlueprint()
	big.Name = strings.Repeat("x", 256)
	err := l.CheckBlueprintSize(big)
	require.Error(t, err)
	assert.Equal(t, KindLimit, KindOf(err))
}

func TestLimiter_StepCap(t *testing.T) {
	l := NewLimiter(Limits{MaxSteps: 10})
	assert.NoError(t, l.CheckSteps(9))
	assert.Equal(t, KindLimit, KindOf(l.CheckSteps(10)))
}

func TestLimiter_ZeroValuesDisableChecks(t *testing.T) {
	l := NewLimiter(Limits{})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Acquire("u1"))
	}
	l.RecordTokens("u1", 1<<30)
	assert.NoError(t, l.Acquire("u1"))
	assert.NoError(t, l.CheckSteps(1 << 20))
	assert.NoError(t, l.CheckBlueprintSize(chatBlueprint()))
}
