package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_FollowsFlow(t *testing.T) {
	m := newMachine(runFlow)
	for _, s := range runFlow[1:] {
		require.NoError(t, m.advance(s))
		assert.Equal(t, s, m.current())
	}
	assert.Error(t, m.advance(StateDone))
}

func TestMachine_RejectsSkips(t *testing.T) {
	m := newMachine(runFlow)
	require.NoError(t, m.advance(StateLoaded))
	err := m.advance(StateGeocoded)
	assert.ErrorContains(t, err, "invalid transition loaded -> geocoded")
	assert.Equal(t, StateLoaded, m.current())
}

func TestMachine_Failed(t *testing.T) {
	m := newMachine(layersFlow)
	m.fail()
	assert.Equal(t, StateFailed, m.current())
	assert.Error(t, m.advance(StateLoaded))
}

func TestCompletionMarker(t *testing.T) {
	assert.Equal(t, "DONOR-GEO RUN COMPLETE run_id=abc", CompletionMarker("abc"))
}
