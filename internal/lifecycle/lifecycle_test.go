package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransition_FullHappyPath(t *testing.T) {
	assert.NoError(t, Transition(Draft, Compiled))
	assert.NoError(t, Transition(Compiled, Active))
	assert.NoError(t, Transition(Active, Superseded))
}

func TestTransition_ActiveCanRetire(t *testing.T) {
	assert.NoError(t, Transition(Active, Retired))
}

func TestTransition_CannotSkipCompiled(t *testing.T) {
	assert.Error(t, Transition(Draft, Active))
}

func TestTransition_TerminalStatesAreFinal(t *testing.T) {
	assert.Error(t, Transition(Superseded, Active))
	assert.Error(t, Transition(Retired, Active))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(Superseded))
	assert.True(t, IsTerminal(Retired))
	assert.False(t, IsTerminal(Active))
}
