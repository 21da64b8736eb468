package statsd

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestDefaultClientIsNoOp(t *testing.T) {
	assert.Check(t, Client() != nil)
	// The no-op client must accept emissions without error.
	assert.NilError(t, Client().Count("received", 1, nil, 1))
}

func TestInitRequiresAddress(t *testing.T) {
	err := Init("", nil)
	assert.Check(t, err != nil)
}
