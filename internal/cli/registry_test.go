package cli

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type echoCommand struct {
	got []string
	err error
}

func (c *echoCommand) Name() string        { return "echo" }
func (c *echoCommand) Description() string { return "Echo arguments" }
func (c *echoCommand) Run(args []string) error {
	c.got = args
	return c.err
}

func TestRegistry_Run(t *testing.T) {
	var out bytes.Buffer
	r := NewRegistry()
	r.out = &out
	cmd := &echoCommand{}
	r.Register(cmd)

	assert.NoError(t, r.Run([]string{"echo", "a", "b"}))
	assert.Equal(t, []string{"a", "b"}, cmd.got)

	cmd.err = errors.New("boom")
	assert.EqualError(t, r.Run([]string{"echo"}), "boom")

	assert.EqualError(t, r.Run([]string{"nope"}), "unknown command: nope")
	assert.Contains(t, out.String(), "Echo arguments")

	assert.Error(t, r.Run(nil))
	assert.NoError(t, r.Run([]string{"help"}))
}
