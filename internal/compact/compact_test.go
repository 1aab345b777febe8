package compact

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackSmallStaysRaw(t *testing.T) {
	in := []byte("tiny")
	c, err := Pack(in, true)
	require.NoError(t, err)
	assert.False(t, c.Compressed())

	out, err := c.Unpack(nil)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestPackLargeRoundTrip(t *testing.T) {
	in := bytes.Repeat([]byte{10, 20, 30, 255}, 64*64)
	c, err := Pack(in, true)
	require.NoError(t, err)
	assert.True(t, c.Compressed())
	assert.Less(t, c.Stored(), c.Len())
	assert.Equal(t, len(in), c.Len())

	out, err := c.Unpack(make([]byte, 0, len(in)))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestPackDisabled(t *testing.T) {
	in := make([]byte, Threshold*2)
	c, err := Pack(in, false)
	require.NoError(t, err)
	assert.False(t, c.Compressed())
	assert.Equal(t, len(in), c.Stored())
}
