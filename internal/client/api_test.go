package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelURL(t *testing.T) {
	api, err := NewAPI("https://split.example.com/base/", nil)
	require.NoError(t, err)
	assert.Equal(t, "wss://split.example.com/base/ws", api.ChannelURL())

	api, err = NewAPI("http://localhost:8080", nil)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws", api.ChannelURL())

	_, err = NewAPI("ftp://localhost", nil)
	assert.Error(t, err)
}
