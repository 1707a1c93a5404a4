package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClientFrame(t *testing.T) {
	frame, err := DecodeClientFrame([]byte(`{"type":"auth","token":"tok","channel_id":"c1","is_dm":true}`))
	require.NoError(t, err)
	auth, ok := frame.(*AuthFrame)
	require.True(t, ok)
	assert.Equal(t, "tok", auth.Token)
	assert.Equal(t, "c1", auth.ChannelID)
	assert.True(t, auth.IsDM)

	frame, err = DecodeClientFrame([]byte(`{"type":"message","content":"hi","channel_id":"c1","client_id":"tmp-1"}`))
	require.NoError(t, err)
	msg, ok := frame.(*MessageFrame)
	require.True(t, ok)
	assert.Equal(t, "tmp-1", msg.ClientID)
}

func TestDecodeClientFrameRejectsUnknownType(t *testing.T) {
	_, err := DecodeClientFrame([]byte(`{"type":"joined","channel_id":"c1"}`))
	require.ErrorIs(t, err, ErrMalformedFrame, "server-to-client frames are not accepted from clients")

	_, err = DecodeClientFrame([]byte(`not json`))
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeServerFrameFlattensMessageEvent(t *testing.T) {
	frame, err := DecodeServerFrame([]byte(`{"type":"message","id":"m1","content":"hi","sender_id":"u1","sender_name":"alice","channel_id":"c1"}`))
	require.NoError(t, err)
	event, ok := frame.(*MessageEvent)
	require.True(t, ok)
	assert.Equal(t, "m1", event.ID)
	assert.Equal(t, "alice", event.SenderName)
	assert.Equal(t, "c1", event.Scope())
}

func TestMessageScopePrefersDM(t *testing.T) {
	assert.Equal(t, "d1", Message{DMID: "d1"}.Scope())
	assert.Equal(t, "c1", Message{ChannelID: "c1"}.Scope())
}
