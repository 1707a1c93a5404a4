package ws

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConnAssignsUUIDConnID(t *testing.T) {
	conn := newConn(&fakeSocket{})
	_, err := uuid.Parse(conn.ConnID)
	require.NoError(t, err, "connection ids are uuids")

	other := newConn(&fakeSocket{})
	assert.NotEqual(t, conn.ConnID, other.ConnID)
}
