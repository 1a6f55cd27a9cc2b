package nodetable

import (
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidchain/corvid/p2p/enode"
)

func entry(last byte) enode.Entry {
	var id enode.ID
	id[63] = last
	return enode.Entry{
		ID: id,
		Endpoint: enode.Endpoint{
			Addr:    net.IPv4(127, 0, 0, 1),
			TCPPort: 30304,
			UDPPort: 30304,
		},
	}
}

func TestAddNodeIdempotent(t *testing.T) {
	nt, err := Open("")
	require.NoError(t, err)

	e := entry(1)
	nt.AddNode(e)
	nt.AddNode(e)
	assert.Equal(t, 1, nt.Len())

	updated := e
	updated.Endpoint.TCPPort = 40404
	nt.AddNode(updated)
	assert.Equal(t, 1, nt.Len())

	got, ok := nt.Get(e.ID)
	require.True(t, ok)
	assert.Equal(t, uint16(40404), got.Entry.Endpoint.TCPPort)
}

func TestUpdateRespectsReserved(t *testing.T) {
	nt, err := Open("")
	require.NoError(t, err)

	a, b := entry(1), entry(2)
	nt.AddNode(a)
	nt.AddNode(b)

	reserved := map[enode.ID]struct{}{a.ID: {}}
	nt.Update(TableUpdates{Removed: []enode.ID{a.ID, b.ID}}, reserved)

	_, aStillThere := nt.Get(a.ID)
	_, bGone := nt.Get(b.ID)
	assert.True(t, aStillThere, "reserved node must survive a removal update")
	assert.False(t, bGone)
}

func TestNoteFailureMarksUseless(t *testing.T) {
	nt, err := Open("")
	require.NoError(t, err)

	e := entry(1)
	nt.AddNode(e)
	for i := 0; i < failureThreshold+1; i++ {
		nt.NoteFailure(e.ID)
	}
	got, ok := nt.Get(e.ID)
	require.True(t, ok)
	assert.True(t, got.Useless)

	candidates := nt.Nodes(nil)
	assert.Empty(t, candidates)
}

func TestNodesOrdersReservedFirst(t *testing.T) {
	nt, err := Open("")
	require.NoError(t, err)

	a, b, c := entry(1), entry(2), entry(3)
	nt.AddNode(a)
	nt.AddNode(b)
	nt.AddNode(c)
	nt.NoteFailure(b.ID)

	reserved := map[enode.ID]struct{}{c.ID: {}}
	ordered := nt.Nodes(reserved)
	require.Len(t, ordered, 3)
	assert.Equal(t, c.ID, ordered[0].ID, "reserved node must dial first")
}

func TestClearUseless(t *testing.T) {
	nt, err := Open("")
	require.NoError(t, err)

	e := entry(1)
	nt.AddNode(e)
	nt.MarkAsUseless(e.ID)
	nt.ClearUseless()
	assert.Equal(t, 0, nt.Len())
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir, err := os.MkdirTemp("", "nodetable-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	nt, err := Open(dir)
	require.NoError(t, err)
	e := entry(7)
	nt.AddNode(e)
	require.NoError(t, nt.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok := reopened.Get(e.ID)
	require.True(t, ok)
	assert.Equal(t, e.Endpoint.TCPPort, got.Entry.Endpoint.TCPPort)
}
