package discover

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/corvidchain/corvid/p2p/enode"
)

func newTestDriver(t *testing.T) (*Driver, enode.ID) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	ecdsaPriv := priv.ToECDSA()
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
	d, err := New(ecdsaPriv, addr, enode.Endpoint{Addr: net.IPv4(127, 0, 0, 1), TCPPort: 30304, UDPPort: uint16(addr.Port)}, "")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d, pubkeyToID(&ecdsaPriv.PublicKey)
}

func TestPingPongRoundTrip(t *testing.T) {
	a, _ := newTestDriver(t)
	b, bID := newTestDriver(t)

	bEntry := enode.Entry{ID: bID, Endpoint: enode.Endpoint{Addr: net.IPv4(127, 0, 0, 1), TCPPort: 1, UDPPort: uint16(b.conn.LocalAddr().(*net.UDPAddr).Port)}}

	stop := make(chan struct{})
	defer close(stop)
	go pumpRW(a, stop)
	go pumpRW(b, stop)

	ok := a.bond(bEntry)
	assert.True(t, ok)

	_, present := a.get(bID)
	assert.True(t, present)
}

func (d *Driver) get(id enode.ID) (enode.Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.bucketFor(id)
	for _, e := range b.entries {
		if e.ID == id {
			return e.Entry, true
		}
	}
	return enode.Entry{}, false
}

// pumpRW repeatedly services one driver's UDP socket until stop closes,
// standing in for the read/write-ready dispatch Host performs in
// production.
func pumpRW(d *Driver, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		d.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		d.Readable()
		d.Writable()
	}
}

func TestLogdistSymmetric(t *testing.T) {
	a := keccak([]byte("node-a"))
	b := keccak([]byte("node-b"))
	assert.Equal(t, logdist(a, b), logdist(b, a))
	assert.Equal(t, 0, logdist(a, a))
}

func TestClosestOrdersByDistance(t *testing.T) {
	d, _ := newTestDriver(t)
	var target enode.ID
	target[0] = 0xff

	for i := byte(1); i <= 5; i++ {
		var id enode.ID
		id[0] = i
		d.mu.Lock()
		d.addLiveLocked(enode.Entry{ID: id, Endpoint: enode.Endpoint{Addr: net.IPv4(127, 0, 0, 1), TCPPort: 30304, UDPPort: 30304}})
		d.mu.Unlock()
	}

	closest := d.closest(target, 3)
	require.Len(t, closest, 3)

	targetH := keccak(target[:])
	for i := 1; i < len(closest); i++ {
		assert.LessOrEqual(t, logdist(targetH, keccak(closest[i-1].ID[:])), logdist(targetH, keccak(closest[i].ID[:])))
	}
}
