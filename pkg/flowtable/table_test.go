package flowtable

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tlsflow/tlsflow/pkg/flowkey"
)

func key(src, dst string, sp, dp uint16) flowkey.Key {
	var k flowkey.Key
	k.IsIPv4 = true
	k.Protocol = flowkey.TCP
	a := netip.MustParseAddr(src).As4()
	b := netip.MustParseAddr(dst).As4()
	copy(k.SrcIP[12:16], a[:])
	copy(k.DstIP[12:16], b[:])
	k.SrcPort, k.DstPort = sp, dp
	return k
}

func TestLookupOrCreate(t *testing.T) {
	tbl := New(WithBidir(true))
	now := time.Now()

	k := key("10.0.0.1", "10.0.0.2", 50000, 443)
	rec, created, evicted := tbl.LookupOrCreate(k, now)
	require.True(t, created)
	require.Nil(t, evicted)
	require.Equal(t, 1, tbl.Len())

	rec2, created2, evicted2 := tbl.LookupOrCreate(k, now.Add(time.Second))
	require.False(t, created2)
	require.Nil(t, evicted2)
	require.Same(t, rec, rec2)
}

func TestTwinOfBidirectional(t *testing.T) {
	tbl := New(WithBidir(true))
	now := time.Now()

	fwd := key("10.0.0.1", "10.0.0.2", 50000, 443)
	rev := fwd.Reverse()

	fwdRec, _, _ := tbl.LookupOrCreate(fwd, now)
	revRec, _, _ := tbl.LookupOrCreate(rev, now)

	require.Same(t, revRec, tbl.TwinOf(fwd))
	require.Same(t, fwdRec, tbl.TwinOf(rev))
}

func TestTwinOfUnidirectionalIsNil(t *testing.T) {
	tbl := New(WithBidir(false))
	k := key("10.0.0.1", "10.0.0.2", 50000, 443)
	require.Nil(t, tbl.TwinOf(k))
}

func TestScanExpiredIdleTimeout(t *testing.T) {
	tbl := New()
	now := time.Now()
	k := key("10.0.0.1", "10.0.0.2", 50000, 443)
	tbl.LookupOrCreate(k, now)

	expired := tbl.ScanExpired(now.Add(time.Millisecond), time.Hour, false, 0)
	require.Empty(t, expired)
	require.Equal(t, 1, tbl.Len())

	expired = tbl.ScanExpired(now.Add(time.Hour+time.Second), time.Hour, false, 0)
	require.Len(t, expired, 1)
	require.Equal(t, 0, tbl.Len())
	require.True(t, expired[0].Finalized())
}

func TestScanExpiredOnTermination(t *testing.T) {
	tbl := New()
	now := time.Now()
	k := key("10.0.0.1", "10.0.0.2", 50000, 443)
	rec, _, _ := tbl.LookupOrCreate(k, now)
	rec.Update(now, flowkey.DirectionRemains, 0x04 /* RST */, true, 0)

	expired := tbl.ScanExpired(now, time.Hour, false, 0)
	require.Len(t, expired, 1)
}

func TestDrainReturnsEveryRecord(t *testing.T) {
	tbl := New()
	now := time.Now()
	tbl.LookupOrCreate(key("10.0.0.1", "10.0.0.2", 1, 2), now)
	tbl.LookupOrCreate(key("10.0.0.3", "10.0.0.4", 3, 4), now)

	out := tbl.Drain()
	require.Len(t, out, 2)
	require.Equal(t, 0, tbl.Len())
	for _, r := range out {
		require.True(t, r.Finalized())
	}
}

func TestHighWaterMarkEvictsOldest(t *testing.T) {
	tbl := New(WithHighWaterMark(2))
	now := time.Now()

	firstKey := key("10.0.0.1", "10.0.0.2", 1, 1)
	tbl.LookupOrCreate(firstKey, now)
	tbl.LookupOrCreate(key("10.0.0.1", "10.0.0.2", 2, 2), now.Add(time.Second))
	require.Equal(t, 2, tbl.Len())

	_, _, evicted := tbl.LookupOrCreate(key("10.0.0.1", "10.0.0.2", 3, 3), now.Add(2*time.Second))
	require.Equal(t, 2, tbl.Len())
	require.Equal(t, 1, tbl.EvictedCount())

	// The oldest (port 1) should have been evicted, not the newer ones,
	// and handed back to the caller for emission rather than dropped.
	require.NotNil(t, evicted)
	require.Equal(t, firstKey, evicted.Key)
	require.True(t, evicted.Finalized())

	_, created, _ := tbl.LookupOrCreate(firstKey, now.Add(3*time.Second))
	require.True(t, created)
}

func TestSetSubRecordNoopAfterFinalize(t *testing.T) {
	rec := &Record{}
	rec.SetSubRecord(ObserverTLS, "before")
	rec.Finalize()
	rec.SetSubRecord(ObserverTLS, "after")

	require.Equal(t, "before", rec.SubRecord(ObserverTLS))
}
