package rtc_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dkeye/MicRoom/internal/adapters/rtc"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct{}

func (failingSink) WriteRTP(string, *rtp.Packet) error { return errors.New("device gone") }

func TestPlayoutGate(t *testing.T) {
	sink := newCountingSink()
	g := rtc.NewPlayoutGate("alice", sink)
	pkt := &rtp.Packet{Header: rtp.Header{SequenceNumber: 1}}

	assert.True(t, g.Forward(pkt))
	g.SetMuted(true)
	assert.True(t, g.Forward(pkt), "muted gate keeps the read loop alive")
	g.SetMuted(false)
	assert.True(t, g.Forward(pkt))
	assert.Equal(t, 2, sink.from("alice"))

	g.Close()
	g.SetMuted(false)
	assert.Equal(t, rtc.GateClosed, g.State())
	assert.False(t, g.Forward(pkt))

	bad := rtc.NewPlayoutGate("bob", failingSink{})
	assert.False(t, bad.Forward(pkt))
	assert.Equal(t, rtc.GateClosed, bad.State())
}

func TestSilenceCapture(t *testing.T) {
	track, err := rtc.SilenceCapture{StreamID: "test"}.Open(context.Background())
	require.NoError(t, err)
	ct := track.(*rtc.CaptureTrack)
	assert.False(t, ct.Enabled(), "capture starts disabled until the manager enables it")
	ct.SetEnabled(true)
	assert.True(t, ct.Enabled())
	assert.Equal(t, "test", ct.Local().StreamID())
	require.NoError(t, track.Close())
	require.NoError(t, track.Close())
}
