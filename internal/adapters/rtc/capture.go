package rtc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/MicRoom/internal/app/voice"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const frameDuration = 20 * time.Millisecond

// opusSilence is one 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// CaptureTrack is the local outgoing audio track shared by every link.
type CaptureTrack struct {
	local   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

var _ voice.AudioTrack = (*CaptureTrack)(nil)

func (t *CaptureTrack) Local() webrtc.TrackLocal { return t.local }

func (t *CaptureTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *CaptureTrack) Enabled() bool { return t.enabled.Load() }

func (t *CaptureTrack) Close() error {
	t.once.Do(func() {
		t.cancel()
		<-t.done
	})
	return nil
}

// SilenceCapture is a capture device for headless participants: it emits
// Opus silence frames while enabled and nothing while disabled.
type SilenceCapture struct {
	StreamID string
}

var _ voice.CaptureDevice = SilenceCapture{}

func (c SilenceCapture) Open(ctx context.Context) (voice.AudioTrack, error) {
	stream := c.StreamID
	if stream == "" {
		stream = "micbot"
	}
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio-"+uuid.NewString()[:8], stream,
	)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &CaptureTrack{local: local, cancel: cancel, done: make(chan struct{})}
	go t.pump(ctx)
	return t, nil
}

func (t *CaptureTrack) pump(ctx context.Context) {
	defer close(t.done)
	tick := time.NewTicker(frameDuration)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if !t.enabled.Load() {
				continue
			}
			if err := t.local.WriteSample(media.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
				log.Debug().Err(err).Str("module", "rtc").Msg("write sample")
			}
		}
	}
}
