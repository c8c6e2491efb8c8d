// Package audio handles microphone capture with backpressure
package audio

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/voicewire/voicewire/internal/errors"
)

const (
	// Samples per portaudio read, regrouped into full frames before delivery.
	readBufferSize = 1024

	// Frames buffered toward the consumer before drops begin.
	FrameBufferSize = 32
)

// Capturer reads one input device and delivers fixed-size float32 frames.
// Frames are dropped with a debug log when the consumer lags.
type Capturer struct {
	sampleRate int
	frameSize  int
	preferred  string // device name keyword, empty selects the default input

	outCh   chan []float32
	pending []float32

	mu      sync.Mutex
	stream  *portaudio.Stream
	cancel  context.CancelFunc
	running bool
}

// NewCapturer creates a capturer for the given rate and frame size.
func NewCapturer(sampleRate, frameSize int, preferredDevice string) (*Capturer, error) {
	if sampleRate <= 0 || frameSize <= 0 {
		return nil, apperrors.Newf(apperrors.Configuration, "invalid capture parameters: rate=%d frame=%d", sampleRate, frameSize)
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Capture, "failed to initialize audio subsystem")
	}

	return &Capturer{
		sampleRate: sampleRate,
		frameSize:  frameSize,
		preferred:  preferredDevice,
		outCh:      make(chan []float32, FrameBufferSize),
	}, nil
}

// Frames returns the channel of captured frames.
func (c *Capturer) Frames() <-chan []float32 { return c.outCh }

// Start opens the input device and begins the read loop. Starting an already
// running capturer is a no-op.
func (c *Capturer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	dev, err := c.selectDevice()
	if err != nil {
		return err
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(c.sampleRate),
		FramesPerBuffer: readBufferSize,
	}

	buf := make([]float32, readBufferSize)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.Capture, "failed to open device %s", dev.Name)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return apperrors.Wrapf(err, apperrors.Capture, "failed to start device %s", dev.Name)
	}

	readCtx, cancel := context.WithCancel(ctx)
	c.stream = stream
	c.cancel = cancel
	c.running = true

	slog.Info("started audio capture", "device", dev.Name, "sample_rate", c.sampleRate, "frame_size", c.frameSize)

	go c.readLoop(readCtx, stream, buf, dev.Name)
	return nil
}

func (c *Capturer) selectDevice() (*portaudio.DeviceInfo, error) {
	if c.preferred != "" {
		devices, err := portaudio.Devices()
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.Capture, "failed to enumerate devices")
		}
		for _, dev := range devices {
			if dev.MaxInputChannels >= 1 && containsIgnoreCase(dev.Name, c.preferred) {
				return dev, nil
			}
		}
		slog.Warn("preferred input device not found, falling back to default", "preferred", c.preferred)
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Capture, "no input device available")
	}
	return dev, nil
}

func (c *Capturer) readLoop(ctx context.Context, stream *portaudio.Stream, buf []float32, device string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := stream.Read(); err != nil {
			slog.Debug("audio read error", "device", device, "error", err)
			return
		}

		for _, frame := range c.accumulate(buf) {
			select {
			case c.outCh <- frame:
			default:
				slog.Debug("frame buffer full, dropping frame", "device", device)
			}
		}
	}
}

// accumulate regroups read buffers into full frames. Called only from the
// read loop.
func (c *Capturer) accumulate(samples []float32) [][]float32 {
	c.pending = append(c.pending, samples...)

	var frames [][]float32
	for len(c.pending) >= c.frameSize {
		frame := make([]float32, c.frameSize)
		copy(frame, c.pending[:c.frameSize])
		c.pending = c.pending[c.frameSize:]
		frames = append(frames, frame)
	}
	return frames
}

// Stop halts capture and releases the device. Safe to call more than once.
func (c *Capturer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false

	c.cancel()
	_ = c.stream.Stop()
	_ = c.stream.Close()
	c.stream = nil
	_ = portaudio.Terminate()
}

const asciiCaseOffset = 'a' - 'A'

func containsIgnoreCase(s, substr string) bool {
	if len(substr) == 0 {
		return true
	}
	for i := 0; i <= len(s)-len(substr); i++ {
		match := true
		for j := 0; j < len(substr); j++ {
			c1, c2 := s[i+j], substr[j]
			if c1 >= 'A' && c1 <= 'Z' {
				c1 += asciiCaseOffset
			}
			if c2 >= 'A' && c2 <= 'Z' {
				c2 += asciiCaseOffset
			}
			if c1 != c2 {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
