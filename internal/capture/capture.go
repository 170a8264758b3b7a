package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrDeviceUnavailable means the camera could not be acquired: permission
// denied, no device present, or the device endpoint is unreachable.
var ErrDeviceUnavailable = errors.New("camera unavailable")

// Facing selects which camera to acquire.
type Facing string

const (
	FacingEnvironment Facing = "environment"
	FacingUser        Facing = "user"
)

// Stream is a live video stream. Stop releases all underlying hardware
// tracks and must be safe to call more than once.
type Stream interface {
	// Frame returns the current video frame at native resolution.
	Frame(ctx context.Context) (image.Image, error)
	Stop()
}

// MediaDevice is the device media boundary. Open blocks until the stream is
// acquired or the acquisition fails.
type MediaDevice interface {
	Open(ctx context.Context, facing Facing) (Stream, error)
}

// SessionState is the capture flow state.
type SessionState int

const (
	StateClosed SessionState = iota
	StateStarting
	StateStreaming
	StateCaptured
)

func (s SessionState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateCaptured:
		return "captured"
	default:
		return "unknown"
	}
}

// Session drives the capture flow for one slot (front or back):
//
//	Closed -> Starting -> Streaming -> Captured -> Accepted (Closed)
//	                                            -> Retake   (Streaming)
//	                                            -> Close    (Closed)
//
// Starting may fail straight back to Closed with ErrDeviceUnavailable.
// The stream is exclusively owned by the session and is stopped on every
// exit path; Close is idempotent and synchronous.
type Session struct {
	device MediaDevice
	slot   string

	mu      sync.Mutex
	state   SessionState
	stream  Stream
	pending *RawImage
}

// NewSession creates a capture session for the given slot label ("front" or
// "back"). The slot only names the captured file and log events.
func NewSession(device MediaDevice, slot string) *Session {
	return &Session{device: device, slot: slot, state: StateClosed}
}

// State returns the current flow state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open acquires the camera stream. Only valid from Closed.
func (s *Session) Open(ctx context.Context, facing Facing) error {
	s.mu.Lock()
	if s.state != StateClosed {
		s.mu.Unlock()
		return fmt.Errorf("cannot open capture session in state %s", s.state)
	}
	s.state = StateStarting
	s.mu.Unlock()

	stream, err := s.device.Open(ctx, facing)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.state = StateClosed
		log.Warn().Err(err).Str("slot", s.slot).Msg("camera acquisition failed")
		if errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	// Session was closed while the device was still being acquired; release
	// the stream immediately rather than leaking it.
	if s.state != StateStarting {
		stream.Stop()
		return fmt.Errorf("%w: session closed during acquisition", ErrDeviceUnavailable)
	}

	s.stream = stream
	s.state = StateStreaming
	log.Debug().Str("slot", s.slot).Str("facing", string(facing)).Msg("camera stream acquired")
	return nil
}

// Capture grabs the current frame and moves to Captured, returning the
// encoded still for preview. Only valid from Streaming.
func (s *Session) Capture(ctx context.Context) (RawImage, error) {
	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return RawImage{}, fmt.Errorf("cannot capture in state %s", s.state)
	}
	stream := s.stream
	s.mu.Unlock()

	frame, err := stream.Frame(ctx)
	if err != nil {
		return RawImage{}, fmt.Errorf("failed to read video frame: %w", err)
	}

	img, err := encodeFrame(frame, s.slot+"-capture.jpg")
	if err != nil {
		return RawImage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStreaming {
		// Closed while encoding; the stream owner already cleaned up.
		return RawImage{}, fmt.Errorf("capture session closed")
	}
	s.pending = &img
	s.state = StateCaptured
	return img, nil
}

// Retake discards the pending still and returns to Streaming.
func (s *Session) Retake() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCaptured {
		return fmt.Errorf("cannot retake in state %s", s.state)
	}
	s.pending = nil
	s.state = StateStreaming
	return nil
}

// Accept hands over the pending still and closes the session, stopping the
// stream before returning.
func (s *Session) Accept() (RawImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCaptured || s.pending == nil {
		return RawImage{}, fmt.Errorf("cannot accept in state %s", s.state)
	}
	img := *s.pending
	s.closeLocked()
	return img, nil
}

// Close cancels the flow and releases the stream. Safe to call from any
// state, any number of times; the stream is stopped before Close returns.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	if s.stream != nil {
		s.stream.Stop()
		s.stream = nil
		log.Debug().Str("slot", s.slot).Msg("camera stream released")
	}
	s.pending = nil
	s.state = StateClosed
}
