package capture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type fakeStream struct {
	mu        sync.Mutex
	stopCount int
	frame     image.Image
}

func (s *fakeStream) Frame(ctx context.Context) (image.Image, error) {
	return s.frame, nil
}

func (s *fakeStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCount++
}

func (s *fakeStream) stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCount
}

type fakeDevice struct {
	stream  *fakeStream
	openErr error
	block   chan struct{} // when set, Open waits until closed
}

func (d *fakeDevice) Open(ctx context.Context, facing Facing) (Stream, error) {
	if d.block != nil {
		<-d.block
	}
	if d.openErr != nil {
		return nil, d.openErr
	}
	return d.stream, nil
}

func testFrame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 32), G: uint8(y * 32), B: 128, A: 255})
		}
	}
	return img
}

func newTestDevice() (*fakeDevice, *fakeStream) {
	stream := &fakeStream{frame: testFrame()}
	return &fakeDevice{stream: stream}, stream
}

func TestSession_DeniedDevice(t *testing.T) {
	device := &fakeDevice{openErr: fmt.Errorf("%w: permission denied", ErrDeviceUnavailable)}
	session := NewSession(device, "front")

	err := session.Open(context.Background(), FacingEnvironment)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	// Failure lands back in Closed; there is no image to accept.
	assert.Equal(t, StateClosed, session.State())
	_, err = session.Accept()
	assert.Error(t, err)
}

func TestSession_UnclassifiedOpenErrorBecomesDeviceUnavailable(t *testing.T) {
	device := &fakeDevice{openErr: fmt.Errorf("usb enumeration failed")}
	session := NewSession(device, "front")

	err := session.Open(context.Background(), FacingEnvironment)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestSession_CaptureAcceptReleasesStream(t *testing.T) {
	device, stream := newTestDevice()
	session := NewSession(device, "front")

	require.NoError(t, session.Open(context.Background(), FacingEnvironment))
	assert.Equal(t, StateStreaming, session.State())

	preview, err := session.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCaptured, session.State())
	assert.True(t, strings.HasPrefix(preview.Preview, "data:image/jpeg;base64,"))

	img, err := session.Accept()
	require.NoError(t, err)
	assert.Equal(t, StateClosed, session.State())
	assert.Equal(t, 1, stream.stops(), "accept must stop the stream")

	assert.Equal(t, "image/jpeg", img.MIMEType)
	assert.NotEmpty(t, img.Payload)
	assert.Equal(t, "front-capture.jpg", img.Filename)
}

func TestSession_Retake(t *testing.T) {
	device, stream := newTestDevice()
	session := NewSession(device, "back")

	require.NoError(t, session.Open(context.Background(), FacingEnvironment))
	_, err := session.Capture(context.Background())
	require.NoError(t, err)

	require.NoError(t, session.Retake())
	assert.Equal(t, StateStreaming, session.State())
	assert.Zero(t, stream.stops(), "retake keeps the stream alive")

	_, err = session.Capture(context.Background())
	require.NoError(t, err)
	_, err = session.Accept()
	require.NoError(t, err)
	assert.Equal(t, 1, stream.stops())
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	device, stream := newTestDevice()
	session := NewSession(device, "front")

	require.NoError(t, session.Open(context.Background(), FacingEnvironment))
	session.Close()
	assert.Equal(t, StateClosed, session.State())
	assert.Equal(t, 1, stream.stops())

	session.Close()
	assert.Equal(t, 1, stream.stops(), "double close must not double-stop")
}

func TestSession_CloseWhileStartingReleasesLateStream(t *testing.T) {
	device, stream := newTestDevice()
	device.block = make(chan struct{})
	session := NewSession(device, "front")

	errCh := make(chan error, 1)
	go func() {
		errCh <- session.Open(context.Background(), FacingEnvironment)
	}()

	// Wait for the session to enter Starting, then close it from under the
	// in-flight acquisition.
	require.Eventually(t, func() bool { return session.State() == StateStarting },
		waitFor, tick)
	session.Close()

	close(device.block)
	err := <-errCh
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Equal(t, StateClosed, session.State())
	assert.Equal(t, 1, stream.stops(), "late-arriving stream must be stopped")
}

func TestSession_OpenTwiceRejected(t *testing.T) {
	device, _ := newTestDevice()
	session := NewSession(device, "front")

	require.NoError(t, session.Open(context.Background(), FacingEnvironment))
	defer session.Close()

	err := session.Open(context.Background(), FacingEnvironment)
	assert.Error(t, err)
}

func TestFromUserFile(t *testing.T) {
	img, err := FromUserFile([]byte{0x89, 0x50, 0x4E, 0x47}, "image/png", "card-front.png")
	require.NoError(t, err)

	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, "card-front.png", img.Filename)
	assert.True(t, strings.HasPrefix(img.Preview, "data:image/png;base64,"))
}

func TestFromUserFile_RejectsUnsupportedTypes(t *testing.T) {
	for _, mimeType := range []string{"image/gif", "image/tiff", "application/pdf", ""} {
		_, err := FromUserFile([]byte("data"), mimeType, "file")
		assert.Error(t, err, "expected rejection for %q", mimeType)
	}
	for _, mimeType := range []string{"image/png", "image/jpeg", "image/webp"} {
		_, err := FromUserFile([]byte("data"), mimeType, "file")
		assert.NoError(t, err, "expected %q to be accepted", mimeType)
	}
}

// A captured still and an uploaded file are structurally interchangeable:
// both carry payload, preview, media type and filename.
func TestCapturedAndUploadedImagesInterchangeable(t *testing.T) {
	device, _ := newTestDevice()
	session := NewSession(device, "front")
	require.NoError(t, session.Open(context.Background(), FacingEnvironment))
	_, err := session.Capture(context.Background())
	require.NoError(t, err)
	captured, err := session.Accept()
	require.NoError(t, err)

	uploaded, err := FromUserFile(captured.Payload, "image/jpeg", "front.jpg")
	require.NoError(t, err)

	assert.Equal(t, captured.Payload, uploaded.Payload)
	assert.Equal(t, captured.Preview, uploaded.Preview)
	assert.Equal(t, captured.MIMEType, uploaded.MIMEType)
}
