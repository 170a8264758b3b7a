package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"
	"sync/atomic"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/go-resty/resty/v2"
)

const snapshotTimeout = 30 * time.Second

// HTTPCamera is a MediaDevice backed by an IP-camera snapshot endpoint
// (e.g. the /shot.jpg URL exposed by phone webcam apps). The facing value is
// passed along as a query parameter so multi-lens endpoints can switch.
type HTTPCamera struct {
	client      *resty.Client
	snapshotURL string
}

// NewHTTPCamera creates a camera polling the given snapshot URL.
func NewHTTPCamera(snapshotURL string) *HTTPCamera {
	return &HTTPCamera{
		client:      resty.New().SetDebug(false).SetTimeout(snapshotTimeout),
		snapshotURL: snapshotURL,
	}
}

// Open probes the endpoint once and returns a stream bound to it. A probe
// failure is a DeviceUnavailable condition, same as a denied permission.
func (c *HTTPCamera) Open(ctx context.Context, facing Facing) (Stream, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("facing", string(facing)).
		Get(c.snapshotURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("%w: snapshot endpoint returned status %d", ErrDeviceUnavailable, resp.StatusCode())
	}
	return &httpStream{camera: c, facing: facing}, nil
}

type httpStream struct {
	camera  *HTTPCamera
	facing  Facing
	stopped atomic.Bool
}

// Frame fetches and decodes the current snapshot.
func (s *httpStream) Frame(ctx context.Context) (image.Image, error) {
	if s.stopped.Load() {
		return nil, fmt.Errorf("stream is stopped")
	}

	resp, err := s.camera.client.R().
		SetContext(ctx).
		SetQueryParam("facing", string(s.facing)).
		Get(s.camera.snapshotURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("snapshot fetch failed: status %d", resp.StatusCode())
	}

	contentType := resp.Header().Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("invalid content type: expected image/*, got %s", contentType)
	}

	img, _, err := image.Decode(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return img, nil
}

func (s *httpStream) Stop() {
	s.stopped.Store(true)
}
