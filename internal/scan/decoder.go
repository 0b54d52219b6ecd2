package scan

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// ErrNoPayload means a decode attempt found nothing to present.
var ErrNoPayload = errors.New("scan: no payload")

// Decoder extracts a credential payload from whatever the device
// captures.  Decode blocks until a payload is found or ctx ends.
type Decoder interface {
	Decode(ctx context.Context) (string, error)
}

// ManualDecoder yields lines typed by the operator.
type ManualDecoder struct {
	lines chan string
}

// NewManualDecoder returns a decoder fed by Feed.
func NewManualDecoder() *ManualDecoder {
	return &ManualDecoder{lines: make(chan string, 16)}
}

// ReadFrom feeds every non-blank line of r until EOF or ctx ends.
func (m *ManualDecoder) ReadFrom(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 64*1024)
	for sc.Scan() {
		if err := m.Feed(ctx, sc.Text()); err != nil {
			return err
		}
	}
	return sc.Err()
}

// Feed queues one line.  Blank lines are ignored.
func (m *ManualDecoder) Feed(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	select {
	case m.lines <- line:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *ManualDecoder) Decode(ctx context.Context) (string, error) {
	select {
	case line := <-m.lines:
		return line, nil
	case <-ctx.Done():
		return "", ErrNoPayload
	}
}

// FrameSource delivers camera frames.
type FrameSource interface {
	Frame(ctx context.Context) (image.Image, error)
}

// ImageDecoder finds a QR code in camera frames.
type ImageDecoder struct {
	src    FrameSource
	reader gozxing.Reader
	hints  map[gozxing.DecodeHintType]interface{}
}

func NewImageDecoder(src FrameSource) *ImageDecoder {
	return &ImageDecoder{
		src:    src,
		reader: qrcode.NewQRCodeReader(),
		hints:  map[gozxing.DecodeHintType]interface{}{gozxing.DecodeHintType_TRY_HARDER: true},
	}
}

// Decode grabs one frame and returns the QR text.  A frame without a
// readable code yields ErrNoPayload.
func (d *ImageDecoder) Decode(ctx context.Context) (string, error) {
	img, err := d.src.Frame(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", ErrNoPayload
		}
		return "", fmt.Errorf("capture frame: %w", err)
	}
	return DecodeImage(d.reader, img, d.hints)
}

// DecodeImage reads a QR code from a single image.
func DecodeImage(reader gozxing.Reader, img image.Image, hints map[gozxing.DecodeHintType]interface{}) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("binarize frame: %w", err)
	}
	res, err := reader.Decode(bmp, hints)
	if err != nil {
		return "", ErrNoPayload
	}
	return res.GetText(), nil
}

// StaticFrames is a FrameSource replaying fixed images, used for files
// given on the command line and in tests.
type StaticFrames struct {
	frames []image.Image
	next   int
}

func NewStaticFrames(frames ...image.Image) *StaticFrames { return &StaticFrames{frames: frames} }

func (s *StaticFrames) Frame(ctx context.Context) (image.Image, error) {
	if s.next >= len(s.frames) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	img := s.frames[s.next]
	s.next++
	return img, nil
}
