package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/skywisej/qr-music-card-maker/internal/shared"
)

// ErrNoCode means a frame held no readable QR code. The scanner keeps going when it sees it.
var ErrNoCode = errors.New("no QR code in frame")

const (
	DecoderAuto     = "auto"
	DecoderNative   = "native"
	DecoderSoftware = "software"

	zbarBinary = "zbarimg"
)

// Decoder extracts a QR payload from an image frame.
type Decoder interface {
	Name() string
	Decode(ctx context.Context, frame Frame) (string, error)
}

// NewDecoder returns the decoder for kind.
//
// "auto" prefers the platform's zbarimg when it is installed and falls back to the bundled decoder.
func NewDecoder(kind string) (Decoder, error) {
	switch strings.ToLower(kind) {
	case "", DecoderAuto:
		if path, err := exec.LookPath(zbarBinary); err == nil {
			return &NativeDecoder{Path: path}, nil
		}
		return &SoftwareDecoder{}, nil
	case DecoderNative:
		path, err := exec.LookPath(zbarBinary)
		if err != nil {
			return nil, fmt.Errorf("%w: scanner.decoder = native but %s is not installed", shared.ErrInvalidConfig, zbarBinary)
		}
		return &NativeDecoder{Path: path}, nil
	case DecoderSoftware:
		return &SoftwareDecoder{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown scanner.decoder %q", shared.ErrInvalidConfig, kind)
	}
}

// SoftwareDecoder decodes QR codes in-process.
type SoftwareDecoder struct{}

func (d *SoftwareDecoder) Name() string { return DecoderSoftware }

func (d *SoftwareDecoder) Decode(ctx context.Context, frame Frame) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	img, _, err := image.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCode, err)
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCode, err)
	}

	result, err := qrcode.NewQRCodeReader().Decode(bmp, map[gozxing.DecodeHintType]any{
		gozxing.DecodeHintType_TRY_HARDER: true,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCode, err)
	}
	return result.GetText(), nil
}

// NativeDecoder shells out to zbarimg.
type NativeDecoder struct {
	Path string
}

func (d *NativeDecoder) Name() string { return DecoderNative }

func (d *NativeDecoder) Decode(ctx context.Context, frame Frame) (string, error) {
	path := frame.Path
	if path == "" {
		tmp, err := os.CreateTemp("", "qrdeck-frame-*")
		if err != nil {
			return "", err
		}
		defer os.Remove(tmp.Name())

		if _, err := tmp.Write(frame.Data); err != nil {
			tmp.Close()
			return "", err
		}
		if err := tmp.Close(); err != nil {
			return "", err
		}
		path = tmp.Name()
	}

	out, err := exec.CommandContext(ctx, d.Path, "--quiet", "--raw", "-Sdisable", "-Sqrcode.enable", path).Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// zbarimg exits 4 when the image has no symbol and 2 when it cannot read the image.
			return "", fmt.Errorf("%w: zbarimg exit %d", ErrNoCode, exitErr.ExitCode())
		}
		return "", fmt.Errorf("failed to run %s: %w", d.Path, err)
	}

	payload, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	if payload == "" {
		return "", ErrNoCode
	}
	return payload, nil
}
