package validator

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		img.SetGray(x, x%height, color.Gray{Y: 200})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func upload(data []byte, contentType, filename string) RawUpload {
	return RawUpload{Data: data, ContentType: contentType, Filename: filename, Size: int64(len(data))}
}

func assertKind(t *testing.T, err, kind error) *ValidationError {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	return vErr
}

func TestValidateAcceptsEachFamily(t *testing.T) {
	rgba := image.NewRGBA(image.Rect(0, 0, 120, 140))
	draw.Draw(rgba, rgba.Bounds(), image.NewUniform(color.RGBA{R: 180, G: 120, B: 90, A: 255}), image.Point{}, draw.Src)

	var bmpBuf, tiffBuf bytes.Buffer
	if err := bmp.Encode(&bmpBuf, rgba); err != nil {
		t.Fatalf("encode bmp: %v", err)
	}
	if err := tiff.Encode(&tiffBuf, rgba, nil); err != nil {
		t.Fatalf("encode tiff: %v", err)
	}

	cases := []struct {
		name        string
		data        []byte
		contentType string
		filename    string
		wantType    string
	}{
		{"png", encodePNG(t, 120, 140), "image/png", "mole.png", "image/png"},
		{"jpeg upper ext", encodeJPEG(t, 120, 140), "image/jpeg", "MOLE.JPG", "image/jpeg"},
		{"jpeg alias", encodeJPEG(t, 120, 140), "image/jpg; charset=binary", "mole.jpeg", "image/jpeg"},
		{"bmp", bmpBuf.Bytes(), "image/x-ms-bmp", "mole.bmp", "image/bmp"},
		{"tiff", tiffBuf.Bytes(), "image/tiff", "mole.tif", "image/tiff"},
	}

	v := New(0)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			img, err := v.Validate(upload(tc.data, tc.contentType, tc.filename))
			if err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if img.Width != 120 || img.Height != 140 {
				t.Fatalf("unexpected dimensions %dx%d", img.Width, img.Height)
			}
			if img.Filename != tc.filename {
				t.Fatalf("expected filename %q, got %q", tc.filename, img.Filename)
			}
			if img.ContentType != tc.wantType {
				t.Fatalf("expected content type %s, got %s", tc.wantType, img.ContentType)
			}
			if img.Decoded == nil {
				t.Fatal("expected decoded image")
			}
		})
	}
}

func TestValidateMissingFile(t *testing.T) {
	v := New(0)
	data := encodePNG(t, 120, 120)

	for name, raw := range map[string]RawUpload{
		"empty payload":  upload(nil, "image/png", "a.png"),
		"blank filename": upload(data, "image/png", "   "),
		"zero size":      {Data: data, ContentType: "image/png", Filename: "a.png"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Validate(raw)
			assertKind(t, err, ErrMissingFile)
		})
	}
}

func TestValidateFileTooLarge(t *testing.T) {
	v := New(1024)
	_, err := v.Validate(upload(bytes.Repeat([]byte{0xff}, 2048), "image/gif", "a.gif"))
	assertKind(t, err, ErrFileTooLarge)
}

func TestValidateUnsupportedType(t *testing.T) {
	_, err := New(0).Validate(upload([]byte("GIF89a"), "image/gif", "a.gif"))
	assertKind(t, err, ErrUnsupportedType)
}

func TestValidateTypeExtensionMismatch(t *testing.T) {
	_, err := New(0).Validate(upload(encodePNG(t, 120, 120), "image/png", "photo.jpg"))
	assertKind(t, err, ErrTypeExtensionMismatch)
}

func TestValidateCorruptImage(t *testing.T) {
	v := New(0)

	_, err := v.Validate(upload([]byte("definitely not pixels"), "image/png", "a.png"))
	assertKind(t, err, ErrCorruptImage)

	// A real JPEG declared as PNG is not an image of the declared family.
	_, err = v.Validate(upload(encodeJPEG(t, 120, 120), "image/png", "a.png"))
	assertKind(t, err, ErrCorruptImage)

	truncated := encodePNG(t, 120, 120)
	truncated = truncated[:len(truncated)/2]
	_, err = v.Validate(upload(truncated, "image/png", "a.png"))
	assertKind(t, err, ErrCorruptImage)
}

func TestValidateDimensionBounds(t *testing.T) {
	v := New(0)

	_, err := v.Validate(upload(encodePNG(t, 50, 50), "image/png", "small.png"))
	vErr := assertKind(t, err, ErrDimensionOutOfRange)
	if vErr.Bound != BoundTooSmall || vErr.Width != 50 || vErr.Height != 50 {
		t.Fatalf("unexpected payload: %+v", vErr)
	}

	_, err = v.Validate(upload(encodePNG(t, 5000, 5000), "image/png", "large.png"))
	vErr = assertKind(t, err, ErrDimensionOutOfRange)
	if vErr.Bound != BoundTooLarge {
		t.Fatalf("expected too_large, got %s", vErr.Bound)
	}

	for _, dims := range [][2]int{{100, 100}, {4096, 100}, {100, 4096}} {
		if _, err := v.Validate(upload(encodePNG(t, dims[0], dims[1]), "image/png", "edge.png")); err != nil {
			t.Fatalf("%v should be accepted, got %v", dims, err)
		}
	}
}

func TestValidateInvalidFilename(t *testing.T) {
	v := New(0)
	data := encodePNG(t, 120, 120)

	for _, name := range []string{
		`bad|name.png`,
		`what?.png`,
		`quote".png`,
		strings.Repeat("a", 252) + ".png",
		"tab\tname.png",
	} {
		_, err := v.Validate(upload(data, "image/png", name))
		assertKind(t, err, ErrInvalidFilename)
	}
}

func TestValidateStripsPathComponents(t *testing.T) {
	v := New(0)
	data := encodePNG(t, 120, 120)

	for input, want := range map[string]string{
		"../../etc/lesion.png":      "lesion.png",
		`C:\Users\me\Desktop\a.png`: "a.png",
	} {
		img, err := v.Validate(upload(data, "image/png", input))
		if err != nil {
			t.Fatalf("%q: unexpected error %v", input, err)
		}
		if img.Filename != want {
			t.Fatalf("%q: expected %q, got %q", input, want, img.Filename)
		}
	}
}

func TestSanitizeFilenameRejectsDotNames(t *testing.T) {
	for _, name := range []string{"..", "dir/.", "trailing/"} {
		if _, err := SanitizeFilename(name); !errors.Is(err, ErrInvalidFilename) {
			t.Fatalf("%q: expected ErrInvalidFilename, got %v", name, err)
		}
	}
}
