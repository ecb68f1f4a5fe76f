package features

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/tphakala/imaging-churn/internal/errors"
)

// ErrDecode marks input that could not be decoded as a DICOM image.
var ErrDecode = errors.NewStd("dicom decode failed")

// DecodeDICOM parses a DICOM stream of size bytes into pixels and metadata.
// All frames of a multi-frame object are concatenated.
func DecodeDICOM(r io.Reader, size int64) (Image, Metadata, error) {
	ds, err := dicom.Parse(r, size, nil)
	if err != nil {
		return Image{}, Metadata{}, decodeError(err)
	}

	meta := Metadata{
		InstitutionName: firstString(ds, tag.InstitutionName),
		Modality:        firstString(ds, tag.Modality),
		SliceThickness:  firstString(ds, tag.SliceThickness),
	}

	img, err := pixelsOf(ds)
	if err != nil {
		return Image{}, Metadata{}, decodeError(err)
	}

	return img, meta, nil
}

// DecodeDICOMBytes decodes an in-memory DICOM object.
func DecodeDICOMBytes(data []byte) (Image, Metadata, error) {
	return DecodeDICOM(bytes.NewReader(data), int64(len(data)))
}

// DecodeDICOMFile decodes the DICOM file at path.
func DecodeDICOMFile(path string) (Image, Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Image{}, Metadata{}, errors.New(err).
			Component("features").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Image{}, Metadata{}, errors.FileError(err, path, 0)
	}

	return DecodeDICOM(f, info.Size())
}

func decodeError(err error) error {
	return errors.New(fmt.Errorf("%w: %w", ErrDecode, err)).
		Component("features").
		Category(errors.CategoryImageDecode).
		Build()
}

// firstString returns the first string value of tag t or "" when missing.
func firstString(ds dicom.Dataset, t tag.Tag) string {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem == nil || elem.Value == nil {
		return ""
	}
	values, ok := elem.Value.GetValue().([]string)
	if !ok || len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func pixelsOf(ds dicom.Dataset) (Image, error) {
	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return Image{}, fmt.Errorf("missing pixel data: %w", err)
	}

	info, ok := elem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return Image{}, fmt.Errorf("unexpected pixel data value %T", elem.Value.GetValue())
	}
	if len(info.Frames) == 0 {
		return Image{}, fmt.Errorf("pixel data has no frames")
	}

	var out Image
	for i := range info.Frames {
		frameImg, err := info.Frames[i].GetImage()
		if err != nil {
			return Image{}, fmt.Errorf("frame %d: %w", i, err)
		}
		b := frameImg.Bounds()
		if out.Pixels == nil {
			out.Rows, out.Cols = b.Dy(), b.Dx()
			out.Pixels = make([]uint16, 0, b.Dx()*b.Dy()*len(info.Frames))
		} else {
			out.Rows += b.Dy()
		}
		out.Pixels = appendGray16(out.Pixels, frameImg)
	}

	if len(out.Pixels) == 0 {
		return Image{}, ErrEmptyImage
	}
	return out, nil
}

// appendGray16 appends the samples of img in row-major order.
func appendGray16(dst []uint16, img image.Image) []uint16 {
	b := img.Bounds()
	switch src := img.(type) {
	case *image.Gray16:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				dst = append(dst, src.Gray16At(x, y).Y)
			}
		}
	case *image.Gray:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				dst = append(dst, uint16(src.GrayAt(x, y).Y))
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				dst = append(dst, color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
			}
		}
	}
	return dst
}
