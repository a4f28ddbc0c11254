package frame

import (
	"bytes"
	"image"
	"image/jpeg"
	"io"
)

// ToImage wraps the frame's pixel data in a stdlib image. Color frames are
// converted BGR to RGBA.
func (f *Frame) ToImage() (image.Image, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	rect := image.Rect(0, 0, f.Width, f.Height)

	if f.Channels == 1 {
		img := image.NewGray(rect)
		copy(img.Pix, f.Pix)
		return img, nil
	}

	img := image.NewRGBA(rect)
	for i, j := 0, 0; i < len(f.Pix); i, j = i+3, j+4 {
		img.Pix[j] = f.Pix[i+2]
		img.Pix[j+1] = f.Pix[i+1]
		img.Pix[j+2] = f.Pix[i]
		img.Pix[j+3] = 255
	}
	return img, nil
}

// EncodeJPEG writes the frame as JPEG to w.
func (f *Frame) EncodeJPEG(w io.Writer, quality int) error {
	img, err := f.ToImage()
	if err != nil {
		return err
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
}

// JPEGBytes returns the frame encoded as JPEG.
func (f *Frame) JPEGBytes(quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := f.EncodeJPEG(&buf, quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
