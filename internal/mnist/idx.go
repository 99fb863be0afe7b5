package mnist

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	imagesMagic = 0x00000803 // unsigned byte, 3 dims
	labelsMagic = 0x00000801 // unsigned byte, 1 dim

	// MaxSamples caps the count a header may declare before anything is
	// allocated for it.
	MaxSamples = 1 << 20
)

// ReadImages parses an IDX3 image file. Each returned sample is ImgSize*ImgSize
// raw bytes in row-major order.
func ReadImages(r io.Reader) ([][]byte, error) {
	br := bufio.NewReader(r)
	var hdr [4]uint32
	if err := binary.Read(br, binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read image header: %w", err)
	}
	if hdr[0] != imagesMagic {
		return nil, fmt.Errorf("bad image magic %#08x", hdr[0])
	}
	n, rows, cols := int(hdr[1]), int(hdr[2]), int(hdr[3])
	if rows != ImgSize || cols != ImgSize {
		return nil, fmt.Errorf("unexpected image size %dx%d, want %dx%d", rows, cols, ImgSize, ImgSize)
	}
	if hdr[1] > MaxSamples {
		return nil, fmt.Errorf("image count %d exceeds limit %d", hdr[1], MaxSamples)
	}
	buf := make([]byte, n*rows*cols)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, fmt.Errorf("read %d images: %w", n, err)
	}
	out := make([][]byte, n)
	for i := range out {
		out[i] = buf[i*rows*cols : (i+1)*rows*cols : (i+1)*rows*cols]
	}
	return out, nil
}

// ReadLabels parses an IDX1 label file.
func ReadLabels(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)
	var hdr [2]uint32
	if err := binary.Read(br, binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read label header: %w", err)
	}
	if hdr[0] != labelsMagic {
		return nil, fmt.Errorf("bad label magic %#08x", hdr[0])
	}
	if hdr[1] > MaxSamples {
		return nil, fmt.Errorf("label count %d exceeds limit %d", hdr[1], MaxSamples)
	}
	out := make([]byte, int(hdr[1]))
	if _, err := io.ReadFull(br, out); err != nil {
		return nil, fmt.Errorf("read %d labels: %w", len(out), err)
	}
	for i, l := range out {
		if int(l) >= NumClasses {
			return nil, fmt.Errorf("label %d at index %d out of range", l, i)
		}
	}
	return out, nil
}

// WriteImages encodes samples as an IDX3 image file.
func WriteImages(w io.Writer, images [][]byte) error {
	hdr := [4]uint32{imagesMagic, uint32(len(images)), ImgSize, ImgSize}
	if err := binary.Write(w, binary.BigEndian, hdr); err != nil {
		return err
	}
	for i, img := range images {
		if len(img) != ImgSize*ImgSize {
			return fmt.Errorf("image %d has %d bytes, want %d", i, len(img), ImgSize*ImgSize)
		}
		if _, err := w.Write(img); err != nil {
			return err
		}
	}
	return nil
}

// WriteLabels encodes labels as an IDX1 label file.
func WriteLabels(w io.Writer, labels []byte) error {
	hdr := [2]uint32{labelsMagic, uint32(len(labels))}
	if err := binary.Write(w, binary.BigEndian, hdr); err != nil {
		return err
	}
	_, err := w.Write(labels)
	return err
}
