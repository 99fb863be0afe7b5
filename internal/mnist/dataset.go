// Package mnist reads the MNIST handwritten digit dataset from IDX files.
//
// The four files are looked up in a directory, gzip-compressed (.gz) first and
// raw second:
//
//	train-images-idx3-ubyte  train-labels-idx1-ubyte
//	t10k-images-idx3-ubyte   t10k-labels-idx1-ubyte
package mnist

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"mnistd/internal/common/fsutil"
)

const (
	// ImgSize is the side length of a sample in pixels.
	ImgSize = 28
	// NumClasses is the number of digit classes.
	NumClasses = 10
)

const (
	trainImages = "train-images-idx3-ubyte"
	trainLabels = "train-labels-idx1-ubyte"
	testImages  = "t10k-images-idx3-ubyte"
	testLabels  = "t10k-labels-idx1-ubyte"
)

// SHA-256 of the canonical gzip files.
var gzDigests = map[string]string{
	testImages + ".gz":  "8d422c7b0a1c1c79245a5bcf07fe86e33eeafee792b84584aec276f5a2dbc4e6",
	testLabels + ".gz":  "f7ae60f92e00ec6debd23a6088c31dbd2371eca3ffa0defaefb259924204aec6",
	trainImages + ".gz": "440fcabf73cc546fa21475e81ea370265605f56be210a4024d2ca8f203523609",
	trainLabels + ".gz": "3552534a0a558bbed6aed32b30c495cca23d567ec52cac8be1a0730e8010255c",
}

// Split is a set of images with their labels, index-aligned.
type Split struct {
	Images [][]byte
	Labels []byte
}

// Len returns the number of samples.
func (s Split) Len() int { return len(s.Labels) }

// Holdout returns the leading (1-fraction) of the split for training and the
// trailing fraction for validation. The split is not shuffled first.
func (s Split) Holdout(fraction float64) (train, val Split) {
	n := s.Len()
	cut := n - int(float64(n)*fraction)
	if cut < 0 {
		cut = 0
	}
	train = Split{Images: s.Images[:cut], Labels: s.Labels[:cut]}
	val = Split{Images: s.Images[cut:], Labels: s.Labels[cut:]}
	return train, val
}

// Dataset is the train/test pair.
type Dataset struct {
	Train Split
	Test  Split
}

// Options controls Load.
type Options struct {
	// VerifyChecksums checks .gz files against the canonical digests.
	// Raw (uncompressed) files are never checked.
	VerifyChecksums bool
}

// Load reads the dataset from dir.
func Load(dir string, opts Options) (*Dataset, error) {
	dir, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	var ds Dataset
	if ds.Train, err = loadSplit(dir, trainImages, trainLabels, opts); err != nil {
		return nil, fmt.Errorf("train split: %w", err)
	}
	if ds.Test, err = loadSplit(dir, testImages, testLabels, opts); err != nil {
		return nil, fmt.Errorf("test split: %w", err)
	}
	return &ds, nil
}

func loadSplit(dir, imagesName, labelsName string, opts Options) (Split, error) {
	var s Split
	err := withFile(dir, imagesName, opts, func(r io.Reader) (err error) {
		s.Images, err = ReadImages(r)
		return err
	})
	if err != nil {
		return s, err
	}
	err = withFile(dir, labelsName, opts, func(r io.Reader) (err error) {
		s.Labels, err = ReadLabels(r)
		return err
	})
	if err != nil {
		return s, err
	}
	if len(s.Images) != len(s.Labels) {
		return s, fmt.Errorf("%d images but %d labels", len(s.Images), len(s.Labels))
	}
	return s, nil
}

// withFile opens name (or name.gz) in dir and hands fn a decompressed reader.
func withFile(dir, name string, opts Options, fn func(io.Reader) error) error {
	gz := filepath.Join(dir, name+".gz")
	p := fsutil.FirstExisting(gz, filepath.Join(dir, name))
	if p == "" {
		return fmt.Errorf("file '%s' does not exist (also tried .gz)", filepath.Join(dir, name))
	}
	compressed := strings.HasSuffix(p, ".gz")
	if compressed && opts.VerifyChecksums {
		if err := verifyDigest(p, gzDigests[filepath.Base(p)]); err != nil {
			return err
		}
	}
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	var r io.Reader = f
	if compressed {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("gzip file '%s': %w", p, err)
		}
		defer zr.Close()
		r = zr
	}
	if err := fn(r); err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	return nil
}

func verifyDigest(path, want string) error {
	if want == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash file '%s': %w", path, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != want {
		return fmt.Errorf("file hash for '%s' is incorrect: %s", path, got)
	}
	return nil
}

// Normalize writes img scaled into [0,1] into dst, which must hold
// ImgSize*ImgSize values. The layout is (28,28,1), identical in memory to
// (1,28,28) for a single channel.
func Normalize(dst []float32, img []byte) {
	for i, px := range img {
		dst[i] = float32(px) / 255
	}
}
