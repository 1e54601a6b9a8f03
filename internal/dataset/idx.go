package dataset

import (
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"

	"mnist-forge/internal/vector"
)

const (
	TrainImagesFile = "train-images-idx3-ubyte.gz"
	TrainLabelsFile = "train-labels-idx1-ubyte.gz"
	TestImagesFile  = "t10k-images-idx3-ubyte.gz"
	TestLabelsFile  = "t10k-labels-idx1-ubyte.gz"

	imagesMagic = 2051
	labelsMagic = 2049
)

// IDXFiles lists the four files LoadIDX expects in a directory.
var IDXFiles = []string{TrainImagesFile, TrainLabelsFile, TestImagesFile, TestLabelsFile}

func parseIDXImages(raw []byte) (count, features int, pixels []byte, err error) {
	if len(raw) < 16 {
		return 0, 0, nil, fmt.Errorf("%w: image header", ErrTruncated)
	}
	if magic := binary.BigEndian.Uint32(raw[0:4]); magic != imagesMagic {
		return 0, 0, nil, fmt.Errorf("dataset: image magic %d, want %d", magic, imagesMagic)
	}
	n := uint64(binary.BigEndian.Uint32(raw[4:8]))
	rows := uint64(binary.BigEndian.Uint32(raw[8:12]))
	cols := uint64(binary.BigEndian.Uint32(raw[12:16]))
	if rows == 0 || cols == 0 {
		return 0, 0, nil, fmt.Errorf("dataset: image dimensions %dx%d", rows, cols)
	}
	size := rows * cols
	if size > math.MaxInt {
		return 0, 0, nil, fmt.Errorf("dataset: image dimensions %dx%d too large", rows, cols)
	}
	pixels = raw[16:]
	// n*size could wrap, so compare against the per-image share of the payload.
	if n > 0 && size > uint64(len(pixels))/n {
		return 0, 0, nil, fmt.Errorf("%w: have %d pixels, need %d images of %d", ErrTruncated, len(pixels), n, size)
	}
	count, features = int(n), int(size)
	return count, features, pixels, nil
}

func parseIDXLabels(raw []byte) ([]byte, error) {
	if len(raw) < 8 {
		return nil, fmt.Errorf("%w: label header", ErrTruncated)
	}
	if magic := binary.BigEndian.Uint32(raw[0:4]); magic != labelsMagic {
		return nil, fmt.Errorf("dataset: label magic %d, want %d", magic, labelsMagic)
	}
	count := uint64(binary.BigEndian.Uint32(raw[4:8]))
	labels := raw[8:]
	if uint64(len(labels)) < count {
		return nil, fmt.Errorf("%w: have %d labels, need %d", ErrTruncated, len(labels), count)
	}
	return labels[:count], nil
}

func loadIDXSplit(imagesPath, labelsPath string, classes int) ([]vector.Vector, []vector.Vector, error) {
	rawImages, err := readGzip(imagesPath)
	if err != nil {
		return nil, nil, err
	}
	rawLabels, err := readGzip(labelsPath)
	if err != nil {
		return nil, nil, err
	}
	count, features, pixels, err := parseIDXImages(rawImages)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", imagesPath, err)
	}
	labels, err := parseIDXLabels(rawLabels)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", labelsPath, err)
	}
	if len(labels) != count {
		return nil, nil, fmt.Errorf("dataset: %d images but %d labels", count, len(labels))
	}
	ys, err := decodeLabels(labels, count, classes)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", labelsPath, err)
	}
	return decodeImages(pixels, count, features), ys, nil
}

// LoadIDX reads the standard four gzip IDX files from dir.
func LoadIDX(dir string, classes int) (*Set, error) {
	if classes <= 0 {
		return nil, fmt.Errorf("dataset: classes must be > 0 (got %d)", classes)
	}
	set := &Set{}
	var err error
	set.TrainX, set.TrainY, err = loadIDXSplit(filepath.Join(dir, TrainImagesFile), filepath.Join(dir, TrainLabelsFile), classes)
	if err != nil {
		return nil, err
	}
	set.TestX, set.TestY, err = loadIDXSplit(filepath.Join(dir, TestImagesFile), filepath.Join(dir, TestLabelsFile), classes)
	if err != nil {
		return nil, err
	}
	return set, nil
}
