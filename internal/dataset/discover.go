package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// Format identifies how a located dataset is stored.
type Format string

const (
	FormatBlob Format = "blob"
	FormatIDX  Format = "idx"
)

// ErrNotFound indicates no dataset was discovered under the searched roots.
var ErrNotFound = errors.New("dataset: not found")

var blobRegexp = regexp.MustCompile(`^mnist.*\.(bin|dat)\.gz$`)

// DiscoverBlobs returns paths to packed blob files beneath root.
func DiscoverBlobs(root string) ([]string, error) {
	entries := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if blobRegexp.MatchString(d.Name()) {
			entries = append(entries, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover blobs: %w", err)
	}
	sort.Strings(entries)
	return entries, nil
}

// HasIDX reports whether dir holds all four IDX files.
func HasIDX(dir string) bool {
	for _, name := range IDXFiles {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.IsDir() {
			return false
		}
	}
	return true
}

// Locate searches roots in order. A root holding the IDX files wins over
// blobs found beneath it; otherwise the first blob in lexical order is used.
// Missing roots are skipped.
func Locate(roots ...string) (string, Format, error) {
	for _, root := range roots {
		if root == "" {
			continue
		}
		info, err := os.Stat(root)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("locate dataset: %w", err)
		}
		if !info.IsDir() {
			return root, FormatBlob, nil
		}
		if HasIDX(root) {
			return root, FormatIDX, nil
		}
		blobs, err := DiscoverBlobs(root)
		if err != nil {
			return "", "", err
		}
		if len(blobs) > 0 {
			return blobs[0], FormatBlob, nil
		}
	}
	return "", "", fmt.Errorf("%w under %v", ErrNotFound, roots)
}

// Load reads the dataset at path in the given format.
func Load(path string, format Format, layout Layout) (*Set, error) {
	switch format {
	case FormatBlob:
		return LoadGzip(path, layout)
	case FormatIDX:
		return LoadIDX(path, layout.Classes)
	default:
		return nil, fmt.Errorf("dataset: unknown format %q", format)
	}
}
