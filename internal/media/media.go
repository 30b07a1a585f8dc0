// Package media stores the files and photos received over the relay.
package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ImagesDir is the subdirectory of the root that receives photos.
const ImagesDir = "images"

// ErrInvalidName is returned for file names that are empty or name a directory.
var ErrInvalidName = errors.New("media: invalid file name")

// Store writes received media under a root directory.
type Store struct {
	root   string
	images string
}

// New creates root and root/images if they do not exist and returns a Store
// writing into them. Callers treat a failure here as fatal.
func New(root string) (*Store, error) {
	images := filepath.Join(root, ImagesDir)
	if err := os.MkdirAll(images, 0o755); err != nil {
		return nil, fmt.Errorf("media: create %s: %w", images, err)
	}
	return &Store{root: root, images: images}, nil
}

// Root returns the directory files are written to.
func (s *Store) Root() string { return s.root }

// ImagesPath returns the directory photos are written to.
func (s *Store) ImagesPath() string { return s.images }

// SaveFile writes data under the root using the basename of name and returns
// the written path. Directory components in name are discarded.
func (s *Store) SaveFile(name string, data []byte) (string, error) {
	base, err := sanitize(name)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.root, base)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("media: write %s: %w", path, err)
	}
	return path, nil
}

// SavePhoto writes PNG data under the images directory with a name derived
// from receivedAt and returns the written path.
func (s *Store) SavePhoto(receivedAt time.Time, data []byte) (string, error) {
	path := filepath.Join(s.images, PhotoName(receivedAt))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("media: write %s: %w", path, err)
	}
	return path, nil
}

// PhotoName returns the file name used for a photo received at t.
func PhotoName(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10) + ".png"
}

func sanitize(name string) (string, error) {
	// Senders on any platform may use either separator.
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(filepath.FromSlash(name))
	switch base {
	case "", ".", "..", string(filepath.Separator):
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return base, nil
}
