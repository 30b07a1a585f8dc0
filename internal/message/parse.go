package message

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder
)

// CommandPrefix marks an input line as a command.
const CommandPrefix = "."

// Input commands recognised by Parse.
const (
	CommandStop  = ".stop"
	CommandFile  = ".file"
	CommandImage = ".image"
	CommandUser  = ".user"
)

// FileNotFoundError reports a .file or .image command naming a path that does not exist.
type FileNotFoundError struct {
	Path string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("file %s not found", e.Path)
}

// FileReadError reports an existing file that could not be read.
type FileReadError struct {
	Path string
	Err  error
}

func (e *FileReadError) Error() string {
	return fmt.Sprintf("failed to read from file %s: %v", e.Path, e.Err)
}

func (e *FileReadError) Unwrap() error { return e.Err }

// UnsupportedImageError reports an .image file that could not be decoded.
type UnsupportedImageError struct {
	Path string
	Err  error
}

func (e *UnsupportedImageError) Error() string {
	return fmt.Sprintf("unsupported image format in %s: %v", e.Path, e.Err)
}

func (e *UnsupportedImageError) Unwrap() error { return e.Err }

// Parse converts one line of user input into a Message.
//
// Lines not starting with "." are Text. Otherwise the first space separates
// the command from its argument: ".stop", ".file <path>", ".image <path>"
// and ".user [name]" are recognised, and any other command is sent verbatim
// as Text.
func Parse(line string) (Message, error) {
	if !strings.HasPrefix(line, CommandPrefix) {
		return Text{Body: line}, nil
	}

	command, arg, _ := strings.Cut(line, " ")
	switch command {
	case CommandStop:
		return Stop{}, nil
	case CommandFile:
		return parseFile(arg)
	case CommandImage:
		return parseImage(arg)
	case CommandUser:
		name := strings.TrimSpace(arg)
		if name == "" {
			return SetUser{}, nil
		}
		return SetUser{Username: StringPtr(name)}, nil
	default:
		return Text{Body: line}, nil
	}
}

func parseFile(path string) (Message, error) {
	if err := checkExists(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FileReadError{Path: path, Err: err}
	}
	if len(data) == 0 {
		data = nil
	}
	return File{Name: filepath.Base(path), Data: data}, nil
}

func parseImage(path string) (Message, error) {
	if err := checkExists(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &FileReadError{Path: path, Err: err}
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, &UnsupportedImageError{Path: path, Err: err}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, &UnsupportedImageError{Path: path, Err: err}
	}
	return Photo{Data: buf.Bytes()}, nil
}

func checkExists(path string) error {
	if path == "" {
		return &FileNotFoundError{Path: path}
	}
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &FileNotFoundError{Path: path}
	}
	if err != nil {
		return &FileReadError{Path: path, Err: err}
	}
	return nil
}
