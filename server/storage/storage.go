package storage

import (
	"errors"
	"io"
	"time"
)

var ErrNotFound = errors.New("File not found")

// Storage is an abstraction of a blob store, which holds checkpoints
type Storage interface {
	// When finished, you must close the WriteCloser.
	// The file only becomes visible to readers once it has been closed.
	WriteFile(name string) (io.WriteCloser, error)

	// When finished, you must close File.Reader.
	// Returns an error wrapping ErrNotFound if the file does not exist.
	ReadFile(name string) (*File, error)

	DeleteFile(name string) error

	// Exists returns true if the file exists
	Exists(name string) (bool, error)

	// List returns the names of all files that start with prefix, in no particular order
	List(prefix string) ([]string, error)
}

// File is an element in blob storage.
type File struct {
	Reader     io.ReadCloser
	ModifiedAt time.Time
	Size       int64
}

func WriteFile(s Storage, name string, content io.Reader) error {
	f, err := s.WriteFile(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, content)
	errClose := f.Close()
	if err != nil {
		return err
	}
	return errClose
}

func ReadFile(s Storage, name string) ([]byte, error) {
	f, err := s.ReadFile(name)
	if err != nil {
		return nil, err
	}
	defer f.Reader.Close()
	return io.ReadAll(f.Reader)
}
