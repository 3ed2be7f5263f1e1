package kss

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/relabs-tech/restful/core/logger"
)

// LocalFilesystem keeps every key in a folder "<base>/<key>/file"
type LocalFilesystem struct {
	baseFolder string
}

// NewLocalFilesystem returns a new LocalFilesystem rooted at baseFolder
func NewLocalFilesystem(baseFolder string) (*LocalFilesystem, error) {
	if err := os.MkdirAll(baseFolder, 0700); err != nil {
		return nil, err
	}
	logger.Default().Debugln("KSS local filesystem enabled:", baseFolder)
	return &LocalFilesystem{baseFolder: baseFolder}, nil
}

// Put implements Driver
func (f *LocalFilesystem) Put(ctx context.Context, key string, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(f.baseFolder, key), 0700); err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Could not create folder for key: '%s'", key)
		return err
	}
	return os.WriteFile(filepath.Join(f.baseFolder, key, "file"), data, 0600)
}

// Get implements Driver
func (f *LocalFilesystem) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(f.baseFolder, key, "file"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Delete implements Driver. Deleting an unknown key is not an error.
func (f *LocalFilesystem) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(f.baseFolder, key))
}
