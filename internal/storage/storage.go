// Package storage persists uploaded product images and maps them to public urls.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const DefaultMaxFileSize int64 = 10 << 20

var (
	ErrInvalidContentType = errors.New("only image files are allowed")
	ErrFileTooLarge       = errors.New("file exceeds the maximum upload size")
	ErrEmptyFile          = errors.New("file is empty")
	ErrForeignURL         = errors.New("url is not managed by this store")
)

// BlobStore stores image bytes and returns the url they are served from
type BlobStore interface {
	Save(ctx context.Context, r io.Reader, filename string) (string, error)
	Delete(ctx context.Context, url string) error
}

// LocalStore keeps blobs in a single directory of an afero filesystem
type LocalStore struct {
	fs          afero.Fs
	dir         string
	publicPath  string
	maxFileSize int64
	logger      *zap.Logger
}

// NewLocalStore creates the upload directory if needed. publicPath is the url
// prefix the directory is served under, e.g. /static/images.
func NewLocalStore(fsys afero.Fs, dir, publicPath string, maxFileSize int64, logger *zap.Logger) (*LocalStore, error) {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	return &LocalStore{
		fs:          fsys,
		dir:         dir,
		publicPath:  "/" + strings.Trim(publicPath, "/"),
		maxFileSize: maxFileSize,
		logger:      logger,
	}, nil
}

// Save sniffs the content type, rejects anything that is not an image and
// writes the bytes under a random name keeping a known extension.
func (s *LocalStore) Save(ctx context.Context, r io.Reader, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxFileSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) == 0 {
		return "", ErrEmptyFile
	}
	if int64(len(data)) > s.maxFileSize {
		return "", ErrFileTooLarge
	}

	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		s.logger.Debug("rejected upload",
			zap.String("filename", filename),
			zap.String("detected_type", mime.String()),
		)
		return "", fmt.Errorf("%w: got %s", ErrInvalidContentType, mime.String())
	}

	ext := mime.Extension()
	if ext == "" {
		ext = strings.ToLower(path.Ext(filename))
	}
	name := uuid.NewString() + ext

	if err := afero.WriteReader(s.fs, path.Join(s.dir, name), bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}

	return s.publicPath + "/" + name, nil
}

// Delete removes the blob behind url. Missing files are not an error.
func (s *LocalStore) Delete(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name, err := s.nameFromURL(url)
	if err != nil {
		return err
	}

	if err := s.fs.Remove(path.Join(s.dir, name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}

// exists reports whether the blob behind url is present
func (s *LocalStore) exists(url string) bool {
	name, err := s.nameFromURL(url)
	if err != nil {
		return false
	}
	ok, err := afero.Exists(s.fs, path.Join(s.dir, name))
	return err == nil && ok
}

// FileSystem exposes the upload directory for http.FileServer
func (s *LocalStore) FileSystem() http.FileSystem {
	return afero.NewHttpFs(s.fs).Dir(s.dir)
}

// PublicPath is the url prefix stored images are served under
func (s *LocalStore) PublicPath() string {
	return s.publicPath
}

func (s *LocalStore) nameFromURL(url string) (string, error) {
	prefix := s.publicPath + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, url)
	}
	name := strings.TrimPrefix(url, prefix)
	if name == "" || strings.Contains(name, "/") || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, url)
	}
	return name, nil
}
