// Package storage saves uploaded leaf photographs into the upload area and
// optionally mirrors them to blob storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	apperrors "go-leaf-doctor/internal/errors"
	"go-leaf-doctor/internal/logger"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

const mirrorTimeout = 30 * time.Second

// StoredFile describes a file written into the upload area
type StoredFile struct {
	Name        string
	Path        string
	ContentType string
	Size        int64
}

// UploadStore writes uploads under a single directory using generated names.
type UploadStore struct {
	dir     string
	maxSize int64
	mirror  BlobMirror
}

// NewUploadStore creates dir if needed. mirror may be nil.
func NewUploadStore(dir string, maxSize int64, mirror BlobMirror) (*UploadStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &UploadStore{dir: abs, maxSize: maxSize, mirror: mirror}, nil
}

// Dir returns the absolute upload directory
func (s *UploadStore) Dir() string {
	return s.dir
}

// Save reads at most maxSize bytes from r, checks the content is a supported
// image and writes it as <uuid><ext>.
func (s *UploadStore) Save(ctx context.Context, r io.Reader) (*StoredFile, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxSize+1))
	if err != nil {
		return nil, apperrors.NewValidationError("Failed to read upload", err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, apperrors.NewValidationError(fmt.Sprintf("File exceeds %d bytes", s.maxSize), nil)
	}
	if len(data) == 0 {
		return nil, apperrors.NewValidationError("No file uploaded", nil)
	}

	contentType := mimetype.Detect(data).String()
	ext, ok := allowedTypes[contentType]
	if !ok {
		return nil, apperrors.NewValidationError("Only JPEG, PNG and WEBP images are allowed", nil).
			WithDetails(contentType)
	}

	name := uuid.NewString() + ext
	path := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to store upload", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, apperrors.NewInternalError("Failed to store upload", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, apperrors.NewInternalError("Failed to store upload", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return nil, apperrors.NewInternalError("Failed to store upload", err)
	}

	stored := &StoredFile{Name: name, Path: path, ContentType: contentType, Size: int64(len(data))}
	s.mirrorCopy(ctx, stored, data)
	return stored, nil
}

// mirrorCopy failures are logged only; the local file is authoritative.
func (s *UploadStore) mirrorCopy(ctx context.Context, f *StoredFile, data []byte) {
	if s.mirror == nil {
		return
	}

	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
	defer cancel()

	if err := s.mirror.Put(mctx, f.Name, bytes.NewReader(data), f.ContentType); err != nil {
		logger.WithFields(logrus.Fields{
			"file":  f.Name,
			"error": err.Error(),
		}).Warn("Failed to mirror upload to blob storage")
		return
	}
	logger.WithField("file", f.Name).Debug("Upload mirrored to blob storage")
}
