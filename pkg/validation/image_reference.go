package validation

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	apperrors "go-leaf-doctor/internal/errors"
)

// ImageReference is a validated pointer to a previously uploaded file.
type ImageReference struct {
	// URL is the server-relative reference supplied by the client, e.g. /uploads/leaf.jpg
	URL string
	// Path is the absolute filesystem location the reference resolves to
	Path string
}

// ImageReferenceValidator checks that a client-supplied reference points into
// the upload area and names an existing file.
type ImageReferenceValidator struct {
	prefix string
	root   string
}

// NewImageReferenceValidator creates a validator for references starting with
// prefix that resolve under uploadDir.
func NewImageReferenceValidator(prefix, uploadDir string) (*ImageReferenceValidator, error) {
	if !strings.HasPrefix(prefix, "/") || !strings.HasSuffix(prefix, "/") {
		return nil, fmt.Errorf("upload prefix must start and end with '/': %q", prefix)
	}
	root, err := filepath.Abs(uploadDir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	return &ImageReferenceValidator{prefix: prefix, root: root}, nil
}

// Prefix returns the upload-area prefix references must start with
func (v *ImageReferenceValidator) Prefix() string {
	return v.prefix
}

// Root returns the absolute upload directory
func (v *ImageReferenceValidator) Root() string {
	return v.root
}

// Validate checks the shape of ref and then the existence of its target.
// Shape problems are validation errors (400); a missing file is not_found (404).
func (v *ImageReferenceValidator) Validate(ref string) (ImageReference, error) {
	name, err := v.fileName(ref)
	if err != nil {
		return ImageReference{}, err
	}

	path := filepath.Join(v.root, name)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ImageReference{}, apperrors.NewNotFoundError("Image file not found", err)
		}
		return ImageReference{}, apperrors.NewInternalError("Failed to check image file", err)
	}
	if !info.Mode().IsRegular() {
		return ImageReference{}, apperrors.NewNotFoundError("Image file not found", nil)
	}

	return ImageReference{URL: ref, Path: path}, nil
}

// URLFor returns the reference a stored file name is served under
func (v *ImageReferenceValidator) URLFor(name string) string {
	return v.prefix + name
}

// fileName extracts the single path element after the prefix. Nested
// directories, traversal segments and separators of either flavour are rejected.
func (v *ImageReferenceValidator) fileName(ref string) (string, error) {
	invalid := func() error {
		return apperrors.NewValidationError("Invalid or missing imageUrl", nil)
	}

	if strings.TrimSpace(ref) == "" || ref != strings.TrimSpace(ref) {
		return "", invalid()
	}
	if !strings.HasPrefix(ref, v.prefix) {
		return "", invalid()
	}

	name := strings.TrimPrefix(ref, v.prefix)
	switch {
	case name == "", name == ".", name == "..":
		return "", invalid()
	case strings.ContainsAny(name, "/\\\x00"):
		return "", invalid()
	case strings.ContainsAny(name, "?#"):
		return "", invalid()
	}
	if filepath.Base(name) != name || filepath.IsAbs(name) {
		return "", invalid()
	}
	return name, nil
}
