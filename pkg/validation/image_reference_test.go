package validation

import (
	"os"
	"path/filepath"
	"testing"

	apperrors "go-leaf-doctor/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(t *testing.T) (*ImageReferenceValidator, string) {
	t.Helper()
	dir := t.TempDir()
	v, err := NewImageReferenceValidator("/uploads/", dir)
	require.NoError(t, err)
	return v, dir
}

func TestNewImageReferenceValidator_RejectsBadPrefix(t *testing.T) {
	for _, prefix := range []string{"", "uploads/", "/uploads", "uploads"} {
		_, err := NewImageReferenceValidator(prefix, t.TempDir())
		assert.Error(t, err, prefix)
	}
}

func TestValidate_ExistingFile(t *testing.T) {
	v, dir := newTestValidator(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "leaf.jpg"), []byte("jpeg"), 0o644))

	ref, err := v.Validate("/uploads/leaf.jpg")
	require.NoError(t, err)
	assert.Equal(t, "/uploads/leaf.jpg", ref.URL)
	assert.Equal(t, filepath.Join(v.Root(), "leaf.jpg"), ref.Path)
	assert.True(t, filepath.IsAbs(ref.Path))
}

func TestValidate_InvalidShapes(t *testing.T) {
	v, dir := newTestValidator(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "leaf.jpg"), []byte("jpeg"), 0o644))

	refs := []string{
		"",
		"   ",
		"leaf.jpg",
		"/images/leaf.jpg",
		"uploads/leaf.jpg",
		"/uploads/",
		"/uploads/..",
		"/uploads/../config.yaml",
		"/uploads/../../etc/passwd",
		"/uploads/nested/leaf.jpg",
		"/uploads/..\\secret",
		"/etc/passwd",
		"http://example.com/uploads/leaf.jpg",
		" /uploads/leaf.jpg",
		"/uploads/leaf.jpg?x=1",
	}

	for _, ref := range refs {
		_, err := v.Validate(ref)
		require.Error(t, err, ref)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation), "ref %q: %v", ref, err)
		assert.Equal(t, 400, apperrors.GetStatusCode(err))
	}
}

func TestValidate_MissingFile(t *testing.T) {
	v, _ := newTestValidator(t)

	_, err := v.Validate("/uploads/missing.jpg")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
	assert.Equal(t, 404, apperrors.GetStatusCode(err))
}

func TestValidate_DirectoryIsNotAFile(t *testing.T) {
	v, dir := newTestValidator(t)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "folder"), 0o755))

	_, err := v.Validate("/uploads/folder")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestURLFor(t *testing.T) {
	v, _ := newTestValidator(t)
	assert.Equal(t, "/uploads/abc.png", v.URLFor("abc.png"))
	assert.Equal(t, "/uploads/", v.Prefix())
}
