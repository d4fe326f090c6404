package storage

import (
	"context"
	"fmt"
	"io"

	"go-leaf-doctor/internal/config"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// BlobMirror receives a copy of every stored upload.
type BlobMirror interface {
	Put(ctx context.Context, name string, r io.Reader, contentType string) error
}

type azureMirror struct {
	client    *azblob.Client
	container string
}

// NewAzureMirror creates a mirror writing into cfg.Container. A shared key is
// used when cfg.Key is set, otherwise the default Azure credential chain.
func NewAzureMirror(cfg config.AzureConfig) (BlobMirror, error) {
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.Account)

	var (
		client *azblob.Client
		err    error
	)
	if cfg.Key != "" {
		credential, credErr := azblob.NewSharedKeyCredential(cfg.Account, cfg.Key)
		if credErr != nil {
			return nil, fmt.Errorf("azure shared key: %w", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	} else {
		credential, credErr := azidentity.NewDefaultAzureCredential(nil)
		if credErr != nil {
			return nil, fmt.Errorf("azure default credential: %w", credErr)
		}
		client, err = azblob.NewClient(serviceURL, credential, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("azure blob client: %w", err)
	}

	return &azureMirror{client: client, container: cfg.Container}, nil
}

func (m *azureMirror) Put(ctx context.Context, name string, r io.Reader, contentType string) error {
	opts := &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: &contentType,
		},
	}
	if _, err := m.client.UploadStream(ctx, m.container, name, r, opts); err != nil {
		return fmt.Errorf("upload blob %s/%s: %w", m.container, name, err)
	}
	return nil
}
