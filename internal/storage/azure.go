package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/rs/zerolog"

	"github.com/basekick-labs/insight/internal/metrics"
)

// AzureBlobConfig holds Azure Blob Storage backend configuration
type AzureBlobConfig struct {
	// Connection string authentication (simplest)
	ConnectionString string

	// Account-based authentication
	AccountName string
	AccountKey  string

	// SAS token authentication
	SASToken string

	// Managed Identity authentication (for Azure-hosted deployments)
	UseManagedIdentity bool

	ContainerName string
	Prefix        string // blob name prefix prepended to every path

	// Custom endpoint (for Azurite testing)
	Endpoint string
}

// AzureBlobBackend keeps objects as block blobs in one container.
type AzureBlobBackend struct {
	container *container.Client
	name      string
	prefix    string
	logger    zerolog.Logger
}

// NewAzureBlobBackend authenticates with the first configured method in
// order: connection string, SAS token, shared key, managed identity.
func NewAzureBlobBackend(ctx context.Context, cfg *AzureBlobConfig, logger zerolog.Logger) (*AzureBlobBackend, error) {
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("Azure container name is required")
	}
	log := logger.With().Str("component", "azure-storage").Str("container", cfg.ContainerName).Logger()

	client, method, err := newAzureClient(cfg)
	if err != nil {
		return nil, err
	}
	log.Info().Str("auth", method).Msg("Created Azure Blob Storage client")

	b := &AzureBlobBackend{
		container: client.ServiceClient().NewContainerClient(cfg.ContainerName),
		name:      cfg.ContainerName,
		prefix:    strings.Trim(cfg.Prefix, "/"),
		logger:    log,
	}

	propsCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := b.container.GetProperties(propsCtx, nil); err != nil {
		log.Warn().Err(err).Msg("Could not verify container exists (may need to create it)")
	} else {
		log.Info().Msg("Connected to Azure Blob Storage container")
	}
	return b, nil
}

func newAzureClient(cfg *AzureBlobConfig) (*azblob.Client, string, error) {
	switch {
	case cfg.ConnectionString != "":
		client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Azure client from connection string: %w", err)
		}
		return client, "connection_string", nil

	case cfg.AccountName != "" && cfg.SASToken != "":
		serviceURL := azureEndpoint(cfg) + "?" + strings.TrimPrefix(cfg.SASToken, "?")
		client, err := azblob.NewClientWithNoCredential(serviceURL, nil)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Azure client with SAS token: %w", err)
		}
		return client, "sas_token", nil

	case cfg.AccountName != "" && cfg.AccountKey != "":
		cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create shared key credential: %w", err)
		}
		client, err := azblob.NewClientWithSharedKeyCredential(azureEndpoint(cfg), cred, nil)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Azure client with shared key: %w", err)
		}
		return client, "shared_key", nil

	case cfg.UseManagedIdentity && cfg.AccountName != "":
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create managed identity credential: %w", err)
		}
		client, err := azblob.NewClient(azureEndpoint(cfg), cred, nil)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Azure client with managed identity: %w", err)
		}
		return client, "managed_identity", nil

	default:
		return nil, "", fmt.Errorf("no valid Azure authentication method configured. Provide connection_string, account_name+account_key, account_name+sas_token, or account_name+use_managed_identity")
	}
}

func azureEndpoint(cfg *AzureBlobConfig) string {
	if cfg.Endpoint != "" {
		return strings.TrimSuffix(cfg.Endpoint, "/")
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
}

func (b *AzureBlobBackend) blobName(path string) string {
	path = strings.TrimPrefix(path, "/")
	if b.prefix == "" {
		return path
	}
	return b.prefix + "/" + path
}

func (b *AzureBlobBackend) Write(ctx context.Context, path string, data []byte) error {
	start := time.Now()
	contentType := "application/octet-stream"
	_, err := b.container.NewBlockBlobClient(b.blobName(path)).UploadStream(ctx, bytes.NewReader(data), &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return fmt.Errorf("failed to write to Azure Blob Storage: %w", err)
	}

	metrics.Get().IncStorageWrites(int64(len(data)))
	b.logger.Debug().
		Str("path", path).
		Int("size", len(data)).
		Dur("duration", time.Since(start)).
		Msg("Wrote to Azure Blob Storage")
	return nil
}

func (b *AzureBlobBackend) Read(ctx context.Context, path string) ([]byte, error) {
	resp, err := b.container.NewBlobClient(b.blobName(path)).DownloadStream(ctx, nil)
	if err != nil {
		if isAzureNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read from Azure Blob Storage: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read Azure blob body: %w", err)
	}
	metrics.Get().IncStorageReads(int64(len(data)))
	return data, nil
}

// List returns paths relative to the configured prefix.
func (b *AzureBlobBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	listPrefix := b.blobName(prefix)
	pager := b.container.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{Prefix: &listPrefix})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list Azure blobs: %w", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			name := *item.Name
			if b.prefix != "" {
				name = strings.TrimPrefix(name, b.prefix+"/")
			}
			out = append(out, name)
		}
	}
	return out, nil
}

// Delete removes the blob. A missing blob is not an error.
func (b *AzureBlobBackend) Delete(ctx context.Context, path string) error {
	if _, err := b.container.NewBlobClient(b.blobName(path)).Delete(ctx, nil); err != nil {
		if isAzureNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to delete from Azure Blob Storage: %w", err)
	}
	b.logger.Debug().Str("path", path).Msg("Deleted from Azure Blob Storage")
	return nil
}

func (b *AzureBlobBackend) Close() error { return nil }

func (b *AzureBlobBackend) Type() string { return "azure" }

func isAzureNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
