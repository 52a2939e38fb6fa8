package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Backend = (*AzureBlobBackend)(nil)

func TestNewAzureBlobBackend_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     AzureBlobConfig
		wantErr string
	}{
		{"missing container", AzureBlobConfig{AccountName: "acct", AccountKey: "a2V5"}, "container name is required"},
		{"no auth method", AzureBlobConfig{ContainerName: "insight"}, "no valid Azure authentication method"},
		{"account without secret", AzureBlobConfig{ContainerName: "insight", AccountName: "acct"}, "no valid Azure authentication method"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAzureBlobBackend(context.Background(), &tt.cfg, zerolog.Nop())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAzureEndpoint(t *testing.T) {
	assert.Equal(t, "https://acct.blob.core.windows.net", azureEndpoint(&AzureBlobConfig{AccountName: "acct"}))
	assert.Equal(t, "http://127.0.0.1:10000/devstoreaccount1",
		azureEndpoint(&AzureBlobConfig{AccountName: "acct", Endpoint: "http://127.0.0.1:10000/devstoreaccount1/"}))
}

func TestAzureBlobName(t *testing.T) {
	b := &AzureBlobBackend{}
	assert.Equal(t, "datasets/a.json.zst", b.blobName("/datasets/a.json.zst"))

	b.prefix = "insight"
	assert.Equal(t, "insight/datasets/a.json.zst", b.blobName("datasets/a.json.zst"))
}

func TestIsAzureNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"404", &azcore.ResponseError{StatusCode: 404, ErrorCode: "BlobNotFound"}, true},
		{"wrapped 404", fmt.Errorf("download: %w", &azcore.ResponseError{StatusCode: 404}), true},
		{"403", &azcore.ResponseError{StatusCode: 403, ErrorCode: "AuthorizationFailure"}, false},
		{"plain error mentioning 404", errors.New("got 404"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isAzureNotFound(tt.err))
		})
	}
}
