package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	blindhttp "github.com/rescale/blindbackup/internal/http"
)

// azureClient implements blobClient against one Azure Blob Storage
// container, authenticated with a static shared-key credential rather
// than the teacher's SAS-token credential manager.
type azureClient struct {
	containerClient *container.Client
}

func newAzureClient(accountName, accountKey, containerName string) (*azureClient, error) {
	if containerName == "" {
		return nil, fmt.Errorf("objectstore: azure container name is required")
	}
	if accountName == "" {
		return nil, fmt.Errorf("objectstore: azure account name is required")
	}

	cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("objectstore: azure shared key credential: %w", err)
	}

	httpClient, err := blindhttp.CreateOptimizedClient(nil)
	if err != nil {
		return nil, fmt.Errorf("objectstore: create http client: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{Transport: httpClient},
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: azure client: %w", err)
	}

	return &azureClient{containerClient: client.ServiceClient().NewContainerClient(containerName)}, nil
}

func (c *azureClient) List(ctx context.Context, prefix string) ([]string, []blobObject, error) {
	var dirs []string
	var objects []blobObject

	pfx := prefix
	delimiter := "/"
	pager := c.containerClient.NewListBlobsHierarchyPager(delimiter, &container.ListBlobsHierarchyOptions{
		Prefix: &pfx,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, nil, err
		}
		for _, p := range page.Segment.BlobPrefixes {
			if p.Name != nil {
				dirs = append(dirs, *p.Name)
			}
		}
		for _, b := range page.Segment.BlobItems {
			if b.Name == nil {
				continue
			}
			obj := blobObject{Key: *b.Name}
			if b.Properties != nil {
				if b.Properties.ContentLength != nil {
					obj.Size = *b.Properties.ContentLength
				}
				if b.Properties.LastModified != nil {
					obj.Mtime = *b.Properties.LastModified
				}
			}
			objects = append(objects, obj)
		}
	}
	return dirs, objects, nil
}

func (c *azureClient) Stat(ctx context.Context, key string) (blobObject, error) {
	props, err := c.containerClient.NewBlobClient(key).GetProperties(ctx, nil)
	if err != nil {
		return blobObject{}, err
	}
	obj := blobObject{Key: key}
	if props.ContentLength != nil {
		obj.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		obj.Mtime = *props.LastModified
	}
	return obj, nil
}

func (c *azureClient) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := c.containerClient.NewBlobClient(key).DownloadStream(ctx, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *azureClient) OpenRange(ctx context.Context, key string, n int64) (io.ReadCloser, error) {
	resp, err := c.containerClient.NewBlobClient(key).DownloadStream(ctx, &blob.DownloadStreamOptions{
		Range: blob.HTTPRange{Offset: 0, Count: n},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *azureClient) Put(ctx context.Context, key string, size int64, body io.Reader) error {
	_, err := c.containerClient.NewBlockBlobClient(key).UploadStream(ctx, body, nil)
	return err
}

func (c *azureClient) Delete(ctx context.Context, key string) error {
	_, err := c.containerClient.NewBlobClient(key).Delete(ctx, nil)
	if err != nil && bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil
	}
	return err
}

// NewProviderFromAzure constructs a Provider rooted at containerName's
// top level, backed by an Azure Blob Storage client built from a static
// account name/key.
func NewProviderFromAzure(ctx context.Context, uid, accountName, accountKey, containerName, tmpDir string) (*Provider, error) {
	client, err := newAzureClient(accountName, accountKey, containerName)
	if err != nil {
		return nil, err
	}
	return newProvider(uid, client, tmpDir)
}
