package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	blindhttp "github.com/rescale/blindbackup/internal/http"
)

// s3Client implements blobClient against an S3-compatible bucket, using
// static credentials rather than an auto-refreshing credential manager:
// a blind-backup agent's object-store keys live as long as its
// passphrase, not a short-lived session token.
type s3Client struct {
	client *s3.Client
	bucket string
}

// newS3Client builds an s3Client from explicit credentials. endpoint, if
// non-empty, points the client at an S3-compatible service other than AWS.
func newS3Client(ctx context.Context, bucket, region, endpoint, accessKeyID, secretAccessKey string) (*s3Client, error) {
	if bucket == "" {
		return nil, fmt.Errorf("objectstore: s3 bucket is required")
	}

	httpClient, err := blindhttp.CreateOptimizedClient(nil)
	if err != nil {
		return nil, fmt.Errorf("objectstore: create http client: %w", err)
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithHTTPClient(httpClient),
	}
	if accessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &s3Client{client: client, bucket: bucket}, nil
}

func (c *s3Client) List(ctx context.Context, prefix string) ([]string, []blobObject, error) {
	var dirs []string
	var objects []blobObject

	var token *string
	for {
		out, err := c.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, nil, err
		}
		for _, p := range out.CommonPrefixes {
			dirs = append(dirs, aws.ToString(p.Prefix))
		}
		for _, obj := range out.Contents {
			objects = append(objects, blobObject{
				Key:   aws.ToString(obj.Key),
				Size:  aws.ToInt64(obj.Size),
				Mtime: aws.ToTime(obj.LastModified),
			})
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return dirs, objects, nil
}

func (c *s3Client) Stat(ctx context.Context, key string) (blobObject, error) {
	out, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return blobObject{}, err
	}
	return blobObject{
		Key:   key,
		Size:  aws.ToInt64(out.ContentLength),
		Mtime: aws.ToTime(out.LastModified),
	}, nil
}

func (c *s3Client) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func (c *s3Client) OpenRange(ctx context.Context, key string, n int64) (io.ReadCloser, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=0-%d", n-1)),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func (c *s3Client) Put(ctx context.Context, key string, size int64, body io.Reader) error {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	return err
}

func (c *s3Client) Delete(ctx context.Context, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return nil
	}
	return err
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound")
}

// NewProviderFromS3 constructs a Provider rooted at bucket's top level,
// backed by an S3 client built from explicit credentials.
func NewProviderFromS3(ctx context.Context, uid, bucket, region, endpoint, accessKeyID, secretAccessKey, tmpDir string) (*Provider, error) {
	client, err := newS3Client(ctx, bucket, region, endpoint, accessKeyID, secretAccessKey)
	if err != nil {
		return nil, err
	}
	return newProvider(uid, client, tmpDir)
}
