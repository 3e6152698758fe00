package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Object names under the reports bucket.
const (
	ReportObject      = "report.json"
	CombinedLogObject = "combined.log"
)

type Client struct {
	mc *minio.Client
}

func New(endpoint, accessKey, secretKey, region string, useSSL bool) (*Client, error) {
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}
	return &Client{mc: mc}, nil
}

// JobKey is where a job's stored object lives: reports/<jobID>/<name>.
func JobKey(jobID, name string) string {
	return path.Join("reports", jobID, path.Base(name))
}

func (c *Client) DownloadToFile(ctx context.Context, bucket, key, filePath string) error {
	obj, err := c.mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return err
	}
	defer obj.Close()

	out, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, obj); err != nil {
		return fmt.Errorf("download %s/%s: %w", bucket, key, err)
	}
	return out.Close()
}

func (c *Client) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := c.mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	b, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", bucket, key, err)
	}
	return b, nil
}

func (c *Client) UploadFile(ctx context.Context, bucket, key, filePath string, contentType string) error {
	_, err := c.mc.FPutObject(ctx, bucket, key, filePath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (c *Client) UploadBytes(ctx context.Context, bucket, key string, b []byte, contentType string) error {
	_, err := c.mc.PutObject(ctx, bucket, key, bytes.NewReader(b), int64(len(b)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}
