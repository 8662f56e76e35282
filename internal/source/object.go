package source

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectConfig locates the exports in an S3-compatible bucket (AWS S3 or
// MinIO).
type ObjectConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	DomainsKey      string
	TreesKey        string
}

// ObjectReader reads one object and reports its ETag.
type ObjectReader interface {
	ReadObject(ctx context.Context, bucket, key string) ([]byte, string, error)
}

// Object reads the exports from a bucket. The revision joins both ETags.
type Object struct {
	Reader     ObjectReader
	Bucket     string
	DomainsKey string
	TreesKey   string
}

// NewObject builds an Object source backed by a minio client.
func NewObject(cfg ObjectConfig) (*Object, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object source: bucket required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object source: endpoint required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Object{
		Reader:     MinioReader{Client: client},
		Bucket:     cfg.Bucket,
		DomainsKey: cfg.DomainsKey,
		TreesKey:   cfg.TreesKey,
	}, nil
}

func (o *Object) Fetch(ctx context.Context) (Snapshot, error) {
	domains, domainsTag, err := o.Reader.ReadObject(ctx, o.Bucket, o.DomainsKey)
	if err != nil {
		return Snapshot{}, fmt.Errorf("object source: %w", err)
	}
	trees, treesTag, err := o.Reader.ReadObject(ctx, o.Bucket, o.TreesKey)
	if err != nil {
		return Snapshot{}, fmt.Errorf("object source: %w", err)
	}
	return Snapshot{
		Domains:  domains,
		Trees:    trees,
		Revision: domainsTag + ":" + treesTag,
		Origin:   "s3://" + o.Bucket + "/{" + o.DomainsKey + "," + o.TreesKey + "}",
	}, nil
}

// MinioReader adapts a minio client to ObjectReader.
type MinioReader struct {
	Client *minio.Client
}

func (m MinioReader) ReadObject(ctx context.Context, bucket, key string) ([]byte, string, error) {
	obj, err := m.Client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, "", fmt.Errorf("stat %s/%s: %w", bucket, key, err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", fmt.Errorf("read %s/%s: %w", bucket, key, err)
	}
	return data, strings.Trim(info.ETag, `"`), nil
}
