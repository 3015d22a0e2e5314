// Package source opens dataset files from local disk or S3.
package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configures the S3 client used for s3:// URIs.
type S3Options struct {
	Region    string
	Endpoint  string // optional; set for MinIO or other S3-compatible stores
	PathStyle bool
}

// getObjectAPI is the part of *s3.Client the opener uses.
type getObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Opener opens local paths and s3://bucket/key objects. The S3 client is
// created on first use so local-only deployments need no credentials.
type Opener struct {
	opts S3Options

	mu     sync.Mutex
	client getObjectAPI
}

func NewOpener(opts S3Options) *Opener {
	return &Opener{opts: opts}
}

// Open returns a reader for uri.
func (o *Opener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, isS3, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	if !isS3 {
		f, err := os.Open(strings.TrimPrefix(uri, "file://"))
		if err != nil {
			return nil, err
		}
		return f, nil
	}

	client, err := o.s3Client(ctx)
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

func (o *Opener) s3Client(ctx context.Context) (getObjectAPI, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.client != nil {
		return o.client, nil
	}
	region := o.opts.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	o.client = s3.NewFromConfig(awsCfg, func(opt *s3.Options) {
		opt.UsePathStyle = o.opts.PathStyle
		if o.opts.Endpoint != "" {
			opt.BaseEndpoint = aws.String(o.opts.Endpoint)
		}
	})
	return o.client, nil
}

// ParseS3URI splits s3://bucket/key. isS3 is false for any other scheme.
func ParseS3URI(uri string) (bucket, key string, isS3 bool, err error) {
	if !strings.HasPrefix(uri, "s3://") {
		return "", "", false, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", true, fmt.Errorf("parse %s: %w", uri, err)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", true, fmt.Errorf("s3 uri %q needs a bucket and a key", uri)
	}
	return bucket, key, true, nil
}
