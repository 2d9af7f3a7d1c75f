// Package remote implements [previewd.RemoteSource] for protocols previewd
// talks to directly. Currently that is s3-compatible object storage; lan
// shares and sftp arrive as already-mounted paths and don't need a client.
package remote

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/previewd/previewd/previewd"
)

// S3Source serves "s3://bucket/key" paths. Clients are built per
// credentials ref and reused: building one is cheap but not free, and a
// request burst for the same endpoint is the common case.
type S3Source struct {
	resolver previewd.CredentialsResolver

	mu      sync.Mutex
	clients map[string]*s3.Client
}

func NewS3Source(resolver previewd.CredentialsResolver) *S3Source {
	return &S3Source{
		resolver: resolver,
		clients:  make(map[string]*s3.Client),
	}
}

// OpenFile implements [previewd.RemoteSource]. The returned reader is the
// object body, ctx cancellation aborts both the dial and an in-flight read.
func (s *S3Source) OpenFile(ctx context.Context, path, credentialsRef string) (io.ReadCloser, int64, error) {
	bucket, key, err := parseS3Path(path)
	if err != nil {
		return nil, 0, err
	}

	client, err := s.client(ctx, credentialsRef)
	if err != nil {
		return nil, 0, err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("couldn't get s3 object %q: %w", path, err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

func (s *S3Source) client(ctx context.Context, credentialsRef string) (*s3.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if client, ok := s.clients[credentialsRef]; ok {
		return client, nil
	}

	var client *s3.Client
	if credentialsRef == "" {
		// No explicit credentials: fall back to the ambient aws config
		// (env vars, shared config file, instance role).
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("couldn't load default aws config: %w", err)
		}
		client = s3.NewFromConfig(cfg)
	} else {
		creds, err := s.resolver.Resolve(credentialsRef)
		if err != nil {
			return nil, err
		}
		opts := s3.Options{
			Region: creds.Region,
			Credentials: credentials.NewStaticCredentialsProvider(
				creds.AccessKeyID, creds.SecretAccessKey, "",
			),
			// Path-style addressing works with minio and other
			// s3-compatible servers that custom endpoints usually are.
			UsePathStyle: true,
		}
		if creds.Endpoint != "" {
			opts.BaseEndpoint = aws.String(creds.Endpoint)
		}
		client = s3.New(opts)
	}

	s.clients[credentialsRef] = client
	return client, nil
}

func parseS3Path(path string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(path, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 path: %q", path)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 path %q, expected s3://bucket/key", path)
	}
	return bucket, key, nil
}
