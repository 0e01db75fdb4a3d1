package aws

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ImageBucket stores product images in one S3 bucket.
type ImageBucket struct {
	client        *s3.Client
	presigner     *s3.PresignClient
	uploader      *manager.Uploader
	bucket        string
	publicBaseURL string
}

// NewImageBucket builds the bucket client. Path-style addressing is used
// when the config points at a custom endpoint such as LocalStack.
// publicBaseURL is the CDN or website origin images are served from; when
// empty the virtual-hosted S3 URL is used.
func NewImageBucket(cfg sdkaws.Config, bucket, publicBaseURL string) *ImageBucket {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.BaseEndpoint != nil
	})
	if publicBaseURL == "" {
		publicBaseURL = defaultPublicBaseURL(cfg, bucket)
	}
	return &ImageBucket{
		client:        client,
		presigner:     s3.NewPresignClient(client),
		uploader:      manager.NewUploader(client),
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

func defaultPublicBaseURL(cfg sdkaws.Config, bucket string) string {
	if cfg.BaseEndpoint != nil {
		return strings.TrimRight(*cfg.BaseEndpoint, "/") + "/" + bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, cfg.Region)
}

// PresignPut returns a presigned PUT URL for key and the headers the client
// must send with it.
func (b *ImageBucket) PresignPut(ctx context.Context, key, contentType string, expires time.Duration) (string, map[string]string, error) {
	input := &s3.PutObjectInput{
		Bucket:      &b.bucket,
		Key:         &key,
		ContentType: sdkaws.String(contentType),
	}
	presigned, err := b.presigner.PresignPutObject(ctx, input, func(o *s3.PresignOptions) {
		o.Expires = expires
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to presign put object: %w", err)
	}

	headers := make(map[string]string)
	for k, v := range presigned.SignedHeader {
		if len(v) > 0 && !strings.EqualFold(k, "host") {
			headers[k] = v[0]
		}
	}
	return presigned.URL, headers, nil
}

// Upload streams body to key with the multipart uploader.
func (b *ImageBucket) Upload(ctx context.Context, key, contentType string, body io.Reader) error {
	_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:       &b.bucket,
		Key:          &key,
		Body:         body,
		ContentType:  sdkaws.String(contentType),
		CacheControl: sdkaws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

func (b *ImageBucket) PublicURL(key string) string {
	return b.publicBaseURL + "/" + (&url.URL{Path: key}).EscapedPath()
}
