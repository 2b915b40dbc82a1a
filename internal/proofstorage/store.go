package proofstorage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gosimple/slug"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/pixorder/internal/config"
	"go.uber.org/zap"
)

const (
	keyPrefix       = "proofs"
	maxSlugLength   = 64
	defaultFilename = "receipt"
)

// Store keeps uploaded payment receipts in an S3-compatible bucket. Clients
// upload directly through presigned URLs.
type Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	ttl     time.Duration
}

// New returns nil when no bucket is configured.
func New(cfg config.Config, log *zap.Logger) (*Store, error) {
	bucketCfg := cfg.ProofBucket
	if !bucketCfg.Enabled() {
		log.Info("proof storage disabled")
		return nil, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(bucketCfg.Region),
	}
	if bucketCfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			bucketCfg.AccessKeyID,
			bucketCfg.SecretAccessKey,
			"",
		)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if bucketCfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(bucketCfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	ttl := bucketCfg.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	log.Info("proof storage enabled", zap.String("bucket", bucketCfg.Bucket))
	return &Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucketCfg.Bucket,
		ttl:     ttl,
	}, nil
}

// ObjectKey builds a unique key under the order's prefix.
func (s *Store) ObjectKey(orderID, filename string) string {
	return ObjectKey(orderID, filename, ulid.Make())
}

func ObjectKey(orderID, filename string, id ulid.ULID) string {
	base := path.Base(strings.TrimSpace(filename))
	ext := strings.ToLower(path.Ext(base))
	name := slug.Make(strings.TrimSuffix(base, path.Ext(base)))
	if len(name) > maxSlugLength {
		name = strings.Trim(name[:maxSlugLength], "-")
	}
	if name == "" {
		name = defaultFilename
	}
	return fmt.Sprintf("%s/%s/%s-%s%s", keyPrefix, orderID, strings.ToLower(id.String()), name, ext)
}

func (s *Store) PresignUpload(ctx context.Context, key, contentType string) (string, time.Time, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	expiresAt := time.Now().UTC().Add(s.ttl)
	req, err := s.presign.PresignPutObject(ctx, input, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presign upload: %w", err)
	}
	return req.URL, expiresAt, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return false, nil
	}
	return false, fmt.Errorf("head object: %w", err)
}
