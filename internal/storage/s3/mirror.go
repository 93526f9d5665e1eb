// Package s3 implements the optional tarball mirror backed by an S3 bucket.
// The mirror sits beside the registry: tarballs already mirrored are served
// from the bucket, and fresh downloads can be written through to it.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/pkgfast/pkgfast/pkg/errors"
)

// Config holds the mirror settings.
type Config struct {
	Bucket         string
	Prefix         string
	Region         string
	Endpoint       string
	ForcePathStyle bool

	// Static credentials for non-AWS endpoints (MinIO and friends). Empty
	// values fall back to the default AWS credential chain.
	AccessKeyID     string
	SecretAccessKey string
}

// api is the slice of the S3 client the mirror uses.
type api interface {
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, input *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, input *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// MirrorStore reads and writes package tarballs in a bucket.
type MirrorStore struct {
	client api
	config Config
	logger logrus.FieldLogger
}

// NewMirrorStore creates a mirror store against the configured bucket.
func NewMirrorStore(ctx context.Context, config Config, logger logrus.FieldLogger) (*MirrorStore, error) {
	if config.Bucket == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "mirror bucket cannot be empty").
			WithComponent("mirror")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Region),
	}
	if config.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeMirrorUnavailable, "failed to load AWS config", err).
			WithComponent("mirror")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
		}
		if config.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return &MirrorStore{client: client, config: config, logger: logger}, nil
}

// Key returns the object key for a package tarball.
func (m *MirrorStore) Key(name, version string) string {
	// Scoped names contain a slash; keep it so the bucket layout mirrors the
	// registry layout.
	return path.Join(m.config.Prefix, name, fmt.Sprintf("%s-%s.tgz", path.Base(name), version))
}

// Get fetches a mirrored tarball. A missing object is reported as a
// not-found error so callers can fall back to the registry.
func (m *MirrorStore) Get(ctx context.Context, name, version string) ([]byte, error) {
	key := m.Key(name, version)
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, errors.Newf(errors.ErrCodePackageNotFound, "tarball not mirrored: %s", key).
				WithComponent("mirror").WithOperation("get")
		}
		return nil, errors.Wrap(errors.ErrCodeMirrorUnavailable, "mirror read failed", err).
			WithComponent("mirror").WithOperation("get").WithContext("key", key)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeMirrorUnavailable, "mirror body read failed", err).
			WithComponent("mirror").WithOperation("get").WithContext("key", key)
	}
	return data, nil
}

// Put writes a tarball to the mirror.
func (m *MirrorStore) Put(ctx context.Context, name, version string, data []byte) error {
	key := m.Key(name, version)
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeMirrorUnavailable, "mirror write failed", err).
			WithComponent("mirror").WithOperation("put").WithContext("key", key)
	}
	if m.logger != nil {
		m.logger.WithFields(logrus.Fields{
			"key":  key,
			"size": len(data),
		}).Debug("tarball mirrored")
	}
	return nil
}

// Exists checks whether a tarball is already mirrored.
func (m *MirrorStore) Exists(ctx context.Context, name, version string) (bool, error) {
	key := m.Key(name, version)
	_, err := m.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, errors.Wrap(errors.ErrCodeMirrorUnavailable, "mirror head failed", err).
			WithComponent("mirror").WithOperation("exists").WithContext("key", key)
	}
	return true, nil
}

// HealthCheck verifies the bucket is reachable.
func (m *MirrorStore) HealthCheck(ctx context.Context) error {
	_, err := m.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(m.config.Bucket),
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeMirrorUnavailable, "mirror health check failed", err).
			WithComponent("mirror")
	}
	return nil
}

// isNotFound detects missing-object responses across S3-compatible
// backends, which disagree on the exact error shape.
func isNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") ||
		strings.Contains(msg, "NotFound") ||
		strings.Contains(msg, "StatusCode: 404")
}
