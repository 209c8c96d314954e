// Package s3 stores scan markers as empty objects in an S3-compatible bucket
// (AWS S3 or MinIO), for facilities whose data directories live behind an
// object gateway rather than a shared filesystem.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"scantrack/internal/tracker"
)

var _ tracker.FileStore = (*Store)(nil)

// Config holds explicit construction parameters. Credentials come from the
// default AWS chain.
type Config struct {
	Region    string
	Bucket    string
	Endpoint  string // optional; if set enables a custom endpoint (e.g. MinIO)
	PathStyle bool
}

// Store maps marker directories to object-key prefixes in a single bucket.
type Store struct {
	client *s3.Client
	bucket string
}

// New creates an S3 marker store from Config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// keyPrefix normalises a marker directory into an object-key prefix.
func keyPrefix(dir string) string {
	dir = strings.Trim(dir, "/")
	if dir == "" {
		return ""
	}
	return dir + "/"
}

// List returns the object names directly under dir's prefix.
func (s *Store) List(ctx context.Context, dir string) ([]string, error) {
	prefix := keyPrefix(dir)
	var names []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            &prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			names = append(names, name)
		}
		if out.IsTruncated != nil && *out.IsTruncated && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	return names, nil
}

// Create writes an empty object for the marker.
func (s *Store) Create(ctx context.Context, dir, name string) error {
	key := keyPrefix(dir) + name
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(nil),
	})
	return err
}

// Remove deletes the marker object. S3 deletes are idempotent so an absent
// marker is not an error.
func (s *Store) Remove(ctx context.Context, dir, name string) error {
	key := keyPrefix(dir) + name
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	return err
}
