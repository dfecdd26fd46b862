// Package archive exports point-in-time project snapshots to S3-compatible
// object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"specsync/api/internal/store"
)

type objectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type ManifestEntry struct {
	FeatureID   string `json:"featureId"`
	FeatureName string `json:"featureName"`
	FileType    string `json:"fileType"`
	Version     int    `json:"version"`
	Checksum    string `json:"checksum"`
	Path        string `json:"path"`
}

type Manifest struct {
	ProjectID  string          `json:"projectId"`
	Slug       string          `json:"slug"`
	ExportedBy string          `json:"exportedBy"`
	CreatedAt  time.Time       `json:"createdAt"`
	Entries    []ManifestEntry `json:"entries"`
}

type Snapshot struct {
	Bucket   string   `json:"bucket"`
	Prefix   string   `json:"prefix"`
	Manifest Manifest `json:"manifest"`
}

type Exporter struct {
	client objectStore
	bucket string
	now    func() time.Time
}

// NewMinio connects to an S3-compatible endpoint and makes sure the bucket
// exists.
func NewMinio(ctx context.Context, cfg Config) (*Exporter, error) {
	endpoint, secure := splitEndpoint(cfg.Endpoint, cfg.UseSSL)
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return NewExporter(client, cfg.Bucket), nil
}

func NewExporter(client objectStore, bucket string) *Exporter {
	return &Exporter{client: client, bucket: bucket, now: time.Now}
}

// splitEndpoint accepts endpoints with or without a scheme; an explicit
// scheme overrides useSSL.
func splitEndpoint(endpoint string, useSSL bool) (string, bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "https://"), "/"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "http://"), "/"), false
	default:
		return strings.TrimSuffix(endpoint, "/"), useSSL
	}
}

// Export writes every spec under <slug>/<timestamp>/specs/ followed by a
// manifest.json describing them.
func (e *Exporter) Export(ctx context.Context, project store.Project, specs []store.Spec, userID string) (Snapshot, error) {
	createdAt := e.now().UTC()
	prefix := path.Join(project.Slug, createdAt.Format("20060102T150405Z"))

	manifest := Manifest{
		ProjectID:  project.ID,
		Slug:       project.Slug,
		ExportedBy: userID,
		CreatedAt:  createdAt,
		Entries:    make([]ManifestEntry, 0, len(specs)),
	}
	for _, spec := range specs {
		name := path.Join(prefix, "specs", spec.FeatureID, string(spec.FileType)+".md")
		if err := e.put(ctx, name, []byte(spec.Content), "text/markdown; charset=utf-8"); err != nil {
			return Snapshot{}, err
		}
		manifest.Entries = append(manifest.Entries, ManifestEntry{
			FeatureID:   spec.FeatureID,
			FeatureName: spec.FeatureName,
			FileType:    string(spec.FileType),
			Version:     spec.Version,
			Checksum:    spec.Checksum,
			Path:        name,
		})
	}

	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Snapshot{}, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := e.put(ctx, path.Join(prefix, "manifest.json"), payload, "application/json"); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Bucket: e.bucket, Prefix: prefix, Manifest: manifest}, nil
}

func (e *Exporter) put(ctx context.Context, name string, body []byte, contentType string) error {
	_, err := e.client.PutObject(ctx, e.bucket, name, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	return nil
}
