package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gcs "google.golang.org/api/storage/v1"

	"github.com/trogers1052/eod-ingest-service/internal/models"
)

// GCSStore keeps artifacts as objects in a Cloud Storage bucket
type GCSStore struct {
	svc    *gcs.Service
	bucket string
}

// NewGCSStore creates a store for bucket using application default credentials unless opts override them
func NewGCSStore(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSStore, error) {
	svc, err := gcs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage service: %w", err)
	}
	return &GCSStore{svc: svc, bucket: bucket}, nil
}

// Exists reports whether an object with key is present
func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.svc.Objects.Get(s.bucket, key).Fields("name").Context(ctx).Do()
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, models.NewError(models.KindStore, "exists "+key, err)
}

// Write uploads the file at localPath under key, replacing any existing object
func (s *GCSStore) Write(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return models.NewError(models.KindStore, "open "+localPath, err)
	}
	defer f.Close()

	obj := &gcs.Object{Name: key, ContentType: "text/plain"}
	if _, err := s.svc.Objects.Insert(s.bucket, obj).Media(f).Context(ctx).Do(); err != nil {
		return models.NewError(models.KindStore, "upload "+key, err)
	}
	return nil
}

// ListByPrefix returns every object key starting with prefix
func (s *GCSStore) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	call := s.svc.Objects.List(s.bucket).Prefix(prefix).Fields("items(name)", "nextPageToken")
	err := call.Pages(ctx, func(page *gcs.Objects) error {
		for _, obj := range page.Items {
			keys = append(keys, obj.Name)
		}
		return nil
	})
	if err != nil {
		return nil, models.NewError(models.KindStore, "list "+prefix, err)
	}
	return keys, nil
}

// Read downloads the object content
func (s *GCSStore) Read(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.svc.Objects.Get(s.bucket, key).Context(ctx).Download()
	if err != nil {
		return nil, models.NewError(models.KindStore, "download "+key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewError(models.KindStore, "read "+key, err)
	}
	return data, nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
