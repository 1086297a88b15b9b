package gcsuploader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// UploadFile uploads a local file to a GCS bucket under the given object name.
// It assumes Application Default Credentials are configured (gcloud auth application-default login).
func UploadFile(ctx context.Context, bucketName, objectName, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("UploadFile: open file %q: %w", filePath, err)
	}
	defer f.Close()

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("UploadFile: create storage client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	w.ContentType = ContentType(filePath)
	defer func() {
		// Ensure the writer is closed even on early returns
		_ = w.Close()
	}()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("UploadFile: copy %s to gs://%s/%s: %w", filePath, bucketName, objectName, err)
	}

	// Close to finalize the upload
	if err := w.Close(); err != nil {
		return fmt.Errorf("UploadFile: finalize upload: %w", err)
	}
	return nil
}

// ContentType picks the object content type for a ledger or cache file.
func ContentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".json":
		return "application/json"
	case ".prom":
		return "text/plain; version=0.0.4"
	default:
		return "application/octet-stream"
	}
}

// ParseGCSURI splits "gs://bucket/path/to/object" into bucket and object.
// The object part may be empty when only a bucket (or bucket/prefix/) is given.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no bucket): %s", uri)
	}
	if len(parts) == 1 {
		return parts[0], "", nil
	}
	return parts[0], parts[1], nil
}

// ExtractFilenameFromGCSURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/cache/20240102T030405Z-1a2b3c4d.json" → "20240102T030405Z-1a2b3c4d.json"
func ExtractFilenameFromGCSURI(uri string) string {
	_, object, err := ParseGCSURI(uri)
	if err != nil || object == "" {
		return strings.TrimPrefix(uri, "gs://")
	}
	return path.Base(object)
}

// Publish uploads local files under the prefix of dest ("gs://bucket/prefix")
// keeping their base names, and returns the resulting URIs in input order.
func Publish(ctx context.Context, svc StorageService, dest string, files ...string) ([]string, error) {
	bucket, prefix, err := ParseGCSURI(dest)
	if err != nil {
		return nil, fmt.Errorf("Publish: %w", err)
	}
	prefix = strings.Trim(prefix, "/")

	uris := make([]string, 0, len(files))
	for _, f := range files {
		object := filepath.Base(f)
		if prefix != "" {
			object = prefix + "/" + object
		}
		if err := svc.UploadFile(ctx, bucket, object, f); err != nil {
			return uris, fmt.Errorf("Publish: %w", err)
		}
		uris = append(uris, "gs://"+bucket+"/"+object)
	}
	return uris, nil
}
