package gcsuploader

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// DownloadFile reads a whole object into memory.
func DownloadFile(ctx context.Context, bucketName, objectName string) ([]byte, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("DownloadFile: create storage client: %w", err)
	}
	defer client.Close()

	r, err := client.Bucket(bucketName).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("DownloadFile: open gs://%s/%s: %w", bucketName, objectName, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("DownloadFile: read gs://%s/%s: %w", bucketName, objectName, err)
	}
	return data, nil
}

// FetchFromGCS downloads the object named by a gs:// URI.
func FetchFromGCS(ctx context.Context, svc StorageService, gcsURI string) ([]byte, error) {
	bucket, object, err := ParseGCSURI(gcsURI)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: %w", err)
	}
	if object == "" {
		return nil, fmt.Errorf("FetchFromGCS: invalid GCS URI (no object path): %s", gcsURI)
	}
	return svc.DownloadFile(ctx, bucket, object)
}
