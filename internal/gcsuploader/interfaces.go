package gcsuploader

import "context"

// StorageService provides an interface for cloud storage operations.
// This interface enables mocking and testing of storage functionality.
type StorageService interface {
	// UploadFile uploads a local file to a storage bucket under the given object name.
	UploadFile(ctx context.Context, bucketName, objectName, filePath string) error

	// DownloadFile reads an object from a storage bucket.
	DownloadFile(ctx context.Context, bucketName, objectName string) ([]byte, error)
}

// GCSStorageService is the concrete implementation of StorageService
// that interacts with Google Cloud Storage.
type GCSStorageService struct{}

// NewGCSStorageService creates a new instance of GCSStorageService.
func NewGCSStorageService() *GCSStorageService {
	return &GCSStorageService{}
}

// UploadFile delegates to the package-level UploadFile function.
func (s *GCSStorageService) UploadFile(ctx context.Context, bucketName, objectName, filePath string) error {
	return UploadFile(ctx, bucketName, objectName, filePath)
}

// DownloadFile delegates to the package-level DownloadFile function.
func (s *GCSStorageService) DownloadFile(ctx context.Context, bucketName, objectName string) ([]byte, error) {
	return DownloadFile(ctx, bucketName, objectName)
}
