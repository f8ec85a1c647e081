package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig holds the connection settings of a MinIO bucket.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type MinIOStorage struct {
	Client     *minio.Client
	BucketName string
	logger     *log.Logger
}

// NewMinIOStorage connects to MinIO and creates the bucket if it does not
// exist yet.
func NewMinIOStorage(ctx context.Context, cfg MinIOConfig, logger *log.Logger) (*MinIOStorage, error) {
	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, errBucketExists := minioClient.BucketExists(ctx, cfg.Bucket)
	if errBucketExists != nil {
		return nil, fmt.Errorf("error checking bucket existence: %w", errBucketExists)
	}
	if !exists {
		err = minioClient.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("bucket created", "bucket", cfg.Bucket)
	} else {
		logger.Debug("bucket already exists", "bucket", cfg.Bucket)
	}

	return &MinIOStorage{
		Client:     minioClient,
		BucketName: cfg.Bucket,
		logger:     logger,
	}, nil
}

// UploadFile uploads a CSV object to the bucket.
func (m *MinIOStorage) UploadFile(ctx context.Context, objectName string, data io.Reader) error {
	m.logger.Debug("uploading file", "object", objectName, "bucket", m.BucketName)
	_, err := m.Client.PutObject(ctx, m.BucketName, objectName, data, -1, minio.PutObjectOptions{
		ContentType: "text/csv",
	})
	if err != nil {
		return fmt.Errorf("failed to upload file '%s' to MinIO: %w", objectName, err)
	}
	m.logger.Info("file uploaded", "object", objectName, "bucket", m.BucketName)
	return nil
}

func (m *MinIOStorage) Location(objectName string) string {
	return fmt.Sprintf("s3://%s/%s", m.BucketName, objectName)
}
