package archive

import (
	"context"
	"fmt"
	"os"

	"dupi-go/internal/config"
	"dupi-go/internal/dupi"
)

// Environment variables holding static object store credentials. When
// unset, each backend falls back to its own credential chain.
const (
	EnvAccessKeyID     = "DUPI_ARCHIVE_ACCESS_KEY_ID"
	EnvSecretAccessKey = "DUPI_ARCHIVE_SECRET_ACCESS_KEY"
)

// NewArchiveFromConfig creates a SnapshotArchive based on the archive config type.
func NewArchiveFromConfig(ctx context.Context, cfg config.ArchiveConfig) (dupi.SnapshotArchive, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryArchive(cfg.Name), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem archive %q requires fs_root", cfg.Name)
		}
		a, err := NewFileSystemArchive(cfg.Name, cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return a, nil
	case "s3":
		a, err := NewS3Archive(ctx, cfg.Name, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     os.Getenv(EnvAccessKeyID),
			SecretAccessKey: os.Getenv(EnvSecretAccessKey),
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	case "minio":
		if cfg.S3Endpoint == "" {
			return nil, fmt.Errorf("minio archive %q requires s3_endpoint", cfg.Name)
		}
		a, err := NewMinioArchive(cfg.Name, MinioOptions{
			Endpoint:        cfg.S3Endpoint,
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			AccessKeyID:     os.Getenv(EnvAccessKeyID),
			SecretAccessKey: os.Getenv(EnvSecretAccessKey),
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
}
