package archive

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"dupi-go/internal/dupi"
)

// MinioOptions configures a MinioArchive.
type MinioOptions struct {
	// Endpoint is a URL such as "https://minio.local:9000". The scheme
	// selects TLS.
	Endpoint string
	Bucket   string
	Prefix   string
	Region   string

	// Static credentials. When empty, MINIO_* and then AWS_* environment
	// variables are consulted.
	AccessKeyID     string
	SecretAccessKey string
}

// MinioArchive stores snapshots in a MinIO (or other S3-compatible) bucket
// through the MinIO client.
type MinioArchive struct {
	name   string
	bucket string
	prefix string
	client *minio.Client
}

// parseMinioEndpoint splits an endpoint URL into host and TLS flag.
func parseMinioEndpoint(endpoint string) (string, bool, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parsing endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		return u.Host, true, nil
	case "http":
		return u.Host, false, nil
	default:
		return "", false, fmt.Errorf("endpoint %q must start with http:// or https://", endpoint)
	}
}

// NewMinioArchive creates a client for the bucket in opts.
func NewMinioArchive(name string, opts MinioOptions) (*MinioArchive, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("minio archive requires a bucket")
	}
	host, secure, err := parseMinioEndpoint(opts.Endpoint)
	if err != nil {
		return nil, err
	}

	creds := credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvMinio{},
		&credentials.EnvAWS{},
	})
	if opts.AccessKeyID != "" {
		creds = credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, "")
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  creds,
		Secure: secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}
	return &MinioArchive{name: name, bucket: opts.Bucket, prefix: opts.Prefix, client: client}, nil
}

// PutSnapshot uploads the snapshot with its version as user metadata.
func (a *MinioArchive) PutSnapshot(ctx context.Context, hostID string, r io.Reader, size int64, version int64) error {
	if err := validHostID(hostID); err != nil {
		return err
	}
	info, err := a.client.PutObject(ctx, a.bucket, snapshotKey(a.prefix, hostID), r, size, minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: map[string]string{versionMetaKey: strconv.FormatInt(version, 10)},
	})
	if err != nil {
		return fmt.Errorf("uploading snapshot: %w", err)
	}
	if info.Size != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, info.Size)
	}
	return nil
}

// GetSnapshot downloads the host's snapshot into w.
func (a *MinioArchive) GetSnapshot(ctx context.Context, hostID string, w io.Writer) error {
	obj, err := a.client.GetObject(ctx, a.bucket, snapshotKey(a.prefix, hostID), minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("downloading snapshot: %w", err)
	}
	defer obj.Close()

	if _, err := io.Copy(w, obj); err != nil {
		if isNoSuchKey(err) {
			return fmt.Errorf("host %s: %w", hostID, ErrSnapshotNotFound)
		}
		return fmt.Errorf("reading snapshot: %w", err)
	}
	return nil
}

// SnapshotVersion reads the version from the object's metadata, or 0 when
// the object does not exist.
func (a *MinioArchive) SnapshotVersion(ctx context.Context, hostID string) (int64, error) {
	info, err := a.client.StatObject(ctx, a.bucket, snapshotKey(a.prefix, hostID), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading snapshot metadata: %w", err)
	}
	return parseVersion(userMetadata(info.UserMetadata, versionMetaKey))
}

// ValidateSetup checks that the bucket exists.
func (a *MinioArchive) ValidateSetup(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", a.bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", a.bucket)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

// userMetadata looks up key in metadata returned by the server, which
// canonicalizes header case.
func userMetadata(md map[string]string, key string) string {
	for k, v := range md {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// Compile-time check that MinioArchive implements dupi.SnapshotArchive interface
var _ dupi.SnapshotArchive = (*MinioArchive)(nil)
