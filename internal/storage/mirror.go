package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bull/mediarag/internal/config"
)

// Mirror copies artifacts to a MinIO bucket. All operations are best effort:
// an unreachable object store degrades to local-only persistence.
type Mirror struct {
	client *minio.Client
	bucket string
	logger *slog.Logger

	mu          sync.Mutex
	bucketReady bool
}

// NewMirror builds a mirror from configuration. Returns nil when mirroring
// is disabled or credentials are missing; callers treat nil as "no mirror".
func NewMirror(cfg config.MinIOConfig, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		return nil
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		logger.Warn("object store mirror enabled but credentials are missing")
		return nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		logger.Error("failed to initialize object store client", "endpoint", cfg.Endpoint, "error", err)
		return nil
	}
	logger.Info("object store mirror initialized", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return &Mirror{client: client, bucket: cfg.Bucket, logger: logger}
}

// Upload mirrors a local file under the given object name. Failures are
// logged and swallowed.
func (m *Mirror) Upload(localPath, objectName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if !m.ensureBucket(ctx) {
		return
	}
	if _, err := m.client.FPutObject(ctx, m.bucket, objectName, localPath, minio.PutObjectOptions{}); err != nil {
		m.logger.Warn("failed to mirror artifact", "path", localPath, "object", objectName, "error", err)
		return
	}
	m.logger.Debug("mirrored artifact", "object", objectName)
}

func (m *Mirror) ensureBucket(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bucketReady {
		return true
	}
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		m.logger.Warn("bucket check failed", "bucket", m.bucket, "error", err)
		return false
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			m.logger.Warn("bucket creation failed", "bucket", m.bucket, "error", err)
			return false
		}
		m.logger.Info("created mirror bucket", "bucket", m.bucket)
	}
	m.bucketReady = true
	return true
}
