package uploader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"cloud.google.com/go/storage"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"vipcommerce/imagefetch/internal/config"
)

// Uploader ships the downloaded images to a bucket folder.
type Uploader interface {
	// UploadDir uploads every regular file in dir. Per-file failures are
	// counted, not fatal; the error is non-nil only when the directory
	// itself cannot be read.
	UploadDir(ctx context.Context, dir string) (uploaded, failed int, err error)
	Close() error
}

type gcsUploader struct {
	client  *storage.Client
	bucket  string
	prefix  string
	workers int
}

func NewGCSUploader(ctx context.Context, cfg config.StorageConfig) (Uploader, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	return &gcsUploader{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		workers: workers,
	}, nil
}

func (u *gcsUploader) UploadDir(ctx context.Context, dir string) (int, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read upload directory: %w", err)
	}

	var uploadedCount, failedCount atomic.Int64
	semaphore := make(chan struct{}, u.workers)
	wg := &sync.WaitGroup{}

	for _, entry := range entries {
		if entry.IsDir() || strings.Contains(entry.Name(), ".tmp-") {
			continue
		}

		wg.Add(1)
		go func(name string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if err := u.uploadFile(ctx, filepath.Join(dir, name), name); err != nil {
				failedCount.Add(1)
				log.Errorf("❌ Failed to upload %s: %v", name, err)
				return
			}
			uploadedCount.Add(1)
		}(entry.Name())
	}

	wg.Wait()

	log.Infof("✅ Uploaded %d files to gs://%s/%s (%d failed)",
		uploadedCount.Load(), u.bucket, u.prefix, failedCount.Load())
	return int(uploadedCount.Load()), int(failedCount.Load()), nil
}

func (u *gcsUploader) uploadFile(ctx context.Context, localPath, name string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	obj := u.client.Bucket(u.bucket).Object(path.Join(u.prefix, name))
	w := obj.NewWriter(ctx)
	w.ContentType = "image/jpeg"

	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize object: %w", err)
	}

	log.Debugf("Uploaded %s", name)
	return nil
}

func (u *gcsUploader) Close() error {
	return u.client.Close()
}
