package downloader

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"vipcommerce/imagefetch/internal/config"
	"vipcommerce/imagefetch/internal/domain"

	log "github.com/sirupsen/logrus"
	"resty.dev/v3"
)

// Dispatcher downloads resolved product images into the output directory,
// one <external_code>.jpg per item.
type Dispatcher interface {
	// Run downloads every item with a bounded number of in-flight
	// fetches. One item's failure never aborts the batch; the summary
	// carries the tally. Run returns only after every worker finished.
	Run(ctx context.Context, resolved []domain.ResolvedImage) domain.RunSummary
}

type dispatcher struct {
	config     config.DownloadConfig
	httpClient *resty.Client
}

func NewDispatcher(cfg config.DownloadConfig) Dispatcher {
	client := resty.New().
		SetTimeout(cfg.RequestTimeout()).
		SetTLSClientConfig(&tls.Config{
			InsecureSkipVerify: true,
		})

	return &dispatcher{
		config:     cfg,
		httpClient: client,
	}
}

func (d *dispatcher) Run(ctx context.Context, resolved []domain.ResolvedImage) domain.RunSummary {
	workers := d.config.Workers
	if workers <= 0 {
		workers = 8
	}

	results := make(chan domain.DownloadResult, len(resolved))
	semaphore := make(chan struct{}, workers)
	wg := &sync.WaitGroup{}

	for _, img := range resolved {
		wg.Add(1)

		go func(img domain.ResolvedImage) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			results <- d.download(ctx, img)
		}(img)
	}

	wg.Wait()
	close(results)

	// Single aggregation point: counters are only touched here, after
	// the join barrier.
	summary := domain.RunSummary{Total: len(resolved)}
	for res := range results {
		switch {
		case res.Skipped:
			summary.Skipped++
		case res.Succeeded():
			summary.Succeeded++
		default:
			summary.Failed++
			log.Debugf("Download failed for %s: %s", res.ExternalCode, res.Error)
		}
	}

	return summary
}

func (d *dispatcher) download(ctx context.Context, img domain.ResolvedImage) domain.DownloadResult {
	result := domain.DownloadResult{ExternalCode: img.ExternalCode}
	outPath := filepath.Join(d.config.OutputDir, img.ExternalCode+".jpg")

	if d.config.SkipExisting {
		if _, err := os.Stat(outPath); err == nil {
			log.Debugf("Image for %s already exists, skipping fetch", img.ExternalCode)
			result.Skipped = true
			return result
		}
	}

	resp, err := d.httpClient.R().
		SetContext(ctx).
		Get(img.URL)
	if err != nil {
		result.Error = fmt.Sprintf("fetch %s: %v", img.URL, err)
		return result
	}

	if resp.IsError() {
		result.Error = fmt.Sprintf("HTTP error: %d %s", resp.StatusCode(), resp.Status())
		return result
	}

	n, err := writeAtomic(outPath, resp.Bytes())
	if err != nil {
		result.Error = fmt.Sprintf("write %s: %v", outPath, err)
		return result
	}

	result.BytesWritten = n
	return result
}

// writeAtomic writes data next to path and renames it into place, so a
// crash mid-write never leaves a truncated image behind.
func writeAtomic(path string, data []byte) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, err
	}

	n, err := tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}

	return int64(n), nil
}
