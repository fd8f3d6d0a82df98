package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"vipcommerce/imagefetch/internal/client"
	"vipcommerce/imagefetch/internal/config"
	"vipcommerce/imagefetch/internal/domain"
	"vipcommerce/imagefetch/internal/downloader"
	"vipcommerce/imagefetch/internal/repository"
	"vipcommerce/imagefetch/internal/state"
	"vipcommerce/imagefetch/internal/uploader"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Service orchestrates the pipeline stages. Repository, state manager and
// uploader are optional collaborators and may be nil.
type Service struct {
	config       *config.Config
	client       client.CatalogClient
	dispatcher   downloader.Dispatcher
	repository   repository.CatalogRepository
	stateManager state.StateManager
	uploader     uploader.Uploader
}

func NewService(
	cfg *config.Config,
	catalogClient client.CatalogClient,
	dispatcher downloader.Dispatcher,
	repo repository.CatalogRepository,
	stateManager state.StateManager,
	upl uploader.Uploader,
) *Service {
	return &Service{
		config:       cfg,
		client:       catalogClient,
		dispatcher:   dispatcher,
		repository:   repo,
		stateManager: stateManager,
		uploader:     upl,
	}
}

// Run executes the enabled stages in order: product map, image download,
// upload. Any stage failure stops the run.
func (s *Service) Run(ctx context.Context) error {
	if s.config.Pipeline.FetchMap {
		if err := s.FetchProductMap(ctx); err != nil {
			return fmt.Errorf("product map stage failed: %w", err)
		}
	}

	if s.config.Pipeline.Download {
		if _, err := s.DownloadImages(ctx); err != nil {
			return err
		}
	}

	if s.config.Pipeline.Upload {
		if s.uploader == nil {
			return fmt.Errorf("upload stage enabled but no storage bucket configured")
		}
		uploaded, failed, err := s.uploader.UploadDir(ctx, s.config.Download.OutputDir)
		if err != nil {
			return fmt.Errorf("upload stage failed: %w", err)
		}
		log.Infof("Upload stage done: %d uploaded, %d failed", uploaded, failed)
	}

	return nil
}

// DownloadImages fetches the whole catalog, resolves the best image URL per
// product and downloads them concurrently. Only the catalog fetch is fatal;
// per-image failures end up in the summary.
func (s *Service) DownloadImages(ctx context.Context) (domain.RunSummary, error) {
	log.Info("Fetching product catalog...")

	products, err := s.client.GetAllProducts(ctx)
	if err != nil {
		return domain.RunSummary{}, fmt.Errorf("catalog fetch failed: %w", err)
	}

	resolved, skipped := s.resolveImages(products)
	log.Infof("Resolved %d of %d products to image URLs (%d skipped)",
		len(resolved), len(products), skipped)

	if err := os.MkdirAll(s.config.Download.OutputDir, 0o755); err != nil {
		return domain.RunSummary{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	log.Infof("Downloading %d images with %d workers into %s",
		len(resolved), s.config.Download.Workers, s.config.Download.OutputDir)

	// The dispatcher may add its own skips (pre-existing files), so the
	// resolver's count is folded in rather than assigned.
	summary := s.dispatcher.Run(ctx, resolved)
	summary.Skipped += skipped

	log.Infof("✅ Download complete: %d/%d succeeded, %d failed, %d skipped",
		summary.Succeeded, summary.Total, summary.Failed, summary.Skipped)

	if s.repository != nil {
		if err := s.repository.SaveRunSummary(ctx, summary); err != nil {
			log.Errorf("❌ Failed to persist run summary: %v", err)
		}
	}

	return summary, nil
}

// resolveImages applies the image selection policy to every product.
// Products with no usable image, or with an empty external code, are
// counted as skipped and never reach the dispatcher.
func (s *Service) resolveImages(products []domain.Product) ([]domain.ResolvedImage, int) {
	preferred := domain.ImageSize(s.config.Download.PreferredSize)

	resolved := make([]domain.ResolvedImage, 0, len(products))
	skipped := 0

	for _, p := range products {
		if p.ExternalCode == "" {
			skipped++
			continue
		}
		url, ok := p.BestImage(preferred)
		if !ok {
			skipped++
			continue
		}
		resolved = append(resolved, domain.ResolvedImage{
			ExternalCode: p.ExternalCode,
			URL:          url,
		})
	}

	return resolved, skipped
}

// FetchProductMap walks the order listing, fetches every order's product
// lines concurrently and writes the storefront-ID to ERP-code map as JSON.
// With a state manager configured the order crawl resumes from the last
// checkpointed page, seeded with the order codes that checkpoint persisted.
func (s *Service) FetchProductMap(ctx context.Context) error {
	startPage := 1
	var seed []string
	if s.stateManager != nil {
		page, saved, err := s.stateManager.GetOrderCheckpoint(ctx)
		if err != nil {
			return err
		}
		if page > 0 {
			startPage = page + 1
			seed = saved
			log.Infof("🔄 Resuming order crawl from page %d with %d orders already collected",
				startPage, len(seed))
		}
	}

	codes, err := s.collectOrderCodes(ctx, startPage, seed)
	if err != nil {
		return err
	}
	log.Infof("Collected %d orders, fetching product lines...", len(codes))

	productMap, failedOrders := s.collectProductMap(ctx, codes)
	if failedOrders > 0 {
		log.Warnf("⚠️ %d orders could not be fetched; map is missing their products", failedOrders)
	}
	log.Infof("Product map holds %d distinct products", len(productMap))

	if err := s.writeProductMap(productMap); err != nil {
		return err
	}

	if s.repository != nil {
		for productID, externalCode := range productMap {
			if err := s.repository.SaveProductMapping(ctx, productID, externalCode); err != nil {
				log.Errorf("❌ Failed to persist mapping %s: %v", productID, err)
			}
		}
	}

	if s.stateManager != nil {
		if err := s.stateManager.ClearOrderCheckpoint(ctx); err != nil {
			log.Warnf("Failed to clear order crawl checkpoint: %v", err)
		}
	}

	return nil
}

func (s *Service) collectOrderCodes(ctx context.Context, startPage int, seed []string) ([]string, error) {
	maxPages := s.config.API.MaxPages
	if maxPages <= 0 {
		maxPages = 1000
	}

	codes := append(make([]string, 0, len(seed)), seed...)
	totalPages := startPage

	for pageNum := startPage; pageNum <= totalPages; pageNum++ {
		if pageNum > maxPages {
			return nil, fmt.Errorf("order pagination exceeded the %d page ceiling", maxPages)
		}

		page, err := s.client.GetOrderPage(ctx, pageNum)
		if err != nil {
			return nil, fmt.Errorf("order fetch failed on page %d: %w", pageNum, err)
		}

		if pageNum == startPage {
			totalPages = page.TotalPages
			if totalPages > maxPages {
				return nil, fmt.Errorf("API reports %d order pages, above the %d page ceiling", totalPages, maxPages)
			}
		}

		if len(page.Codes) == 0 {
			break
		}
		codes = append(codes, page.Codes...)

		if s.stateManager != nil {
			if err := s.stateManager.SaveOrderCheckpoint(ctx, pageNum, page.Codes); err != nil {
				log.Warnf("Failed to checkpoint order page %d: %v", pageNum, err)
			}
		}
	}

	return codes, nil
}

func (s *Service) collectProductMap(ctx context.Context, codes []string) (map[string]string, int) {
	workers := s.config.Download.Workers
	if workers <= 0 {
		workers = 8
	}

	productMap := make(map[string]string)
	mu := &sync.Mutex{}
	var failedOrders atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(workers)

	for _, code := range codes {
		g.Go(func() error {
			lines, err := s.client.GetOrderProducts(ctx, code)
			if err != nil {
				// A missed order only thins the map; keep going.
				failedOrders.Add(1)
				log.Debugf("Order %s skipped: %v", code, err)
				return nil
			}

			mu.Lock()
			for _, line := range lines {
				if line.ProductID != "" && line.ExternalCode != "" {
					productMap[line.ProductID] = line.ExternalCode
				}
			}
			mu.Unlock()
			return nil
		})
	}

	g.Wait()
	return productMap, int(failedOrders.Load())
}

func (s *Service) writeProductMap(productMap map[string]string) error {
	outPath := s.config.Pipeline.MapOutput
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("failed to create map output directory: %w", err)
	}

	data, err := json.MarshalIndent(productMap, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode product map: %w", err)
	}

	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write product map: %w", err)
	}

	log.Infof("Product map saved to %s", outPath)
	return nil
}
