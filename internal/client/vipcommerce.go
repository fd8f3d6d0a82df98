package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"vipcommerce/imagefetch/internal/config"
	"vipcommerce/imagefetch/internal/domain"

	log "github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"
	"resty.dev/v3"
)

// CatalogClient talks to the VipCommerce import API.
type CatalogClient interface {
	// GetAllProducts walks the product listing sequentially from page 1
	// until the API reports exhaustion. Any page that cannot be fetched
	// after the configured retries fails the whole call: a truncated
	// catalog must never be returned as a complete one.
	GetAllProducts(ctx context.Context) ([]domain.Product, error)

	GetProductPage(ctx context.Context, page int) (*ProductPage, error)
	GetOrderPage(ctx context.Context, page int) (*OrderPage, error)
	GetOrderProducts(ctx context.Context, orderCode string) ([]OrderProduct, error)
}

// ProductPage is one page of the product listing.
type ProductPage struct {
	PageNumber int
	TotalPages int
	TotalCount int
	Products   []domain.Product
}

// OrderPage is one page of the order listing.
type OrderPage struct {
	PageNumber int
	TotalPages int
	Codes      []string
}

// OrderProduct is one line of an order, linking the storefront product ID
// to the ERP reference code.
type OrderProduct struct {
	ProductID    string `json:"produto_id"`
	ExternalCode string `json:"codigo_erp"`
}

type pagination struct {
	Count     int `json:"count"`
	PageCount int `json:"page_count"`
}

type productPagePayload struct {
	Success    bool             `json:"success"`
	Pagination pagination       `json:"pagination"`
	Data       []domain.Product `json:"data"`
}

type orderPagePayload struct {
	Success    bool       `json:"success"`
	Pagination pagination `json:"pagination"`
	Data       []struct {
		Code string `json:"codigo"`
	} `json:"data"`
}

type orderProductsPayload struct {
	Success bool           `json:"success"`
	Data    []OrderProduct `json:"data"`
}

type catalogClient struct {
	rl         ratelimit.Limiter
	config     config.APIConfig
	baseURL    string
	httpClient *resty.Client
}

func NewCatalogClient(cfg config.APIConfig) CatalogClient {
	client := resty.New().
		SetTimeout(cfg.RequestTimeout()).
		SetHeader("Accept", "application/json").
		SetTLSClientConfig(&tls.Config{
			InsecureSkipVerify: true,
		})

	if cfg.DomainKey != "" {
		client.SetHeader("DomainKey", cfg.DomainKey)
	}
	if cfg.AuthToken != "" {
		client.SetHeader("Authorization", "Basic "+cfg.AuthToken)
	}

	rl := ratelimit.NewUnlimited()
	if cfg.MaxRequestsPerSecond > 0 {
		rl = ratelimit.New(cfg.MaxRequestsPerSecond)
	}

	return &catalogClient{
		rl:         rl,
		config:     cfg,
		baseURL:    cfg.BaseURL,
		httpClient: client,
	}
}

// statusError marks an HTTP-level failure so retry logic can tell server
// errors (retryable) from client errors (not).
type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP error: %d %s", e.code, e.status)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return true
}

func (c *catalogClient) GetAllProducts(ctx context.Context) ([]domain.Product, error) {
	maxPages := c.config.MaxPages
	if maxPages <= 0 {
		maxPages = 1000
	}

	products := make([]domain.Product, 0)
	totalPages := 1

	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		if pageNum > maxPages {
			return nil, fmt.Errorf("catalog pagination exceeded the %d page ceiling", maxPages)
		}

		page, err := c.GetProductPage(ctx, pageNum)
		if err != nil {
			return nil, fmt.Errorf("catalog fetch failed on page %d: %w", pageNum, err)
		}

		if pageNum == 1 {
			totalPages = page.TotalPages
			if totalPages < 1 {
				totalPages = 1
			}
			if totalPages > maxPages {
				return nil, fmt.Errorf("API reports %d pages, above the %d page ceiling", totalPages, maxPages)
			}
			log.Infof("Catalog has %d products across %d pages", page.TotalCount, totalPages)
		}

		// Empty page is the exhaustion sentinel, even if the reported
		// page count says otherwise.
		if len(page.Products) == 0 {
			log.Debugf("Page %d returned no products, stopping pagination", pageNum)
			break
		}

		products = append(products, page.Products...)
	}

	return products, nil
}

func (c *catalogClient) GetProductPage(ctx context.Context, page int) (*ProductPage, error) {
	var result *ProductPage

	err := c.withRetry(ctx, fmt.Sprintf("product page %d", page), func() error {
		payload := &productPagePayload{}
		if err := c.getJSON(ctx, c.baseURL+"/importacao/produtos", map[string]string{
			"page":          strconv.Itoa(page),
			"possui_imagem": "true",
		}, payload); err != nil {
			return err
		}
		if !payload.Success {
			return fmt.Errorf("API reported success=false for product page %d", page)
		}

		result = &ProductPage{
			PageNumber: page,
			TotalPages: payload.Pagination.PageCount,
			TotalCount: payload.Pagination.Count,
			Products:   payload.Data,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debugf("Fetched product page %d with %d products", page, len(result.Products))
	return result, nil
}

func (c *catalogClient) GetOrderPage(ctx context.Context, page int) (*OrderPage, error) {
	var result *OrderPage

	err := c.withRetry(ctx, fmt.Sprintf("order page %d", page), func() error {
		payload := &orderPagePayload{}
		if err := c.getJSON(ctx, c.baseURL+"/importacao/pedidos", map[string]string{
			"page":          strconv.Itoa(page),
			"start_created": c.config.StartCreated,
			"end_created":   c.config.EndCreated,
		}, payload); err != nil {
			return err
		}
		if !payload.Success {
			return fmt.Errorf("API reported success=false for order page %d", page)
		}

		codes := make([]string, 0, len(payload.Data))
		for _, order := range payload.Data {
			if order.Code != "" {
				codes = append(codes, order.Code)
			}
		}

		result = &OrderPage{
			PageNumber: page,
			TotalPages: payload.Pagination.PageCount,
			Codes:      codes,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debugf("Fetched order page %d with %d orders", page, len(result.Codes))
	return result, nil
}

func (c *catalogClient) GetOrderProducts(ctx context.Context, orderCode string) ([]OrderProduct, error) {
	payload := &orderProductsPayload{}
	url := fmt.Sprintf("%s/importacao/pedidos/%s/pedido-produtos", c.baseURL, orderCode)

	// Single attempt: a missed order only drops a few map entries, the
	// caller counts it and moves on.
	if err := c.getJSON(ctx, url, nil, payload); err != nil {
		return nil, fmt.Errorf("failed to fetch products for order %s: %w", orderCode, err)
	}
	if !payload.Success {
		return nil, fmt.Errorf("API reported success=false for order %s", orderCode)
	}

	return payload.Data, nil
}

// getJSON performs one rate-limited GET and decodes the JSON body into out.
// Decoding is done by hand so a misdeclared Content-Type cannot silently
// leave out empty.
func (c *catalogClient) getJSON(ctx context.Context, url string, params map[string]string, out any) error {
	c.rl.Take()

	req := c.httpClient.R().SetContext(ctx)
	if params != nil {
		req.SetQueryParams(params)
	}

	resp, err := req.Get(url)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("failed to fetch URL: %w", err)
	}

	if resp.IsError() {
		return &statusError{code: resp.StatusCode(), status: resp.Status()}
	}

	if err := json.Unmarshal(resp.Bytes(), out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// withRetry runs fn up to MaxRetries times with exponential backoff. Client
// errors (4xx) and context cancellation stop immediately.
func (c *catalogClient) withRetry(ctx context.Context, desc string, fn func() error) error {
	attempts := c.config.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			backoff := c.config.RetryBackoff() * time.Duration(1<<uint(attempt-2))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if !retryable(err) {
			return err
		}

		lastErr = err
		log.Warnf("Attempt %d/%d for %s failed: %v", attempt, attempts, desc, err)
	}

	return fmt.Errorf("%s failed after %d attempts: %w", desc, attempts, lastErr)
}
