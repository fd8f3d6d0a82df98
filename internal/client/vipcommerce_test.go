package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"vipcommerce/imagefetch/internal/config"
	"vipcommerce/imagefetch/internal/domain"
)

func testConfig(baseURL string) config.APIConfig {
	return config.APIConfig{
		BaseURL:        baseURL,
		Timeout:        5,
		MaxRetries:     3,
		RetryBackoffMs: 1,
		MaxPages:       100,
	}
}

func productPageJSON(t *testing.T, pageCount, totalCount int, products []domain.Product) []byte {
	t.Helper()
	payload := map[string]any{
		"success": true,
		"pagination": map[string]int{
			"count":      totalCount,
			"page_count": pageCount,
		},
		"data": products,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func makeProducts(t *testing.T, n, offset int) []domain.Product {
	t.Helper()
	products := make([]domain.Product, n)
	for i := range products {
		products[i] = domain.Product{
			ExternalCode: strconv.Itoa(offset + i),
			Images: []domain.ImageVariant{
				{Size: domain.ImageSize250, URL: fmt.Sprintf("https://cdn.example/%d.jpg", offset+i)},
			},
		}
	}
	return products
}

func TestGetAllProductsPaginates(t *testing.T) {
	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/importacao/produtos" {
			http.NotFound(w, r)
			return
		}
		requests.Add(1)

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		var products []domain.Product
		switch page {
		case 1:
			products = makeProducts(t, 50, 0)
		case 2:
			products = makeProducts(t, 50, 50)
		case 3:
			products = makeProducts(t, 20, 100)
		default:
			t.Errorf("unexpected request for page %d", page)
		}
		w.Write(productPageJSON(t, 3, 120, products))
	}))
	defer server.Close()

	c := NewCatalogClient(testConfig(server.URL))

	products, err := c.GetAllProducts(context.Background())
	if err != nil {
		t.Fatalf("GetAllProducts: %v", err)
	}

	if len(products) != 120 {
		t.Fatalf("got %d products, want 120", len(products))
	}
	if got := requests.Load(); got != 3 {
		t.Fatalf("issued %d requests, want exactly 3", got)
	}

	// Page-then-response order must be preserved.
	if products[0].ExternalCode != "0" || products[119].ExternalCode != "119" {
		t.Fatalf("products out of order: first=%s last=%s",
			products[0].ExternalCode, products[119].ExternalCode)
	}
}

func TestGetAllProductsFatalAfterRetries(t *testing.T) {
	var page2Attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page == 2 {
			page2Attempts.Add(1)
			http.Error(w, "upstream exploded", http.StatusInternalServerError)
			return
		}
		w.Write(productPageJSON(t, 3, 120, makeProducts(t, 50, 0)))
	}))
	defer server.Close()

	c := NewCatalogClient(testConfig(server.URL))

	products, err := c.GetAllProducts(context.Background())
	if err == nil {
		t.Fatal("expected a fatal error when a page keeps failing")
	}
	if products != nil {
		t.Fatalf("expected no partial catalog, got %d products", len(products))
	}
	if !strings.Contains(err.Error(), "page 2") {
		t.Fatalf("error should name the failing page: %v", err)
	}
	if got := page2Attempts.Load(); got != 3 {
		t.Fatalf("page 2 tried %d times, want exactly the configured 3", got)
	}
}

func TestGetAllProductsEmptyPageStops(t *testing.T) {
	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page == 1 {
			// Reported page count disagrees with reality.
			w.Write(productPageJSON(t, 5, 250, makeProducts(t, 50, 0)))
			return
		}
		w.Write(productPageJSON(t, 5, 250, nil))
	}))
	defer server.Close()

	c := NewCatalogClient(testConfig(server.URL))

	products, err := c.GetAllProducts(context.Background())
	if err != nil {
		t.Fatalf("GetAllProducts: %v", err)
	}
	if len(products) != 50 {
		t.Fatalf("got %d products, want 50", len(products))
	}
	if got := requests.Load(); got != 2 {
		t.Fatalf("issued %d requests, want 2 (empty page is the sentinel)", got)
	}
}

func TestGetAllProductsPageCeiling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(productPageJSON(t, 500, 25000, makeProducts(t, 50, 0)))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxPages = 5
	c := NewCatalogClient(cfg)

	if _, err := c.GetAllProducts(context.Background()); err == nil {
		t.Fatal("expected an error when the reported page count exceeds the ceiling")
	}
}

func TestGetProductPageClientErrorIsNotRetried(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	c := NewCatalogClient(testConfig(server.URL))

	if _, err := c.GetProductPage(context.Background(), 1); err == nil {
		t.Fatal("expected an error for a 403 response")
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("4xx retried %d times, want a single attempt", got)
	}
}

func TestGetProductPageSuccessFalseIsRetried(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.Write([]byte(`{"success": false}`))
			return
		}
		w.Write(productPageJSON(t, 1, 1, makeProducts(t, 1, 0)))
	}))
	defer server.Close()

	c := NewCatalogClient(testConfig(server.URL))

	page, err := c.GetProductPage(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetProductPage: %v", err)
	}
	if len(page.Products) != 1 {
		t.Fatalf("got %d products, want 1", len(page.Products))
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("took %d attempts, want 3", got)
	}
}

func TestGetOrderPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/importacao/pedidos" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("start_created") != "2024-01-01 00:00:00" {
			t.Errorf("missing start_created parameter: %q", r.URL.Query().Get("start_created"))
		}
		w.Write([]byte(`{
			"success": true,
			"pagination": {"count": 2, "page_count": 1},
			"data": [{"codigo": "ORD-1"}, {"codigo": "ORD-2"}, {"codigo": ""}]
		}`))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.StartCreated = "2024-01-01 00:00:00"
	cfg.EndCreated = "2025-01-01 00:00:00"
	c := NewCatalogClient(cfg)

	page, err := c.GetOrderPage(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetOrderPage: %v", err)
	}
	if len(page.Codes) != 2 {
		t.Fatalf("got %d order codes, want 2 (blank codes dropped)", len(page.Codes))
	}
	if page.TotalPages != 1 {
		t.Fatalf("got %d total pages, want 1", page.TotalPages)
	}
}

func TestGetOrderProducts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/importacao/pedidos/ORD-1/pedido-produtos" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{
			"success": true,
			"data": [{"produto_id": "p-1", "codigo_erp": "1001"}]
		}`))
	}))
	defer server.Close()

	c := NewCatalogClient(testConfig(server.URL))

	lines, err := c.GetOrderProducts(context.Background(), "ORD-1")
	if err != nil {
		t.Fatalf("GetOrderProducts: %v", err)
	}
	if len(lines) != 1 || lines[0].ExternalCode != "1001" {
		t.Fatalf("unexpected order products: %+v", lines)
	}
}

func TestAuthHeadersAreSent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("DomainKey") != "shop-key" {
			t.Errorf("DomainKey header = %q", r.Header.Get("DomainKey"))
		}
		if r.Header.Get("Authorization") != "Basic c2VjcmV0" {
			t.Errorf("Authorization header = %q", r.Header.Get("Authorization"))
		}
		w.Write(productPageJSON(t, 1, 0, nil))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.DomainKey = "shop-key"
	cfg.AuthToken = "c2VjcmV0"
	c := NewCatalogClient(cfg)

	if _, err := c.GetProductPage(context.Background(), 1); err != nil {
		t.Fatalf("GetProductPage: %v", err)
	}
}
