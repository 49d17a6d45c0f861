// Package apiclient talks to the inventory backend's REST API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stockboard/internal/domain"
	applog "stockboard/internal/log"
	"stockboard/internal/metrics"
)

type Client struct {
	base    string
	http    *http.Client
	timeout time.Duration
	breaker *Breaker
}

type Option func(*Client)

// WithHTTPClient replaces the instrumented default transport (tests).
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithBreaker(b *Breaker) Option { return func(c *Client) { c.breaker = b } }

func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &Client{
		base:    strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout: timeout,
		breaker: NewBreaker("inventory-backend", 5, 15*time.Second),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) BreakerState() CircuitState { return c.breaker.State() }

func (c *Client) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var out []domain.Product
	if err := c.do(ctx, "list_products", http.MethodGet, "/produtos", nil, &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateProduct(ctx context.Context, in domain.NewProduct) (domain.Product, error) {
	const op = "create_product"
	if strings.TrimSpace(in.SKU) == "" || strings.TrimSpace(in.Name) == "" {
		return domain.Product{}, domain.NewValidationError(op, "SKU and name are required.")
	}
	if in.Quantity < 0 || in.Threshold < 0 {
		return domain.Product{}, domain.NewValidationError(op, "Quantity and reorder point cannot be negative.")
	}
	var out domain.Product
	err := c.do(ctx, op, http.MethodPost, "/produtos", in, &out, nil)
	return out, err
}

func (c *Client) UpdateProduct(ctx context.Context, sku string, in domain.ProductUpdate) (domain.Product, error) {
	const op = "update_product"
	if strings.TrimSpace(in.Name) == "" {
		return domain.Product{}, domain.NewValidationError(op, "Name is required.")
	}
	if in.Threshold < 0 {
		return domain.Product{}, domain.NewValidationError(op, "Reorder point cannot be negative.")
	}
	var out domain.Product
	err := c.do(ctx, op, http.MethodPut, "/produtos/"+url.PathEscape(sku), in, &out, nil)
	return out, err
}

// DeleteProduct removes the product; the backend cascades its movements.
func (c *Client) DeleteProduct(ctx context.Context, sku string) error {
	return c.do(ctx, "delete_product", http.MethodDelete, "/produtos/"+url.PathEscape(sku), nil, nil, nil)
}

// CreateMovement records an entrada/saida and returns the product as updated by the backend.
func (c *Client) CreateMovement(ctx context.Context, in domain.MovementInput) (domain.Product, error) {
	const op = "create_movement"
	if in.Quantity <= 0 {
		return domain.Product{}, domain.NewValidationError(op, "Quantity must be greater than zero.")
	}
	if !in.Direction.Valid() {
		return domain.Product{}, domain.NewValidationError(op, "Direction must be entrada or saida.")
	}
	var out domain.Product
	// the backend rejects a saida beyond the stock on hand with a 400
	err := c.do(ctx, op, http.MethodPost, "/movimentacoes", in, &out, map[int]domain.ErrorKind{
		http.StatusBadRequest: domain.KindInsufficientStock,
	})
	return out, err
}

// ListHistory returns movements newest first.
func (c *Client) ListHistory(ctx context.Context) ([]domain.Movement, error) {
	var out []domain.Movement
	if err := c.do(ctx, "list_history", http.MethodGet, "/movimentacoes/historico", nil, &out, nil); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At.Time) {
			return out[i].At.After(out[j].At.Time)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (c *Client) Forecast(ctx context.Context, sku string) (domain.Forecast, error) {
	var out domain.Forecast
	err := c.do(ctx, "forecast", http.MethodGet, "/produtos/previsao/"+url.PathEscape(sku), nil, &out, nil)
	if err == nil && out.SKU == "" {
		out.SKU = sku
	}
	return out, err
}

// do issues one request. overrides remaps specific status codes for an operation.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any, overrides map[int]domain.ErrorKind) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = domain.KindOf(err).String()
		}
		metrics.ObserveBackend(op, outcome, time.Since(start))
	}()

	if !c.breaker.Allow() {
		return &domain.Error{Kind: domain.KindNetwork, Op: op, Err: errors.New("circuit breaker open")}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, merr := json.Marshal(in)
		if merr != nil {
			return &domain.Error{Kind: domain.KindUnexpected, Op: op, Err: merr}
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.base+path, body)
	if err != nil {
		return &domain.Error{Kind: domain.KindUnexpected, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// the caller gave up; says nothing about the backend
		if ctx.Err() != nil {
			return &domain.Error{Kind: domain.KindNetwork, Op: op, Err: ctx.Err()}
		}
		c.breaker.Record(true)
		applog.WithContext(ctx).Warn().Err(err).Str("op", op).Msg("backend unreachable")
		return &domain.Error{Kind: domain.KindNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		if ctx.Err() != nil {
			return &domain.Error{Kind: domain.KindNetwork, Op: op, Status: resp.StatusCode, Err: ctx.Err()}
		}
		c.breaker.Record(true)
		return &domain.Error{Kind: domain.KindNetwork, Op: op, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 500 {
		c.breaker.Record(true)
		applog.WithContext(ctx).Error().Int("status", resp.StatusCode).Str("op", op).Msg("backend error")
		return &domain.Error{Kind: domain.KindUnexpected, Op: op, Status: resp.StatusCode, Detail: parseDetail(raw)}
	}
	c.breaker.Record(false)

	if resp.StatusCode >= 400 {
		kind, ok := overrides[resp.StatusCode]
		if !ok {
			kind = kindForStatus(resp.StatusCode)
		}
		return &domain.Error{Kind: kind, Op: op, Status: resp.StatusCode, Detail: parseDetail(raw)}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.Error{Kind: domain.KindNetwork, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func kindForStatus(status int) domain.ErrorKind {
	switch status {
	case http.StatusNotFound:
		return domain.KindNotFound
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return domain.KindValidation
	default:
		return domain.KindUnexpected
	}
}

// parseDetail extracts FastAPI's {"detail": "..."} or {"detail": [{"msg": "..."}]}.
func parseDetail(raw []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(body.Detail, &s); err == nil {
		return s
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(body.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}
