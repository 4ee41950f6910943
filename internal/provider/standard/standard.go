package standard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"presale_sniper/internal/config"
	"presale_sniper/internal/logbus"
	"presale_sniper/internal/model"
)

// StandardProvider talks to the vendor REST API. One resty client is shared by all
// accounts; the bearer token is attached per request.
type StandardProvider struct {
	cfg    config.ProviderConfig
	bus    *logbus.Bus
	client *resty.Client

	globalLimiter *rate.Limiter
	limits        config.LimitsConfig

	mu         sync.Mutex
	perLimiter map[string]*rate.Limiter
}

func New(cfg config.ProviderConfig, proxyCfg config.ProxyConfig, limits config.LimitsConfig, bus *logbus.Bus) *StandardProvider {
	p := &StandardProvider{
		cfg:        cfg,
		bus:        bus,
		limits:     limits,
		perLimiter: make(map[string]*rate.Limiter),
	}
	if limits.GlobalQPS > 0 {
		p.globalLimiter = rate.NewLimiter(rate.Limit(limits.GlobalQPS), max(limits.GlobalBurst, 1))
	}
	p.client = p.newClient(proxyCfg)
	return p
}

func (p *StandardProvider) Name() string { return "standard" }

type productResp struct {
	Model model.Sale `json:"model"`
}

func (p *StandardProvider) Product(ctx context.Context, saleID string) (model.Sale, error) {
	if strings.TrimSpace(saleID) == "" {
		return model.Sale{}, &model.TransportError{Op: "product", Err: errors.New("sale id is required")}
	}
	if err := p.wait(ctx, ""); err != nil {
		return model.Sale{}, err
	}

	var resp productResp
	r, err := p.client.R().
		SetContext(ctx).
		SetResult(&resp).
		Get("/products/" + url.PathEscape(saleID))
	if err != nil {
		return model.Sale{}, &model.TransportError{Op: "product", Err: err}
	}
	if r.IsError() {
		return model.Sale{}, &model.TransportError{Op: "product", Status: r.StatusCode(), Err: errors.New(bodySnippet(r))}
	}
	if resp.Model.Product.ID == "" && len(resp.Model.Variants) == 0 {
		return model.Sale{}, &model.TransportError{Op: "product", Status: r.StatusCode(), Err: errors.New("response has no product model")}
	}
	return resp.Model, nil
}

func (p *StandardProvider) Reserve(ctx context.Context, token string, batch model.ReservationBatch) error {
	if token == "" {
		return &model.TransportError{Op: "reserve", Err: errors.New("account token is required")}
	}
	if batch.ToCancel == nil {
		batch.ToCancel = []model.ReservationRequest{}
	}
	if err := p.wait(ctx, token); err != nil {
		return err
	}

	r, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(batch).
		Post("/reservations")
	if err != nil {
		return &model.TransportError{Op: "reserve", Err: err}
	}
	if r.IsError() {
		return &model.TransportError{Op: "reserve", Status: r.StatusCode(), Err: errors.New(bodySnippet(r))}
	}
	return nil
}

func (p *StandardProvider) newClient(proxyCfg config.ProxyConfig) *resty.Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(p.cfg.BaseURL, "/")).
		SetTimeout(p.cfg.Timeout()).
		SetRetryCount(p.cfg.Retry.Count).
		SetRetryWaitTime(p.cfg.Retry.Wait()).
		SetRetryMaxWaitTime(p.cfg.Retry.MaxWait()).
		AddRetryCondition(retryable)

	if proxyCfg.Global != "" {
		client.SetProxy(proxyCfg.Global)
	}
	client.SetHeader("User-Agent", p.cfg.UserAgent)
	client.SetHeader("Accept", "application/json")

	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		if p.bus != nil {
			p.bus.Log("trace", "http request", map[string]any{
				"method": req.Method,
				"url":    req.URL,
			})
		}
		return nil
	})
	return client
}

// retryable retries idempotent reads only. A reservation POST that failed with 5xx
// may still have been applied by the vendor, so the executor decides what follows.
func retryable(r *resty.Response, err error) bool {
	if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
		return false
	}
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return r.StatusCode() >= 500
}

// wait applies the global limiter and, for authenticated calls, the per-account one.
func (p *StandardProvider) wait(ctx context.Context, token string) error {
	if p.globalLimiter != nil {
		if err := p.globalLimiter.Wait(ctx); err != nil {
			return &model.TransportError{Op: "rate limit", Err: err}
		}
	}
	if token == "" || p.limits.PerAccountQPS <= 0 {
		return nil
	}
	p.mu.Lock()
	limiter := p.perLimiter[token]
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(p.limits.PerAccountQPS), max(p.limits.PerAccountBurst, 1))
		p.perLimiter[token] = limiter
	}
	p.mu.Unlock()
	if err := limiter.Wait(ctx); err != nil {
		return &model.TransportError{Op: "rate limit", Err: err}
	}
	return nil
}

func bodySnippet(r *resty.Response) string {
	body := strings.TrimSpace(r.String())
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("http %d", r.StatusCode())
	}
	return body
}
