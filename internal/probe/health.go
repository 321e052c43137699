package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hazz-dev/servwatch/internal/config"
)

const maxBodyBytes = 1 << 20

var healthCheckRequest = []byte(`{"function":"HealthCheck","data":{"clientCustomData":""}}`)

// HealthProbe queries the game server's HealthCheck API function.
type HealthProbe struct {
	endpoint string
	host     string
	client   *http.Client
}

// NewHealthProbe creates a probe for the server described by cfg.
func NewHealthProbe(cfg config.ServerConfig) *HealthProbe {
	return NewHealthProbeWithClient(cfg, NewHTTPClient(cfg.Timeout.Duration))
}

// NewHealthProbeWithClient creates a probe with a custom HTTP client (for testing).
func NewHealthProbeWithClient(cfg config.ServerConfig, client *http.Client) *HealthProbe {
	return &HealthProbe{
		endpoint: strings.TrimRight(cfg.URL, "/") + "/api/v1",
		host:     cfg.HostHeader,
		client:   client,
	}
}

type healthResponse struct {
	Data *struct {
		Health *string `json:"health"`
	} `json:"data"`
}

// Check sends one health request. It never fails: transport and decoding
// problems are reported as StatusError.
func (p *HealthProbe) Check(ctx context.Context) HealthResult {
	start := time.Now()
	result := HealthResult{CheckedAt: start}

	fail := func(err error) HealthResult {
		result.Status = StatusError
		result.Err = err
		result.ResponseTime = time.Since(start)
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(healthCheckRequest))
	if err != nil {
		return fail(fmt.Errorf("%w: creating request: %v", ErrTransport, err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if p.host != "" {
		req.Host = p.host
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrTransport, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	result.ResponseTime = time.Since(start)
	if err != nil {
		return fail(fmt.Errorf("%w: reading body: %v", ErrTransport, err))
	}
	result.Body = string(body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(fmt.Errorf("%w: unexpected status %d", ErrTransport, resp.StatusCode))
	}

	var decoded healthResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fail(fmt.Errorf("%w: decoding health response: %v", ErrParse, err))
	}
	if decoded.Data == nil || decoded.Data.Health == nil {
		return fail(fmt.Errorf("%w: response has no data.health field", ErrParse))
	}

	result.Reported = *decoded.Data.Health
	switch result.Reported {
	case string(StatusHealthy):
		result.Status = StatusHealthy
		result.Body = ""
	case string(StatusSlow):
		result.Status = StatusSlow
		result.Body = ""
	default:
		result.Status = StatusUnhealthy
	}
	return result
}
