package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hazz-dev/servwatch/internal/config"
)

// ManifestReader runs a command inside a service container.
type ManifestReader interface {
	Exec(ctx context.Context, service string, command ...string) (string, error)
}

// VersionProbe compares the installed build against the latest published one.
type VersionProbe struct {
	client       *http.Client
	apiURL       string
	appID        string
	service      string
	manifestPath string
	reader       ManifestReader
}

// NewVersionProbe creates a probe that reads the manifest through reader.
func NewVersionProbe(cfg config.ServerConfig, reader ManifestReader) *VersionProbe {
	return NewVersionProbeWithClient(cfg, reader, NewHTTPClient(cfg.Timeout.Duration))
}

// NewVersionProbeWithClient creates a probe with a custom HTTP client (for testing).
func NewVersionProbeWithClient(cfg config.ServerConfig, reader ManifestReader, client *http.Client) *VersionProbe {
	return &VersionProbe{
		client:       client,
		apiURL:       strings.TrimRight(cfg.VersionAPI, "/") + "/" + cfg.AppID,
		appID:        cfg.AppID,
		service:      cfg.Service,
		manifestPath: cfg.ManifestPath(),
		reader:       reader,
	}
}

type appInfo struct {
	Depots struct {
		Branches struct {
			Public *struct {
				BuildID *BuildID `json:"buildid"`
			} `json:"public"`
		} `json:"branches"`
	} `json:"depots"`
}

// LatestBuild fetches the public branch build id from the version service.
func (p *VersionProbe) LatestBuild(ctx context.Context) (BuildID, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: creating request: %v", ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: querying version service: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, fmt.Errorf("%w: reading version response: %v", ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: version service returned status %d", ErrTransport, resp.StatusCode)
	}

	var doc struct {
		Data map[string]appInfo `json:"data"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return 0, fmt.Errorf("%w: decoding version response: %v: %s", ErrParse, err, truncate(body))
	}
	info, ok := doc.Data[p.appID]
	if !ok || info.Depots.Branches.Public == nil || info.Depots.Branches.Public.BuildID == nil {
		return 0, fmt.Errorf("%w: no public buildid for app %s: %s", ErrParse, p.appID, truncate(body))
	}
	return *info.Depots.Branches.Public.BuildID, nil
}

// CurrentBuild reads the installed build id from the app manifest inside
// the server container.
func (p *VersionProbe) CurrentBuild(ctx context.Context) (BuildID, error) {
	out, err := p.reader.Exec(ctx, p.service, "cat", p.manifestPath)
	if err != nil {
		return 0, fmt.Errorf("reading manifest %s: %w", p.manifestPath, err)
	}
	return ParseManifestBuildID(out)
}

// Compare fetches both build ids.
func (p *VersionProbe) Compare(ctx context.Context) (Comparison, error) {
	latest, err := p.LatestBuild(ctx)
	if err != nil {
		return Comparison{}, err
	}
	current, err := p.CurrentBuild(ctx)
	if err != nil {
		return Comparison{Latest: latest}, err
	}
	return Comparison{Latest: latest, Current: current}, nil
}

func truncate(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
