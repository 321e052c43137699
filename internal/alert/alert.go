package alert

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hazz-dev/servwatch/internal/event"
)

// Alerter sends webhook notifications when services are restarted or updated.
type Alerter struct {
	webhookURL string
	cooldown   time.Duration
	client     *http.Client
	lastAlert  map[event.Kind]time.Time
	mu         sync.Mutex
	wg         sync.WaitGroup
	logger     *zap.Logger
}

// New creates a new Alerter. Pass nil logger to discard logs.
func New(webhookURL string, cooldown time.Duration, logger *zap.Logger) *Alerter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Alerter{
		webhookURL: webhookURL,
		cooldown:   cooldown,
		client:     &http.Client{Timeout: 10 * time.Second},
		lastAlert:  make(map[event.Kind]time.Time),
		logger:     logger,
	}
}

type webhookPayload struct {
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	Detail     string `json:"detail"`
	Error      string `json:"error"`
	OccurredAt string `json:"occurred_at"`
	Source     string `json:"source"`
}

// Notify sends a webhook for action events once the per-kind cooldown has elapsed.
func (a *Alerter) Notify(e event.Event) {
	if !e.Kind.IsAction() {
		return
	}

	a.mu.Lock()
	last, exists := a.lastAlert[e.Kind]
	if exists && time.Since(last) < a.cooldown {
		a.mu.Unlock()
		a.logger.Info("alert suppressed by cooldown", zap.String("kind", string(e.Kind)))
		return
	}
	a.lastAlert[e.Kind] = time.Now()
	a.mu.Unlock()

	// Send asynchronously so Notify doesn't block the monitor.
	a.wg.Add(1)
	go a.send(e)
}

// Wait blocks until in-flight webhooks have completed.
func (a *Alerter) Wait() {
	a.wg.Wait()
}

func (a *Alerter) send(e event.Event) {
	defer a.wg.Done()

	payload := webhookPayload{
		Kind:       string(e.Kind),
		Status:     e.Status,
		Detail:     e.Detail,
		Error:      e.Error,
		OccurredAt: e.OccurredAt.UTC().Format(time.RFC3339),
		Source:     "servwatch",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		a.logger.Error("marshaling webhook payload", zap.String("kind", string(e.Kind)), zap.Error(err))
		return
	}

	resp, err := a.client.Post(a.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		a.logger.Error("sending webhook", zap.String("kind", string(e.Kind)), zap.String("url", a.webhookURL), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		a.logger.Warn("webhook returned non-2xx status",
			zap.String("kind", string(e.Kind)),
			zap.Int("status", resp.StatusCode),
		)
	}
}
