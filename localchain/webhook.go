package localchain

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nameswap/market-core/market"
)

// OutcomeFunc receives the asynchronous result of a hook call, keyed by
// its correlation id.
type OutcomeFunc func(correlationID string, err error)

// WebhookCaller delivers hook payloads as HTTP POSTs to listener URLs.
// Call returns once the request is in flight; the response outcome is
// reported through the OutcomeFunc.
type WebhookCaller struct {
	client  *http.Client
	outcome OutcomeFunc

	wg sync.WaitGroup
}

// NewWebhookCaller returns a caller reporting outcomes to outcome.
func NewWebhookCaller(timeout time.Duration, outcome OutcomeFunc) *WebhookCaller {
	return &WebhookCaller{
		client:  &http.Client{Timeout: timeout},
		outcome: outcome,
	}
}

// Call posts payload to the listener address, interpreted as a URL. The
// outcome is delivered later under correlationID.
func (w *WebhookCaller) Call(
	ctx context.Context,
	listener market.Address,
	payload []byte,
	correlationID string,
) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, listener, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building hook request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		resp, err := w.client.Do(req)
		if err != nil {
			w.outcome(correlationID, err)
			return
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode/100 != 2 {
			w.outcome(correlationID, fmt.Errorf("listener returned status %d", resp.StatusCode))
			return
		}
		w.outcome(correlationID, nil)
	}()
	return nil
}

// Close waits for in-flight calls to complete.
func (w *WebhookCaller) Close() error {
	w.wg.Wait()
	return nil
}
