package entitlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/pixorder/internal/config"
)

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type HTTPApplier struct {
	url    string
	token  string
	client *http.Client
}

func NewHTTPApplier(cfg config.Config) Applier {
	timeout := cfg.Entitlement.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPApplier{
		url:    strings.TrimSpace(cfg.Entitlement.URL),
		token:  strings.TrimSpace(cfg.Entitlement.Token),
		client: &http.Client{Timeout: timeout},
	}
}

func (a *HTTPApplier) Apply(ctx context.Context, grant Grant) error {
	if a.url == "" {
		return ErrNotConfigured
	}

	body, err := json.Marshal(grant)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "order:"+grant.OrderID)
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrApplyFailed, err)
	}
	defer resp.Body.Close()

	// 409 means the grant for this order already exists.
	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil {
			if message := strings.TrimSpace(apiErr.Error.Message); message != "" {
				return fmt.Errorf("%w: %s", ErrApplyFailed, message)
			}
		}
		return fmt.Errorf("%w: status %d", ErrApplyFailed, resp.StatusCode)
	}
	return nil
}
