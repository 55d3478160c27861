package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

// HookRunner executes the user-configured pre/post scripts and webhook calls
// of a renewal attempt. Hook output is captured for the attempt log; hook
// failures are reported to the caller but never change the attempt outcome.
type HookRunner struct {
	scriptTimeout time.Duration
	httpClient    *http.Client
}

// NewHookRunner creates a runner with the given per-hook timeout
func NewHookRunner(scriptTimeout time.Duration) *HookRunner {
	if scriptTimeout <= 0 {
		scriptTimeout = 60 * time.Second
	}
	return &HookRunner{
		scriptTimeout: scriptTimeout,
		httpClient:    &http.Client{Timeout: scriptTimeout},
	}
}

// RunScript executes a shell script and returns its combined output
func (h *HookRunner) RunScript(ctx context.Context, script string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.scriptTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	output, err := cmd.CombinedOutput()

	trimmed := strings.TrimSpace(string(output))
	if err != nil {
		return trimmed, fmt.Errorf("script failed: %w", err)
	}
	return trimmed, nil
}

// CallWebhook POSTs the payload as JSON to the given URL. Any non-2xx
// response counts as a failure.
func (h *HookRunner) CallWebhook(ctx context.Context, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
