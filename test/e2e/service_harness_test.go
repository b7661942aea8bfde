package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"alertrelay/internal/app"
	"alertrelay/internal/clock"
	"alertrelay/internal/config"
	"alertrelay/test/testutil"
)

// newServiceFromConfig creates Service from file config path for e2e scenarios.
// Params: test handle and absolute config path.
// Returns: initialized service instance.
func newServiceFromConfig(t *testing.T, path string) *app.Service {
	t.Helper()

	source, err := config.FromCLI(path, "")
	if err != nil {
		t.Fatalf("config source: %v", err)
	}
	service, err := app.NewService(source, clock.RealClock{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

// writeConfig writes TOML into a temp config file.
// Params: test handle and TOML body.
// Returns: absolute config path.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// runService starts service in background with cancellable context.
// Params: test handle and initialized service.
// Returns: cancel callback and done channel with Run result.
func runService(t *testing.T, service *app.Service) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- service.Run(ctx)
	}()
	return cancel, done
}

// waitReady waits for /readyz endpoint to return 200.
// Params: test handle and HTTP port.
// Returns: service is ready or test fails on timeout.
func waitReady(t *testing.T, port int) {
	t.Helper()
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitFor(t, 8*time.Second, func() bool {
		response, err := http.Get(baseURL + "/readyz")
		if err != nil {
			return false
		}
		defer response.Body.Close()
		return response.StatusCode == http.StatusOK
	})
}

// waitServiceStop asserts service Run exits without error after cancellation.
// Params: test handle and done channel returned by runService.
// Returns: test fails if stop timeout/error happens.
func waitServiceStop(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case runErr := <-done:
		if runErr != nil {
			t.Fatalf("service run error: %v", runErr)
		}
	case <-time.After(8 * time.Second):
		t.Fatalf("service did not stop after cancel")
	}
}

// webhookResult is the subset of the webhook response checked by e2e tests.
type webhookResult struct {
	Status  string `json:"status"`
	Summary struct {
		Received  int `json:"received"`
		Filtered  int `json:"filtered"`
		Published int `json:"published"`
		Failed    int `json:"failed"`
	} `json:"summary"`
	AlertResults []struct {
		Status string `json:"status"`
	} `json:"alert_results"`
}

// postWebhook sends one Alertmanager payload.
// Params: test handle, base URL, and JSON body.
// Returns: HTTP status and decoded response.
func postWebhook(t *testing.T, baseURL, body string) (int, webhookResult) {
	t.Helper()
	response, err := http.Post(baseURL+"/webhook", "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("webhook request: %v", err)
	}
	defer response.Body.Close()
	raw, _ := io.ReadAll(response.Body)
	var result webhookResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode webhook response %q: %v", string(raw), err)
	}
	return response.StatusCode, result
}

// targetCollector records envelopes posted to a webhook target.
type targetCollector struct {
	mu     sync.Mutex
	status int
	items  []map[string]any
}

func (c *targetCollector) Handle(writer http.ResponseWriter, request *http.Request) {
	defer request.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(request.Body).Decode(&payload); err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	c.mu.Lock()
	c.items = append(c.items, payload)
	status := c.status
	c.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	writer.WriteHeader(status)
}

func (c *targetCollector) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *targetCollector) At(index int) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items[index]
}

func freePort() (int, error) {
	return testutil.FreePort()
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for condition")
}
