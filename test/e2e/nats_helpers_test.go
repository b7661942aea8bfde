package e2e

import (
	"fmt"
	"testing"

	"alertrelay/test/testutil"

	"github.com/nats-io/nats.go"
)

const (
	e2eWebhookSubject = "alertrelay.webhooks"
	e2eDLQStream      = "ALERTRELAY_DLQ"
)

// startLocalNATSServer starts a local JetStream NATS process for e2e tests.
// Params: testing handle for lifecycle/error reporting.
// Returns: server URL and stop callback.
func startLocalNATSServer(tb testing.TB) (string, func()) {
	return testutil.StartLocalNATSServer(tb)
}

// publishNATSWebhook publishes one webhook payload into the ingest stream.
// Params: JetStream context and JSON body.
// Returns: publish error.
func publishNATSWebhook(js nats.JetStreamContext, body string) error {
	if _, err := js.Publish(e2eWebhookSubject, []byte(body)); err != nil {
		return fmt.Errorf("publish webhook: %w", err)
	}
	return nil
}

// streamMessages returns current message count of a stream.
func streamMessages(js nats.JetStreamContext, stream string) uint64 {
	info, err := js.StreamInfo(stream)
	if err != nil {
		return 0
	}
	return info.State.Msgs
}

// e2eNATSSections enables NATS ingest, shared cache, and dead letter.
func e2eNATSSections(natsURL string) string {
	return fmt.Sprintf(`
[nats]
url = ["%s"]

[ingest.nats]
enabled = true
ack_wait_sec = 5
nack_delay_ms = 100

[classifier.cache]
shared = "nats"

[publisher.dlq]
backend = "nats"
`, natsURL)
}
