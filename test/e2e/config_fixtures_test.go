package e2e

import "fmt"

// e2eConfigPrefix builds common service/log/ingest config used in e2e tests.
// Params: HTTP port, service mode, and reload flag.
// Returns: TOML prefix string with stable defaults.
func e2eConfigPrefix(port int, mode string, reload bool) string {
	return fmt.Sprintf(`
[service]
name = "alertrelay"
mode = "%s"
reload_enabled = %t
reload_interval_sec = 1

[log.console]
enabled = true
level = "error"
format = "line"

[ingest.http]
enabled = true
listen = "127.0.0.1:%d"
max_body_bytes = 1048576
request_timeout_sec = 5

[mode]
tick_ms = 50

[publisher]
timeout_ms = 500

[publisher.retry]
max_retries = 2
backoff_ms = [1, 2]

[metrics]
enabled = true
`, mode, reload, port)
}

// e2eWebhookTarget renders one generic webhook target section.
func e2eWebhookTarget(name, endpoint string, enabled bool) string {
	return fmt.Sprintf(`
[[targets.target]]
name = "%s"
type = "webhook"
enabled = %t
endpoint = "%s"
`, name, enabled, endpoint)
}

// e2eAlertmanagerPayload renders an Alertmanager webhook body with one alert per instance.
func e2eAlertmanagerPayload(name, severity string, instances ...string) string {
	alerts := ""
	for i, instance := range instances {
		if i > 0 {
			alerts += ","
		}
		alerts += fmt.Sprintf(`{"status":"firing","labels":{"alertname":"%s","severity":"%s","instance":"%s"},"annotations":{"summary":"%s on %s"},"startsAt":"2026-03-02T10:00:00Z"}`, name, severity, instance, name, instance)
	}
	return fmt.Sprintf(`{"version":"4","receiver":"e2e","status":"firing","alerts":[%s]}`, alerts)
}
