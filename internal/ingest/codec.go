package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"alertrelay/internal/domain"
)

// decodeWebhook decodes one webhook body and normalizes it into a batch.
// Params: raw JSON object and receive time.
// Returns: validated batch or decode/validation error.
func decodeWebhook(raw []byte, now time.Time) (domain.Batch, error) {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 {
		return domain.Batch{}, errors.New("empty payload")
	}
	if payload[0] != '{' {
		return domain.Batch{}, errors.New("webhook payload must be a JSON object")
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	var body domain.WebhookPayload
	if err := decoder.Decode(&body); err != nil {
		return domain.Batch{}, fmt.Errorf("decode webhook: %w", err)
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return domain.Batch{}, err
	}
	return body.Normalize(now)
}

// ensureJSONEOF rejects trailing tokens after a decoded JSON payload.
// Params: decoder positioned after primary decode.
// Returns: nil on EOF or error on trailing tokens.
func ensureJSONEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode trailing json: %w", err)
	}
	return errors.New("unexpected trailing json tokens")
}
