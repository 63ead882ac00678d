package logger

import "strings"

var levelNames = map[string]string{
	"debug":   "DEBUG",
	"info":    "INFO",
	"warn":    "WARN",
	"warning": "WARN",
	"error":   "ERROR",
}

// outcomeValues is the closed set accepted for the "outcome" key. Unknown
// outcomes are dropped so dashboards never see free-form values.
var outcomeValues = map[string]struct{}{
	"ok":                {},
	"fail":              {},
	"cancelled":         {},
	"rate_limited":      {},
	"credited":          {},
	"already_processed": {},
	"unknown_recipient": {},
	"malformed":         {},
	"ignored":           {},
	"denied":            {},
}

func normalizeLevel(level string) string {
	if level == "" {
		return "INFO"
	}
	if mapped, ok := levelNames[strings.ToLower(level)]; ok {
		return mapped
	}
	return strings.ToUpper(level)
}

func normalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

func normalizeOutcome(outcome string) (string, bool) {
	outcome = strings.ToLower(strings.TrimSpace(outcome))
	_, ok := outcomeValues[outcome]
	return outcome, ok
}

var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"ts_unix_nano",
	"update_id",
	"user_id",
	"chat_id",
	"handler",
	"op",
	"cb_key",
	"kind",
	"outcome",
	"duration_ms",
	"provider",
	"payment_id",
	"invoice_id",
	"amount",
	"currency",
	"balance",
	"state",
	"attempted",
	"succeeded",
	"failed",
	"mode",
	"listen",
	"public_url",
	"path",
	"http_code",
	"db",
	"driver",
	"host",
	"err",
	"err_code",
	"retryable",
	"attempts",
	"backoff_ms",
}
