package config

import (
	"os"
	"strings"
)

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// StrictSideEffects upgrades the legacy availability-over-consistency policy:
// when enabled, inventory/payment side-effect failures after an order write
// are surfaced to the caller instead of being logged and suppressed.
//
// Set via env:
// - STRICT_SIDE_EFFECTS=true
func StrictSideEffects() bool {
	return envBool("STRICT_SIDE_EFFECTS")
}

// OutboxDispatcherEnabled controls whether the ledger-event outbox dispatcher
// runs in this instance. Disable on read-only replicas.
//
// Set via env:
// - ENABLE_OUTBOX_DISPATCHER=true (default false)
func OutboxDispatcherEnabled() bool {
	return envBool("ENABLE_OUTBOX_DISPATCHER")
}
