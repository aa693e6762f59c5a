// ABOUTME: Alert event fingerprinting driven by deduplication rules
// ABOUTME: Hashes selected (or all-but-ignored) event fields with SHA-256

package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"sort"
	"strings"

	"github.com/beaconhq/beacon-api/internal/store"
)

// Fingerprint computes a stable hash for an alert event under a rule.
// With full deduplication every field except the rule's ignore list is
// hashed; otherwise only the rule's fingerprint fields are. A nil rule (or a
// rule naming no fields) hashes the whole event. Field names may use dots to
// reach into nested objects.
func Fingerprint(event map[string]any, rule *store.DeduplicationRule) string {
	h := sha256.New()

	switch {
	case rule != nil && rule.FullDeduplication:
		ignored := make(map[string]struct{}, len(rule.IgnoreFields))
		for _, f := range rule.IgnoreFields {
			ignored[f] = struct{}{}
		}
		for _, key := range sortedKeys(event) {
			if _, skip := ignored[key]; skip {
				continue
			}
			writeField(h, key, event[key])
		}

	case rule != nil && len(rule.FingerprintFields) > 0:
		fields := append([]string(nil), rule.FingerprintFields...)
		sort.Strings(fields)
		for _, field := range fields {
			value, ok := lookupField(event, field)
			if !ok {
				continue
			}
			writeField(h, field, value)
		}

	default:
		for _, key := range sortedKeys(event) {
			writeField(h, key, event[key])
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

func sortedKeys(event map[string]any) []string {
	keys := make([]string, 0, len(event))
	for k := range event {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// lookupField resolves a possibly dotted field path against the event.
func lookupField(event map[string]any, field string) (any, bool) {
	parts := strings.Split(field, ".")
	var current any = event
	for _, part := range parts {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// writeField feeds a canonical key=value line into the hash. JSON encoding
// keeps composite values stable across runs.
func writeField(h hash.Hash, key string, value any) {
	encoded, err := json.Marshal(value)
	if err != nil {
		encoded = []byte(fmt.Sprintf("%v", value))
	}
	fmt.Fprintf(h, "%s=%s\n", key, encoded)
}
