package device

import (
	"fmt"
	"strings"
)

const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal BLE library format (lowercase, no dashes).
// Also strips 0x prefix if present (e.g., "0x2902" -> "2902").
// For full 128-bit UUIDs in Bluetooth SIG base format (0000xxxx-0000-1000-8000-00805f9b34fb),
// extracts the 16-bit short form (xxxx).
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")

	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}

// ValidateUUID validates that UUID strings are non-empty and well-formed.
// Returns normalized UUID strings or an error.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, uuid := range uuids {
		if uuid == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		normalized := NormalizeUUID(uuid)
		if !isHex(normalized) || (len(normalized) != 4 && len(normalized) != 8 && len(normalized) != 32) {
			return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, uuid)
		}
		result = append(result, normalized)
	}
	return result, nil
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
