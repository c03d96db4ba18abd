package typesystem

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/zmcp/odata-mcp/internal/models"
)

// IsGUIDShaped implements spec §4.4 bullet 3's GUID-shape predicate: the
// declared type is Edm.Guid, or it is Edm.Binary with MaxLength=16 and the
// property name contains one of ID/GUID/F/T (case-insensitive).
func IsGUIDShaped(prop *models.EntityProperty) bool {
	if prop == nil {
		return false
	}
	if prop.Abstract == models.AbstractGuid {
		return true
	}
	if prop.Abstract != models.AbstractBinary || prop.MaxLength != 16 {
		return false
	}
	upper := strings.ToUpper(prop.Name)
	for _, marker := range []string{"ID", "GUID", "F", "T"} {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

// Base64ToBytes decodes standard or URL-safe base64, tolerating a missing
// padding (SAP payloads are inconsistent about it).
func Base64ToBytes(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// GUIDFromBase64 converts a 24-character base64 string decoding to exactly
// 16 bytes into the canonical hyphenated, lowercase 36-character form (the
// Open Question in spec §9 is resolved as lowercase; see DESIGN.md).
func GUIDFromBase64(s string) (string, bool) {
	if len(s) != 24 {
		return "", false
	}
	raw, err := Base64ToBytes(s)
	if err != nil || len(raw) != 16 {
		return "", false
	}
	return fmt.Sprintf("%x-%x-%x-%x-%x", raw[0:4], raw[4:6], raw[6:8], raw[8:10], raw[10:16]), true
}

// CanonicalGUIDToBase64 is the inverse of GUIDFromBase64: it accepts a
// canonical 36-character hyphenated GUID (either case) and returns the
// 24-character base64 encoding of its 16 raw bytes.
func CanonicalGUIDToBase64(guid string) (string, error) {
	hex := strings.ReplaceAll(guid, "-", "")
	if len(hex) != 32 {
		return "", fmt.Errorf("not a canonical GUID: %s", guid)
	}
	raw := make([]byte, 16)
	for i := 0; i < 16; i++ {
		var b byte
		if _, err := fmt.Sscanf(hex[i*2:i*2+2], "%02x", &b); err != nil {
			return "", fmt.Errorf("not a canonical GUID: %s", guid)
		}
		raw[i] = b
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
