package typesystem

import (
	"time"

	"github.com/zmcp/odata-mcp/internal/models"
)

// CoerceForWrite applies the value coercer's write-direction rules (spec
// §4.2) to one entity payload, using the entity's declared property types —
// never field-name heuristics. Edm.Decimal values arriving as JSON numbers
// are serialized as strings; date/time values are normalized to the legacy
// or ISO wire form per useLegacyDates; GUID-shaped values are converted back
// to base64 if given in canonical form.
func CoerceForWrite(entityType *models.EntityType, payload map[string]interface{}, useLegacyDates bool) map[string]interface{} {
	if entityType == nil {
		return payload
	}
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		prop := entityType.Property(k)
		out[k] = coerceValueForWrite(prop, v, useLegacyDates)
	}
	return out
}

func coerceValueForWrite(prop *models.EntityProperty, v interface{}, useLegacyDates bool) interface{} {
	if prop == nil || v == nil {
		return v
	}
	switch prop.Abstract {
	case models.AbstractDecimal:
		switch n := v.(type) {
		case float64:
			return formatNumericLiteral(n)
		case int:
			return formatNumericLiteral(float64(n))
		}
		return v
	case models.AbstractDateTime, models.AbstractDateTimeOffset:
		s, ok := v.(string)
		if !ok {
			return v
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return FormatForWrite(t, string(prop.Abstract), useLegacyDates)
		}
		return s
	case models.AbstractBinary, models.AbstractGuid:
		if IsGUIDShaped(prop) {
			if s, ok := v.(string); ok {
				if b64, err := CanonicalGUIDToBase64(s); err == nil {
					return b64
				}
			}
		}
		return v
	default:
		return v
	}
}

// CoerceForRead applies the read-direction rules to one decoded entity
// object: GUID base64 → canonical, legacy date → ISO (when useLegacyDates is
// true; the field otherwise stays in its original legacy form).
func CoerceForRead(entityType *models.EntityType, entity map[string]interface{}, useLegacyDates bool) map[string]interface{} {
	if entityType == nil {
		return entity
	}
	out := make(map[string]interface{}, len(entity))
	for k, v := range entity {
		prop := entityType.Property(k)
		out[k] = coerceValueForRead(prop, v, useLegacyDates)
	}
	return out
}

func coerceValueForRead(prop *models.EntityProperty, v interface{}, useLegacyDates bool) interface{} {
	if prop == nil || v == nil {
		return v
	}
	s, ok := v.(string)
	if !ok {
		return v
	}
	if IsGUIDShaped(prop) {
		if guid, ok := GUIDFromBase64(s); ok {
			return guid
		}
	}
	if useLegacyDates && (prop.Abstract == models.AbstractDateTime || prop.Abstract == models.AbstractDateTimeOffset) && IsLegacyDate(s) {
		return LegacyToISO(s)
	}
	return s
}
