package typesystem

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/zmcp/odata-mcp/internal/models"
)

// FormatKeyPredicate renders the parenthesized key predicate for a GET/MERGE/
// PUT/DELETE against a single entity, given its EntityType and the supplied
// key values keyed by property name (spec §4.2 "Key formatter").
//
// For n=1 it renders "(<value>)"; for n>1, "(k1=<v1>,k2=<v2>,...)". Each
// literal's value is percent-encoded with every non-unreserved octet escaped,
// including '/' which must become %2F; the quote delimiters of a string
// literal, the '=' and ',' separators and the parentheses stay literal.
func FormatKeyPredicate(entityType *models.EntityType, values map[string]interface{}) (string, error) {
	keys := entityType.KeyProperties
	if len(keys) == 0 {
		return "", fmt.Errorf("entity type %s has no key properties", entityType.Name)
	}

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, ok := values[k]
		if !ok {
			return "", fmt.Errorf("missing key value for %s", k)
		}
		prop := entityType.Property(k)
		literal, err := formatKeyLiteral(prop, v)
		if err != nil {
			return "", fmt.Errorf("key %s: %w", k, err)
		}
		if len(keys) == 1 {
			parts = append(parts, percentEncodeKeyLiteral(literal))
		} else {
			parts = append(parts, fmt.Sprintf("%s=%s", k, percentEncodeKeyLiteral(literal)))
		}
	}
	return "(" + strings.Join(parts, ",") + ")", nil
}

// formatKeyLiteral renders the unencoded OData literal for one key value:
// quoted-and-quote-doubled for string/guid/datetime-shaped values, bare for
// numerics, and X'...' hex literals for binary keys without a GUID shape.
func formatKeyLiteral(prop *models.EntityProperty, v interface{}) (string, error) {
	abstract := models.AbstractString
	if prop != nil {
		abstract = prop.Abstract
	}

	switch abstract {
	case models.AbstractInteger, models.AbstractDouble, models.AbstractDecimal:
		return formatNumericLiteral(v), nil
	case models.AbstractBoolean:
		return fmt.Sprintf("%v", v), nil
	case models.AbstractBinary:
		if prop != nil && IsGUIDShaped(prop) {
			return quoteString(guidOrPassthroughToBase64(v)), nil
		}
		return binaryHexLiteral(v)
	default:
		return quoteString(fmt.Sprintf("%v", v)), nil
	}
}

func formatNumericLiteral(v interface{}) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		if n == float64(int64(n)) {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// quoteString single-quotes a literal, doubling any internal single quote.
func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// binaryHexLiteral renders a non-GUID binary key as X'...hex...'.
func binaryHexLiteral(v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("binary key value must be a string")
	}
	raw, err := Base64ToBytes(s)
	if err != nil {
		// Already hex-looking input is passed through unescaped.
		return fmt.Sprintf("X'%s'", s), nil
	}
	return fmt.Sprintf("X'%X'", raw), nil
}

// guidOrPassthroughToBase64 converts a canonical hyphenated GUID string back
// to the base64 form the wire expects; non-canonical input passes through.
func guidOrPassthroughToBase64(v interface{}) string {
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	if b64, err := CanonicalGUIDToBase64(s); err == nil {
		return b64
	}
	return s
}

// percentEncodeKeyLiteral escapes a formatted key literal for use in a URL
// path segment. Quoted literals ("'...'" and "X'...'") keep their delimiting
// quotes as literal characters and only percent-encode the inner value, so
// PROGRAMSet('/IWFND/SUTIL_GW_CLIENT') becomes
// PROGRAMSet('%2FIWFND%2FSUTIL_GW_CLIENT') rather than escaping the quotes
// themselves (spec §8 scenario 2). Unquoted literals (numeric, boolean) are
// encoded in full.
func percentEncodeKeyLiteral(literal string) string {
	if strings.HasPrefix(literal, "X'") && strings.HasSuffix(literal, "'") && len(literal) >= 3 {
		return "X'" + percentEncodeKeyComponent(literal[2:len(literal)-1]) + "'"
	}
	if strings.HasPrefix(literal, "'") && strings.HasSuffix(literal, "'") && len(literal) >= 2 {
		return "'" + percentEncodeKeyComponent(literal[1:len(literal)-1]) + "'"
	}
	return percentEncodeKeyComponent(literal)
}

// percentEncodeKeyComponent escapes every non-unreserved octet, including
// '/' to %2F (spec §4.2, §8 scenario 2).
func percentEncodeKeyComponent(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
		} else {
			b.WriteString(fmt.Sprintf("%%%02X", c))
		}
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	}
	return false
}

// EncodeQueryValue percent-encodes a query-string value and rewrites any
// resulting '+' to %20, per spec §4.3's "After percent-encoding, every '+'
// in the encoded string must be replaced with %20" rule.
func EncodeQueryValue(s string) string {
	encoded := url.QueryEscape(s)
	return strings.ReplaceAll(encoded, "+", "%20")
}
