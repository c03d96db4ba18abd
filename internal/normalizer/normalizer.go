// Package normalizer implements the Response Normalizer (spec §4.4): it
// rewrites a Request Engine result into the shape handed back to an MCP
// caller — envelope already unwrapped by the client, metadata stripped,
// GUID/date values coerced to their canonical form, lists longer than
// MaxItems truncated with a truncated marker, results over MaxResponseSize
// bytes replaced with an abbreviated summary, and an optional pagination
// hint attached.
package normalizer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zmcp/odata-mcp/internal/client"
	"github.com/zmcp/odata-mcp/internal/models"
	"github.com/zmcp/odata-mcp/internal/typesystem"
)

// Options selects which rewrite rules apply, mirroring the relevant
// internal/config.Config fields.
type Options struct {
	LegacyDates      bool
	ResponseMetadata bool
	PaginationHints  bool
	MaxItems         int
	MaxResponseSize  int
}

// PageState carries the caller-supplied paging parameters needed to phrase
// a pagination hint's suggested next call.
type PageState struct {
	ToolName string
	Skip     int
	Top      int
}

// Normalize applies spec §4.4's rewrite rules to one successful Filter,
// Get, Create, Update, or CallFunction result. entityType is nil for
// function imports, in which case GUID/date coercion is skipped but
// metadata stripping, bounding, and pagination hints still apply.
func Normalize(result *client.RawResult, entityType *models.EntityType, opts Options, state PageState) interface{} {
	if result == nil {
		return map[string]interface{}{}
	}

	switch v := result.Value.(type) {
	case []interface{}:
		return boundBytes(normalizeList(v, result, entityType, opts, state), opts)
	case map[string]interface{}:
		if results, ok := v["results"].([]interface{}); ok && len(v) == 1 {
			return boundBytes(normalizeList(results, result, entityType, opts, state), opts)
		}
		return boundBytes(stripAndCoerce(v, entityType, opts), opts)
	case nil:
		return map[string]interface{}{}
	default:
		return v
	}
}

func normalizeList(items []interface{}, result *client.RawResult, entityType *models.EntityType, opts Options, state PageState) map[string]interface{} {
	normalized := make([]interface{}, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]interface{}); ok {
			normalized = append(normalized, stripAndCoerce(obj, entityType, opts))
		} else {
			normalized = append(normalized, item)
		}
	}

	truncatedByCount := false
	if opts.MaxItems > 0 && len(normalized) > opts.MaxItems {
		normalized = normalized[:opts.MaxItems]
		truncatedByCount = true
	}

	payload := map[string]interface{}{"results": normalized}
	if result.Count != nil {
		payload["total_count"] = *result.Count
	}
	if result.NextLink != "" {
		payload["next_link"] = result.NextLink
	}
	if truncatedByCount {
		payload["truncated"] = true
	}
	if opts.PaginationHints {
		if hint := paginationHint(result, len(normalized), truncatedByCount, state); hint != nil {
			payload["pagination"] = hint
		}
	}
	return payload
}

// boundBytes implements the "never a partial-object prefix" rule: when the
// serialized payload exceeds MaxResponseSize it is discarded wholesale and
// replaced with the abbreviated summary form.
func boundBytes(payload interface{}, opts Options) interface{} {
	if opts.MaxResponseSize <= 0 {
		return payload
	}
	encoded, err := json.Marshal(payload)
	if err != nil || len(encoded) <= opts.MaxResponseSize {
		return payload
	}

	itemCount := 1
	if m, ok := payload.(map[string]interface{}); ok {
		if results, ok := m["results"].([]interface{}); ok {
			itemCount = len(results)
		}
	}
	return map[string]interface{}{
		"truncated":           true,
		"item_count":          itemCount,
		"original_size_bytes": len(encoded),
		"message": fmt.Sprintf(
			"response of %d bytes across %d item(s) exceeds the %d byte limit; narrow the query with $filter/$select or page with $top/$skip",
			len(encoded), itemCount, opts.MaxResponseSize,
		),
	}
}

func paginationHint(result *client.RawResult, itemCount int, truncatedByCount bool, state PageState) *models.PaginationInfo {
	hasMore := truncatedByCount || result.NextLink != ""
	if !hasMore && result.Count != nil {
		hasMore = int64(state.Skip+itemCount) < *result.Count
	}
	if !hasMore {
		return nil
	}

	info := &models.PaginationInfo{
		CurrentCount: itemCount,
		HasMore:      true,
		TotalCount:   result.Count,
	}

	if token := skipTokenFromNextLink(result.NextLink); token != "" {
		info.SkipToken = token
		suggestion := fmt.Sprintf("call %s again with skiptoken=%s to fetch the next page", state.ToolName, token)
		info.SuggestedNextCall = &suggestion
		return info
	}

	nextSkip := state.Skip + itemCount
	info.Skip = nextSkip
	info.Top = state.Top
	suggestion := fmt.Sprintf("call %s again with skip=%d to fetch the next page", state.ToolName, nextSkip)
	info.SuggestedNextCall = &suggestion
	return info
}

func skipTokenFromNextLink(nextLink string) string {
	const marker = "$skiptoken="
	idx := strings.Index(nextLink, marker)
	if idx == -1 {
		return ""
	}
	token := nextLink[idx+len(marker):]
	if amp := strings.IndexByte(token, '&'); amp != -1 {
		token = token[:amp]
	}
	return token
}

// stripAndCoerce rewrites one decoded entity object: __metadata is dropped
// unless ResponseMetadata is on, nested expand results recurse through the
// same rules, and GUID/date coercion is applied via entityType when known.
func stripAndCoerce(obj map[string]interface{}, entityType *models.EntityType, opts Options) map[string]interface{} {
	out := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		if k == "__metadata" && !opts.ResponseMetadata {
			continue
		}
		out[k] = normalizeNestedValue(v, opts)
	}
	if entityType != nil {
		out = typesystem.CoerceForRead(entityType, out, opts.LegacyDates)
	}
	return out
}

// normalizeNestedValue recurses into expanded navigation properties. The
// service metadata model does not track a navigation property's target
// entity type, so nested entities are metadata-stripped but not
// GUID/date-coerced; only the top-level entity gets the typed treatment.
func normalizeNestedValue(v interface{}, opts Options) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		if results, ok := val["results"]; ok {
			return map[string]interface{}{"results": normalizeNestedList(results, opts)}
		}
		return stripAndCoerce(val, nil, opts)
	case []interface{}:
		return normalizeNestedList(val, opts)
	default:
		return v
	}
}

func normalizeNestedList(v interface{}, opts Options) interface{} {
	arr, ok := v.([]interface{})
	if !ok {
		return v
	}
	out := make([]interface{}, 0, len(arr))
	for _, item := range arr {
		if obj, ok := item.(map[string]interface{}); ok {
			out = append(out, stripAndCoerce(obj, nil, opts))
		} else {
			out = append(out, item)
		}
	}
	return out
}
