package normalizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/odata-mcp/internal/client"
	"github.com/zmcp/odata-mcp/internal/models"
)

func testEntityType() *models.EntityType {
	return &models.EntityType{
		Name:          "Product",
		KeyProperties: []string{"ID"},
		Properties: []*models.EntityProperty{
			{Name: "ID", Abstract: models.AbstractGuid, ODataType: "Edm.Guid", IsKey: true},
			{Name: "Name", Abstract: models.AbstractString, ODataType: "Edm.String"},
			{Name: "CreatedAt", Abstract: models.AbstractDateTime, ODataType: "Edm.DateTime"},
		},
	}
}

func TestNormalizeSingleEntityStripsMetadataAndCoercesGUID(t *testing.T) {
	result := &client.RawResult{
		Value: map[string]interface{}{
			"__metadata": map[string]interface{}{"uri": "Products('abc')"},
			"ID":         "qqqqqqqqqqqqqqqqqqqqqA==",
			"Name":       "Widget",
			"CreatedAt":  "/Date(1700000000000)/",
		},
	}

	out := Normalize(result, testEntityType(), Options{LegacyDates: true}, PageState{})
	obj, ok := out.(map[string]interface{})
	require.True(t, ok)

	_, hasMetadata := obj["__metadata"]
	assert.False(t, hasMetadata)
	assert.Equal(t, "Widget", obj["Name"])
	assert.NotEqual(t, "qqqqqqqqqqqqqqqqqqqqqA==", obj["ID"])
}

func TestNormalizeKeepsMetadataWhenResponseMetadataOn(t *testing.T) {
	result := &client.RawResult{
		Value: map[string]interface{}{
			"__metadata": map[string]interface{}{"uri": "Products('abc')"},
			"Name":       "Widget",
		},
	}

	out := Normalize(result, testEntityType(), Options{ResponseMetadata: true}, PageState{})
	obj := out.(map[string]interface{})
	assert.Contains(t, obj, "__metadata")
}

func TestNormalizeListTruncatesToMaxItems(t *testing.T) {
	items := []interface{}{
		map[string]interface{}{"ID": "1", "Name": "A"},
		map[string]interface{}{"ID": "2", "Name": "B"},
		map[string]interface{}{"ID": "3", "Name": "C"},
	}
	result := &client.RawResult{Value: items}

	out := Normalize(result, nil, Options{MaxItems: 2}, PageState{})
	obj := out.(map[string]interface{})

	results := obj["results"].([]interface{})
	assert.Len(t, results, 2)
	assert.Equal(t, true, obj["truncated"])
}

func TestNormalizeOversizedResponseReturnsAbbreviatedSummary(t *testing.T) {
	items := make([]interface{}, 50)
	for i := range items {
		items[i] = map[string]interface{}{"ID": "x", "Name": strings.Repeat("z", 200)}
	}
	result := &client.RawResult{Value: items}

	out := Normalize(result, nil, Options{MaxResponseSize: 256}, PageState{})
	obj := out.(map[string]interface{})

	assert.Equal(t, true, obj["truncated"])
	assert.Contains(t, obj, "item_count")
	assert.Contains(t, obj, "original_size_bytes")
	assert.Contains(t, obj, "message")
	_, hasResults := obj["results"]
	assert.False(t, hasResults, "abbreviated summary must never carry a partial results prefix")
}

func TestNormalizePaginationHintWithSkip(t *testing.T) {
	count := int64(10)
	items := []interface{}{
		map[string]interface{}{"ID": "1"},
		map[string]interface{}{"ID": "2"},
	}
	result := &client.RawResult{Value: items, Count: &count}

	out := Normalize(result, nil, Options{PaginationHints: true}, PageState{ToolName: "filter_Products", Skip: 0, Top: 2})
	obj := out.(map[string]interface{})

	hint, ok := obj["pagination"].(*models.PaginationInfo)
	require.True(t, ok)
	assert.True(t, hint.HasMore)
	assert.Equal(t, 2, hint.Skip)
	require.NotNil(t, hint.SuggestedNextCall)
	assert.Contains(t, *hint.SuggestedNextCall, "filter_Products")
}

func TestNormalizePaginationHintUsesSkipToken(t *testing.T) {
	items := []interface{}{map[string]interface{}{"ID": "1"}}
	result := &client.RawResult{
		Value:    items,
		NextLink: "Products?$skiptoken=abc123&$top=10",
	}

	out := Normalize(result, nil, Options{PaginationHints: true}, PageState{ToolName: "filter_Products"})
	obj := out.(map[string]interface{})

	hint := obj["pagination"].(*models.PaginationInfo)
	assert.Equal(t, "abc123", hint.SkipToken)
}

func TestNormalizeNoPaginationHintWhenExhausted(t *testing.T) {
	count := int64(1)
	items := []interface{}{map[string]interface{}{"ID": "1"}}
	result := &client.RawResult{Value: items, Count: &count}

	out := Normalize(result, nil, Options{PaginationHints: true}, PageState{})
	obj := out.(map[string]interface{})
	assert.NotContains(t, obj, "pagination")
}

func TestNormalizeFunctionImportCollectionWrap(t *testing.T) {
	result := &client.RawResult{
		Value: map[string]interface{}{
			"results": []interface{}{
				map[string]interface{}{"Status": "OK"},
			},
		},
	}

	out := Normalize(result, nil, Options{}, PageState{})
	obj := out.(map[string]interface{})
	results, ok := obj["results"].([]interface{})
	require.True(t, ok)
	assert.Len(t, results, 1)
}

func TestNormalizeNestedExpandStripsMetadataOnly(t *testing.T) {
	result := &client.RawResult{
		Value: map[string]interface{}{
			"ID": "1",
			"ToCategory": map[string]interface{}{
				"__metadata": map[string]interface{}{"uri": "Categories('1')"},
				"results": []interface{}{
					map[string]interface{}{"__metadata": map[string]interface{}{"uri": "x"}, "Name": "Nested"},
				},
			},
		},
	}

	out := Normalize(result, nil, Options{}, PageState{})
	obj := out.(map[string]interface{})
	nested := obj["ToCategory"].(map[string]interface{})
	results := nested["results"].([]interface{})
	item := results[0].(map[string]interface{})
	assert.NotContains(t, item, "__metadata")
	assert.Equal(t, "Nested", item["Name"])
}
