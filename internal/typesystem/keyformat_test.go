package typesystem

import (
	"testing"

	"github.com/zmcp/odata-mcp/internal/models"
)

func TestFormatKeyPredicateEncodesInnerValueOnly(t *testing.T) {
	entityType := &models.EntityType{
		Name:          "PROGRAM",
		KeyProperties: []string{"Program"},
		Properties: []*models.EntityProperty{
			{Name: "Program", Abstract: models.AbstractString, IsKey: true},
		},
	}

	tests := []struct {
		name     string
		value    string
		expected string
	}{
		{
			name:     "slash-bearing SAP program name",
			value:    "/IWFND/SUTIL_GW_CLIENT",
			expected: "('%2FIWFND%2FSUTIL_GW_CLIENT')",
		},
		{
			name:     "plain identifier",
			value:    "ZTEST",
			expected: "('ZTEST')",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatKeyPredicate(entityType, map[string]interface{}{"Program": tt.value})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestFormatKeyPredicateNumericKeyEncodesInFull(t *testing.T) {
	entityType := &models.EntityType{
		Name:          "Order",
		KeyProperties: []string{"ID"},
		Properties: []*models.EntityProperty{
			{Name: "ID", Abstract: models.AbstractInteger, IsKey: true},
		},
	}

	got, err := FormatKeyPredicate(entityType, map[string]interface{}{"ID": float64(42)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "(42)" {
		t.Errorf("got %q, want %q", got, "(42)")
	}
}

func TestFormatKeyPredicateCompositeKeepsQuoteDelimiters(t *testing.T) {
	entityType := &models.EntityType{
		Name:          "OrderItem",
		KeyProperties: []string{"OrderID", "Path"},
		Properties: []*models.EntityProperty{
			{Name: "OrderID", Abstract: models.AbstractInteger, IsKey: true},
			{Name: "Path", Abstract: models.AbstractString, IsKey: true},
		},
	}

	got, err := FormatKeyPredicate(entityType, map[string]interface{}{
		"OrderID": float64(1),
		"Path":    "/A/B",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "(OrderID=1,Path='%2FA%2FB')" {
		t.Errorf("got %q, want %q", got, "(OrderID=1,Path='%2FA%2FB')")
	}
}
