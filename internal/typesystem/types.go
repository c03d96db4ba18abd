// Package typesystem maps OData primitive types to the abstract variant used
// by the schema generator and the value coercer, and implements the key
// formatter and value coercer shared by the request engine and the response
// normalizer.
package typesystem

import "github.com/zmcp/odata-mcp/internal/models"

// odataTypeMap mirrors the teacher's constants.ODataTypeMap but maps onto the
// abstract variant instead of a Go type name.
var odataTypeMap = map[string]models.AbstractType{
	"Edm.String":         models.AbstractString,
	"Edm.Guid":           models.AbstractGuid,
	"Edm.Binary":         models.AbstractBinary,
	"Edm.DateTime":       models.AbstractDateTime,
	"Edm.DateTimeOffset": models.AbstractDateTimeOffset,
	"Edm.Time":           models.AbstractTime,
	"Edm.Int16":          models.AbstractInteger,
	"Edm.Int32":          models.AbstractInteger,
	"Edm.Int64":          models.AbstractInteger,
	"Edm.Byte":           models.AbstractInteger,
	"Edm.SByte":          models.AbstractInteger,
	"Edm.Decimal":        models.AbstractDecimal,
	"Edm.Double":         models.AbstractDouble,
	"Edm.Single":         models.AbstractDouble,
	"Edm.Boolean":        models.AbstractBoolean,
}

// AbstractTypeFor resolves the abstract variant for a declared Edm.* type
// name, defaulting to String for anything unrecognized (matches the
// teacher's fallback-to-string-shaped behavior for new/unknown SAP types).
func AbstractTypeFor(odataType string) models.AbstractType {
	if t, ok := odataTypeMap[odataType]; ok {
		return t
	}
	return models.AbstractString
}

// IsStringShaped reports whether the abstract type renders as a JSON-schema
// string (spec §4.2's first bullet grouping).
func IsStringShaped(t models.AbstractType) bool {
	switch t {
	case models.AbstractString, models.AbstractGuid, models.AbstractBinary,
		models.AbstractDateTime, models.AbstractDateTimeOffset, models.AbstractTime,
		models.AbstractDecimal:
		return true
	}
	return false
}

// JSONSchemaType returns the JSON-schema primitive ("string"|"integer"|
// "number"|"boolean") for an abstract type.
func JSONSchemaType(t models.AbstractType) string {
	switch t {
	case models.AbstractInteger:
		return "integer"
	case models.AbstractDouble:
		return "number"
	case models.AbstractBoolean:
		return "boolean"
	default:
		return "string"
	}
}
