package test

import "github.com/zmcp/odata-mcp/internal/models"

// buildEntityType assembles a minimal EntityType for tests that exercise
// key formatting and value coercion directly against the Request Engine,
// without parsing a full $metadata document.
func buildEntityType(name string, props ...*models.EntityProperty) *models.EntityType {
	et := &models.EntityType{Name: name, Properties: props}
	for _, p := range props {
		if p.IsKey {
			et.KeyProperties = append(et.KeyProperties, p.Name)
		}
	}
	return et
}

func stringKeyProp(name string) *models.EntityProperty {
	return &models.EntityProperty{Name: name, Abstract: models.AbstractString, IsKey: true}
}

func intKeyProp(name string) *models.EntityProperty {
	return &models.EntityProperty{Name: name, Abstract: models.AbstractInteger, IsKey: true}
}
