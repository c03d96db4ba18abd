package metadata

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zmcp/odata-mcp/internal/constants"
	"github.com/zmcp/odata-mcp/internal/models"
	"github.com/zmcp/odata-mcp/internal/typesystem"
)

// EDMX is the root EDMX document (OData v2 only; v4 is a non-goal).
type EDMX struct {
	XMLName      xml.Name     `xml:"Edmx"`
	Version      string       `xml:"Version,attr"`
	DataServices DataServices `xml:"DataServices"`
}

// DataServices contains the schema.
type DataServices struct {
	XMLName xml.Name `xml:"DataServices"`
	Schema  Schema   `xml:"Schema"`
}

// Schema contains entity types, entity sets, and function imports.
type Schema struct {
	XMLName         xml.Name         `xml:"Schema"`
	Namespace       string           `xml:"Namespace,attr"`
	EntityTypes     []EntityType     `xml:"EntityType"`
	EntityContainer EntityContainer  `xml:"EntityContainer"`
	FunctionImports []FunctionImport `xml:"FunctionImport"`
}

// EntityType is the XML shape of an OData entity type.
type EntityType struct {
	XMLName              xml.Name             `xml:"EntityType"`
	Name                 string               `xml:"Name,attr"`
	Key                  Key                  `xml:"Key"`
	Properties           []Property           `xml:"Property"`
	NavigationProperties []NavigationProperty `xml:"NavigationProperty"`
}

// Key contains key properties.
type Key struct {
	XMLName      xml.Name      `xml:"Key"`
	PropertyRefs []PropertyRef `xml:"PropertyRef"`
}

// PropertyRef references a key property.
type PropertyRef struct {
	XMLName xml.Name `xml:"PropertyRef"`
	Name    string   `xml:"Name,attr"`
}

// Property is the XML shape of an entity property.
type Property struct {
	XMLName   xml.Name `xml:"Property"`
	Name      string   `xml:"Name,attr"`
	Type      string   `xml:"Type,attr"`
	Nullable  string   `xml:"Nullable,attr"`
	MaxLength string   `xml:"MaxLength,attr"`
	Precision string   `xml:"Precision,attr"`
	Scale     string   `xml:"Scale,attr"`
}

// NavigationProperty is the XML shape of a v2 navigation property.
type NavigationProperty struct {
	XMLName      xml.Name `xml:"NavigationProperty"`
	Name         string   `xml:"Name,attr"`
	Relationship string   `xml:"Relationship,attr"`
	ToRole       string   `xml:"ToRole,attr"`
	FromRole     string   `xml:"FromRole,attr"`
}

// EntityContainer contains entity sets and function imports.
type EntityContainer struct {
	XMLName         xml.Name         `xml:"EntityContainer"`
	Name            string           `xml:"Name,attr"`
	EntitySets      []EntitySet      `xml:"EntitySet"`
	FunctionImports []FunctionImport `xml:"FunctionImport"`
}

// EntitySet is the XML shape of an OData entity set, including the SAP
// capability annotations read per spec §4.1.
type EntitySet struct {
	XMLName     xml.Name `xml:"EntitySet"`
	Name        string   `xml:"Name,attr"`
	EntityType  string   `xml:"EntityType,attr"`
	Creatable   string   `xml:"creatable,attr"`
	Updatable   string   `xml:"updatable,attr"`
	Deletable   string   `xml:"deletable,attr"`
	Searchable  string   `xml:"searchable,attr"`
	Pageable    string   `xml:"pageable,attr"`
	Addressable string   `xml:"addressable,attr"`
}

// FunctionImport is the XML shape of an OData function import.
type FunctionImport struct {
	XMLName    xml.Name    `xml:"FunctionImport"`
	Name       string      `xml:"Name,attr"`
	ReturnType string      `xml:"ReturnType,attr"`
	HTTPMethod string      `xml:"HttpMethod,attr"`
	Parameters []Parameter `xml:"Parameter"`
}

// Parameter is the XML shape of a function parameter.
type Parameter struct {
	XMLName  xml.Name `xml:"Parameter"`
	Name     string   `xml:"Name,attr"`
	Type     string   `xml:"Type,attr"`
	Mode     string   `xml:"Mode,attr"`
	Nullable string   `xml:"Nullable,attr"`
}

// ParseMetadata parses an OData v2 $metadata document into a
// models.ServiceMetadata. MaxLength/Precision/Scale facets that do not parse
// as integers are read as 0 rather than failing the document; malformed XML
// at the top level is fatal and returned to the caller, who wraps it as
// MetadataUnavailable.
func ParseMetadata(data []byte, serviceRoot string) (*models.ServiceMetadata, error) {
	var edmx EDMX
	if err := xml.Unmarshal(data, &edmx); err != nil {
		return nil, fmt.Errorf("failed to parse metadata XML: %w", err)
	}

	schema := edmx.DataServices.Schema

	metadata := &models.ServiceMetadata{
		ServiceRoot:     serviceRoot,
		EntityTypes:     make(map[string]*models.EntityType),
		EntitySets:      make(map[string]*models.EntitySet),
		FunctionImports: make(map[string]*models.FunctionImport),
		SchemaNamespace: schema.Namespace,
		ContainerName:   schema.EntityContainer.Name,
		ParsedAt:        time.Now(),
	}

	for _, et := range schema.EntityTypes {
		metadata.EntityTypes[et.Name] = parseEntityType(et, schema.Namespace)
	}

	for _, es := range schema.EntityContainer.EntitySets {
		metadata.EntitySets[es.Name] = parseEntitySet(es)
	}

	functionImports := schema.EntityContainer.FunctionImports
	if len(functionImports) == 0 {
		functionImports = schema.FunctionImports
	}
	for _, fi := range functionImports {
		metadata.FunctionImports[fi.Name] = parseFunctionImport(fi)
	}

	return metadata, nil
}

func parseEntityType(et EntityType, namespace string) *models.EntityType {
	entityType := &models.EntityType{
		Name:            et.Name,
		Namespace:       namespace,
		Properties:      make([]*models.EntityProperty, 0, len(et.Properties)),
		KeyProperties:   make([]string, 0, len(et.Key.PropertyRefs)),
		NavigationProps: make([]*models.NavigationProperty, 0, len(et.NavigationProperties)),
	}

	for _, keyRef := range et.Key.PropertyRefs {
		entityType.KeyProperties = append(entityType.KeyProperties, keyRef.Name)
	}

	for _, prop := range et.Properties {
		entityType.Properties = append(entityType.Properties, &models.EntityProperty{
			Name:      prop.Name,
			ODataType: prop.Type,
			Abstract:  typesystem.AbstractTypeFor(prop.Type),
			Nullable:  prop.Nullable != "false",
			IsKey:     contains(entityType.KeyProperties, prop.Name),
			MaxLength: parseIntAttr(prop.MaxLength),
			Precision: parseIntAttr(prop.Precision),
			Scale:     parseIntAttr(prop.Scale),
		})
	}

	for _, navProp := range et.NavigationProperties {
		entityType.NavigationProps = append(entityType.NavigationProps, &models.NavigationProperty{
			Name:         navProp.Name,
			Relationship: navProp.Relationship,
			ToRole:       navProp.ToRole,
			FromRole:     navProp.FromRole,
		})
	}

	return entityType
}

func parseEntitySet(es EntitySet) *models.EntitySet {
	entityTypeName := es.EntityType
	if idx := strings.LastIndex(entityTypeName, "."); idx >= 0 {
		entityTypeName = entityTypeName[idx+1:]
	}

	return &models.EntitySet{
		Name:        es.Name,
		EntityType:  entityTypeName,
		Creatable:   es.Creatable != "false",
		Updatable:   es.Updatable != "false",
		Deletable:   es.Deletable != "false",
		Searchable:  es.Searchable == "true",
		Pageable:    es.Pageable != "false",
		Addressable: es.Addressable != "false",
	}
}

func parseFunctionImport(fi FunctionImport) *models.FunctionImport {
	functionImport := &models.FunctionImport{
		Name:       fi.Name,
		HTTPMethod: fi.HTTPMethod,
		ReturnType: fi.ReturnType,
		Parameters: make([]*models.FunctionParameter, 0, len(fi.Parameters)),
	}

	if functionImport.HTTPMethod == "" {
		functionImport.HTTPMethod = constants.GET
	}
	functionImport.IsCollection = strings.HasPrefix(fi.ReturnType, "Collection(")

	for _, param := range fi.Parameters {
		functionImport.Parameters = append(functionImport.Parameters, &models.FunctionParameter{
			Name:      param.Name,
			ODataType: param.Type,
			Abstract:  typesystem.AbstractTypeFor(param.Type),
			Nullable:  param.Nullable != "false",
		})
	}

	return functionImport
}

func parseIntAttr(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
