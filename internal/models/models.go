package models

import "time"

// AbstractType is the type-system's variant used by the schema generator and
// the value coercer, independent of the wire-level Edm.* name.
type AbstractType string

const (
	AbstractString         AbstractType = "string"
	AbstractInteger        AbstractType = "integer"
	AbstractDecimal        AbstractType = "decimal"
	AbstractDouble         AbstractType = "double"
	AbstractBoolean        AbstractType = "boolean"
	AbstractBinary         AbstractType = "binary"
	AbstractGuid           AbstractType = "guid"
	AbstractDateTime       AbstractType = "datetime"
	AbstractDateTimeOffset AbstractType = "datetimeoffset"
	AbstractTime           AbstractType = "time"
)

// EntityProperty is an immutable description of one property of an EntityType.
type EntityProperty struct {
	Name         string       `json:"name"`
	ODataType    string       `json:"odata_type"` // e.g. "Edm.String"
	Abstract     AbstractType `json:"abstract_type"`
	Nullable     bool         `json:"nullable"`
	IsKey        bool         `json:"is_key"`
	MaxLength    int          `json:"max_length,omitempty"`
	Precision    int          `json:"precision,omitempty"`
	Scale        int          `json:"scale,omitempty"`
	Description  *string      `json:"description,omitempty"`
}

// EntityType is the immutable, post-metadata-load description of one type.
type EntityType struct {
	Name            string                 `json:"name"`
	Namespace       string                 `json:"namespace"`
	Properties      []*EntityProperty      `json:"properties"`
	KeyProperties   []string               `json:"key_properties"`
	Description     *string                `json:"description,omitempty"`
	NavigationProps []*NavigationProperty  `json:"navigation_properties,omitempty"`
}

// Property looks up a declared property by name, nil if not found.
func (e *EntityType) Property(name string) *EntityProperty {
	for _, p := range e.Properties {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// NavigationProperty represents a v2 navigation property in an entity type.
type NavigationProperty struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship,omitempty"`
	ToRole       string `json:"to_role,omitempty"`
	FromRole     string `json:"from_role,omitempty"`
}

// EntitySet is an immutable description of a named collection, plus the
// capability flags read from sap:* metadata annotations.
type EntitySet struct {
	Name        string  `json:"name"`
	EntityType  string  `json:"entity_type"`
	Creatable   bool    `json:"creatable"`
	Updatable   bool    `json:"updatable"`
	Deletable   bool    `json:"deletable"`
	Searchable  bool    `json:"searchable"`
	Pageable    bool    `json:"pageable"`
	Addressable bool    `json:"addressable"`
	Description *string `json:"description,omitempty"`
}

// FunctionImport is an immutable description of a server-defined callable not
// bound to a particular entity.
type FunctionImport struct {
	Name        string               `json:"name"`
	HTTPMethod  string               `json:"http_method"` // GET or POST
	ReturnType  string               `json:"return_type,omitempty"`
	IsCollection bool                `json:"is_collection,omitempty"`
	Parameters  []*FunctionParameter `json:"parameters"`
	Description *string              `json:"description,omitempty"`
}

// FunctionParameter is a single parameter of a FunctionImport.
type FunctionParameter struct {
	Name     string       `json:"name"`
	ODataType string      `json:"odata_type"`
	Abstract AbstractType `json:"abstract_type"`
	Nullable bool         `json:"nullable"`
}

// ServiceMetadata is built once at process start from the $metadata document
// (or the fallback service-document probe) and is immutable thereafter.
type ServiceMetadata struct {
	ServiceRoot      string                     `json:"service_root"`
	ServiceIdentifier string                    `json:"service_identifier"`
	EntityTypes      map[string]*EntityType     `json:"entity_types"`
	EntitySets       map[string]*EntitySet      `json:"entity_sets"`
	FunctionImports  map[string]*FunctionImport `json:"function_imports"`
	SchemaNamespace  string                     `json:"schema_namespace"`
	ContainerName    string                     `json:"container_name"`
	IsFallback       bool                       `json:"is_fallback"`
	ParsedAt         time.Time                  `json:"parsed_at"`
}

// EntityTypeFor resolves the EntityType backing an EntitySet, nil if unknown.
func (m *ServiceMetadata) EntityTypeFor(set *EntitySet) *EntityType {
	return m.EntityTypes[set.EntityType]
}

// ODataError is the structured shape returned by the Request Engine's error
// extraction (spec §4.3 / §7 UpstreamError.details).
type ODataError struct {
	Code       string                 `json:"code,omitempty"`
	Message    string                 `json:"message"`
	Details    []ODataErrorDetail     `json:"details,omitempty"`
	InnerError map[string]interface{} `json:"innererror,omitempty"`
	Target     string                 `json:"target,omitempty"`
}

// ODataErrorDetail is one entry of error.details[].
type ODataErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Target  string `json:"target,omitempty"`
}

// PaginationInfo is the advisory block attached to list responses when
// pagination-hints mode is on and more items are known to exist.
type PaginationInfo struct {
	TotalCount        *int64  `json:"total_count,omitempty"`
	CurrentCount      int     `json:"current_count"`
	HasMore           bool    `json:"has_more"`
	SuggestedNextCall *string `json:"suggested_next_call,omitempty"`
	Skip              int     `json:"skip,omitempty"`
	Top               int     `json:"top,omitempty"`
	SkipToken         string  `json:"skip_token,omitempty"`
}

// OperationClass is the operation-code alphabet used by the filtering policy
// and attached to every ToolDescriptor (spec §4.5, §8 invariant 9).
type OperationClass string

const (
	OpCreate OperationClass = "C"
	OpSearch OperationClass = "S"
	OpFilter OperationClass = "F"
	OpGet    OperationClass = "G"
	OpUpdate OperationClass = "U"
	OpDelete OperationClass = "D"
	OpAction OperationClass = "A"
	OpInfo   OperationClass = "Info"
)

// ToolParameter is one named, typed entry of a ToolDescriptor's input schema.
type ToolParameter struct {
	Name        string       `json:"name"`
	Abstract    AbstractType `json:"type"`
	Description string       `json:"description"`
	Required    bool         `json:"required"`
	IsKey       bool         `json:"is_key,omitempty"`
}

// HandlerKind names which of the bridge's fixed handler bodies a
// ToolDescriptor is wired to. It is finer-grained than OperationClass:
// filter_* and count_* both carry OperationClass F for policy purposes
// (spec §4.5) but need distinct handler bodies, so dispatch keys off Kind
// instead of Operation.
type HandlerKind string

const (
	KindInfo     HandlerKind = "info"
	KindFilter   HandlerKind = "filter"
	KindCount    HandlerKind = "count"
	KindSearch   HandlerKind = "search"
	KindGet      HandlerKind = "get"
	KindCreate   HandlerKind = "create"
	KindUpdate   HandlerKind = "update"
	KindDelete   HandlerKind = "delete"
	KindFunction HandlerKind = "function"
)

// ToolDescriptor is the data-driven shape of one projected tool: name,
// description, schema, operation class, and a handler reference resolved by
// the bridge at registration time (spec §9 design note: no code generation).
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	EntitySet   string          `json:"entity_set,omitempty"`
	Function    string          `json:"function,omitempty"`
	Operation   OperationClass  `json:"operation"`
	Kind        HandlerKind     `json:"-"`
}

// TraceInfo is the structure printed by --trace.
type TraceInfo struct {
	ServiceURL      string            `json:"service_url"`
	MCPName         string            `json:"mcp_name"`
	ToolNaming      string            `json:"tool_naming"`
	ToolPrefix      string            `json:"tool_prefix,omitempty"`
	ToolPostfix     string            `json:"tool_postfix,omitempty"`
	ToolShrink      bool              `json:"tool_shrink"`
	SortTools       bool              `json:"sort_tools"`
	EntityFilter    []string          `json:"entity_filter,omitempty"`
	FunctionFilter  []string          `json:"function_filter,omitempty"`
	Authentication  string            `json:"authentication"`
	ReadOnlyMode    string            `json:"read_only_mode,omitempty"`
	MetadataSummary MetadataSummary   `json:"metadata_summary"`
	RegisteredTools []*ToolDescriptor `json:"registered_tools"`
	TotalTools      int               `json:"total_tools"`
}

// MetadataSummary is a count-only summary of parsed metadata.
type MetadataSummary struct {
	EntityTypes     int `json:"entity_types"`
	EntitySets      int `json:"entity_sets"`
	FunctionImports int `json:"function_imports"`
}
