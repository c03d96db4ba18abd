package constants

import (
	"net/url"
	"regexp"
	"strings"
)

// OData XML namespaces
const (
	EdmNamespace  = "http://schemas.microsoft.com/ado/2006/04/edm"
	EdmxNamespace = "http://schemas.microsoft.com/ado/2007/06/edmx"
	SAPNamespace  = "http://www.sap.com/Protocols/SAPData"
	AtomNamespace = "http://www.w3.org/2005/Atom"
	AppNamespace  = "http://www.w3.org/2007/app"
)

// HTTP methods supported by OData
const (
	GET    = "GET"
	POST   = "POST"
	PUT    = "PUT"
	PATCH  = "PATCH"
	MERGE  = "MERGE"
	DELETE = "DELETE"
)

// OData system query options
const (
	QueryFilter      = "$filter"
	QuerySelect      = "$select"
	QueryExpand      = "$expand"
	QueryOrderBy     = "$orderby"
	QueryTop         = "$top"
	QuerySkip        = "$skip"
	QueryCount       = "$count"
	QuerySearch      = "$search"
	QueryFormat      = "$format"
	QuerySkipToken   = "$skiptoken"
	QueryInlineCount = "$inlinecount"
)

// SAP-specific query options
const (
	SAPQuerySearch = "search"
)

// CSRF Token headers (SAP-specific)
const (
	CSRFTokenHeader      = "X-CSRF-Token"
	CSRFTokenFetch       = "Fetch"
	CSRFTokenHeaderLower = "x-csrf-token"
)

// HTTP headers
const (
	ContentType   = "Content-Type"
	Accept        = "Accept"
	Authorization = "Authorization"
	UserAgent     = "User-Agent"
	IfMatch       = "If-Match"
	IfNoneMatch   = "If-None-Match"
)

// Content types
const (
	ContentTypeJSON      = "application/json"
	ContentTypeXML       = "application/xml"
	ContentTypeAtomXML   = "application/atom+xml"
	ContentTypeFormURL   = "application/x-www-form-urlencoded"
	ContentTypeODataJSON = "application/json;odata=verbose"
	ContentTypeODataAtom = "application/atom+xml;type=entry"
)

// OData metadata endpoints
const (
	MetadataEndpoint   = "$metadata"
	ServiceDocEndpoint = ""
	BatchEndpoint      = "$batch"
)

// Tool operation types
const (
	OpFilter = "filter"
	OpCount  = "count"
	OpSearch = "search"
	OpGet    = "get"
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpInfo   = "info"
)

// Tool operation names (for shrinking)
var ToolOperationNames = map[string]string{
	OpFilter: "filter",
	OpCount:  "count",
	OpSearch: "search",
	OpGet:    "get",
	OpCreate: "create",
	OpUpdate: "update",
	OpDelete: "delete",
	OpInfo:   "info",
}

// Shortened tool operation names
var ShortenedToolOperationNames = map[string]string{
	OpFilter: "filter",
	OpCount:  "count",
	OpSearch: "search",
	OpGet:    "get",
	OpCreate: "create",
	OpUpdate: "upd",
	OpDelete: "del",
	OpInfo:   "info",
}

// Error messages
const (
	ErrInvalidServiceURL    = "invalid service URL"
	ErrMetadataNotFound     = "metadata not found"
	ErrEntitySetNotFound    = "entity set not found"
	ErrEntityTypeNotFound   = "entity type not found"
	ErrFunctionNotFound     = "function import not found"
	ErrAuthenticationFailed = "authentication failed"
	ErrCSRFTokenFailed      = "CSRF token fetch failed"
	ErrRequestFailed        = "HTTP request failed"
	ErrResponseParseFailed  = "response parsing failed"
)

// Default values
const (
	DefaultUserAgent         = "OData-MCP-Bridge/1.0 (Go)"
	DefaultTimeout           = 30              // seconds
	DefaultMetadataTimeout   = 60              // seconds - metadata can be large for SAP services
	DefaultMaxResponseSize   = 5 * 1024 * 1024 // 5MB (aligned with CLI default)
	DefaultMaxItems          = 100             // Aligned with CLI default
	DefaultToolNameMaxLength = 64
)

// MCP-specific constants
const (
	MCPProtocolVersion = "2024-11-05"
	MCPServerName      = "odata-mcp-bridge"
	MCPServerVersion   = "1.0.0"
)

// GetToolOperationName returns the operation name for tools
func GetToolOperationName(operation string, shrink bool) string {
	if shrink {
		if name, ok := ShortenedToolOperationNames[operation]; ok {
			return name
		}
	}
	if name, ok := ToolOperationNames[operation]; ok {
		return name
	}
	return operation
}

var (
	sapServicePattern = regexp.MustCompile(`/sap/opu/odata(?:/sap)?/([A-Za-z0-9_]+)/?`)
	svcExtPattern      = regexp.MustCompile(`/([A-Za-z0-9_]+)\.svc/?`)
	odataNamePattern   = regexp.MustCompile(`/odata/([A-Za-z0-9_]+)/?`)
	nonIdentChars      = regexp.MustCompile(`[^A-Za-z0-9_]+`)
)

// FormatServiceID derives the service identifier used to qualify tool names
// (spec §4.5 "Name synthesis"), in the documented priority order:
//  1. /sap/opu/odata/[sap/]<ID>/  -> <ID>
//  2. path ending in <Name>.svc   -> <Name>_svc
//  3. /odata/<Name>/              -> <Name>
//  4. otherwise: host with '.' replaced by '_'
func FormatServiceID(serviceURL string) string {
	if m := sapServicePattern.FindStringSubmatch(serviceURL); len(m) > 1 {
		return m[1]
	}
	if m := svcExtPattern.FindStringSubmatch(serviceURL); len(m) > 1 {
		return m[1] + "_svc"
	}
	if m := odataNamePattern.FindStringSubmatch(serviceURL); len(m) > 1 {
		return m[1]
	}

	parsed, err := url.Parse(serviceURL)
	if err != nil || parsed.Host == "" {
		return "odata"
	}
	id := nonIdentChars.ReplaceAllString(strings.ReplaceAll(parsed.Hostname(), ".", "_"), "_")
	id = strings.Trim(id, "_")
	if id == "" {
		return "odata"
	}
	return id
}
