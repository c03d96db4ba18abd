package config

import "strings"

// Config holds all configuration options for the OData MCP bridge
type Config struct {
	// Service configuration
	ServiceURL string `mapstructure:"service_url"`

	// Authentication
	Username     string            `mapstructure:"username"`
	Password     string            `mapstructure:"password"`
	CookieFile   string            `mapstructure:"cookie_file"`
	CookieString string            `mapstructure:"cookie_string"`
	Cookies      map[string]string // Parsed cookies

	// Tool naming options
	ToolPrefix   string `mapstructure:"tool_prefix"`
	ToolPostfix  string `mapstructure:"tool_postfix"`
	NoPostfix    bool   `mapstructure:"no_postfix"`
	ToolShrink   bool   `mapstructure:"tool_shrink"`
	InfoToolName string `mapstructure:"info_tool_name"`

	// Entity and function filtering
	Entities         string   `mapstructure:"entities"`
	Functions        string   `mapstructure:"functions"`
	AllowedEntities  []string // Parsed from Entities
	AllowedFunctions []string // Parsed from Functions

	// Operation-code filtering (spec §4.5 policy step 3/4, mutually exclusive)
	Enable  string `mapstructure:"enable"`  // comma-separated subset of CSFGUDA(R)
	Disable string `mapstructure:"disable"` // comma-separated subset of CSFGUDA(R)

	// Output and debugging
	Verbose     bool `mapstructure:"verbose"`
	Debug       bool `mapstructure:"debug"`
	SortTools   bool `mapstructure:"sort_tools"`
	NoSortTools bool `mapstructure:"no_sort_tools"`
	Trace       bool `mapstructure:"trace"`

	// Response enhancement options
	PaginationHints  bool `mapstructure:"pagination_hints"`  // Add pagination support with hints
	LegacyDates      bool `mapstructure:"legacy_dates"`      // Support epoch timestamp format
	NoLegacyDates    bool `mapstructure:"no_legacy_dates"`   // Disable legacy date format
	VerboseErrors    bool `mapstructure:"verbose_errors"`    // Detailed error context
	ResponseMetadata bool `mapstructure:"response_metadata"` // Include __metadata in responses

	// Response size limits
	MaxResponseSize int `mapstructure:"max_response_size"` // Maximum response size in bytes
	MaxItems        int `mapstructure:"max_items"`         // Maximum number of items in response

	// Read-only mode flags
	ReadOnly             bool `mapstructure:"read_only"`               // Read-only mode: hide all modifying operations
	ReadOnlyButFunctions bool `mapstructure:"read_only_but_functions"` // Read-only mode but allow function imports

	// Hint configuration
	HintsFile string `mapstructure:"hints_file"` // Path to hints JSON file
	Hint      string `mapstructure:"hint"`       // Direct hint JSON from CLI

	// Transport configuration
	Transport    string `mapstructure:"transport"`      // "stdio" (default) or "http"
	HTTPAddr     string `mapstructure:"http_addr"`      // bind address for the http transport
	AllowNonLocalBind bool `mapstructure:"allow_non_local_bind"` // explicit override required to bind a non-loopback address
	TraceMCP     bool   `mapstructure:"trace_mcp"`      // write stdio JSON-RPC traffic to a trace file
}

// HasBasicAuth returns true if username and password are configured
func (c *Config) HasBasicAuth() bool {
	return c.Username != "" && c.Password != ""
}

// HasCookieAuth returns true if cookies are configured
func (c *Config) HasCookieAuth() bool {
	return len(c.Cookies) > 0
}

// UsePostfix returns true if tool postfix should be used instead of prefix
func (c *Config) UsePostfix() bool {
	return !c.NoPostfix
}

// IsReadOnly returns true if read-only mode is enabled
func (c *Config) IsReadOnly() bool {
	return c.ReadOnly || c.ReadOnlyButFunctions
}

// AllowModifyingFunctions returns true if modifying function imports are allowed
func (c *Config) AllowModifyingFunctions() bool {
	return !c.ReadOnly
}

// EnableCodes returns the parsed --enable operation-code set.
func (c *Config) EnableCodes() []string {
	return splitCommaList(c.Enable)
}

// DisableCodes returns the parsed --disable operation-code set.
func (c *Config) DisableCodes() []string {
	return splitCommaList(c.Disable)
}

func splitCommaList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
