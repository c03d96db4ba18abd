// Package projector implements the Tool Projector (spec §4.5): given a
// ServiceMetadata and a filtering Policy, it derives the full catalog of
// ToolDescriptors — one per entity-set capability and one per function
// import, plus the informational tool — with fully data-driven argument
// schemas (spec §9: "no code generation needed; argument validation becomes
// a data-driven check against the schema").
package projector

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zmcp/odata-mcp/internal/constants"
	"github.com/zmcp/odata-mcp/internal/models"
	"github.com/zmcp/odata-mcp/internal/wildcard"
)

// Policy is the filtering policy evaluated in the order documented by spec
// §4.5: read-only modes, then disable/enable code sets, then name
// allowlists.
type Policy struct {
	ReadOnly             bool
	ReadOnlyButFunctions bool
	Disable              []string // code alphabet subset, e.g. []string{"C","U","D"}; "R" expands to S|F|G
	Enable               []string // mutually exclusive with Disable
	EntityAllow          []string // *?-wildcard patterns; empty means "all"
	FunctionAllow        []string
}

var allOps = []models.OperationClass{
	models.OpCreate, models.OpSearch, models.OpFilter, models.OpGet,
	models.OpUpdate, models.OpDelete, models.OpAction,
}

func expandCodes(codes []string) map[models.OperationClass]bool {
	set := make(map[models.OperationClass]bool)
	for _, c := range codes {
		code := strings.ToUpper(strings.TrimSpace(c))
		if code == "R" {
			set[models.OpSearch] = true
			set[models.OpFilter] = true
			set[models.OpGet] = true
			continue
		}
		set[models.OperationClass(code)] = true
	}
	return set
}

// allowedOperations computes the policy-wide set of permitted operation
// classes, independent of any single entity's own capability flags.
func (p Policy) allowedOperations() map[models.OperationClass]bool {
	allowed := make(map[models.OperationClass]bool, len(allOps))
	for _, op := range allOps {
		allowed[op] = true
	}

	if p.ReadOnly {
		delete(allowed, models.OpCreate)
		delete(allowed, models.OpUpdate)
		delete(allowed, models.OpDelete)
		delete(allowed, models.OpAction)
	} else if p.ReadOnlyButFunctions {
		delete(allowed, models.OpCreate)
		delete(allowed, models.OpUpdate)
		delete(allowed, models.OpDelete)
	}

	if len(p.Disable) > 0 {
		for code := range expandCodes(p.Disable) {
			delete(allowed, code)
		}
	} else if len(p.Enable) > 0 {
		enabled := expandCodes(p.Enable)
		for op := range allowed {
			if !enabled[op] {
				delete(allowed, op)
			}
		}
	}

	return allowed
}

// NamingOptions controls tool name synthesis (spec §4.5 "Name synthesis").
type NamingOptions struct {
	Prefix            string
	Postfix           string
	UsePostfix        bool // true: suffix placement "<op>_<entity>[_<postfix-or-service-id>]"; false: prefix placement
	Shrink            bool
	MaxNameLength     int // target length before shrinking kicks in, spec default ~40
	ServiceIdentifier string
	InfoToolName      string
}

const defaultMaxNameLength = 40

// Generate computes the full tool catalog: info tool first, then entities
// alphabetically, then functions alphabetically (spec §4.5 / teacher's
// generateTools ordering).
func Generate(meta *models.ServiceMetadata, policy Policy, naming NamingOptions) []*models.ToolDescriptor {
	if naming.MaxNameLength <= 0 {
		naming.MaxNameLength = defaultMaxNameLength
	}
	allowed := policy.allowedOperations()

	var tools []*models.ToolDescriptor
	tools = append(tools, infoTools(naming)...)

	entityNames := make([]string, 0, len(meta.EntitySets))
	for name := range meta.EntitySets {
		if policyAllowsName(name, policy.EntityAllow) {
			entityNames = append(entityNames, name)
		}
	}
	sort.Strings(entityNames)

	for _, name := range entityNames {
		set := meta.EntitySets[name]
		entityType := meta.EntityTypeFor(set)
		if entityType == nil {
			continue
		}
		tools = append(tools, entityTools(name, set, entityType, allowed, naming)...)
	}

	functionNames := make([]string, 0, len(meta.FunctionImports))
	for name := range meta.FunctionImports {
		if policyAllowsName(name, policy.FunctionAllow) {
			functionNames = append(functionNames, name)
		}
	}
	sort.Strings(functionNames)

	for _, name := range functionNames {
		if !allowed[models.OpAction] {
			continue
		}
		tools = append(tools, functionTool(name, meta.FunctionImports[name], naming))
	}

	return tools
}

func policyAllowsName(name string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	return wildcard.MatchAny(name, patterns)
}

func infoTools(naming NamingOptions) []*models.ToolDescriptor {
	infoName := naming.InfoToolName
	if infoName == "" {
		infoName = "odata_service_info"
	}
	descriptor := &models.ToolDescriptor{
		Name:        formatName(infoName, "", naming),
		Description: "Get information about the OData service including metadata, entity sets, capabilities, and any embedded implementation hints",
		Operation:   models.OpInfo,
		Kind:        models.KindInfo,
		Parameters: []models.ToolParameter{
			{Name: "include_metadata", Abstract: models.AbstractBoolean, Description: "Include detailed metadata information", Required: false},
		},
	}
	alias := &models.ToolDescriptor{
		Name:        formatName("readme", "", naming),
		Description: descriptor.Description,
		Operation:   models.OpInfo,
		Kind:        models.KindInfo,
		Parameters:  descriptor.Parameters,
	}
	return []*models.ToolDescriptor{descriptor, alias}
}

func entityTools(name string, set *models.EntitySet, entityType *models.EntityType, allowed map[models.OperationClass]bool, naming NamingOptions) []*models.ToolDescriptor {
	var tools []*models.ToolDescriptor

	if allowed[models.OpFilter] {
		tools = append(tools, filterTool(name, naming))
	}
	if allowed[models.OpFilter] || allowed[models.OpGet] {
		tools = append(tools, countTool(name, naming))
	}
	if set.Searchable && allowed[models.OpSearch] {
		tools = append(tools, searchTool(name, naming))
	}
	if allowed[models.OpGet] {
		tools = append(tools, getTool(name, entityType, naming))
	}
	if set.Creatable && allowed[models.OpCreate] {
		tools = append(tools, createTool(name, entityType, naming))
	}
	if set.Updatable && allowed[models.OpUpdate] {
		tools = append(tools, updateTool(name, entityType, naming))
	}
	if set.Deletable && allowed[models.OpDelete] {
		tools = append(tools, deleteTool(name, entityType, naming))
	}

	return tools
}

func filterTool(entitySet string, naming NamingOptions) *models.ToolDescriptor {
	op := constants.GetToolOperationName(constants.OpFilter, naming.Shrink)
	return &models.ToolDescriptor{
		Name:        formatName(op, entitySet, naming),
		Description: fmt.Sprintf("List/filter %s entities with OData query options", entitySet),
		EntitySet:   entitySet,
		Operation:   models.OpFilter,
		Kind:        models.KindFilter,
		Parameters: []models.ToolParameter{
			{Name: "filter", Abstract: models.AbstractString, Description: "OData $filter expression"},
			{Name: "select", Abstract: models.AbstractString, Description: "Comma-separated list of properties to select"},
			{Name: "expand", Abstract: models.AbstractString, Description: "Navigation properties to expand"},
			{Name: "orderby", Abstract: models.AbstractString, Description: "Properties to order by"},
			{Name: "top", Abstract: models.AbstractInteger, Description: "Maximum number of entities to return"},
			{Name: "skip", Abstract: models.AbstractInteger, Description: "Number of entities to skip"},
			{Name: "skiptoken", Abstract: models.AbstractString, Description: "Server-supplied $skiptoken for continuing a prior page"},
			{Name: "count", Abstract: models.AbstractBoolean, Description: "Include total count of matching entities"},
		},
	}
}

func countTool(entitySet string, naming NamingOptions) *models.ToolDescriptor {
	op := constants.GetToolOperationName(constants.OpCount, naming.Shrink)
	return &models.ToolDescriptor{
		Name:        formatName(op, entitySet, naming),
		Description: fmt.Sprintf("Get count of %s entities with optional filter", entitySet),
		EntitySet:   entitySet,
		Operation:   models.OpFilter,
		Kind:        models.KindCount,
		Parameters: []models.ToolParameter{
			{Name: "filter", Abstract: models.AbstractString, Description: "OData $filter expression"},
		},
	}
}

func searchTool(entitySet string, naming NamingOptions) *models.ToolDescriptor {
	op := constants.GetToolOperationName(constants.OpSearch, naming.Shrink)
	return &models.ToolDescriptor{
		Name:        formatName(op, entitySet, naming),
		Description: fmt.Sprintf("Full-text search %s entities", entitySet),
		EntitySet:   entitySet,
		Operation:   models.OpSearch,
		Kind:        models.KindSearch,
		Parameters: []models.ToolParameter{
			{Name: "search_term", Abstract: models.AbstractString, Description: "Search query string", Required: true},
			{Name: "top", Abstract: models.AbstractInteger, Description: "Maximum number of entities to return"},
			{Name: "skip", Abstract: models.AbstractInteger, Description: "Number of entities to skip"},
		},
	}
}

func keyParameters(entityType *models.EntityType) []models.ToolParameter {
	params := make([]models.ToolParameter, 0, len(entityType.KeyProperties))
	for _, keyName := range entityType.KeyProperties {
		prop := entityType.Property(keyName)
		abstract := models.AbstractString
		if prop != nil {
			abstract = prop.Abstract
		}
		params = append(params, models.ToolParameter{
			Name:        keyName,
			Abstract:    abstract,
			Description: fmt.Sprintf("%s (key)", keyName),
			Required:    true,
			IsKey:       true,
		})
	}
	return params
}

func getTool(entitySet string, entityType *models.EntityType, naming NamingOptions) *models.ToolDescriptor {
	op := constants.GetToolOperationName(constants.OpGet, naming.Shrink)
	params := keyParameters(entityType)
	params = append(params,
		models.ToolParameter{Name: "select", Abstract: models.AbstractString, Description: "Comma-separated list of properties to select"},
		models.ToolParameter{Name: "expand", Abstract: models.AbstractString, Description: "Navigation properties to expand"},
	)
	return &models.ToolDescriptor{
		Name:        formatName(op, entitySet, naming),
		Description: fmt.Sprintf("Get a single %s entity by key", entitySet),
		EntitySet:   entitySet,
		Operation:   models.OpGet,
		Kind:        models.KindGet,
		Parameters:  params,
	}
}

func createTool(entitySet string, entityType *models.EntityType, naming NamingOptions) *models.ToolDescriptor {
	op := constants.GetToolOperationName(constants.OpCreate, naming.Shrink)
	var params []models.ToolParameter
	for _, prop := range entityType.Properties {
		if prop.IsKey {
			continue
		}
		params = append(params, models.ToolParameter{
			Name:        prop.Name,
			Abstract:    prop.Abstract,
			Description: fmt.Sprintf("%s (%s)", prop.Name, prop.ODataType),
			Required:    !prop.Nullable,
		})
	}
	return &models.ToolDescriptor{
		Name:        formatName(op, entitySet, naming),
		Description: fmt.Sprintf("Create a new %s entity", entitySet),
		EntitySet:   entitySet,
		Operation:   models.OpCreate,
		Kind:        models.KindCreate,
		Parameters:  params,
	}
}

func updateTool(entitySet string, entityType *models.EntityType, naming NamingOptions) *models.ToolDescriptor {
	op := constants.GetToolOperationName(constants.OpUpdate, naming.Shrink)
	params := keyParameters(entityType)
	for _, prop := range entityType.Properties {
		if prop.IsKey {
			continue
		}
		params = append(params, models.ToolParameter{
			Name:        prop.Name,
			Abstract:    prop.Abstract,
			Description: fmt.Sprintf("%s (%s)", prop.Name, prop.ODataType),
			Required:    false,
		})
	}
	return &models.ToolDescriptor{
		Name:        formatName(op, entitySet, naming),
		Description: fmt.Sprintf("Update an existing %s entity (MERGE, falling back to PUT on 405)", entitySet),
		EntitySet:   entitySet,
		Operation:   models.OpUpdate,
		Kind:        models.KindUpdate,
		Parameters:  params,
	}
}

func deleteTool(entitySet string, entityType *models.EntityType, naming NamingOptions) *models.ToolDescriptor {
	op := constants.GetToolOperationName(constants.OpDelete, naming.Shrink)
	return &models.ToolDescriptor{
		Name:        formatName(op, entitySet, naming),
		Description: fmt.Sprintf("Delete a %s entity", entitySet),
		EntitySet:   entitySet,
		Operation:   models.OpDelete,
		Kind:        models.KindDelete,
		Parameters:  keyParameters(entityType),
	}
}

func functionTool(name string, fn *models.FunctionImport, naming NamingOptions) *models.ToolDescriptor {
	var params []models.ToolParameter
	for _, p := range fn.Parameters {
		params = append(params, models.ToolParameter{
			Name:        p.Name,
			Abstract:    p.Abstract,
			Description: fmt.Sprintf("%s (%s)", p.Name, p.ODataType),
			Required:    !p.Nullable,
		})
	}
	return &models.ToolDescriptor{
		Name:        formatName(name, "", naming),
		Description: fmt.Sprintf("Call function import: %s", name),
		Function:    name,
		Operation:   models.OpAction,
		Kind:        models.KindFunction,
		Parameters:  params,
	}
}

// formatName synthesizes the final, qualified tool name: base name, with
// the service identifier applied as a suffix (default) or prefix, then
// shortened if naming.Shrink is set and the result exceeds MaxNameLength
// (spec §4.5 "Name synthesis" / "Optional name shortening").
func formatName(operation, entitySet string, naming NamingOptions) string {
	base := operation
	if entitySet != "" {
		op := operation
		if naming.Shrink {
			op = ShrinkOperation(op)
		}
		entity := entitySet
		if naming.Shrink {
			entity = ShrinkComponent(entity, naming.MaxNameLength/2)
		}
		// Operation stays first (<op>_<Set>) regardless of prefix/postfix
		// placement; only the service identifier/prefix moves (spec §4.5).
		base = fmt.Sprintf("%s_%s", op, entity)
	}

	switch {
	case naming.UsePostfix && naming.Postfix != "":
		base = fmt.Sprintf("%s_%s", base, naming.Postfix)
	case !naming.UsePostfix && naming.Prefix != "":
		base = fmt.Sprintf("%s_%s", naming.Prefix, base)
	case naming.UsePostfix:
		base = fmt.Sprintf("%s_for_%s", base, naming.ServiceIdentifier)
	case naming.Prefix == "":
		base = fmt.Sprintf("%s_%s", naming.ServiceIdentifier, base)
	}

	if naming.Shrink && len(base) > naming.MaxNameLength {
		base = ShrinkComponent(base, naming.MaxNameLength)
	}
	return base
}
