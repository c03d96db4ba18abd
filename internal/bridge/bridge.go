// Package bridge wires the Metadata Reader, Type System, Request Engine,
// Response Normalizer, and Tool Projector into the object that the
// dispatcher actually talks to: it fetches metadata once at startup,
// projects the tool catalog, registers a handler per tool, and translates
// each tools/call invocation into the matching Request Engine call plus a
// Response Normalizer pass (spec §2 "Data flow per call").
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/zmcp/odata-mcp/internal/apperr"
	"github.com/zmcp/odata-mcp/internal/client"
	"github.com/zmcp/odata-mcp/internal/config"
	"github.com/zmcp/odata-mcp/internal/constants"
	"github.com/zmcp/odata-mcp/internal/hint"
	"github.com/zmcp/odata-mcp/internal/mcp"
	"github.com/zmcp/odata-mcp/internal/metrics"
	"github.com/zmcp/odata-mcp/internal/models"
	"github.com/zmcp/odata-mcp/internal/normalizer"
	"github.com/zmcp/odata-mcp/internal/projector"
)

// ODataMCPBridge owns the immutable post-startup state (spec §3
// "Lifecycle"): metadata, the projected tool table, and the Request Engine
// session, all created once in NewODataMCPBridge and read-only thereafter.
type ODataMCPBridge struct {
	config   *config.Config
	client   *client.ODataClient
	server   *mcp.Server
	metadata *models.ServiceMetadata
	hints    *hint.Manager
	tools    []*models.ToolDescriptor
}

// NewODataMCPBridge fetches metadata, loads hints, projects the tool
// catalog per the configured policy, and registers every tool against a
// fresh MCP dispatcher. A metadata load failure here is fatal to startup
// (spec §4.1).
func NewODataMCPBridge(cfg *config.Config) (*ODataMCPBridge, error) {
	odataClient := client.NewODataClient(cfg.ServiceURL, cfg.Verbose)
	if cfg.HasBasicAuth() {
		odataClient.SetBasicAuth(cfg.Username, cfg.Password)
	} else if cfg.HasCookieAuth() {
		odataClient.SetCookies(cfg.Cookies)
	}
	odataClient.SetLegacyDates(cfg.LegacyDates)

	metadata, err := odataClient.GetMetadata(context.Background())
	if err != nil {
		return nil, err
	}
	metadata.ServiceIdentifier = constants.FormatServiceID(cfg.ServiceURL)

	hints := hint.NewManager()
	if err := hints.LoadFromFile(cfg.HintsFile); err != nil && cfg.Verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] failed to load hints file %s: %v\n", cfg.HintsFile, err)
	}
	if cfg.Hint != "" {
		if err := hints.SetCLIHint(cfg.Hint); err != nil && cfg.Verbose {
			fmt.Fprintf(os.Stderr, "[VERBOSE] failed to parse --hint: %v\n", err)
		}
	}

	policy := projector.Policy{
		ReadOnly:             cfg.ReadOnly,
		ReadOnlyButFunctions: cfg.ReadOnlyButFunctions,
		Disable:              cfg.DisableCodes(),
		Enable:               cfg.EnableCodes(),
		EntityAllow:          cfg.AllowedEntities,
		FunctionAllow:        cfg.AllowedFunctions,
	}
	naming := projector.NamingOptions{
		Prefix:            cfg.ToolPrefix,
		Postfix:           cfg.ToolPostfix,
		UsePostfix:        cfg.UsePostfix(),
		Shrink:            cfg.ToolShrink,
		ServiceIdentifier: metadata.ServiceIdentifier,
		InfoToolName:      cfg.InfoToolName,
	}

	tools := projector.Generate(metadata, policy, naming)

	b := &ODataMCPBridge{
		config:   cfg,
		client:   odataClient,
		server:   mcp.NewServer(constants.MCPServerName, constants.MCPServerVersion),
		metadata: metadata,
		hints:    hints,
		tools:    tools,
	}

	for _, desc := range tools {
		b.server.AddToolDescriptor(desc, b.handlerFor(desc))
	}
	if cfg.SortTools {
		b.server.SortToolOrder()
	}

	return b, nil
}

// GetServer returns the underlying MCP dispatcher, for the caller to attach
// a transport and start.
func (b *ODataMCPBridge) GetServer() *mcp.Server { return b.server }

// Run starts the dispatcher's attached transport read loop.
func (b *ODataMCPBridge) Run() error { return b.server.Run() }

// Stop unblocks the transport read loop.
func (b *ODataMCPBridge) Stop() { b.server.Stop() }

// GetTraceInfo builds the structure printed by --trace: every registered
// tool plus a summary of the policy and metadata that produced it.
func (b *ODataMCPBridge) GetTraceInfo() (*models.TraceInfo, error) {
	namingMode := "postfix"
	if !b.config.UsePostfix() {
		namingMode = "prefix"
	}
	return &models.TraceInfo{
		ServiceURL:     b.config.ServiceURL,
		MCPName:        constants.MCPServerName,
		ToolNaming:     namingMode,
		ToolPrefix:     b.config.ToolPrefix,
		ToolPostfix:    b.config.ToolPostfix,
		ToolShrink:     b.config.ToolShrink,
		SortTools:      b.config.SortTools,
		EntityFilter:   b.config.AllowedEntities,
		FunctionFilter: b.config.AllowedFunctions,
		Authentication: b.authenticationSummary(),
		ReadOnlyMode:   b.readOnlyModeSummary(),
		MetadataSummary: models.MetadataSummary{
			EntityTypes:     len(b.metadata.EntityTypes),
			EntitySets:      len(b.metadata.EntitySets),
			FunctionImports: len(b.metadata.FunctionImports),
		},
		RegisteredTools: b.tools,
		TotalTools:      len(b.tools),
	}, nil
}

func (b *ODataMCPBridge) authenticationSummary() string {
	switch {
	case b.config.HasBasicAuth():
		return "basic"
	case b.config.HasCookieAuth():
		return "cookies"
	default:
		return "none"
	}
}

func (b *ODataMCPBridge) readOnlyModeSummary() string {
	switch {
	case b.config.ReadOnly:
		return "read-only"
	case b.config.ReadOnlyButFunctions:
		return "read-only-but-functions"
	default:
		return "read-write"
	}
}

// handlerFor closes over one ToolDescriptor and returns the mcp.ToolHandler
// that dispatches to the matching request-engine call, records the outcome
// metric, and serializes the normalized result to the JSON string the
// dispatcher's content envelope expects.
func (b *ODataMCPBridge) handlerFor(desc *models.ToolDescriptor) mcp.ToolHandler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		result, err := b.dispatch(ctx, desc, args)
		if err != nil {
			metrics.RecordToolCall(desc.Name, "error")
			return nil, err
		}
		metrics.RecordToolCall(desc.Name, "success")

		encoded, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "failed to encode tool result", marshalErr)
		}
		return string(encoded), nil
	}
}

func (b *ODataMCPBridge) dispatch(ctx context.Context, desc *models.ToolDescriptor, args map[string]interface{}) (interface{}, error) {
	switch desc.Kind {
	case models.KindInfo:
		return b.handleInfo(args)
	case models.KindFilter:
		return b.handleFilter(ctx, desc, args)
	case models.KindCount:
		return b.handleCount(ctx, desc, args)
	case models.KindSearch:
		return b.handleSearch(ctx, desc, args)
	case models.KindGet:
		return b.handleGet(ctx, desc, args)
	case models.KindCreate:
		return b.handleCreate(ctx, desc, args)
	case models.KindUpdate:
		return b.handleUpdate(ctx, desc, args)
	case models.KindDelete:
		return b.handleDelete(ctx, desc, args)
	case models.KindFunction:
		return b.handleFunction(ctx, desc, args)
	default:
		return nil, apperr.New(apperr.KindInternal, fmt.Sprintf("tool %q has no handler wired for kind %q", desc.Name, desc.Kind))
	}
}

func (b *ODataMCPBridge) entityContext(entitySet string) (*models.EntitySet, *models.EntityType) {
	set, ok := b.metadata.EntitySets[entitySet]
	if !ok {
		return nil, nil
	}
	return set, b.metadata.EntityTypeFor(set)
}

func (b *ODataMCPBridge) normalizerOptions() normalizer.Options {
	return normalizer.Options{
		LegacyDates:      b.config.LegacyDates,
		ResponseMetadata: b.config.ResponseMetadata,
		PaginationHints:  b.config.PaginationHints,
		MaxItems:         b.config.MaxItems,
		MaxResponseSize:  b.config.MaxResponseSize,
	}
}

// handleFilter implements filter_* (spec §4.3 "Filter / List"): it defaults
// $select to every non-binary property when the caller didn't supply one
// (the "performance guardrail for wide SAP entities").
func (b *ODataMCPBridge) handleFilter(ctx context.Context, desc *models.ToolDescriptor, args map[string]interface{}) (interface{}, error) {
	_, entityType := b.entityContext(desc.EntitySet)

	query := map[string]string{}
	if v, ok := stringArg(args, "filter"); ok {
		query[constants.QueryFilter] = v
	}
	if v, ok := stringArg(args, "select"); ok {
		query[constants.QuerySelect] = v
	} else if selected := defaultSelect(entityType); selected != "" {
		query[constants.QuerySelect] = selected
	}
	if v, ok := stringArg(args, "expand"); ok {
		query[constants.QueryExpand] = v
	}
	if v, ok := stringArg(args, "orderby"); ok {
		query[constants.QueryOrderBy] = v
	}
	if v, ok := stringArg(args, "skiptoken"); ok {
		query[constants.QuerySkipToken] = v
	}
	if v, ok := boolArg(args, "count"); ok && v {
		query[constants.QueryInlineCount] = "allpages"
	}

	top, hasTop := intArg(args, "top")
	if hasTop {
		query[constants.QueryTop] = strconv.Itoa(top)
	}
	skip, hasSkip := intArg(args, "skip")
	if hasSkip {
		query[constants.QuerySkip] = strconv.Itoa(skip)
	}

	result, err := b.client.Filter(ctx, desc.EntitySet, query)
	if err != nil {
		return nil, err
	}
	state := normalizer.PageState{ToolName: desc.Name, Skip: skip, Top: top}
	return normalizer.Normalize(result, entityType, b.normalizerOptions(), state), nil
}

// handleCount implements count_* (spec §4.3 "Count"): a plain integer body.
func (b *ODataMCPBridge) handleCount(ctx context.Context, desc *models.ToolDescriptor, args map[string]interface{}) (interface{}, error) {
	filter, _ := stringArg(args, "filter")
	count, err := b.client.Count(ctx, desc.EntitySet, filter)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"count": count}, nil
}

// handleSearch implements search_* (spec §4.3 "Search"): only projected for
// searchable entity sets, so no capability check is needed here.
func (b *ODataMCPBridge) handleSearch(ctx context.Context, desc *models.ToolDescriptor, args map[string]interface{}) (interface{}, error) {
	_, entityType := b.entityContext(desc.EntitySet)

	term, ok := stringArg(args, "search_term")
	if !ok {
		return nil, apperr.Argument("search_term is required for tool %q", desc.Name)
	}

	query := map[string]string{constants.QuerySearch: term}
	top, hasTop := intArg(args, "top")
	if hasTop {
		query[constants.QueryTop] = strconv.Itoa(top)
	}
	skip, hasSkip := intArg(args, "skip")
	if hasSkip {
		query[constants.QuerySkip] = strconv.Itoa(skip)
	}

	result, err := b.client.Filter(ctx, desc.EntitySet, query)
	if err != nil {
		return nil, err
	}
	state := normalizer.PageState{ToolName: desc.Name, Skip: skip, Top: top}
	return normalizer.Normalize(result, entityType, b.normalizerOptions(), state), nil
}

// handleGet implements get_* (spec §4.3 "Get"): missing key components fail
// synchronously via extractKey before any request is issued.
func (b *ODataMCPBridge) handleGet(ctx context.Context, desc *models.ToolDescriptor, args map[string]interface{}) (interface{}, error) {
	_, entityType := b.entityContext(desc.EntitySet)
	key, err := extractKey(desc, entityType, args)
	if err != nil {
		return nil, err
	}

	query := map[string]string{}
	if v, ok := stringArg(args, "select"); ok {
		query[constants.QuerySelect] = v
	}
	if v, ok := stringArg(args, "expand"); ok {
		query[constants.QueryExpand] = v
	}

	result, err := b.client.Get(ctx, desc.EntitySet, entityType, key, query)
	if err != nil {
		return nil, err
	}
	return normalizer.Normalize(result, entityType, b.normalizerOptions(), normalizer.PageState{ToolName: desc.Name}), nil
}

// handleCreate implements create_* (spec §4.3 "Create"): only metadata-
// declared, non-key properties named on the descriptor are ever forwarded.
func (b *ODataMCPBridge) handleCreate(ctx context.Context, desc *models.ToolDescriptor, args map[string]interface{}) (interface{}, error) {
	_, entityType := b.entityContext(desc.EntitySet)

	data := make(map[string]interface{})
	for _, p := range desc.Parameters {
		if v, ok := args[p.Name]; ok {
			data[p.Name] = v
		}
	}

	result, err := b.client.Create(ctx, desc.EntitySet, entityType, data)
	if err != nil {
		return nil, err
	}
	return normalizer.Normalize(result, entityType, b.normalizerOptions(), normalizer.PageState{ToolName: desc.Name}), nil
}

// handleUpdate implements update_* (spec §4.3 "Update": MERGE with a
// 405-triggered PUT fallback, entirely inside client.Update).
func (b *ODataMCPBridge) handleUpdate(ctx context.Context, desc *models.ToolDescriptor, args map[string]interface{}) (interface{}, error) {
	_, entityType := b.entityContext(desc.EntitySet)
	key, err := extractKey(desc, entityType, args)
	if err != nil {
		return nil, err
	}

	data := make(map[string]interface{})
	for _, p := range desc.Parameters {
		if p.IsKey {
			continue
		}
		if v, ok := args[p.Name]; ok {
			data[p.Name] = v
		}
	}

	result, err := b.client.Update(ctx, desc.EntitySet, entityType, key, data)
	if err != nil {
		return nil, err
	}
	return normalizer.Normalize(result, entityType, b.normalizerOptions(), normalizer.PageState{ToolName: desc.Name}), nil
}

// handleDelete implements delete_* (spec §4.3 "Delete"): any 2xx status is
// success, so the handler reports a fixed acknowledgement.
func (b *ODataMCPBridge) handleDelete(ctx context.Context, desc *models.ToolDescriptor, args map[string]interface{}) (interface{}, error) {
	_, entityType := b.entityContext(desc.EntitySet)
	key, err := extractKey(desc, entityType, args)
	if err != nil {
		return nil, err
	}
	if err := b.client.Delete(ctx, desc.EntitySet, entityType, key); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true}, nil
}

// handleFunction implements function-import tools (spec §4.3 "Function
// import"): parameters are looked up by the function's declared name and
// forwarded verbatim; wrapping a collection-returning function's result in
// "results" happens inside client.CallFunction (spec §9 Open Question).
func (b *ODataMCPBridge) handleFunction(ctx context.Context, desc *models.ToolDescriptor, args map[string]interface{}) (interface{}, error) {
	fn, ok := b.metadata.FunctionImports[desc.Function]
	if !ok {
		return nil, apperr.New(apperr.KindInternal, fmt.Sprintf("function import %q not found in metadata", desc.Function))
	}

	params := make(map[string]interface{})
	for _, p := range fn.Parameters {
		if v, ok := args[p.Name]; ok {
			params[p.Name] = v
		}
	}

	result, err := b.client.CallFunction(ctx, fn, params)
	if err != nil {
		return nil, err
	}
	return normalizer.Normalize(result, nil, b.normalizerOptions(), normalizer.PageState{ToolName: desc.Name}), nil
}

// handleInfo implements the informational tool and its "readme" alias
// (spec §4.7 / §6 "Hints file"): a structured service summary merged with
// whatever hint data matches the service URL, embedded verbatim.
func (b *ODataMCPBridge) handleInfo(args map[string]interface{}) (interface{}, error) {
	includeMetadata, _ := boolArg(args, "include_metadata")

	info := map[string]interface{}{
		"service_url":          b.config.ServiceURL,
		"service_identifier":   b.metadata.ServiceIdentifier,
		"authentication":       b.authenticationSummary(),
		"read_only_mode":       b.readOnlyModeSummary(),
		"entity_set_count":     len(b.metadata.EntitySets),
		"entity_type_count":    len(b.metadata.EntityTypes),
		"function_import_count": len(b.metadata.FunctionImports),
		"is_fallback_metadata": b.metadata.IsFallback,
		"total_tools":          len(b.tools),
	}

	if includeMetadata {
		info["entity_sets"] = sortedKeys(b.metadata.EntitySets)
		info["function_imports"] = sortedKeys(b.metadata.FunctionImports)
	}

	if hints := b.hints.GetHints(b.config.ServiceURL); hints != nil {
		info["implementation_hints"] = hints
	}

	return info, nil
}

// extractKey pulls each declared key property out of args, failing
// synchronously (spec §4.3 "Missing required key components fail
// synchronously before any request") rather than letting a partial key
// reach the Request Engine.
func extractKey(desc *models.ToolDescriptor, entityType *models.EntityType, args map[string]interface{}) (map[string]interface{}, error) {
	if entityType == nil {
		return nil, apperr.New(apperr.KindInternal, fmt.Sprintf("tool %q has no resolved entity type", desc.Name))
	}
	key := make(map[string]interface{}, len(entityType.KeyProperties))
	for _, k := range entityType.KeyProperties {
		v, ok := args[k]
		if !ok || v == nil {
			return nil, apperr.Argument("missing required key %q for tool %q", k, desc.Name)
		}
		key[k] = v
	}
	return key, nil
}

// defaultSelect implements spec §4.3's "$select defaults to all non-binary,
// non-navigation properties" guardrail. Navigation properties are tracked
// separately from Properties, so every entry here already qualifies as
// non-navigation.
func defaultSelect(entityType *models.EntityType) string {
	if entityType == nil {
		return ""
	}
	names := make([]string, 0, len(entityType.Properties))
	for _, p := range entityType.Properties {
		if p.Abstract == models.AbstractBinary {
			continue
		}
		names = append(names, p.Name)
	}
	return joinComma(names)
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stringArg(args map[string]interface{}, name string) (string, bool) {
	v, ok := args[name]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func intArg(args map[string]interface{}, name string) (int, bool) {
	v, ok := args[name]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

func boolArg(args map[string]interface{}, name string) (bool, bool) {
	v, ok := args[name]
	if !ok || v == nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
