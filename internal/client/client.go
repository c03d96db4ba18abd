package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zmcp/odata-mcp/internal/apperr"
	"github.com/zmcp/odata-mcp/internal/constants"
	"github.com/zmcp/odata-mcp/internal/debug"
	"github.com/zmcp/odata-mcp/internal/metadata"
	"github.com/zmcp/odata-mcp/internal/metrics"
	"github.com/zmcp/odata-mcp/internal/models"
	"github.com/zmcp/odata-mcp/internal/typesystem"
)

// encodeQueryParams encodes OData query parameters with spaces as %20
// rather than url.Values.Encode()'s default '+' (spec §4.3).
func encodeQueryParams(params url.Values) string {
	return strings.ReplaceAll(params.Encode(), "+", "%20")
}

func xmlUnmarshalLenient(body []byte, v interface{}) error {
	return xml.Unmarshal(body, v)
}

// modifyingMethods are the verbs that require a CSRF token and, on a 403,
// are eligible for the single CSRF refetch-and-retry (spec §4.3 / §7: "CSRF
// retry is the only automatic retry").
var modifyingMethods = map[string]bool{
	constants.POST:   true,
	constants.PUT:    true,
	constants.MERGE:  true,
	constants.PATCH:  true,
	constants.DELETE: true,
}

// RawResult is the Request Engine's output before response normalization:
// the envelope-unwrapped OData v2 value plus any inline-count/next-link
// metadata the server attached.
type RawResult struct {
	Value    interface{}
	Count    *int64
	NextLink string
}

// ODataClient is the single long-lived session the Request Engine uses for
// every upstream call (spec §4.3: "single long-lived HTTP session").
type ODataClient struct {
	baseURL        string
	httpClient     *http.Client
	cookies        map[string]string
	username       string
	password       string
	csrfToken      string
	verbose        bool
	useLegacyDates bool
	sessionCookies []*http.Cookie
	mu             sync.RWMutex // guards csrfToken, sessionCookies, cookies
}

// NewODataClient creates a client bound to serviceRoot with pooled
// connections and the 30s default request timeout (spec §4.3).
func NewODataClient(baseURL string, verbose bool) *ODataClient {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &ODataClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: time.Duration(constants.DefaultTimeout) * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		verbose: verbose,
	}
}

// SetBasicAuth configures basic authentication.
func (c *ODataClient) SetBasicAuth(username, password string) {
	c.username = username
	c.password = password
}

// SetCookies configures cookie-jar authentication. Spec §4.3: TLS
// verification is forced off under cookie auth, since this mode exists for
// internal services reached through an already-authenticated session.
func (c *ODataClient) SetCookies(cookies map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = cookies
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
}

// SetLegacyDates switches write-path date coercion between the legacy
// /Date(ms)/ wire format and ISO-8601 (spec §4.2/§6 --legacy-dates).
func (c *ODataClient) SetLegacyDates(useLegacy bool) {
	c.useLegacyDates = useLegacy
}

func (c *ODataClient) buildRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	fullURL := c.baseURL + strings.TrimPrefix(endpoint, "/")

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "failed to create request", err)
	}

	req.Header.Set(constants.UserAgent, constants.DefaultUserAgent)
	req.Header.Set(constants.Accept, constants.ContentTypeJSON)

	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for name, value := range c.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	for _, cookie := range c.sessionCookies {
		req.AddCookie(cookie)
	}
	if c.csrfToken != "" {
		req.Header.Set(constants.CSRFTokenHeader, c.csrfToken)
	}

	return req, nil
}

// doRequest executes a request, attaching the CSRF token where needed and
// retrying exactly once on a CSRF 403 (spec §4.3/§7). Any further 403
// surfaces to the caller; network errors are never retried.
func (c *ODataClient) doRequest(req *http.Request) (*http.Response, error) {
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindTransport, "failed to read request body", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}

	if c.verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] %s %s\n", req.Method, debug.MaskURL(req.URL.String()))
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveUpstreamRequest(req.Method, "error", time.Since(start).Seconds())
		return nil, apperr.Wrap(apperr.KindTransport, fmt.Sprintf("request to %s failed", debug.MaskURL(req.URL.String())), err)
	}

	respBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	metrics.ObserveUpstreamRequest(req.Method, metrics.StatusClass(resp.StatusCode), time.Since(start).Seconds())
	if readErr != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "failed to read response body", readErr)
	}

	if resp.StatusCode == http.StatusForbidden && modifyingMethods[req.Method] && IsCSRFFailure(resp, respBody) {
		if c.verbose {
			fmt.Fprintf(os.Stderr, "[VERBOSE] CSRF token validation failed, refetching and retrying once\n")
		}
		c.mu.Lock()
		c.csrfToken = ""
		c.mu.Unlock()
		metrics.SetCSRFTokenHeld(false)

		if fetchErr := c.fetchCSRFToken(req.Context()); fetchErr != nil {
			return nil, apperr.New(apperr.KindCSRF, "CSRF token validation failed and refetch did not succeed")
		}

		if len(bodyBytes) > 0 {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}
		c.mu.RLock()
		req.Header.Set(constants.CSRFTokenHeader, c.csrfToken)
		c.mu.RUnlock()

		retryStart := time.Now()
		resp, err = c.httpClient.Do(req)
		if err != nil {
			metrics.ObserveUpstreamRequest(req.Method, "error", time.Since(retryStart).Seconds())
			return nil, apperr.Wrap(apperr.KindTransport, "retried request failed", err)
		}
		respBody, readErr = io.ReadAll(resp.Body)
		resp.Body.Close()
		metrics.ObserveUpstreamRequest(req.Method, metrics.StatusClass(resp.StatusCode), time.Since(retryStart).Seconds())
		if readErr != nil {
			return nil, apperr.Wrap(apperr.KindTransport, "failed to read retried response body", readErr)
		}
	}

	resp.Body = io.NopCloser(bytes.NewReader(respBody))
	return resp, nil
}

func (c *ODataClient) fetchCSRFToken(ctx context.Context) error {
	c.mu.Lock()
	c.csrfToken = ""
	c.mu.Unlock()

	// GET, not HEAD: matches original_source's client.py fetchCSRFToken, which
	// uses GET for the token-fetch round trip despite the OData v2 convention
	// of HEAD for this call.
	req, err := c.buildRequest(ctx, constants.GET, "", nil)
	if err != nil {
		return err
	}
	req.Header.Set(constants.CSRFTokenHeader, constants.CSRFTokenFetch)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindCSRF, "CSRF token fetch request failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if cookies := resp.Cookies(); len(cookies) > 0 {
		c.mu.Lock()
		c.sessionCookies = append(c.sessionCookies, cookies...)
		c.mu.Unlock()
	}

	token := resp.Header.Get(constants.CSRFTokenHeader)
	if token == "" {
		token = resp.Header.Get(constants.CSRFTokenHeaderLower)
	}
	if token == "" || token == constants.CSRFTokenFetch {
		return apperr.New(apperr.KindCSRF, "CSRF token not present in fetch response headers")
	}

	c.mu.Lock()
	c.csrfToken = token
	c.mu.Unlock()
	metrics.SetCSRFTokenHeld(true)
	return nil
}

func (c *ODataClient) ensureCSRFToken(ctx context.Context) {
	c.mu.RLock()
	has := c.csrfToken != ""
	c.mu.RUnlock()
	if has {
		return
	}
	_ = c.fetchCSRFToken(ctx)
}

// GetMetadata fetches and parses $metadata, falling back to a service
// document probe with synthesized shell entity types on failure (spec §4.1).
// Both failing is fatal: the caller wraps this as MetadataUnavailable.
func (c *ODataClient) GetMetadata(ctx context.Context) (*models.ServiceMetadata, error) {
	req, err := c.buildRequest(ctx, constants.GET, constants.MetadataEndpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(constants.Accept, constants.ContentTypeXML)

	resp, err := c.doRequest(req)
	if err != nil {
		return c.fallbackToServiceDocument(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		return c.fallbackToServiceDocument(ctx, c.parseError(resp))
	}

	body, _ := io.ReadAll(resp.Body)
	meta, err := metadata.ParseMetadata(body, c.baseURL)
	if err != nil {
		if c.verbose {
			fmt.Fprintf(os.Stderr, "[VERBOSE] metadata parse failed, falling back to service document: %v\n", err)
		}
		return c.fallbackToServiceDocument(ctx, err)
	}
	return meta, nil
}

func (c *ODataClient) fallbackToServiceDocument(ctx context.Context, primaryErr error) (*models.ServiceMetadata, error) {
	meta, fallbackErr := c.getServiceDocument(ctx)
	if fallbackErr != nil || len(meta.EntitySets) == 0 {
		return nil, apperr.Wrap(apperr.KindMetadataUnavailable, "metadata load failed and the service document fallback produced no usable entity sets", primaryErr)
	}
	return meta, nil
}

// getServiceDocument probes the service root and synthesizes a shell
// EntityType (a single string "ID" key) for every entity set it lists
// (spec §4.1).
func (c *ODataClient) getServiceDocument(ctx context.Context) (*models.ServiceMetadata, error) {
	req, err := c.buildRequest(ctx, constants.GET, "", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(constants.Accept, constants.ContentTypeJSON)

	resp, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}
	body, _ := io.ReadAll(resp.Body)

	var doc struct {
		D struct {
			EntitySets []string `json:"EntitySets"`
		} `json:"d"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, apperr.Wrap(apperr.KindMetadataUnavailable, "service document is not valid JSON", err)
	}

	meta := &models.ServiceMetadata{
		ServiceRoot:     c.baseURL,
		EntityTypes:     make(map[string]*models.EntityType),
		EntitySets:      make(map[string]*models.EntitySet),
		FunctionImports: make(map[string]*models.FunctionImport),
		IsFallback:      true,
		ParsedAt:        time.Now(),
	}

	for _, name := range doc.D.EntitySets {
		shellType := name + "Type"
		meta.EntityTypes[shellType] = &models.EntityType{
			Name: shellType,
			Properties: []*models.EntityProperty{
				{Name: "ID", ODataType: "Edm.String", Abstract: models.AbstractString, Nullable: false, IsKey: true},
			},
			KeyProperties: []string{"ID"},
		}
		meta.EntitySets[name] = &models.EntitySet{
			Name: name, EntityType: shellType,
			Creatable: true, Updatable: true, Deletable: true,
			Searchable: false, Pageable: true, Addressable: true,
		}
	}

	return meta, nil
}

// Filter lists/filters an entity set with the given standard OData query
// options (spec §4.3: Filter defaults $select to all non-binary/non-nav
// properties when unset — applied by the caller before reaching here).
func (c *ODataClient) Filter(ctx context.Context, entitySet string, query map[string]string) (*RawResult, error) {
	params := url.Values{}
	params.Set(constants.QueryFormat, "json")
	for k, v := range query {
		if v != "" {
			params.Set(k, v)
		}
	}

	endpoint := entitySet + "?" + encodeQueryParams(params)
	req, err := c.buildRequest(ctx, constants.GET, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}
	return c.parseResult(resp)
}

// Count returns the plain integer count for an entity set (spec §4.3).
func (c *ODataClient) Count(ctx context.Context, entitySet string, filter string) (int64, error) {
	endpoint := entitySet + "/$count"
	if filter != "" {
		endpoint += "?" + encodeQueryParams(url.Values{constants.QueryFilter: {filter}})
	}
	req, err := c.buildRequest(ctx, constants.GET, endpoint, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set(constants.Accept, "text/plain")
	resp, err := c.doRequest(req)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode >= 400 {
		return 0, c.parseError(resp)
	}
	body, _ := io.ReadAll(resp.Body)
	var count int64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(body)), "%d", &count); err != nil {
		return 0, apperr.Wrap(apperr.KindUpstream, "count response was not a plain integer", err)
	}
	return count, nil
}

// Get fetches a single entity by key. A missing key component fails
// synchronously as an argument error, before any request is sent (spec §4.3).
func (c *ODataClient) Get(ctx context.Context, entitySet string, entityType *models.EntityType, key map[string]interface{}, query map[string]string) (*RawResult, error) {
	predicate, err := typesystem.FormatKeyPredicate(entityType, key)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindArgument, "invalid key", err)
	}
	endpoint := fmt.Sprintf("%s%s", entitySet, predicate)

	params := url.Values{}
	params.Set(constants.QueryFormat, "json")
	for k, v := range query {
		if v != "" {
			params.Set(k, v)
		}
	}
	endpoint += "?" + encodeQueryParams(params)

	req, err := c.buildRequest(ctx, constants.GET, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}
	return c.parseResult(resp)
}

// Create POSTs a new entity using only metadata-declared properties (spec
// §4.3); the caller is expected to have already filtered data to declared
// properties, but values are coerced here per their declared type.
func (c *ODataClient) Create(ctx context.Context, entitySet string, entityType *models.EntityType, data map[string]interface{}) (*RawResult, error) {
	c.ensureCSRFToken(ctx)

	coerced := typesystem.CoerceForWrite(entityType, data, c.useLegacyDates)
	jsonData, err := json.Marshal(coerced)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindArgument, "failed to marshal entity data", err)
	}

	req, err := c.buildRequest(ctx, constants.POST, entitySet, bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set(constants.ContentType, constants.ContentTypeJSON)
	req.ContentLength = int64(len(jsonData))

	resp, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}
	return c.parseResult(resp)
}

// Update issues a MERGE, falling back to PUT exactly once if the service
// responds 405 Method Not Allowed (spec §4.3, REDESIGN FLAG: MERGE replaces
// the previously user-exposed _method enum entirely).
func (c *ODataClient) Update(ctx context.Context, entitySet string, entityType *models.EntityType, key map[string]interface{}, data map[string]interface{}) (*RawResult, error) {
	c.ensureCSRFToken(ctx)

	predicate, err := typesystem.FormatKeyPredicate(entityType, key)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindArgument, "invalid key", err)
	}
	endpoint := fmt.Sprintf("%s%s", entitySet, predicate)

	coerced := typesystem.CoerceForWrite(entityType, data, c.useLegacyDates)
	jsonData, err := json.Marshal(coerced)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindArgument, "failed to marshal entity data", err)
	}

	resp, err := c.sendUpdate(ctx, constants.MERGE, endpoint, jsonData)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusMethodNotAllowed {
		resp, err = c.sendUpdate(ctx, constants.PUT, endpoint, jsonData)
		if err != nil {
			return nil, err
		}
	}
	return c.parseResult(resp)
}

func (c *ODataClient) sendUpdate(ctx context.Context, method, endpoint string, jsonData []byte) (*http.Response, error) {
	req, err := c.buildRequest(ctx, method, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set(constants.ContentType, constants.ContentTypeJSON)
	req.ContentLength = int64(len(jsonData))
	return c.doRequest(req)
}

// Delete removes an entity; any 2xx is success (spec §4.3).
func (c *ODataClient) Delete(ctx context.Context, entitySet string, entityType *models.EntityType, key map[string]interface{}) error {
	c.ensureCSRFToken(ctx)

	predicate, err := typesystem.FormatKeyPredicate(entityType, key)
	if err != nil {
		return apperr.Wrap(apperr.KindArgument, "invalid key", err)
	}
	endpoint := fmt.Sprintf("%s%s", entitySet, predicate)

	req, err := c.buildRequest(ctx, constants.DELETE, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.doRequest(req)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.parseError(resp)
	}
	return nil
}

// CallFunction invokes a function import using the HTTP method declared in
// metadata, with scalar parameters percent-encoded into the query string
// for GET or JSON-encoded in the body for POST (spec §4.3).
func (c *ODataClient) CallFunction(ctx context.Context, fn *models.FunctionImport, params map[string]interface{}) (*RawResult, error) {
	endpoint := fn.Name
	var req *http.Request
	var err error

	if fn.HTTPMethod == constants.GET {
		if len(params) > 0 {
			var parts []string
			for _, p := range fn.Parameters {
				if v, ok := params[p.Name]; ok {
					literal := formatFunctionParamLiteral(p, v)
					parts = append(parts, p.Name+"="+typesystem.EncodeQueryValue(literal))
				}
			}
			endpoint += "?" + strings.Join(parts, "&")
		}
		req, err = c.buildRequest(ctx, constants.GET, endpoint, nil)
	} else {
		c.ensureCSRFToken(ctx)
		jsonData, marshalErr := json.Marshal(params)
		if marshalErr != nil {
			return nil, apperr.Wrap(apperr.KindArgument, "failed to marshal function parameters", marshalErr)
		}
		req, err = c.buildRequest(ctx, constants.POST, endpoint, bytes.NewReader(jsonData))
		if err == nil {
			req.Header.Set(constants.ContentType, constants.ContentTypeJSON)
			req.ContentLength = int64(len(jsonData))
		}
	}
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}
	result, err := c.parseResult(resp)
	if err != nil {
		return nil, err
	}
	if fn.IsCollection {
		result.Value = map[string]interface{}{"results": result.Value}
	}
	return result, nil
}

func formatFunctionParamLiteral(p *models.FunctionParameter, v interface{}) string {
	switch p.Abstract {
	case models.AbstractInteger, models.AbstractDecimal, models.AbstractDouble, models.AbstractBoolean:
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("'%v'", v)
	}
}

func (c *ODataClient) parseResult(resp *http.Response) (*RawResult, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "failed to read response body", err)
	}
	if resp.StatusCode >= 400 {
		return nil, c.parseErrorFromBody(body, resp.StatusCode)
	}
	if len(body) == 0 {
		return &RawResult{}, nil
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "response was not valid JSON", err)
	}

	d, ok := raw["d"]
	if !ok {
		return &RawResult{Value: raw}, nil
	}
	dMap, ok := d.(map[string]interface{})
	if !ok {
		return &RawResult{Value: d}, nil
	}

	result := &RawResult{}
	if results, ok := dMap["results"]; ok {
		result.Value = results
	} else {
		result.Value = dMap
	}
	if count, ok := dMap["__count"]; ok {
		if s, ok := count.(string); ok {
			var n int64
			if _, err := fmt.Sscanf(s, "%d", &n); err == nil {
				result.Count = &n
			}
		}
	}
	if next, ok := dMap["__next"].(string); ok {
		result.NextLink = next
	}
	return result, nil
}

func (c *ODataClient) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return c.parseErrorFromBody(body, resp.StatusCode)
}

// parseErrorFromBody implements the error extraction chain (spec §4.3):
// JSON error.message.value, SAP innererror.errordetails, then an XML
// fallback, finally a generic upstream error carrying the raw body.
func (c *ODataClient) parseErrorFromBody(body []byte, statusCode int) error {
	var jsonErr struct {
		Error struct {
			Code    string `json:"code"`
			Message struct {
				Value string `json:"value"`
			} `json:"message"`
			InnerError struct {
				ErrorDetails []struct {
					Message string `json:"message"`
					Code    string `json:"code"`
				} `json:"errordetails"`
			} `json:"innererror"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &jsonErr); err == nil && jsonErr.Error.Message.Value != "" {
		details := map[string]interface{}{}
		if len(jsonErr.Error.InnerError.ErrorDetails) > 0 {
			details["errordetails"] = jsonErr.Error.InnerError.ErrorDetails
		}
		return apperr.Upstream(statusCode, jsonErr.Error.Code, jsonErr.Error.Message.Value, details)
	}

	var xmlErr struct {
		Message string `xml:"message"`
		Code    string `xml:"code"`
	}
	if err := xmlUnmarshalLenient(body, &xmlErr); err == nil && xmlErr.Message != "" {
		return apperr.Upstream(statusCode, xmlErr.Code, xmlErr.Message, nil)
	}

	return apperr.Upstream(statusCode, "", string(body), nil)
}
