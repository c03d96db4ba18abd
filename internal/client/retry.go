// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package client

import (
	"net/http"
	"strings"
)

// IsCSRFFailure reports whether a 403 response is a CSRF token validation
// failure rather than an authorization failure. CSRF retry is the only
// automatic retry the Request Engine performs; generic exponential-backoff
// retry on 429/5xx has been removed, and network errors are never retried
// (spec §7).
func IsCSRFFailure(resp *http.Response, body []byte) bool {
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		return false
	}

	if strings.EqualFold(resp.Header.Get("x-csrf-token"), "required") {
		return true
	}

	bodyStr := string(body)
	return strings.Contains(bodyStr, "CSRF token validation failed") ||
		strings.Contains(strings.ToLower(bodyStr), "csrf")
}
