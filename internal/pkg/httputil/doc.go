// Package httputil provides shared HTTP response utilities for
// handlers.
//
// Handlers use these helpers instead of writing raw
// http.ResponseWriter calls, so JSON formatting and error structures
// stay consistent across endpoints. The XML helper exists for the one
// endpoint that must answer in the provider's native TwiML.
package httputil
