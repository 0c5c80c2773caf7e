// Package httputil carries helpers for picking apart mirror HTTP responses.
package httputil

import (
	"github.com/goccy/go-json"
)

// ErrorBody is the error payload some mirrors attach to non-OK responses.
type ErrorBody struct {
	Status      int    `json:"status"`
	SubStatus   int    `json:"subStatus"`
	Detail      string `json:"detail"`
	UserMessage string `json:"userMessage"`
}

// ParseErrorBody decodes the optional error payload of a response body.
// A non-JSON or differently-shaped body yields a zero ErrorBody, not an
// error, as mirrors are free to return anything.
func ParseErrorBody(b []byte) ErrorBody {
	var body ErrorBody
	if err := json.Unmarshal(b, &body); nil != err {
		return ErrorBody{} //nolint:exhaustruct
	}

	return body
}
