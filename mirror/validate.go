package mirror

import (
	"regexp"

	"github.com/tidwall/gjson"
)

var errMessagePattern = regexp.MustCompile(`(?i)token|invalid|unauthori[sz]ed|expired`)

// IsErrorShaped reports whether a 200 JSON body actually carries an
// error-shaped payload. Some mirrors proxy upstream failures through with a
// success status, so the body is the only signal. The payload tree is walked
// iteratively with a work queue to keep traversal depth bounded on
// arbitrarily nested documents.
func IsErrorShaped(body []byte) bool {
	if !gjson.ValidBytes(body) {
		return false
	}

	queue := []gjson.Result{gjson.ParseBytes(body)}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		if node.IsObject() {
			if nodeIsErrorShaped(node) {
				return true
			}
		}

		if node.IsObject() || node.IsArray() {
			node.ForEach(func(_, v gjson.Result) bool {
				if v.IsObject() || v.IsArray() {
					queue = append(queue, v)
				}

				return true
			})
		}
	}

	return false
}

func nodeIsErrorShaped(node gjson.Result) bool {
	if s := node.Get("status"); s.Type == gjson.Number && s.Int() >= 400 {
		return true
	}

	if s := node.Get("subStatus"); s.Type == gjson.Number && s.Int() >= 400 {
		return true
	}

	if m := node.Get("userMessage"); m.Type == gjson.String && errMessagePattern.MatchString(m.Str) {
		return true
	}

	if m := node.Get("detail"); m.Type == gjson.String && errMessagePattern.MatchString(m.Str) {
		return true
	}

	return false
}
