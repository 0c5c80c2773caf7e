package redact

import (
	"math"
	"net/url"
	"strings"
)

func String(s string) string {
	l := len(s)

	var flag int
	if l%4 != 0 {
		flag = 1
	}

	return s[0:int(math.Floor(float64(l)*.25))] +
		strings.Repeat("*", int(math.RoundToEven(float64(l)*.5))+(1&flag)) +
		s[int(math.Floor(float64(l)*.75))+(1&flag):]
}

// URL masks credentials and query values of a URL so it can be logged.
func URL(s string) string {
	if s == "" {
		return s
	}

	u, err := url.Parse(s)
	if nil != err {
		return String(s)
	}

	if nil != u.User {
		u.User = url.User("redacted")
	}

	q := u.Query()
	for k := range q {
		q.Set(k, "redacted")
	}
	u.RawQuery = q.Encode()

	return u.String()
}
