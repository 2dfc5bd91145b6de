package intercept

import (
	"net/http"
	"net/url"
	"regexp"
)

// Route identifies the exam endpoints the interceptor acts on.
type Route int

const (
	RouteNone Route = iota
	RouteDistribute
	RouteSubmission
)

func (r Route) String() string {
	switch r {
	case RouteDistribute:
		return "distribute"
	case RouteSubmission:
		return "submission"
	default:
		return "none"
	}
}

// examPath captures the exam id of .../exams/{id}/distribute and
// .../exams/{id}/submissions.
var examPath = regexp.MustCompile(`/exams/(\d+)/(distribute|submissions)/?$`)

// Classify maps a request to its route and session key. Anything that is not
// a GET distribute or a POST submissions is RouteNone with an empty key.
func Classify(method, rawURL string) (Route, string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return RouteNone, ""
	}
	m := examPath.FindStringSubmatch(u.Path)
	if m == nil {
		return RouteNone, ""
	}
	switch {
	case m[2] == "distribute" && method == http.MethodGet:
		return RouteDistribute, m[1]
	case m[2] == "submissions" && method == http.MethodPost:
		return RouteSubmission, m[1]
	}
	return RouteNone, ""
}
