package redirect

import "net/url"

// Fixed shape of the upstream consent interstitial. The paths are matched
// byte-for-byte.
const (
	PathConsent        = "/consent"
	PathCollectConsent = "/v2/collectConsent"
	PathCopyConsent    = "/copyConsent"

	consentDoneURL   = "https://www.yahoo.com/?guccounter=1"
	consentNamespace = "yahoo"
)

type route int

const (
	routeGeneric route = iota
	routeConsent
	routeCollectConsent
	routeCopyConsent
)

var consentRoutes = map[string]route{
	PathConsent:        routeConsent,
	PathCollectConsent: routeCollectConsent,
	PathCopyConsent:    routeCopyConsent,
}

func (r route) String() string {
	switch r {
	case routeConsent:
		return "consent"
	case routeCollectConsent:
		return "collect_consent"
	case routeCopyConsent:
		return "copy_consent"
	default:
		return "generic"
	}
}

func classify(u *url.URL) route {
	if r, ok := consentRoutes[u.Path]; ok {
		return r
	}
	return routeGeneric
}

// consentForm is the body posted to the collect-consent step. The flow always
// accepts.
func consentForm(gcrumb, sessionID string) url.Values {
	return url.Values{
		"csrfToken":       {gcrumb},
		"sessionId":       {sessionID},
		"originalDoneUrl": {consentDoneURL},
		"namespace":       {consentNamespace},
		"accept":          {"accept"},
	}
}
