package shield

import "net/http"

// HeadToGet serves HEAD through the GET routes. Trello probes a webhook
// callback with HEAD before registering it, and uptime checks do the same
// on /healthz. net/http drops the body on HEAD responses.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
