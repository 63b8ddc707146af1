// Package httpwrap provides HTTP handler wrappers shared by services.
package httpwrap

import "net/http"

// ClearRawPath clears r.URL.RawPath so chi routes on the decoded path.
// Sponsorship ids arrive percent-encoded from some clients.
func ClearRawPath(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.URL.RawPath = ""
		next.ServeHTTP(w, r)
	})
}

// MaxBody caps request bodies at n bytes. Reads past the cap fail.
func MaxBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
