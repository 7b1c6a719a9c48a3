package metrics

import (
	"crypto/subtle"
	"net/http"

	"github.com/jhunt/go-log"
)

// BasicAuthenticator guards the /metrics endpoint so that only the
// configured Prometheus scraper can read ingestion statistics.
type BasicAuthenticator struct {
	username string
	password string
	realm    string

	handler http.Handler
}

func matches(given, want string) bool {
	return subtle.ConstantTimeCompare([]byte(given), []byte(want)) == 1
}

func (b BasicAuthenticator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || !matches(user, b.username) || !matches(pass, b.password) {
		if ok {
			log.Debugf("rejecting metrics scrape from %s as '%s': bad credentials", r.RemoteAddr, user)
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="`+b.realm+`"`)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("# unauthorised; relstore metrics need a scrape username and password\n"))
		return
	}
	b.handler.ServeHTTP(w, r)
}
