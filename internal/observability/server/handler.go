package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "taskgate/pkg/logx"
)

// Handler builds the routes for cfg. Every route sits behind the token check
// when cfg.Token is set.
func (s *Service) Handler(cfg Config) http.Handler {
	mux := http.NewServeMux()
	route := func(pattern string, h http.Handler) { mux.Handle(pattern, withAuth(cfg.Token, h)) }

	route("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write([]byte("ok"))
	}))
	if s.gatherer != nil {
		route("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	}
	if s.status != nil {
		route("/status", http.HandlerFunc(s.serveStatus))
	}
	if cfg.Pprof {
		route("/debug/pprof/", http.HandlerFunc(hpprof.Index))
		for name, h := range map[string]http.HandlerFunc{
			"cmdline": hpprof.Cmdline,
			"profile": hpprof.Profile,
			"symbol":  hpprof.Symbol,
			"trace":   hpprof.Trace,
		} {
			route("/debug/pprof/"+name, h)
		}
	}
	return mux
}

func (s *Service) serveStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.status()); err != nil {
		s.log.Debug("status encode failed", logx.Err(err))
	}
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.Handler) http.Handler {
	want := []byte(strings.TrimSpace(token))
	if len(want) == 0 {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if rest, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); got == "" && ok {
			got = strings.TrimSpace(rest)
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// checkExposure refuses a non-loopback bind with neither a token nor an
// explicit allow_insecure.
func checkExposure(cfg Config, addr string) error {
	if cfg.AllowInsecure || strings.TrimSpace(cfg.Token) != "" || isLoopback(addr) {
		return nil
	}
	return errors.New("non-loopback addr requires token or allow_insecure")
}

// isLoopback reports whether addr binds only the local host. An empty host
// means every interface.
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	switch host = strings.TrimSpace(host); {
	case host == "":
		return false
	case strings.EqualFold(host, "localhost"):
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
