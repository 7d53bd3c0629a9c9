package server

import (
	"net/http"

	"colorcodely-go/internal/telephony"
)

// requireSignature rejects webhook requests whose provider signature does
// not match the public callback url and form body.
func (s *Server) requireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			s.writeError(w, http.StatusBadRequest, "malformed form body")
			return
		}
		full := s.opts.PublicBaseURL + r.URL.RequestURI()
		if !telephony.ValidSignature(s.opts.AuthToken, full, r.PostForm, r.Header.Get(telephony.SignatureHeader)) {
			s.opts.Metrics.Webhook("bad_signature")
			s.log.WithRequest(r).Warn("webhook signature mismatch")
			s.writeError(w, http.StatusForbidden, "invalid signature")
			return
		}
		next.ServeHTTP(w, r)
	})
}
