package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
)

// SignatureHeader carries the provider's request signature.
const SignatureHeader = "X-Twilio-Signature"

// ErrNoAuthToken is returned by NewValidator when the webhook auth token is
// missing. Webhooks must never run unsigned, so this is a startup error.
var ErrNoAuthToken = errors.New("telephony: webhook auth token not configured")

// Validator verifies telephony webhook signatures. Providers sign each
// request with HMAC-SHA1 over the full URL followed by the form parameters
// sorted by key, base64 encoded.
type Validator struct {
	authToken string
	publicURL string
	log       *slog.Logger
}

// NewValidator creates a Validator. authToken must be non-empty; publicURL is
// the externally visible base URL webhooks are registered under (scheme and
// host, no trailing slash).
func NewValidator(authToken, publicURL string, log *slog.Logger) (*Validator, error) {
	if authToken == "" {
		return nil, ErrNoAuthToken
	}
	if log == nil {
		log = slog.Default()
	}
	return &Validator{authToken: authToken, publicURL: publicURL, log: log}, nil
}

// expected computes the signature for a URL and parameter set.
func (v *Validator) expected(fullURL string, params url.Values) string {
	data := fullURL
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data += k + params.Get(k)
	}

	mac := hmac.New(sha1.New, []byte(v.authToken))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Valid reports whether the request carries a correct signature over its
// form parameters.
func (v *Validator) Valid(r *http.Request) bool {
	sig := r.Header.Get(SignatureHeader)
	if sig == "" {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}

	fullURL := v.publicURL + r.URL.Path
	if r.URL.RawQuery != "" {
		fullURL += "?" + r.URL.RawQuery
	}

	want := v.expected(fullURL, r.PostForm)
	return hmac.Equal([]byte(sig), []byte(want))
}

// Middleware rejects unsigned or mis-signed webhook requests with 401.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !v.Valid(r) {
			v.log.Warn("webhook signature rejected",
				"path", r.URL.Path, "remote", r.RemoteAddr)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
