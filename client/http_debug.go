package client

import (
	"net/http"
	"net/http/httputil"
	"os"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"
)

// debugTransport logs full request and response dumps through the global
// zerolog logger. Bearer tokens are masked.
//
// Enable with MEMORY_CLIENT_DEBUG=true or DEBUG=true, or WithDebugLogging.
type debugTransport struct{ base http.RoundTripper }

var bearerRE = regexp.MustCompile(`(?i)(Authorization:\s*Bearer\s+)\S+`)

func redact(dump []byte) string { return bearerRE.ReplaceAllString(string(dump), "${1}***") }

func (dt *debugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if reqDump, err := httputil.DumpRequestOut(req, true); err == nil {
		log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Str("request_dump", redact(reqDump)).Msg("HTTP request")
	}

	start := time.Now()
	resp, err := dt.base.RoundTrip(req)
	if err != nil {
		log.Error().Err(err).Str("method", req.Method).Str("url", req.URL.String()).Dur("elapsed", time.Since(start)).Msg("HTTP request failed")
		return nil, err
	}

	if respDump, err := httputil.DumpResponse(resp, true); err == nil {
		log.Debug().Str("method", req.Method).Str("url", req.URL.String()).
			Int("status_code", resp.StatusCode).Dur("elapsed", time.Since(start)).
			Str("response_dump", string(respDump)).Msg("HTTP response")
	}
	return resp, nil
}

func debugLoggingRequested() bool {
	return os.Getenv("MEMORY_CLIENT_DEBUG") == "true" || os.Getenv("DEBUG") == "true"
}
