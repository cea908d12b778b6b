package routing

import (
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/docker/model-ranker/pkg/logging"
	"github.com/sirupsen/logrus"
)

// NormalizedServeMux is a ServeMux that collapses duplicate slashes before
// routing, so that "/v1//rankers" reaches the "/v1/rankers" handler instead
// of being redirected.
type NormalizedServeMux struct {
	*http.ServeMux
}

func NewNormalizedServeMux() *NormalizedServeMux {
	return &NormalizedServeMux{http.NewServeMux()}
}

func (nm *NormalizedServeMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.URL.Path, "//") {
		normalizedPath := path.Clean(r.URL.Path)
		r.URL.Path = normalizedPath
	}

	nm.ServeMux.ServeHTTP(w, r)
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sw *statusWriter) WriteHeader(status int) {
	if sw.status == 0 {
		sw.status = status
	}
	sw.ResponseWriter.WriteHeader(status)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	n, err := sw.ResponseWriter.Write(b)
	sw.bytes += n
	return n, err
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// RequestLogger logs one line per request handled by next. Server errors are
// logged as warnings, everything else at debug level.
func RequestLogger(log logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		if sw.status == 0 {
			sw.status = http.StatusOK
		}

		entry := log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     logging.Sanitize(r.URL.Path),
			"status":   sw.status,
			"bytes":    sw.bytes,
			"duration": time.Since(start).String(),
		})
		if sw.status >= http.StatusInternalServerError {
			entry.Warn("Request failed")
		} else {
			entry.Debug("Request handled")
		}
	})
}
