package system

import (
	"crypto/tls"
	"io"
	stdlog "log"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
)

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

func NewHTTPError400(message string) *HTTPError {
	return &HTTPError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
	}
}

func NewHTTPError409(message string) *HTTPError {
	return &HTTPError{
		StatusCode: http.StatusConflict,
		Message:    message,
	}
}

type httpErrorHandler func(err *HTTPError, req *http.Request)

var httpErrHandler httpErrorHandler

// SetHTTPErrorHandler installs a hook that sees every server error the
// API writes. The janitor uses it to forward 5xx responses to sentry.
func SetHTTPErrorHandler(handler httpErrorHandler) {
	httpErrHandler = handler
}

// ReportHTTPError feeds an error response into the installed hook, if
// any. Called from the server's error writer.
func ReportHTTPError(err *HTTPError, req *http.Request) {
	if httpErrHandler != nil {
		httpErrHandler(err, req)
	}
}

func NewRetryClient(retryMax int, tlsSkipVerify bool) *retryablehttp.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retryMax

	if tlsSkipVerify {
		retryClient.HTTPClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	retryClient.Logger = stdlog.New(io.Discard, "", stdlog.LstdFlags)
	retryClient.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		log.Trace().
			Str(req.Method, req.URL.String()).
			Int("attempt", attempt).
			Msgf("")
	}
	return retryClient
}
