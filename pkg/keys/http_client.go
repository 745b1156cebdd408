package keys

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPClient is an interface around Go's standard HTTP client type. It
// is the only transport capability the resolver depends on.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultHTTPClient includes net/http instrumentation from
// OpenTelemetry, for propagation and span generation. Deadlines are
// applied per request through the request context.
var DefaultHTTPClient HTTPClient = &http.Client{
	Transport: otelhttp.NewTransport(http.DefaultTransport),
}
