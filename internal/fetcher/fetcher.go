// Package fetcher is the retrying outbound transport shared by the provider
// clients. Each logical call spends one unit of the caller's budget, then
// every attempt waits on the shared throttle and carries its own timeout.
package fetcher

import (
	"context"
	"net/url"

	"github.com/sells-group/parcelpicker/internal/resilience"
)

// JSONGetter issues a GET and decodes the JSON response body into out.
type JSONGetter interface {
	GetJSON(ctx context.Context, budget *resilience.Budget, rawURL string, params url.Values, out any) error
}

// PayloadValidator is implemented by response types that can carry an error
// inside a 2xx body. Validate runs inside the retry loop, so returning a
// resilience.TransientError makes the attempt retryable.
type PayloadValidator interface {
	Validate() error
}
