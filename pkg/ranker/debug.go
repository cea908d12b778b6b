package ranker

import (
	"context"
	"net/http"
	"net/url"
)

// RecordedExchanges returns the rank exchanges a service started with
// request recording has kept for rankerID, as the raw JSON document it
// serves on /debug/requests.
func (c *Client) RecordedExchanges(ctx context.Context, rankerID string) ([]byte, error) {
	if err := validateID(rankerID); err != nil {
		return nil, err
	}
	return c.call(ctx, http.MethodGet, "/debug/requests?ranker="+url.QueryEscape(rankerID), nil, "")
}
