package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"scribe.evalgo.org/common"
)

// AccessChecker answers whether a user may join a document's room.
type AccessChecker interface {
	CheckAccess(ctx context.Context, documentID, userID string) error
}

// DocumentServiceClient checks access against the external document
// metadata service. Anything but a 200 is a refusal: the gateway holds
// no document ACLs of its own.
type DocumentServiceClient struct {
	baseURL string
	http    *http.Client
}

// NewDocumentServiceClient builds a client with the service-to-service
// timeout.
func NewDocumentServiceClient(baseURL string) *DocumentServiceClient {
	return &DocumentServiceClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *DocumentServiceClient) CheckAccess(ctx context.Context, documentID, userID string) error {
	endpoint := fmt.Sprintf("%s/documents/%s/access?userId=%s",
		c.baseURL, url.PathEscape(documentID), url.QueryEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return common.NewTransientError("failed to build access check request", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return common.NewTransientError("document service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return common.NewAuthorisationError(
			fmt.Sprintf("access to document %s denied (%d)", documentID, resp.StatusCode), nil)
	}
	return nil
}

// AllowAllChecker grants every join. Used when no document service is
// configured (local development) and in tests.
type AllowAllChecker struct{}

func (AllowAllChecker) CheckAccess(context.Context, string, string) error { return nil }
