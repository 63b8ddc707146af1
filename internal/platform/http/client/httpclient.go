package client

import (
	"context"
	"net/http"
)

// JSONClient is the slice of Client the identity and notification
// components depend on. Tests substitute httptest-backed clients.
type JSONClient interface {
	GetJSON(ctx context.Context, url string, header http.Header, out any) error
	PostJSON(ctx context.Context, url string, header http.Header, body, out any) error
}

var _ JSONClient = (*Client)(nil)
