package payment

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Dial connects to a JSON-RPC endpoint over httpClient, which should be the
// SSRF-guarded outbound client.
func Dial(ctx context.Context, rpcURL string, httpClient *http.Client) (*ethclient.Client, error) {
	c, err := rpc.DialOptions(ctx, rpcURL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	return ethclient.NewClient(c), nil
}
