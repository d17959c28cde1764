package clients

import (
	"context"

	hyperliquid "github.com/sonirico/go-hyperliquid"
)

// HyperliquidAPIURL is the mainnet REST endpoint.
const HyperliquidAPIURL = "https://api.hyperliquid.xyz"

// NewHyperliquidInfo creates the public Info client used for L2 snapshots of
// the given perp coins. The SDK websocket is skipped, streaming goes through
// the adapter. Passing the asset metadata keeps the SDK from fetching it here,
// where a failed request panics.
func NewHyperliquidInfo(ctx context.Context, baseURL string, coins []string) *hyperliquid.Info {
	if baseURL == "" {
		baseURL = HyperliquidAPIURL
	}

	meta := &hyperliquid.Meta{Universe: make([]hyperliquid.AssetInfo, 0, len(coins))}
	for _, coin := range coins {
		meta.Universe = append(meta.Universe, hyperliquid.AssetInfo{Name: coin})
	}

	return hyperliquid.NewInfo(ctx, baseURL, true, meta, &hyperliquid.SpotMeta{})
}
