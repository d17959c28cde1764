package clients

import (
	"github.com/adshao/go-binance/v2"
)

// NewBinanceClient creates the REST client used for depth snapshots. Public
// endpoints work with empty credentials.
func NewBinanceClient(apiKey, apiSecret string) *binance.Client {
	return binance.NewClient(apiKey, apiSecret)
}
