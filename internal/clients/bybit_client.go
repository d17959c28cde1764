package clients

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/hirokisan/bybit/v2"

	adapter "github.com/vadiminshakov/marketstream/internal/adapters/bybit"
)

// NewBybitClient creates the REST client used for depth snapshots,
// authenticated only when credentials are given.
func NewBybitClient(apiKey, apiSecret string) *bybit.Client {
	client := bybit.NewClient()
	if apiKey != "" && apiSecret != "" {
		client = client.WithAuth(apiKey, apiSecret)
	}

	return client
}

// NewBybitSigner signs the private stream login: hex HMAC-SHA256 of
// "GET/realtime" followed by the expiry.
func NewBybitSigner(apiKey, apiSecret string) adapter.Signer {
	return func(expires int64) (string, string) {
		mac := hmac.New(sha256.New, []byte(apiSecret))
		mac.Write([]byte("GET/realtime" + strconv.FormatInt(expires, 10)))

		return apiKey, hex.EncodeToString(mac.Sum(nil))
	}
}
