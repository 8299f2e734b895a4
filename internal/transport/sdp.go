package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ExchangeSDP posts a local WebRTC offer to the realtime endpoint and
// returns the remote answer. The ephemeral secret authorizes exactly
// this exchange; the server API key is never present here.
func ExchangeSDP(ctx context.Context, client *http.Client, baseURL, model, secret, offerSDP string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	endpoint := strings.TrimRight(baseURL, "/")
	if model != "" {
		endpoint += "?model=" + url.QueryEscape(model)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(offerSDP))
	if err != nil {
		return "", fmt.Errorf("create offer request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("Content-Type", "application/sdp")

	res, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post offer: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("sdp exchange status %d: %s", res.StatusCode, string(body))
	}

	answer, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read answer: %w", err)
	}
	if len(answer) == 0 {
		return "", fmt.Errorf("empty answer from realtime endpoint")
	}
	return string(answer), nil
}
