package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

const (
	bulletPath = "/api/v1/bullet-public"
	codeOK     = "200000"
)

// endpoint is a resolved websocket URL plus the server's advertised ping cadence.
type endpoint struct {
	url          string
	host         string
	pingInterval int64 // ms
}

// fetchBullet performs the public token request that every KuCoin websocket
// session must start with. Tokens are short lived, so this runs per connect.
func fetchBullet(ctx context.Context, client *http.Client, restURL string) (*endpoint, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, restURL+bulletPath, nil)
	if err != nil {
		return nil, fmt.Errorf("kucoin: build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kucoin: http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kucoin: unexpected status %s", resp.Status)
	}

	var envelope struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			Token           string `json:"token"`
			InstanceServers []struct {
				Endpoint     string `json:"endpoint"`
				Protocol     string `json:"protocol"`
				Encrypt      bool   `json:"encrypt"`
				PingInterval int64  `json:"pingInterval"`
				PingTimeout  int64  `json:"pingTimeout"`
			} `json:"instanceServers"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("kucoin: decode bullet: %w", err)
	}
	if envelope.Code != codeOK {
		return nil, fmt.Errorf("kucoin: api error %s: %s", envelope.Code, envelope.Msg)
	}
	if envelope.Data.Token == "" || len(envelope.Data.InstanceServers) == 0 {
		return nil, fmt.Errorf("kucoin: bullet has no token or instance server")
	}

	srv := envelope.Data.InstanceServers[0]
	u, err := url.Parse(srv.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("kucoin: parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("token", envelope.Data.Token)
	q.Set("connectId", uuid.NewString())
	u.RawQuery = q.Encode()

	return &endpoint{
		url:          u.String(),
		host:         u.Host,
		pingInterval: srv.PingInterval,
	}, nil
}
