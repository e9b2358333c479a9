package services

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// RelayMailer posts template parameters to an external mail relay. The
// relay owns rendering and SMTP; this side only hands over the recipient
// and the parameter map.
type RelayMailer struct {
	endpoint string
	client   HTTPClient
}

func NewRelayMailer(endpoint string, client HTTPClient) *RelayMailer {
	if client == nil {
		client = http.DefaultClient
	}
	return &RelayMailer{endpoint: strings.TrimSpace(endpoint), client: client}
}

func (m *RelayMailer) Send(recipient string, params map[string]string) error {
	if m.endpoint == "" {
		return NewBadGatewayError("mail relay not configured")
	}
	payload, err := json.Marshal(map[string]any{
		"to":     recipient,
		"params": params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.client.Do(req)
	if err != nil {
		return NewBadGatewayError(err.Error())
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return NewBadGatewayError(strings.TrimSpace(string(b)))
	}
	return nil
}
