// Package polling implements the HTTP long-polling fallback channel.
//
//	POST <path>/connect          -> {"sid": "..."}
//	GET  <path>/events?sid=&wait= -> [envelope, ...] | 204
//	POST <path>/emit?sid=        <- envelope
//	POST <path>/close?sid=
package polling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/config"
	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
)

const transportName = "polling"

// Dialer opens long-polling sessions.
type Dialer struct {
	logger         domain.Logger
	configProvider config.Provider
	client         *http.Client
}

// NewDialer creates a polling dialer using client, or a default client when nil.
func NewDialer(logger domain.Logger, configProvider config.Provider, client *http.Client) *Dialer {
	if client == nil {
		client = &http.Client{}
	}
	return &Dialer{logger: logger, configProvider: configProvider, client: client}
}

func (d *Dialer) Name() string { return transportName }

// Dial opens a session and starts polling for events.
func (d *Dialer) Dial(ctx context.Context, token string, handler domain.SocketHandler) (domain.Socket, error) {
	cfg := d.configProvider.Get().Messaging
	base, err := baseURL(cfg.URL, cfg.PollingPath)
	if err != nil {
		return nil, err
	}

	q := url.Values{"token": []string{token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/connect?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polling connect: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("polling connect: %w (status %d)", domain.ErrAuthRejected, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("polling connect: unexpected status %d", resp.StatusCode)
	}

	var hello domain.ConnectPayload
	if err := json.NewDecoder(resp.Body).Decode(&hello); err != nil || hello.SID == "" {
		return nil, errors.New("polling connect: response without session id")
	}

	conn := newConnection(connOptions{
		client:       d.client,
		base:         base,
		sid:          hello.SID,
		token:        token,
		handler:      handler,
		logger:       d.logger,
		pollWait:     cfg.PollWait(),
		writeTimeout: cfg.WriteTimeout(),
	})
	conn.start()
	return conn, nil
}

func baseURL(rawURL, path string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid messaging url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "http"
	case "https", "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("invalid messaging url %q: unsupported scheme", rawURL)
	}
	if path == "" {
		path = "/poll"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Trim(path, "/")
	u.RawQuery = ""
	return u.String(), nil
}

func waitParam(d time.Duration) string {
	return strconv.Itoa(int(d / time.Second))
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	body.Close()
}

func postJSON(ctx context.Context, client *http.Client, endpoint, token string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
