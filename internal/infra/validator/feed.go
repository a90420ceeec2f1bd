package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trustmesh/gateway/internal/core/domain"
	"github.com/trustmesh/gateway/internal/metrics"
)

const (
	handshakeTimeout = 10 * time.Second

	// readTimeout bounds silence on the stream. The validator pings
	// periodically, so a quiet connection past this window is dead.
	readTimeout = 90 * time.Second
)

// feedDialer opens one WebSocket session per Commits call. A session is
// not restartable: the first failure is pushed on the error channel and
// both channels close.
type feedDialer struct {
	wsURL  string
	dialer *websocket.Dialer
}

func newFeedDialer(baseURL string) *feedDialer {
	return &feedDialer{
		wsURL: baseURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

func (d *feedDialer) buildURL(fromHeight uint64) (string, error) {
	parsed, err := url.Parse(d.wsURL)
	if err != nil {
		return "", err
	}

	scheme := "ws"
	if parsed.Scheme == "https" || parsed.Scheme == "wss" {
		scheme = "wss"
	}

	out := url.URL{
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path + "/ws/blocks",
	}
	if fromHeight > 0 {
		out.RawQuery = "from=" + strconv.FormatUint(fromHeight, 10)
	}
	return out.String(), nil
}

// wireCommit is the stream message shape for one committed block.
type wireCommit struct {
	BlockID   string           `json:"block_id"`
	Height    uint64           `json:"height"`
	Addresses []domain.Address `json:"addresses"`
}

func (d *feedDialer) open(ctx context.Context, fromHeight uint64) (<-chan domain.BlockCommit, <-chan error) {
	commits := make(chan domain.BlockCommit)
	errc := make(chan error, 1)

	go func() {
		defer close(commits)
		defer close(errc)

		wsURL, err := d.buildURL(fromHeight)
		if err != nil {
			errc <- fmt.Errorf("build stream url: %w", err)
			return
		}

		conn, _, err := d.dialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			errc <- fmt.Errorf("dial commit stream: %w", err)
			return
		}
		defer conn.Close()

		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})

		// Unblock ReadMessage when the caller goes away.
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-done:
			}
		}()

		slog.Info("commit stream connected", "url", wsURL, "from", fromHeight)

		for {
			if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
				errc <- fmt.Errorf("set read deadline: %w", err)
				return
			}
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				errc <- fmt.Errorf("read commit stream: %w", err)
				return
			}

			var wc wireCommit
			if err := json.Unmarshal(data, &wc); err != nil {
				slog.Warn("commit stream unmarshal failed", "err", err, "data_len", len(data))
				continue
			}
			metrics.FeedCommitsReceived.Inc()

			select {
			case <-ctx.Done():
				return
			case commits <- domain.BlockCommit(wc):
			}
		}
	}()

	return commits, errc
}
