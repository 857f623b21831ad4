package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/LamsaLL/backbot/interfaces"
	"github.com/LamsaLL/backbot/logging"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	markPriceTTL = 10 * time.Second
)

type markEntry struct {
	price float64
	at    time.Time
}

// Stream maintains a websocket subscription to mark price updates and
// caches the latest value per symbol. Readers get a stale-aware lookup;
// the REST ticker remains the fallback when the cache misses.
type Stream struct {
	url    string
	logger logging.LoggerInterface

	mu      sync.RWMutex
	marks   map[string]markEntry
	symbols []string
}

var _ interfaces.MarkPriceSource = (*Stream)(nil)

// NewStream creates a stream for the given symbols. Run must be called
// to start it.
func NewStream(wsURL string, symbols []string, log logging.LoggerInterface) *Stream {
	return &Stream{
		url:     wsURL,
		logger:  log,
		marks:   make(map[string]markEntry),
		symbols: symbols,
	}
}

// MarkPrice returns the cached mark price for symbol. ok is false when
// the cache has no entry or the entry has gone stale.
func (s *Stream) MarkPrice(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.marks[symbol]
	if !ok || time.Since(e.at) > markPriceTTL {
		return 0, false
	}
	return e.price, true
}

// Run connects, subscribes, and pumps updates until ctx is cancelled.
// Connection loss triggers reconnection with capped backoff.
func (s *Stream) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.connectAndPump(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warning("Mark price stream dropped: %v, reconnecting in %s", err, backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *Stream) connectAndPump(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	streams := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		streams = append(streams, "markPrice."+sym)
	}
	if err := conn.WriteJSON(map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": streams,
	}); err != nil {
		return err
	}
	s.logger.Info("Mark price stream subscribed: %d symbols", len(streams))

	// Close the connection on cancel so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleMessage(msg)
	}
}

func (s *Stream) handleMessage(msg []byte) {
	var envelope struct {
		Stream string `json:"stream"`
		Data   struct {
			Symbol    string `json:"s"`
			MarkPrice string `json:"p"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &envelope); err != nil {
		return
	}
	if envelope.Data.Symbol == "" {
		return
	}
	price := parseFloat(envelope.Data.MarkPrice)
	if price <= 0 {
		return
	}

	s.mu.Lock()
	s.marks[envelope.Data.Symbol] = markEntry{price: price, at: time.Now()}
	s.mu.Unlock()
}
