package exchange

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MARK-PRICE STREAM - Live mark price over websocket
// ═══════════════════════════════════════════════════════════════════════════════
//
// Subscribes to <symbol>@markPrice@1s and keeps the latest mark in memory
// so the TP monitor can classify closes without a REST round trip per
// tick. Reconnects with a fixed backoff until stopped.
//
// ═══════════════════════════════════════════════════════════════════════════════

const markStreamBase = "wss://fstream.binance.com/ws"

// MarkPriceStream holds the latest mark price for one symbol.
type MarkPriceStream struct {
	symbol string

	mu        sync.RWMutex
	mark      decimal.Decimal
	updatedAt time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMarkPriceStream creates a stream for the symbol; call Start to
// connect.
func NewMarkPriceStream(symbol string) *MarkPriceStream {
	return &MarkPriceStream{
		symbol: symbol,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start connects and runs the read loop in the background.
func (m *MarkPriceStream) Start() {
	go m.run()
}

// Stop closes the stream and waits for the loop to exit.
func (m *MarkPriceStream) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

// Mark returns the latest mark price and whether it is fresh (under 30s
// old). A stale mark means the caller should fall back to REST.
func (m *MarkPriceStream) Mark() (decimal.Decimal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fresh := !m.updatedAt.IsZero() && time.Since(m.updatedAt) < 30*time.Second
	return m.mark, fresh
}

func (m *MarkPriceStream) run() {
	defer close(m.doneCh)

	url := markStreamBase + "/" + strings.ToLower(Symbol(m.symbol)) + "@markPrice@1s"
	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			log.Warn().Err(err).Str("symbol", m.symbol).Msg("📡 Mark stream dial failed, retrying")
			select {
			case <-m.stopCh:
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		log.Info().Str("symbol", m.symbol).Msg("📡 Mark price stream connected")

		m.readLoop(conn)
		conn.Close()
	}
}

func (m *MarkPriceStream) readLoop(conn *websocket.Conn) {
	closed := make(chan struct{})
	go func() {
		select {
		case <-m.stopCh:
			conn.Close()
		case <-closed:
		}
	}()
	defer close(closed)

	for {
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-m.stopCh:
			default:
				log.Warn().Err(err).Str("symbol", m.symbol).Msg("📡 Mark stream read error")
			}
			return
		}

		var evt struct {
			MarkPrice string `json:"p"`
		}
		if err := json.Unmarshal(msg, &evt); err != nil || evt.MarkPrice == "" {
			continue
		}
		mark, err := decimal.NewFromString(evt.MarkPrice)
		if err != nil {
			continue
		}

		m.mu.Lock()
		m.mark = mark
		m.updatedAt = time.Now()
		m.mu.Unlock()
	}
}
