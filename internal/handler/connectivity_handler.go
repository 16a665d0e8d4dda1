package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/postcache/internal/connectivity"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

// ConnectivitySource は接続状態の参照と購読のインターフェース。
type ConnectivitySource interface {
	IsOnline() bool
	Subscribe() *connectivity.Subscription
}

// connectivityResponse は接続状態のレスポンスとストリームのメッセージ。
type connectivityResponse struct {
	Online bool `json:"online"`
}

// ConnectivityHandler は接続状態のHTTPハンドラー。
type ConnectivityHandler struct {
	source   ConnectivitySource
	upgrader websocket.Upgrader
}

// NewConnectivityHandler はConnectivityHandlerを生成する。
// allowedOriginが空でなければ同一オリジンに加えてそのオリジンからのWebSocket接続を許可する。
func NewConnectivityHandler(source ConnectivitySource, allowedOrigin string) *ConnectivityHandler {
	return &ConnectivityHandler{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigin),
		},
	}
}

// Get は現在の接続状態を返す。
// GET /api/connectivity
func (h *ConnectivityHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, connectivityResponse{Online: h.source.IsOnline()})
}

// Stream は接続状態をWebSocketで配信する。
// 接続直後に現在の状態を送り、以降は状態が変化するたびに送る。
// GET /api/connectivity/stream
func (h *ConnectivityHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgradeがエラーレスポンスを書き込み済み
		slog.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	sub := h.source.Subscribe()
	defer sub.Unsubscribe()

	// クライアントからのメッセージは読み捨て、切断の検知にのみ使う
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case online, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(connectivityResponse{Online: online}); err != nil {
				slog.Debug("connectivity stream closed", slog.String("error", err.Error()))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		}
	}
}

// checkOrigin はOriginヘッダーがないか、同一ホストか、許可オリジンと一致する場合に接続を許可する。
func checkOrigin(allowedOrigin string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if allowedOrigin != "" && origin == allowedOrigin {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	}
}
