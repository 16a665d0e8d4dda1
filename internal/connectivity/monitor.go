// Package connectivity はリモートフィードAPIへの接続状態を保持し、購読者へ配信する。
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Prober はリモートへの到達性を確認するインターフェース。
type Prober interface {
	Ping(ctx context.Context) error
}

// Subscription は接続状態の購読。
// Cは購読開始時点の状態を直ちに受け取り、以降は変化があった場合のみ受け取る。
// 受信が遅れた場合は古い値を捨て、最新の状態だけが残る。
type Subscription struct {
	C <-chan bool

	ch      chan bool
	monitor *Monitor
	once    sync.Once
}

// Unsubscribe は購読を解除してCを閉じる。複数回呼んでもよい。
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.monitor.remove(s)
	})
}

// Monitor は接続状態を保持する。
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   map[*Subscription]struct{}
	logger *slog.Logger
}

// NewMonitor はMonitorを生成する。初期状態はオンライン。
func NewMonitor(logger *slog.Logger) *Monitor {
	return &Monitor{
		online: true,
		subs:   make(map[*Subscription]struct{}),
		logger: logger,
	}
}

// IsOnline は現在の接続状態を返す。
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline は接続状態を更新する。状態が変化した場合のみ購読者へ通知する。
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return
	}
	m.online = online

	m.logger.Info("接続状態が変化しました",
		slog.Bool("online", online),
		slog.Int("subscribers", len(m.subs)),
	)

	for sub := range m.subs {
		deliver(sub.ch, online)
	}
}

// Subscribe は接続状態の購読を開始する。
func (m *Monitor) Subscribe() *Subscription {
	ch := make(chan bool, 1)
	sub := &Subscription{C: ch, ch: ch, monitor: m}

	m.mu.Lock()
	defer m.mu.Unlock()
	ch <- m.online
	m.subs[sub] = struct{}{}
	return sub
}

// Subscribers は購読者数を返す。
func (m *Monitor) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *Monitor) remove(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, sub)
	close(sub.ch)
}

// deliver はバッファが埋まっていれば古い値を捨ててから送信する。m.muを保持して呼ぶこと。
func deliver(ch chan bool, v bool) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- v
}

// Run はintervalごとにproberで到達性を確認し、結果を接続状態に反映する。
// コンテキストがキャンセルされるまで実行を継続する。
func (m *Monitor) Run(ctx context.Context, prober Prober, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("接続監視を開始しました", slog.Duration("interval", interval))

	// 起動直後に1回実行
	m.RunOnce(ctx, prober)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("接続監視を停止しました")
			return
		case <-ticker.C:
			m.RunOnce(ctx, prober)
		}
	}
}

// RunOnce は到達性を1回確認する。
func (m *Monitor) RunOnce(ctx context.Context, prober Prober) {
	err := prober.Ping(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("リモートへの到達性確認に失敗しました", slog.String("error", err.Error()))
	}
	m.SetOnline(err == nil)
}
