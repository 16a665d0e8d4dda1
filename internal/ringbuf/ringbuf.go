// Package ringbuf は固定容量のリングバッファを提供する。
// 操作履歴や検索履歴など、上限付きで直近N件だけを保持したい用途に使う。
package ringbuf

import "sync"

// Buffer は固定容量のリングバッファ。容量を超えると最も古い要素から上書きする。
// 並行アクセスに対して安全。
type Buffer[T any] struct {
	mu    sync.Mutex
	items []T
	head  int // 次に書き込む位置
	size  int
}

// New は容量capacityのBufferを生成する。capacityが1未満の場合は1とする。
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push は要素を追加する。満杯の場合は最も古い要素を破棄する。
func (b *Buffer[T]) Push(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = v
	b.head = (b.head + 1) % len(b.items)
	if b.size < len(b.items) {
		b.size++
	}
}

// Pop は最も新しい要素を取り出す。空の場合はfalseを返す。
func (b *Buffer[T]) Pop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	if b.size == 0 {
		return zero, false
	}
	b.head = (b.head - 1 + len(b.items)) % len(b.items)
	v := b.items[b.head]
	b.items[b.head] = zero
	b.size--
	return v, true
}

// Items は保持している要素を古い順に返す。戻り値はコピー。
func (b *Buffer[T]) Items() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]T, 0, b.size)
	start := (b.head - b.size + len(b.items)) % len(b.items)
	for i := 0; i < b.size; i++ {
		out = append(out, b.items[(start+i)%len(b.items)])
	}
	return out
}

// Len は保持している要素数を返す。
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap は容量を返す。
func (b *Buffer[T]) Cap() int {
	return len(b.items)
}
