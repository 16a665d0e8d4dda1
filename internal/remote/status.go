package remote

import "time"

// StatusClass はHTTPステータスコードの分類。
type StatusClass int

const (
	// StatusOK は成功（2xx）。
	StatusOK StatusClass = iota
	// StatusStop は再試行しても結果が変わらないステータス（404/410/401/403）。
	StatusStop
	// StatusBackoff は時間をおいて再試行すべきステータス（429/5xx）。
	StatusBackoff
	// StatusUnknown は未知のステータスコード。
	StatusUnknown
)

// ClassifyHTTPStatus はHTTPステータスコードを分類する。
func ClassifyHTTPStatus(statusCode int) StatusClass {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusOK
	case statusCode == 404 || statusCode == 410:
		return StatusStop
	case statusCode == 401 || statusCode == 403:
		return StatusStop
	case statusCode == 429:
		return StatusBackoff
	case statusCode >= 500:
		return StatusBackoff
	default:
		return StatusUnknown
	}
}

// CalculateBackoff は試行回数に基づいて指数バックオフ遅延を計算する。
// initialから2倍ずつ増加し、maxで頭打ちになる。
func CalculateBackoff(attempt int, initial, max time.Duration) time.Duration {
	delay := initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
