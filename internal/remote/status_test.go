package remote

import (
	"testing"
	"time"
)

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   StatusClass
	}{
		{200, StatusOK},
		{204, StatusOK},
		{404, StatusStop},
		{410, StatusStop},
		{401, StatusStop},
		{403, StatusStop},
		{429, StatusBackoff},
		{500, StatusBackoff},
		{503, StatusBackoff},
		{302, StatusUnknown},
		{400, StatusUnknown},
	}

	for _, tt := range tests {
		if got := ClassifyHTTPStatus(tt.status); got != tt.want {
			t.Errorf("ClassifyHTTPStatus(%d) = %d, want %d", tt.status, got, tt.want)
		}
	}
}

// TestCalculateBackoff は1秒から倍増し30秒で頭打ちになることを検証する。
func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := CalculateBackoff(tt.attempt, time.Second, 30*time.Second); got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
