// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code      string // エラーコード
	Message   string // エラーメッセージ
	Category  string // カテゴリ: auth, validation, post, network, system
	Action    string // ユーザー向け対処方法
	Retryable bool   // 再試行して良いか
	Err       error  // 原因となったエラー
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeNetworkFailure       = "NETWORK_FAILURE"
	ErrCodePostNotFound         = "POST_NOT_FOUND"
	ErrCodeInvalidInput         = "INVALID_INPUT"
	ErrCodeFavoriteLimitReached = "FAVORITE_LIMIT_REACHED"
	ErrCodeInconsistentWrite    = "INCONSISTENT_WRITE"
	ErrCodeNothingToUndo        = "NOTHING_TO_UNDO"
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeDuplicateUser        = "DUPLICATE_USER"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
)

// HasCode はerrチェーン中に指定コードのAPIErrorが含まれるかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// IsRetryable はerrが再試行可能かを返す。
// APIError以外のエラーは一時的な障害とみなし再試行可能とする。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return true
}

// NewNetworkFailureError はリモート取得失敗エラーを生成する。
func NewNetworkFailureError(reason string, retryable bool, cause error) *APIError {
	return &APIError{
		Code:      ErrCodeNetworkFailure,
		Message:   fmt.Sprintf("投稿の取得に失敗しました: %s", reason),
		Category:  "network",
		Action:    "ネットワーク接続を確認し、しばらく待ってから再度お試しください。",
		Retryable: retryable,
		Err:       cause,
	}
}

// NewPostNotFoundError は投稿未検出エラーを生成する。
func NewPostNotFoundError(postID int64) *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  fmt.Sprintf("指定された投稿が見つかりません: %d", postID),
		Category: "post",
		Action:   "投稿一覧を更新してから再度お試しください。",
	}
}

// NewInvalidInputError は不正な入力エラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("入力が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewFavoriteLimitReachedError はお気に入り上限エラーを生成する。
func NewFavoriteLimitReachedError(limit int) *APIError {
	return &APIError{
		Code:     ErrCodeFavoriteLimitReached,
		Message:  fmt.Sprintf("お気に入り数が上限（%d件）に達しています。", limit),
		Category: "post",
		Action:   "不要なお気に入りを解除してから追加してください。",
	}
}

// NewInconsistentWriteError は書き込み検証失敗エラーを生成する。
// 再読み込みで期待値と一致しなかった場合に使用する。
func NewInconsistentWriteError(postID int64) *APIError {
	return &APIError{
		Code:      ErrCodeInconsistentWrite,
		Message:   fmt.Sprintf("お気に入り状態の更新を確認できませんでした: %d", postID),
		Category:  "post",
		Action:    "もう一度お試しください。",
		Retryable: true,
	}
}

// NewNothingToUndoError は取り消し可能な操作がない場合のエラーを生成する。
func NewNothingToUndoError() *APIError {
	return &APIError{
		Code:     ErrCodeNothingToUndo,
		Message:  "取り消せる操作がありません。",
		Category: "post",
		Action:   "お気に入り操作を行ってから取り消してください。",
	}
}

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認してください。",
	}
}

// NewDuplicateUserError は登録済みメールアドレスでの登録エラーを生成する。
func NewDuplicateUserError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateUser,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスを使用してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUnauthorizedError は未ログインまたはセッション期限切れのエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}
