package model

// ResultStatus は非同期処理結果の状態を表す。
type ResultStatus int

const (
	// ResultLoading は読み込み中を表す。
	ResultLoading ResultStatus = iota
	// ResultSuccess は成功を表す。
	ResultSuccess
	// ResultError は失敗を表す。
	ResultError
)

// String はステータス名を返す。
func (s ResultStatus) String() string {
	switch s {
	case ResultLoading:
		return "loading"
	case ResultSuccess:
		return "success"
	case ResultError:
		return "error"
	default:
		return "unknown"
	}
}

// Result はLoading/Success/Errorの3状態を持つタグ付き結果型。
// Successの場合のみDataが有効で、Errorの場合のみErrが設定される。
type Result[T any] struct {
	Status ResultStatus
	Data   T
	Err    error
}

// Loading は読み込み中の結果を返す。
func Loading[T any]() Result[T] {
	return Result[T]{Status: ResultLoading}
}

// Success は成功結果を返す。
func Success[T any](data T) Result[T] {
	return Result[T]{Status: ResultSuccess, Data: data}
}

// Failure は失敗結果を返す。
func Failure[T any](err error) Result[T] {
	return Result[T]{Status: ResultError, Err: err}
}

// IsSuccess は成功状態かどうかを返す。
func (r Result[T]) IsSuccess() bool { return r.Status == ResultSuccess }

// IsError は失敗状態かどうかを返す。
func (r Result[T]) IsError() bool { return r.Status == ResultError }

// IsLoading は読み込み中かどうかを返す。
func (r Result[T]) IsLoading() bool { return r.Status == ResultLoading }
