package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput 呼び出し側の入力が不正
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidCoordinate 緯度経度が有限値でない
	ErrInvalidCoordinate = fmt.Errorf("%w: coordinate must be finite", ErrInvalidInput)

	// ErrFetchFailed 要求したタイルの取得がすべて失敗した
	ErrFetchFailed = errors.New("could not load nearby images")

	// ErrSessionNotFound 閲覧セッションが存在しない（期限切れを含む）
	ErrSessionNotFound = errors.New("browsing session not found")
)

// TileFetchError 1タイル分の取得失敗
type TileFetchError struct {
	Key TileKey
	Err error
}

func (e *TileFetchError) Error() string {
	return fmt.Sprintf("tile %s: %v", e.Key, e.Err)
}

func (e *TileFetchError) Unwrap() error {
	return e.Err
}
