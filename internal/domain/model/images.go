package model

import (
	"strings"
	"time"
)

// ImageFields 画像レコードの表示用メタデータ（itemsテーブルの1行に対応）
type ImageFields struct {
	Title        string    `json:"title" firestore:"title"`
	Description  string    `json:"description,omitempty" firestore:"description"`
	Slug         string    `json:"slug,omitempty" firestore:"slug"`
	OriginalName string    `json:"original_name,omitempty" firestore:"original_name"`
	Path64       string    `json:"path_64,omitempty" firestore:"path_64"`
	Path512      string    `json:"path_512,omitempty" firestore:"path_512"`
	Path2048     string    `json:"path_2048,omitempty" firestore:"path_2048"`
	Width        int       `json:"width" firestore:"width"`
	Height       int       `json:"height" firestore:"height"`
	IsPrivate    bool      `json:"is_private" firestore:"is_private"`
	ProfileID    string    `json:"profile_id" firestore:"profile_id"`
	CreatedAt    time.Time `json:"created_at,omitzero" firestore:"created_at"`
}

// ImageRecord 画像キャッシュのレコード
type ImageRecord = Record[ImageFields]

// FetchFilter 取得元に渡すプライバシー・検索条件
//
// ViewerID が空の場合は公開画像のみ。ViewerID が設定されている場合は
// 公開画像に加えてその閲覧者自身の非公開画像も対象になる。
type FetchFilter struct {
	ViewerID string `json:"viewer_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Query    string `json:"query,omitempty"`
}

// Matches 閲覧者がこの画像を見られ、かつ検索条件に一致するかチェック
//
// DB側で絞り込めない取得元（Firestore）用。
func (f FetchFilter) Matches(fields ImageFields) bool {
	if f.UserID != "" && fields.ProfileID != f.UserID {
		return false
	}
	if f.Query != "" && !strings.Contains(strings.ToLower(fields.Title), strings.ToLower(f.Query)) {
		return false
	}
	if !fields.IsPrivate {
		return true
	}
	return f.ViewerID != "" && fields.ProfileID == f.ViewerID
}
