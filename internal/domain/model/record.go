package model

// Record キャッシュに載る1件のジオタグ付きレコード
//
// Fields は呼び出し側が定義する表示用メタデータで、キャッシュは中身を解釈しない。
// Distance は最後に計算したフォーカス地点からの距離（メートル）のキャッシュ。
type Record[T any] struct {
	ID         string     `json:"id"`
	Coordinate Coordinate `json:"coordinate"`
	Fields     T          `json:"fields"`
	Distance   float64    `json:"distance"`
}
