package model

// キャッシュ設定のデフォルト値
const (
	// DefaultTileSizeKm タイル1辺の長さ（km）
	DefaultTileSizeKm = 10.0

	// DefaultGridExtent フォーカスタイルを中心としたN×Nブロックの一辺
	DefaultGridExtent = 3

	// KmPerDegree 度→km換算の固定緯度近似
	KmPerDegree = 111.0

	// EarthRadiusMeters 距離計算に使う地球半径
	EarthRadiusMeters = 6371000.0

	// BudgetHysteresis メモリ上限超過時にこの割合まで削減する
	BudgetHysteresis = 0.8
)

// ImageSource 取得元の種類
const (
	SourceSupabase  = "supabase"
	SourcePostgres  = "postgres"
	SourceFirestore = "firestore"
)
