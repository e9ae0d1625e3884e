package service

import (
	"sort"

	"Culoca-App/internal/domain/model"
)

type storeEntry[T any] struct {
	record model.Record[T]
	seq    uint64
}

// RecordStore はIDで重複排除されたレコードのインメモリストア
//
// タイルのことは知らない。TileIndex との整合性は ImageCache が保つ。
// 並行アクセスには対応しない。
type RecordStore[T any] struct {
	entries map[string]*storeEntry[T]
	nextSeq uint64
}

// NewRecordStore は空のRecordStoreを作成する
func NewRecordStore[T any]() *RecordStore[T] {
	return &RecordStore[T]{
		entries: make(map[string]*storeEntry[T]),
	}
}

// Upsert はレコードを追加または上書きする（後勝ち）
// 上書き時は最初の挿入順を保ち、上書き前のレコードを返す
func (s *RecordStore[T]) Upsert(record model.Record[T]) (previous model.Record[T], replaced bool) {
	if entry, ok := s.entries[record.ID]; ok {
		previous = entry.record
		entry.record = record
		return previous, true
	}
	s.nextSeq++
	s.entries[record.ID] = &storeEntry[T]{record: record, seq: s.nextSeq}
	return previous, false
}

// Get はIDでレコードを取得する
func (s *RecordStore[T]) Get(id string) (model.Record[T], bool) {
	entry, ok := s.entries[id]
	if !ok {
		var zero model.Record[T]
		return zero, false
	}
	return entry.record, true
}

// Delete はレコードを削除する
func (s *RecordStore[T]) Delete(id string) bool {
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	return true
}

// SetDistance は最後に計算した距離を記録する
func (s *RecordStore[T]) SetDistance(id string, distance float64) {
	if entry, ok := s.entries[id]; ok {
		entry.record.Distance = distance
	}
}

// All はすべてのレコードのコピーを挿入順で返す
func (s *RecordStore[T]) All() []model.Record[T] {
	entries := make([]*storeEntry[T], 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})

	records := make([]model.Record[T], len(entries))
	for i, entry := range entries {
		records[i] = entry.record
	}
	return records
}

// Size はレコード数を返す
func (s *RecordStore[T]) Size() int {
	return len(s.entries)
}

// Clear はすべてのレコードを破棄する
func (s *RecordStore[T]) Clear() {
	s.entries = make(map[string]*storeEntry[T])
}
