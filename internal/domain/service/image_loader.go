package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Culoca-App/internal/domain/model"
	"Culoca-App/internal/metrics"
)

// LoadFor はフォーカス地点の周辺ブロックのうち未ロードのタイルを取得する
//
// 同時に実行される取得は1つだけ。実行中に届いた要求は待機枠に入り、
// 後から来た要求が待機中の要求を置き換える（置き換えられた要求はエラーなしで返る）。
// 同じフォーカスタイルの要求は実行中・待機中の要求に合流する。
// 取得は呼び出し元の ctx のキャンセルから切り離して行う。ctx が終了すると
// 呼び出し元だけが ctx.Err() で戻り、合流した他の呼び出し元の取得は続く。
// すべてのタイルの取得に失敗した場合のみ ErrFetchFailed を返す。
func (c *ImageCache[T]) LoadFor(ctx context.Context, focus model.Coordinate) error {
	if !focus.Valid() {
		return model.ErrInvalidCoordinate
	}

	c.mu.Lock()
	key := c.index.KeyFor(focus)

	if len(c.missingTilesLocked(key)) == 0 {
		// キャッシュだけで満たせる要求は実行中の取得より新しい要求として扱う
		c.seq++
		c.releasePendingLocked()
		c.settleLocked(key)
		c.mu.Unlock()
		metrics.CacheRequestsTotal.WithLabelValues("cached").Inc()
		return nil
	}

	if c.busy {
		req := c.enqueueLocked(ctx, focus, key)
		c.mu.Unlock()
		return waitFor(ctx, req)
	}

	c.seq++
	req := newLoadRequest(ctx, focus, key, c.seq)
	c.busy = true
	c.running = req
	c.mu.Unlock()

	metrics.CacheRequestsTotal.WithLabelValues("fetched").Inc()
	go c.run(req)
	return waitFor(ctx, req)
}

func newLoadRequest(ctx context.Context, focus model.Coordinate, key model.TileKey, seq uint64) *loadRequest {
	return &loadRequest{
		ctx:   ctx,
		focus: focus,
		key:   key,
		seq:   seq,
		done:  make(chan struct{}),
	}
}

// enqueueLocked は取得中に届いた要求を待機枠に入れる
func (c *ImageCache[T]) enqueueLocked(ctx context.Context, focus model.Coordinate, key model.TileKey) *loadRequest {
	if c.pending != nil && c.pending.key == key {
		metrics.CacheRequestsTotal.WithLabelValues("coalesced").Inc()
		return c.pending
	}
	if c.pending == nil && c.running != nil && c.running.key == key && c.running.seq == c.seq {
		metrics.CacheRequestsTotal.WithLabelValues("coalesced").Inc()
		return c.running
	}

	c.seq++
	c.releasePendingLocked()
	req := newLoadRequest(ctx, focus, key, c.seq)
	c.pending = req
	c.logger.Debug().
		Str("focus_tile", key.String()).
		Uint64("seq", req.seq).
		Msg("load request queued behind in-flight fetch")
	return req
}

func waitFor(ctx context.Context, req *loadRequest) error {
	select {
	case <-req.done:
		return req.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run は要求を処理し、終了後に待機中の要求があれば引き継ぐ
func (c *ImageCache[T]) run(req *loadRequest) {
	req.err = c.load(req)

	c.mu.Lock()
	close(req.done)
	next := c.pending
	c.pending = nil
	if next != nil {
		c.running = next
	} else {
		c.running = nil
		c.busy = false
	}
	c.mu.Unlock()

	if next != nil {
		metrics.CacheRequestsTotal.WithLabelValues("fetched").Inc()
		go c.run(next)
	}
}

// load は未ロードのタイルを近いリング順に1つずつ取得する
func (c *ImageCache[T]) load(req *loadRequest) error {
	c.mu.Lock()
	if c.isStaleLocked(req) {
		c.mu.Unlock()
		return nil
	}
	missing := c.missingTilesLocked(req.key)
	timeout := c.cfg.FetchTimeout
	c.mu.Unlock()

	// リクエストIDなどの値は引き継ぎ、キャンセルだけ切り離す
	baseCtx := context.WithoutCancel(req.ctx)

	var errs []error
	attempted := 0
	for _, key := range missing {
		c.mu.Lock()
		if c.isStaleLocked(req) {
			c.mu.Unlock()
			return nil
		}
		if c.index.IsLoaded(key) {
			c.mu.Unlock()
			continue
		}
		bound := c.index.Bound(key)
		c.mu.Unlock()

		start := time.Now()
		fetchCtx, cancel := context.WithTimeout(baseCtx, timeout)
		records, err := c.repo.FetchByBoundingBox(fetchCtx, bound, c.filter)
		cancel()

		c.mu.Lock()
		if c.isStaleLocked(req) {
			c.mu.Unlock()
			metrics.RecordTileFetch("stale", time.Since(start))
			c.logger.Debug().
				Str("tile", key.String()).
				Uint64("seq", req.seq).
				Msg("stale tile result discarded")
			return nil
		}
		attempted++
		if err != nil {
			c.mu.Unlock()
			metrics.RecordTileFetch("error", time.Since(start))
			c.logger.Warn().Err(err).Str("tile", key.String()).Msg("tile fetch failed, will retry on next load")
			errs = append(errs, &model.TileFetchError{Key: key, Err: err})
			continue
		}
		c.applyTileLocked(key, records)
		c.mu.Unlock()
		metrics.RecordTileFetch("success", time.Since(start))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isStaleLocked(req) {
		return nil
	}
	if attempted > 0 && len(errs) == attempted {
		// 新しいブロックが1枚も読めていないので、手元のキャッシュは破棄しない
		return fmt.Errorf("%w: %w", model.ErrFetchFailed, errors.Join(errs...))
	}
	c.settleLocked(req.key)
	return nil
}

func (c *ImageCache[T]) isStaleLocked(req *loadRequest) bool {
	return req.seq != c.seq
}

// missingTilesLocked は周辺ブロックのうち未ロードのタイルを近い順に返す
func (c *ImageCache[T]) missingTilesLocked(center model.TileKey) []model.TileKey {
	var missing []model.TileKey
	for _, key := range c.index.Neighborhood(center, c.cfg.GridExtent) {
		if !c.index.IsLoaded(key) {
			missing = append(missing, key)
		}
	}
	return missing
}

// applyTileLocked は1タイル分の取得結果をストアに反映し、タイルをロード済みにする
//
// IDが空のレコード、座標が有限値でないレコード、別タイルに属するレコードは取り込まない。
func (c *ImageCache[T]) applyTileLocked(key model.TileKey, records []model.Record[T]) {
	ids := make(map[string]struct{}, len(records))
	for _, record := range records {
		if record.ID == "" {
			c.logger.Warn().Str("tile", key.String()).Msg("record without id skipped")
			continue
		}
		if !record.Coordinate.Valid() {
			c.logger.Warn().
				Str("tile", key.String()).
				Str("record_id", record.ID).
				Msg("record with non-finite coordinate skipped")
			continue
		}
		if c.index.KeyFor(record.Coordinate) != key {
			continue
		}

		record.Distance = 0
		previous, replaced := c.store.Upsert(record)
		if replaced {
			if prevKey := c.index.KeyFor(previous.Coordinate); prevKey != key {
				c.index.DetachRecord(prevKey, record.ID)
			}
		}
		ids[record.ID] = struct{}{}
	}

	now := c.now()
	c.index.MarkLoaded(key, ids, now)
	c.lastLoadedAt = now
	c.reportSizeLocked()
}

// settleLocked はロード後の後処理を行う
// 周辺タイルの LoadedAt 更新、ブロック外の破棄、メモリ上限の適用の順
func (c *ImageCache[T]) settleLocked(center model.TileKey) {
	now := c.now()
	for _, key := range c.index.Neighborhood(center, c.cfg.GridExtent) {
		c.index.Touch(key, now)
	}

	// フォーカスタイルが同じでもブロック外のタイルは破棄する
	if c.cfg.EvictOutsideGrid {
		c.evictOutsideLocked(center)
	}
	c.focusTile = &center

	c.enforceBudgetLocked(center)
	c.reportSizeLocked()
}

// evictOutsideLocked は周辺ブロック外のタイルとそのレコードを破棄する
func (c *ImageCache[T]) evictOutsideLocked(center model.TileKey) {
	evicted := 0
	for _, tile := range c.index.Tiles() {
		if InNeighborhood(center, tile.Key, c.cfg.GridExtent) {
			continue
		}
		evictTile(c.index, c.store, tile.Key)
		evicted++
	}
	if evicted > 0 {
		metrics.TilesEvictedTotal.WithLabelValues("grid_move").Add(float64(evicted))
		c.logger.Debug().
			Str("focus_tile", center.String()).
			Int("tiles", evicted).
			Msg("evicted tiles outside the active grid")
	}
}
