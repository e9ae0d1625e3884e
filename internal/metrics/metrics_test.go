package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/sessions/:id/stats", "200"))
	RecordAPIRequest("GET", "/sessions/:id/stats", 200, 15*time.Millisecond)
	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/sessions/:id/stats", "200"))
	assert.Equal(t, before+1, after)
}

func TestRecordTileFetch(t *testing.T) {
	before := testutil.ToFloat64(TileFetchesTotal.WithLabelValues("error"))
	RecordTileFetch("error", time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(TileFetchesTotal.WithLabelValues("error")))
}
