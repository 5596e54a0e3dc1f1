package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(PagesFetched.WithLabelValues("http"))
	PagesFetched.WithLabelValues("http").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(PagesFetched.WithLabelValues("http")))

	beforeHits := testutil.ToFloat64(CacheHits)
	CacheHits.Add(2)
	assert.Equal(t, beforeHits+2, testutil.ToFloat64(CacheHits))
}

func TestHandlerExposesCounters(t *testing.T) {
	Verdicts.WithLabelValues("valid", "page").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "kampus_verdicts_total"), "metrics output should list kampus_verdicts_total")
}
