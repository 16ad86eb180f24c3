package datapush

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign(t *testing.T) {
	// 相同输入得到相同签名，不同secret签名不同
	a := sign(1700000000000, "SECabc")
	assert.Equal(t, a, sign(1700000000000, "SECabc"))
	assert.NotEqual(t, a, sign(1700000000000, "SECabd"))
	assert.Len(t, a, 44)
}

func TestPushReportSigned(t *testing.T) {
	var got map[string]interface{}
	var query map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		query = map[string]string{
			"access_token": r.URL.Query().Get("access_token"),
			"timestamp":    r.URL.Query().Get("timestamp"),
			"sign":         r.URL.Query().Get("sign"),
		}
		_, _ = w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL+"/robot/send?access_token=tok", "SECret")
	n.now = func() time.Time { return time.UnixMilli(1700000000000) }

	require.NoError(t, n.PushReport(context.Background(), "清洗完成", "1 行"))

	assert.Equal(t, "markdown", got["msgtype"])
	assert.Equal(t, "tok", query["access_token"])
	assert.Equal(t, "1700000000000", query["timestamp"])
	assert.Equal(t, sign(1700000000000, "SECret"), query["sign"])
}

func TestPushRetriesThenFails(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"errcode":310000,"errmsg":"sign not match"}`))
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "")
	n.retryInterval = time.Millisecond

	err := n.PushText(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sign not match")
	assert.Equal(t, int32(RETRY_TIMES), atomic.LoadInt32(&calls))
}

func TestPushRecoversAfterFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"errcode":0}`))
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "")
	n.retryInterval = time.Millisecond
	require.NoError(t, n.PushText(context.Background(), "hello"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retry(ctx, func() error { return assert.AnError }, 5, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
