package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointGetIsActiveBeforeFirstDelivery(t *testing.T) {
	e := New()
	out, _ := e.Get(context.Background())
	assert.True(t, out.IsActive())
}

func TestEndpointServeHTTPStoresPayload(t *testing.T) {
	e := New()
	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader("hello"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	out, _ := e.Get(context.Background())
	v, ok := out.Value()
	require.True(t, ok)
	assert.Equal(t, "hello", string(v.Body))
	assert.Equal(t, "text/plain", v.ContentType)
}

func TestEndpointSubscribeNotifiesOnNotify(t *testing.T) {
	e := New()
	notified := make(chan struct{}, 1)
	unsub := e.Subscribe(func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	})
	defer unsub()

	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader("x"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	e.notify()

	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("expected notification")
	}
}

func TestEndpointLatestDeliveryWinsUnderBackpressure(t *testing.T) {
	e := New()
	for _, body := range []string{"first", "second", "third"} {
		req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
	}
	out, _ := e.Get(context.Background())
	v, _ := out.Value()
	assert.Equal(t, "third", string(v.Body))
}
