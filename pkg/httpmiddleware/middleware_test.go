package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrap_Order(t *testing.T) {
	var trace []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				trace = append(trace, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Wrap(okHandler(), mark("outer"), mark("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner"}, trace)
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	h := Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), InjectLogger(zap.New(core)), Recovery())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"code":500,"error":"internal","message":"internal error"}`, rec.Body.String())
	require.Equal(t, 1, logs.FilterMessage("Panic recovered").Len())
}

func TestLogRequests(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(InjectLogger(zap.New(core)))
	r.Use(LogRequests())
	r.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		zctx.From(r.Context()).Info("Inside handler")
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/42", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	inside := logs.FilterMessage("Inside handler").All()
	require.Len(t, inside, 1)
	assert.NotEmpty(t, inside[0].ContextMap()["request_id"])

	done := logs.FilterMessage("Request completed").All()
	require.Len(t, done, 1)
	fields := done[0].ContextMap()
	assert.Equal(t, "/orders/{id}", fields["route"])
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
}
