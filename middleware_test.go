package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestCanonicalLogLineMiddleware(t *testing.T) {
	ctx := context.Background()
	logDataChan := make(chan map[string]any, 1)

	router := mux.NewRouter()
	router.Use((&ContextContainerMiddleware{}).Wrapper)
	router.Use((&CanonicalLogLineMiddleware{logDataChan: logDataChan, logger: logrus.New()}).Wrapper)
	router.Use(NewInspectableWriterMiddleware().Wrapper)
	router.HandleFunc("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		ctxContainer := ContextContainerFrom(r.Context())
		ctxContainer.Authenticated = true
		ctxContainer.Navigation = "app"
		w.WriteHeader(http.StatusSeeOther)
	})

	recorder := httptest.NewRecorder()
	r := mustNewRequest(ctx, http.MethodPost, "/users/123?tab=roles", nil, nil)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("User-Agent", "test-agent")
	r.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	router.ServeHTTP(recorder, r)

	logData := <-logDataChan

	_, err := uuid.Parse(logData["request_id"].(string))
	require.NoError(t, err)

	require.Equal(t, map[string]any{
		"authenticated": true,
		"content_type":  "application/x-www-form-urlencoded",
		"duration":      logData["duration"], // hard to assert on
		"http_method":   http.MethodPost,
		"http_path":     "/users/123",
		"http_route":    "/users/{id}",
		"ip":            "10.0.0.1",
		"navigation":    "app",
		"query_string":  "tab=roles",
		"request_id":    logData["request_id"],
		"status":        http.StatusSeeOther,
		"user_agent":    "test-agent",
	}, logData)
}

func TestContextContainerMiddleware(t *testing.T) {
	ctx := context.Background()
	var ctxContainers []*ContextContainer

	router := mux.NewRouter()
	router.Use((&ContextContainerMiddleware{}).Wrapper)
	router.HandleFunc("/hello", func(w http.ResponseWriter, r *http.Request) {
		ctxContainer := ContextContainerFrom(r.Context())
		ctxContainer.StatusCode = http.StatusCreated
		ctxContainers = append(ctxContainers, ctxContainer)
		w.WriteHeader(http.StatusCreated)
	})

	for i := 0; i < 2; i++ {
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, mustNewRequest(ctx, http.MethodGet, "/hello", nil, nil))
	}

	require.Len(t, ctxContainers, 2)
	require.Equal(t, http.StatusCreated, ctxContainers[0].StatusCode)

	// Every request gets its own ID.
	require.NotEmpty(t, ctxContainers[0].RequestID)
	require.NotEqual(t, ctxContainers[0].RequestID, ctxContainers[1].RequestID)
}

func TestInspectableWriterMiddlewareWrapper(t *testing.T) {
	var (
		ctx               context.Context
		ctxContainer      *ContextContainer
		handler           http.Handler
		inspectableWriter *InspectableWriter
		writeResponse     func(w http.ResponseWriter)
	)

	setup := func(test func(*testing.T)) func(*testing.T) {
		return func(t *testing.T) {
			t.Helper()

			ctxContainer = &ContextContainer{}
			ctx = context.WithValue(context.Background(), contextContainerContextKey{}, ctxContainer)

			writeResponse = func(w http.ResponseWriter) {
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte("hello"))
			}

			handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				inspectableWriter = w.(*InspectableWriter)
				writeResponse(w)
			})
			handler = NewInspectableWriterMiddleware().Wrapper(handler)

			test(t)
		}
	}

	t.Run("TracksStatus", setup(func(t *testing.T) {
		recorder := httptest.NewRecorder()
		req := mustNewRequest(ctx, http.MethodGet, "/", nil, nil)
		handler.ServeHTTP(recorder, req)

		require.Equal(t, http.StatusCreated, inspectableWriter.StatusCode)
		require.Equal(t, http.StatusCreated, ctxContainer.StatusCode)
		require.Equal(t, "hello", recorder.Body.String())
	}))

	t.Run("TracksDefaultStatus", setup(func(t *testing.T) {
		writeResponse = func(w http.ResponseWriter) {
			_, err := w.Write([]byte{})
			require.NoError(t, err)
		}

		recorder := httptest.NewRecorder()
		req := mustNewRequest(ctx, http.MethodGet, "/", nil, nil)
		handler.ServeHTTP(recorder, req)

		require.Equal(t, http.StatusOK, inspectableWriter.StatusCode)
		require.Equal(t, http.StatusOK, ctxContainer.StatusCode)
	}))

	t.Run("TracksRedirect", setup(func(t *testing.T) {
		writeResponse = func(w http.ResponseWriter) {
			w.Header().Set("Location", "/login")
			w.WriteHeader(http.StatusFound)
		}

		recorder := httptest.NewRecorder()
		req := mustNewRequest(ctx, http.MethodGet, "/dashboard", nil, nil)
		handler.ServeHTTP(recorder, req)

		require.Equal(t, http.StatusFound, ctxContainer.StatusCode)
	}))

	t.Run("NoContextContainer", setup(func(t *testing.T) {
		recorder := httptest.NewRecorder()
		req := mustNewRequest(context.Background(), http.MethodGet, "/", nil, nil)
		handler.ServeHTTP(recorder, req)

		require.Equal(t, http.StatusCreated, recorder.Code)
		require.Zero(t, ctxContainer.StatusCode)
	}))
}

func TestPrettyDuration(t *testing.T) {
	require.Equal(t, "0.000042s", PrettyDuration(42334).String())

	data, err := PrettyDuration(1500000000).MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"1.500000s"`, string(data))
}
