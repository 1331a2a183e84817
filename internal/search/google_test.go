package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/linkforge/harvester/internal/harvest"
)

func testCredential() harvest.Credential {
	return harvest.Credential{ID: uuid.New(), APIKey: "test-key", EngineID: "test-cx"}
}

func TestSearchSuccessPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.URL.Query().Get("key"))
		require.Equal(t, "test-cx", r.URL.Query().Get("cx"))
		require.Equal(t, "intitle:index.of", r.URL.Query().Get("q"))
		require.Equal(t, "11", r.URL.Query().Get("start"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"items": [
				{"title": "A", "link": "https://a.example.com", "snippet": "sa", "displayLink": "a.example.com", "formattedUrl": "https://a.example.com/"},
				{"title": "B", "link": "https://b.example.com", "snippet": "sb", "displayLink": "b.example.com", "formattedUrl": "https://b.example.com/"}
			],
			"queries": {"nextPage": [{"startIndex": 21}]},
			"searchInformation": {"totalResults": "1230"}
		}`))
	}))
	defer srv.Close()

	client := New(Config{Endpoint: srv.URL, Timeout: time.Second})
	page, err := client.Search(context.Background(), "intitle:index.of", testCredential(), 11)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, "https://a.example.com", page.Items[0].URL)
	require.Equal(t, 21, page.NextStartIndex)
	require.Equal(t, int64(1230), page.TotalResults)
}

func TestSearchLastPageHasNoCursor(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"items": [{"title": "A", "link": "https://a.example.com"}], "queries": {}}`))
	}))
	defer srv.Close()

	client := New(Config{Endpoint: srv.URL})
	page, err := client.Search(context.Background(), "q", testCredential(), 1)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Zero(t, page.NextStartIndex)
}

func TestSearchErrorClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		status   int
		body     string
		wantCode harvest.ErrorCode
		wantMsg  string
	}{
		{
			name:     "rate limit",
			status:   http.StatusTooManyRequests,
			body:     `{"error": {"message": "Queries per minute exceeded"}}`,
			wantCode: harvest.CodeRateLimit,
			wantMsg:  "Queries per minute exceeded",
		},
		{
			name:     "quota exceeded",
			status:   http.StatusForbidden,
			body:     `{"error": {"message": "Quota exceeded for quota metric 'Queries'"}}`,
			wantCode: harvest.CodeQuotaExceeded,
			wantMsg:  "Quota exceeded for quota metric 'Queries'",
		},
		{
			name:     "daily limit",
			status:   http.StatusForbidden,
			body:     `{"error": {"message": "Daily Limit Exceeded"}}`,
			wantCode: harvest.CodeQuotaExceeded,
			wantMsg:  "Daily Limit Exceeded",
		},
		{
			name:     "invalid credential",
			status:   http.StatusForbidden,
			body:     `{"error": {"message": "The request is missing a valid API key."}}`,
			wantCode: harvest.CodeInvalidCredential,
			wantMsg:  "The request is missing a valid API key.",
		},
		{
			name:     "invalid request",
			status:   http.StatusBadRequest,
			body:     `{"error": {"message": "Invalid Value"}}`,
			wantCode: harvest.CodeInvalidRequest,
			wantMsg:  "Invalid Value",
		},
		{
			name:     "unknown error",
			status:   http.StatusInternalServerError,
			body:     `backend unavailable`,
			wantCode: harvest.CodeUnknown,
			wantMsg:  "backend unavailable",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client := New(Config{Endpoint: srv.URL})
			_, err := client.Search(context.Background(), "q", testCredential(), 1)
			require.Error(t, err)
			pe, ok := harvest.AsProviderError(err)
			require.True(t, ok)
			require.Equal(t, tc.wantCode, pe.Code)
			require.Equal(t, tc.status, pe.StatusCode)
			require.Equal(t, tc.wantMsg, pe.Message)
		})
	}
}

func TestSearchTransportErrorIsNotProviderError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse connections

	client := New(Config{Endpoint: srv.URL})
	_, err := client.Search(context.Background(), "q", testCredential(), 1)
	require.Error(t, err)
	_, ok := harvest.AsProviderError(err)
	require.False(t, ok)
	require.True(t, harvest.IsNetworkError(err))
}

func TestPageSizeClamped(t *testing.T) {
	t.Parallel()

	require.Equal(t, 10, New(Config{PageSize: 50}).PageSize())
	require.Equal(t, 10, New(Config{}).PageSize())
	require.Equal(t, 5, New(Config{PageSize: 5}).PageSize())
}
