package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/price-scraper/internal/database"
	"github.com/maltedev/price-scraper/internal/fallback"
	"github.com/maltedev/price-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type stubSearcher struct {
	listings []models.PriceListing
	panicMsg string
	queries  []models.Query
}

func (s *stubSearcher) Search(ctx context.Context, q models.Query) []models.PriceListing {
	s.queries = append(s.queries, q)
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return s.listings
}

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Record(ctx context.Context, q models.Query, provider string, listings []models.PriceListing) {
	m.Called(q, provider, listings)
}

type MockHistory struct {
	mock.Mock
}

func (m *MockHistory) Recent(ctx context.Context, query string, limit int) ([]database.Observation, error) {
	args := m.Called(query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]database.Observation), args.Error(1)
}

type MockOutbox struct {
	mock.Mock
}

func (m *MockOutbox) Stats(ctx context.Context) (database.OutboxStats, error) {
	args := m.Called()
	return args.Get(0).(database.OutboxStats), args.Error(1)
}

func newTestServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	if deps.Fallback == nil {
		deps.Fallback = fallback.NewProvider()
	}
	if deps.Provider == "" {
		deps.Provider = "engine"
	}
	deps.Logger = slog.Default()

	srv := httptest.NewServer(NewRouter(NewHandlers(deps), RouterOptions{RequestTimeout: 5 * time.Second}))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body json.RawMessage
	if resp.ContentLength != 0 {
		_ = json.NewDecoder(resp.Body).Decode(&body)
	}
	return resp, body
}

func TestSearchPrices(t *testing.T) {
	t.Run("returns provider listings", func(t *testing.T) {
		searcher := &stubSearcher{listings: []models.PriceListing{
			{Store: "Walmart", Price: 3.99, Unit: "each", Distance: "Local", Icon: "🏪", ProductURL: "https://www.walmart.ca/ip/1"},
		}}
		srv := newTestServer(t, Deps{Searcher: searcher})

		resp, body := get(t, srv.URL+"/api/prices/search?query=milk")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		assert.JSONEq(t, `[{"store":"Walmart","price":3.99,"unit":"each","distance":"Local","icon":"🏪","productUrl":"https://www.walmart.ca/ip/1"}]`, string(body))
		assert.Equal(t, []models.Query{"milk"}, searcher.queries)
	})

	t.Run("empty result is an empty array", func(t *testing.T) {
		srv := newTestServer(t, Deps{Searcher: &stubSearcher{}})

		resp, body := get(t, srv.URL+"/api/prices/search?query=caviar")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `[]`, string(body))
	})

	t.Run("query is trimmed", func(t *testing.T) {
		searcher := &stubSearcher{}
		srv := newTestServer(t, Deps{Searcher: searcher})

		resp, _ := get(t, srv.URL+"/api/prices/search?query=%20%20whole%20milk%20")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []models.Query{"whole milk"}, searcher.queries)
	})

	for _, path := range []string{"/api/prices/search", "/api/prices/search?query=", "/api/prices/search?query=%20%20"} {
		t.Run("rejects "+path, func(t *testing.T) {
			searcher := &stubSearcher{}
			srv := newTestServer(t, Deps{Searcher: searcher})

			resp, body := get(t, srv.URL+path)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.JSONEq(t, `{"error":"query is required"}`, string(body))
			assert.Empty(t, searcher.queries)
		})
	}

	t.Run("provider panic is a 500 with empty body", func(t *testing.T) {
		srv := newTestServer(t, Deps{Searcher: &stubSearcher{panicMsg: "contract violation"}})

		resp, err := http.Get(srv.URL + "/api/prices/search?query=milk")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		var buf [1]byte
		n, _ := resp.Body.Read(buf[:])
		assert.Zero(t, n)
	})

	t.Run("records answered searches", func(t *testing.T) {
		listings := []models.PriceListing{{Store: "Walmart", Price: 3.99, Unit: "each"}}
		recorder := new(MockRecorder)
		recorder.On("Record", models.Query("milk"), "engine", listings).Once()

		srv := newTestServer(t, Deps{Searcher: &stubSearcher{listings: listings}, Recorder: recorder})

		resp, _ := get(t, srv.URL+"/api/prices/search?query=milk")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		recorder.AssertExpectations(t)
	})
}

func TestMockPrices(t *testing.T) {
	recorder := new(MockRecorder)
	srv := newTestServer(t, Deps{Searcher: &stubSearcher{}, Recorder: recorder})

	resp, body := get(t, srv.URL+"/api/prices/mock?query=Milk")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listings []models.PriceListing
	require.NoError(t, json.Unmarshal(body, &listings))
	require.Len(t, listings, 3)
	assert.Equal(t, 4.99, listings[0].Price)
	assert.Equal(t, "Metro", listings[1].Store)
	assert.Equal(t, 5.49, listings[2].Price)

	recorder.AssertNotCalled(t, "Record", mock.Anything, mock.Anything, mock.Anything)

	resp, _ = get(t, srv.URL+"/api/prices/mock")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistory(t *testing.T) {
	t.Run("disabled history is not found", func(t *testing.T) {
		srv := newTestServer(t, Deps{Searcher: &stubSearcher{}})

		resp, _ := get(t, srv.URL+"/api/prices/history?query=milk")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("returns observations", func(t *testing.T) {
		history := new(MockHistory)
		history.On("Recent", "milk", 2).Return([]database.Observation{
			{SearchID: uuid.New(), Query: "milk", Store: "Walmart", Price: 4.99},
		}, nil)
		srv := newTestServer(t, Deps{Searcher: &stubSearcher{}, History: history})

		resp, body := get(t, srv.URL+"/api/prices/history?query=milk&limit=2")
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var got []database.Observation
		require.NoError(t, json.Unmarshal(body, &got))
		require.Len(t, got, 1)
		assert.Equal(t, "Walmart", got[0].Store)
		history.AssertExpectations(t)
	})

	t.Run("limit is capped and defaulted", func(t *testing.T) {
		history := new(MockHistory)
		history.On("Recent", "eggs", maxHistoryLimit).Return(nil, nil)
		history.On("Recent", "eggs", defaultHistoryLimit).Return(nil, nil)
		srv := newTestServer(t, Deps{Searcher: &stubSearcher{}, History: history})

		resp, body := get(t, srv.URL+"/api/prices/history?query=eggs&limit=100000")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `[]`, string(body))

		resp, _ = get(t, srv.URL+"/api/prices/history?query=eggs")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		history.AssertExpectations(t)
	})

	t.Run("bad limit", func(t *testing.T) {
		srv := newTestServer(t, Deps{Searcher: &stubSearcher{}, History: new(MockHistory)})

		resp, _ := get(t, srv.URL+"/api/prices/history?query=eggs&limit=zero")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("storage failure", func(t *testing.T) {
		history := new(MockHistory)
		history.On("Recent", "milk", defaultHistoryLimit).Return(nil, errors.New("connection reset"))
		srv := newTestServer(t, Deps{Searcher: &stubSearcher{}, History: history})

		resp, _ := get(t, srv.URL+"/api/prices/history?query=milk")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestHealth(t *testing.T) {
	t.Run("without history", func(t *testing.T) {
		srv := newTestServer(t, Deps{Searcher: &stubSearcher{}, Stores: []string{"Walmart"}})

		resp, body := get(t, srv.URL+"/health")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"status":"ok","provider":"engine","stores":["Walmart"],"history":{"enabled":false}}`, string(body))
	})

	t.Run("reports outbox backlog", func(t *testing.T) {
		outbox := new(MockOutbox)
		outbox.On("Stats").Return(database.OutboxStats{Pending: 3, DeadLetter: 0}, nil)
		srv := newTestServer(t, Deps{Searcher: &stubSearcher{}, Recorder: new(MockRecorder), Outbox: outbox})

		resp, body := get(t, srv.URL+"/health")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"status":"ok","provider":"engine","stores":[],"history":{"enabled":true,"pending":3,"deadLetter":0}}`, string(body))
	})

	t.Run("dead letters make the service unhealthy", func(t *testing.T) {
		outbox := new(MockOutbox)
		outbox.On("Stats").Return(database.OutboxStats{DeadLetter: deadLetterFailThreshold + 1}, nil)
		srv := newTestServer(t, Deps{Searcher: &stubSearcher{}, Recorder: new(MockRecorder), Outbox: outbox})

		resp, _ := get(t, srv.URL+"/health")
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, Deps{Searcher: &stubSearcher{}})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/prices/search?query=milk", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
}
