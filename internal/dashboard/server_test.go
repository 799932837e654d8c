package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"mvr-etl/internal/domain"
	"mvr-etl/internal/observability"
	"mvr-etl/internal/schema"
	"mvr-etl/internal/storage"
	"mvr-etl/internal/storage/memory"
)

func ptr[T any](v T) *T {
	return &v
}

func testRecords(n int) []*domain.EnrichedRecord {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]*domain.EnrichedRecord, n)
	for i := range out {
		d := start.AddDate(0, 0, i)
		out[i] = &domain.EnrichedRecord{
			Date: d,
			M:    domain.OHLCV{Open: 400, High: 410, Low: 395, Close: 405 + float64(i), AdjClose: 405, Volume: 1000},
			V:    domain.OHLCV{Open: 250, High: 255, Low: 248, Close: 252, AdjClose: 252, Volume: 2000},
			DerivedM: domain.Derived{
				PriceChange: 5, PctChange: ptr(1.25), Volatility: 15,
			},
			DerivedV: domain.Derived{
				PriceChange: 2, PctChange: ptr(0.8), Volatility: 7,
			},
			VolumeRatioMV: ptr(0.5),
			DayOfWeek:     domain.DayOfWeekOrdinal(d),
			Month:         int(d.Month()),
			Year:          d.Year(),
		}
	}
	return out
}

func seededStore(t *testing.T, n int) *memory.TableStore {
	t.Helper()
	ctx := context.Background()
	store := memory.NewTableStore()
	tbl := schema.MVR("")
	require.NoError(t, store.EnsureTable(ctx, tbl))
	_, err := store.ReplaceAll(ctx, tbl, testRecords(n))
	require.NoError(t, err)
	return store
}

func seededResultSet(t *testing.T, n int) *storage.ResultSet {
	t.Helper()
	rs, err := seededStore(t, n).Query(context.Background(), schema.DefaultTableName, -1)
	require.NoError(t, err)
	return rs
}

func memoryOpen(store *memory.TableStore) OpenFunc {
	return func(context.Context) (storage.Reader, func(), error) {
		return store, func() {}, nil
	}
}

func newTestServer(t *testing.T, store *memory.TableStore, hub *Hub) *httptest.Server {
	t.Helper()
	conn := NewConnector(memoryOpen(store), ConnectorOptions{
		InitialInterval: time.Millisecond,
		MaxElapsedTime:  20 * time.Millisecond,
	}, nil)
	srv, err := NewServer(Options{
		Title:     "MasterCard vs Visa : Tableau de bord des insights",
		Tables:    []string{schema.DefaultTableName},
		Connector: conn,
		Hub:       hub,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestServer_RowsDefaultLimit(t *testing.T) {
	ts := newTestServer(t, seededStore(t, 150), nil)

	var body rowsResponse
	status := getJSON(t, ts.URL+"/api/rows?table=MVR", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, DefaultLimit, body.Limit)
	assert.Len(t, body.Rows, DefaultLimit)
	assert.Len(t, body.Columns, 29)
	assert.Equal(t, "2024-01-01", body.Rows[0][0])
}

func TestServer_RowsLimitClamped(t *testing.T) {
	ts := newTestServer(t, seededStore(t, 20), nil)

	var body rowsResponse
	getJSON(t, ts.URL+"/api/rows?limit=5000", &body)
	assert.Equal(t, MaxLimit, body.Limit)
	assert.Len(t, body.Rows, 20)

	getJSON(t, ts.URL+"/api/rows?limit=0", &body)
	assert.Equal(t, MinLimit, body.Limit)
	assert.Len(t, body.Rows, 1)
}

func TestServer_RowsProjection(t *testing.T) {
	ts := newTestServer(t, seededStore(t, 3), nil)

	var body rowsResponse
	getJSON(t, ts.URL+"/api/rows?columns=Date,Close_M&columns=Day_of_Week", &body)
	assert.Equal(t, []string{"Date", "Close_M", "Day_of_Week"}, body.Columns)
	require.Len(t, body.Rows, 3)
	assert.Equal(t, []any{"2024-01-01", 405.0, 0.0}, body.Rows[0])
}

func TestServer_RowsBadRequests(t *testing.T) {
	ts := newTestServer(t, seededStore(t, 3), nil)

	for _, tc := range []struct {
		name  string
		query string
	}{
		{"non-numeric limit", "limit=ten"},
		{"table not allowed", "table=pg_user"},
		{"injection", "table=MVR%3B%20DROP%20TABLE%20MVR"},
		{"unknown column", "columns=Bogus"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var body map[string]any
			status := getJSON(t, ts.URL+"/api/rows?"+tc.query, &body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestServer_Unreachable(t *testing.T) {
	store := seededStore(t, 3)
	store.SetUnreachable(true)
	ts := newTestServer(t, store, nil)

	var st statusResponse
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/status", &st))
	assert.False(t, st.Connected)
	assert.Contains(t, st.Error, ErrNotConnected.Error())

	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, ts.URL+"/api/rows", nil))

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	page, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(page), "Connexion à la base de données impossible.")
	assert.NotContains(t, string(page), "Aperçu des données")
}

func TestServer_Status(t *testing.T) {
	ts := newTestServer(t, seededStore(t, 1), nil)

	var st statusResponse
	getJSON(t, ts.URL+"/api/status", &st)
	assert.True(t, st.Connected)
	assert.Empty(t, st.Error)
}

func TestServer_Index(t *testing.T) {
	ts := newTestServer(t, seededStore(t, 10), nil)

	resp, err := http.Get(ts.URL + "/?limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	page, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	html := string(page)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, html, "MasterCard vs Visa : Tableau de bord des insights")
	assert.Contains(t, html, "Connexion réussie !")
	assert.Contains(t, html, "0 (Monday)")
	assert.Contains(t, html, `id="chart-data"`)
	assert.Equal(t, 5, strings.Count(html, "<tr><td>"))
}

func TestServer_Charts(t *testing.T) {
	ts := newTestServer(t, seededStore(t, 10), nil)

	var charts []Chart
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/charts?columns=Date,Volume_M,Volume_V", &charts))
	assert.Equal(t, []string{"volume", "volume_share"}, chartIDs(charts))
}

func TestServer_ExportXLSX(t *testing.T) {
	ts := newTestServer(t, seededStore(t, 4), nil)

	resp, err := http.Get(ts.URL + "/api/export.xlsx?columns=Date,Close_M")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "MVR.xlsx")

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(schema.DefaultTableName)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"Date", "Close_M"}, rows[0])
	assert.Equal(t, []string{"2024-01-01", "405"}, rows[1])
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, memory.NewTableStore(), nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewServer_Validation(t *testing.T) {
	conn := NewConnector(memoryOpen(memory.NewTableStore()), ConnectorOptions{}, nil)

	_, err := NewServer(Options{Connector: conn})
	assert.Error(t, err)

	_, err = NewServer(Options{Connector: conn, Tables: []string{"bad-name"}})
	assert.ErrorIs(t, err, schema.ErrInvalidIdentifier)

	_, err = NewServer(Options{Tables: []string{"MVR"}})
	assert.Error(t, err)
}

func TestHub_BroadcastsRefresh(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil)
	go hub.Run(ctx)
	ts := newTestServer(t, seededStore(t, 1), hub)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(observability.DefaultMetrics.WSClients) == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.NotifyRefreshed(schema.DefaultTableName)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, TypeTableRefreshed, msg.Type)
	assert.Equal(t, schema.DefaultTableName, msg.Table)
}
