package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estensen/wallet-valuation/internal/aggregator"
	"github.com/estensen/wallet-valuation/internal/metrics"
	"github.com/estensen/wallet-valuation/internal/pipeline"
	"github.com/estensen/wallet-valuation/internal/price"
)

const transactionsCSV = `transaction_type,user_id,wallet_public_address,transaction_date,denomination,units
deposit,A,0x1,2024-04-02,BTC,2
deposit,A,0x1,2024-04-02,ETH,10
deposit,B,0x2,2024-04-02,BTC,40
`

type form struct {
	files  map[string]string
	fields [][2]string
}

func newRequest(t *testing.T, target string, f form) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for name, content := range f.files {
		part, err := writer.CreateFormFile(name, name+".csv")
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	for _, kv := range f.fields {
		require.NoError(t, writer.WriteField(kv[0], kv[1]))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func newTestServer(cfg Config) *Server {
	return NewServer(cfg, metrics.New(), log.New(io.Discard))
}

func serve(t *testing.T, opts aggregator.Options, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	newTestServer(Config{Options: opts}).Routes().ServeHTTP(rr, req)
	return rr
}

type decodedReport struct {
	Summary struct {
		TotalUsers int    `json:"total_users"`
		UsersAbove int    `json:"users_above_250"`
		TotalUSD   string `json:"total_usd"`
	} `json:"summary"`
	Denominations []string                     `json:"denominations"`
	Views         map[string][]json.RawMessage `json:"views"`
	Warnings      []string                     `json:"warnings"`
}

func TestCreateReportWithPricesFile(t *testing.T) {
	req := newRequest(t, "/reports", form{
		files: map[string]string{
			"transactions": transactionsCSV,
			"prices":       "denomination,price\nBTC,100\nETH,5\n",
		},
		fields: [][2]string{{"outputs", "summary"}, {"outputs", "mid"}, {"outputs", "high"}},
	})

	rr := serve(t, aggregator.Options{}, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp decodedReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Summary.TotalUsers)
	assert.Equal(t, 1, resp.Summary.UsersAbove)
	assert.Equal(t, "4250", resp.Summary.TotalUSD)
	assert.Equal(t, []string{"BTC", "ETH"}, resp.Denominations)
	assert.Len(t, resp.Views["mid"], 1)
	assert.Len(t, resp.Views["high"], 1)
	assert.NotContains(t, resp.Views, "all")
}

func TestCreateReportWithManualPrices(t *testing.T) {
	req := newRequest(t, "/reports", form{
		files:  map[string]string{"transactions": transactionsCSV},
		fields: [][2]string{{"price[BTC]", "100"}, {"price[DOGE]", "1"}},
	})

	rr := serve(t, aggregator.Options{}, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp decodedReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "4200", resp.Summary.TotalUSD, "ETH defaults to a zero price")
	assert.Equal(t, []string{"ignored prices for unknown denominations: DOGE"}, resp.Warnings)
}

func TestCreateReportCSV(t *testing.T) {
	req := newRequest(t, "/reports?format=csv&view=mid", form{
		files: map[string]string{
			"transactions": transactionsCSV,
			"prices":       "denomination,price\nBTC,100\nETH,5\n",
		},
	})

	rr := serve(t, aggregator.Options{}, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "users_250_to_2500_with_breakdown.csv")
	assert.Equal(t,
		"user_id,total_usd,wallet_address,BTC units,ETH units,BTC usd_value,ETH usd_value\n"+
			"A,250,0x1,2,10,200,50\n",
		rr.Body.String())
}

func TestCreateReportAssetsCSV(t *testing.T) {
	req := newRequest(t, "/reports?format=csv&view=assets", form{
		files: map[string]string{
			"transactions": transactionsCSV,
			"prices":       "denomination,price\nBTC,100\nETH,5\n",
		},
	})

	rr := serve(t, aggregator.Options{}, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "asset_breakdown.csv")
	assert.Equal(t,
		"denomination,total_units,total_usd\n"+
			"BTC,42,4200\n"+
			"ETH,10,50\n",
		rr.Body.String())
}

func TestCreateReportErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		target         string
		opts           aggregator.Options
		form           form
		expectedStatus int
		expectedBody   string
	}{
		{
			name:   "missing user_id column",
			target: "/reports",
			form: form{files: map[string]string{
				"transactions": "transaction_type,wallet_public_address,transaction_date,denomination,units\n",
				"prices":       "denomination,price\nBTC,1\n",
			}},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"missing_columns":["user_id"]`,
		},
		{
			name:           "missing transactions file",
			target:         "/reports",
			form:           form{fields: [][2]string{{"price[BTC]", "1"}}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:   "no prices",
			target: "/reports",
			form: form{files: map[string]string{
				"transactions": transactionsCSV,
				"prices":       "denomination,price\n",
			}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:   "negative manual price",
			target: "/reports",
			form: form{
				files:  map[string]string{"transactions": transactionsCSV},
				fields: [][2]string{{"price[BTC]", "-1"}},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:   "missing price under fail policy",
			target: "/reports",
			opts:   aggregator.Options{MissingPricePolicy: aggregator.PolicyFail},
			form: form{files: map[string]string{
				"transactions": transactionsCSV,
				"prices":       "denomination,price\nBTC,100\n",
			}},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   "ETH",
		},
		{
			name:   "unknown output",
			target: "/reports",
			form: form{
				files:  map[string]string{"transactions": transactionsCSV},
				fields: [][2]string{{"outputs", "everything"}},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:   "empty user_id",
			target: "/reports",
			form: form{
				files:  map[string]string{"transactions": transactionsCSV + "deposit,,0x3,2024-04-02,BTC,1\n"},
				fields: [][2]string{{"price[BTC]", "1"}},
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "empty user_id",
		},
		{
			name:   "unknown csv view",
			target: "/reports?format=csv&view=wallets",
			form: form{
				files: map[string]string{"transactions": transactionsCSV},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:   "unknown format",
			target: "/reports?format=xml",
			form: form{
				files: map[string]string{"transactions": transactionsCSV},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:   "unknown policy",
			target: "/reports",
			form: form{
				files:  map[string]string{"transactions": transactionsCSV},
				fields: [][2]string{{"price[BTC]", "1"}, {"missing_price_policy", "guess"}},
			},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(t, tc.opts, newRequest(t, tc.target, tc.form))
			assert.Equal(t, tc.expectedStatus, rr.Code, rr.Body.String())
			if tc.expectedBody != "" {
				assert.Contains(t, rr.Body.String(), tc.expectedBody)
			}
		})
	}
}

func TestCreateReportNotMultipart(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/reports", bytes.NewBufferString("user_id\n"))
	req.Header.Set("Content-Type", "text/csv")

	rr := serve(t, aggregator.Options{}, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealth(t *testing.T) {
	rr := serve(t, aggregator.Options{}, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok\n", rr.Body.String())

	rr = serve(t, aggregator.Options{}, httptest.NewRequest(http.MethodGet, "/reports", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestCreateReportFallbackPrices(t *testing.T) {
	fallback := price.NewTable()
	require.NoError(t, fallback.Set("BTC", decimal.NewFromInt(10)))
	require.NoError(t, fallback.Set("ETH", decimal.NewFromInt(1)))

	server := newTestServer(Config{Fallback: pipeline.StaticPrices{Table: fallback}})
	req := newRequest(t, "/reports", form{files: map[string]string{"transactions": transactionsCSV}})

	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp decodedReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "430", resp.Summary.TotalUSD)
}

func TestRateLimit(t *testing.T) {
	server := newTestServer(Config{RequestsPerSecond: 0.001, Burst: 1})
	handler := server.Routes()

	send := func() int {
		req := newRequest(t, "/reports", form{
			files:  map[string]string{"transactions": transactionsCSV},
			fields: [][2]string{{"price[BTC]", "1"}},
		})
		req.RemoteAddr = "10.0.0.1:5000"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusTooManyRequests, send())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `wallet_reports_total{status="200"} 1`)
	assert.Contains(t, rr.Body.String(), "wallet_rate_limited_requests_total 1")
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		headers  map[string]string
		remote   string
		expected string
	}{
		{name: "remote address", remote: "192.0.2.1:1234", expected: "192.0.2.1"},
		{name: "forwarded chain", headers: map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, remote: "10.0.0.1:80", expected: "203.0.113.5"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "198.51.100.7"}, remote: "10.0.0.1:80", expected: "198.51.100.7"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tc.expected, clientIP(req))
		})
	}
}
