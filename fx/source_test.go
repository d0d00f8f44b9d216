package fx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSourceParsesRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/2024-03-10", r.URL.Path)
		assert.Equal(t, "USD", r.URL.Query().Get("from"))
		assert.Equal(t, "EUR", r.URL.Query().Get("to"))
		_, _ = w.Write([]byte(`{"amount":1.0,"base":"USD","date":"2024-03-08","rates":{"EUR":0.91370}}`))
	}))
	t.Cleanup(srv.Close)

	src := NewHTTPSource(HTTPSourceConfig{BaseURL: srv.URL + "/", Timeout: time.Second})
	r, err := src.Rate(context.Background(), Pair{"USD", EUR}, date("2024-03-10"))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-08", r.AsOf)
	assert.Equal(t, "0.9137", r.Value.String())
}

func TestHTTPSourceNotPublished(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	src := NewHTTPSource(HTTPSourceConfig{BaseURL: srv.URL})
	_, err := src.Rate(context.Background(), Pair{"USD", EUR}, date("1990-01-01"))
	assert.ErrorIs(t, err, ErrRateNotPublished)
}

func TestHTTPSourceRejectsBadPayloads(t *testing.T) {
	bodies := []string{
		`{"date":"2024-03-10","rates":{"EUR":-1}}`,
		`not json`,
	}
	for _, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		src := NewHTTPSource(HTTPSourceConfig{BaseURL: srv.URL})
		_, err := src.Rate(context.Background(), Pair{"USD", EUR}, date("2024-03-10"))
		assert.Error(t, err, body)
		srv.Close()
	}
}

func TestHTTPSourceMissingQuoteIsNotPublished(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"date":"2024-03-10","rates":{}}`))
	}))
	t.Cleanup(srv.Close)

	src := NewHTTPSource(HTTPSourceConfig{BaseURL: srv.URL})
	_, err := src.Rate(context.Background(), Pair{"USD", EUR}, date("2024-03-10"))
	assert.ErrorIs(t, err, ErrRateNotPublished)
}

func TestConverterWithHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"base":"USD","date":"2024-03-08","rates":{"EUR":0.92}}`))
	}))
	t.Cleanup(srv.Close)

	c := NewConverter(NewHTTPSource(HTTPSourceConfig{BaseURL: srv.URL}), nil, WithClock(fixedNow))
	got, rate, err := c.Convert(context.Background(), Money{Minor: -10000, Currency: "USD"}, date("2024-03-10"))
	require.NoError(t, err)
	assert.Equal(t, int64(-9200), got)
	assert.Equal(t, "2024-03-08", rate.AsOf)
}
