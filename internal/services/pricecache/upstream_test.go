package pricecache

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"metals-trader/internal/models"
	"metals-trader/internal/services/metalsapi"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceAgainstUpstream(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		live    bool
	}{
		{"ok", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success":true,"base":"USD","rates":{"XAU":0.0005}}`))
		}, true},
		{"500", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}, false},
		{"malformed", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success":tru`))
		}, false},
		{"missing rate", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success":true,"rates":{"XAG":0.04}}`))
		}, false},
		{"timeout", func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(150 * time.Millisecond)
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			client := metalsapi.NewClient(srv.URL, "key", 30*time.Millisecond)
			svc := NewService(models.CatalogFor(models.MarketMetals), client, NewMemoryStore(), zerolog.Nop(),
				Options{Rand: rand.New(rand.NewSource(11))})

			p, err := svc.GetPrice(context.Background(), "XAU")
			require.NoError(t, err)
			require.NotNil(t, p)

			if tt.live {
				assert.Equal(t, models.SourceLive, p.Source)
				assert.Equal(t, 2000.0, p.Price)
				return
			}
			assertFallbackBand(t, p)
		})
	}
}

func TestCryptoServiceAgainstUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "USD", r.URL.Query().Get("base"))
		assert.Equal(t, "BTC", r.URL.Query().Get("symbols"))
		_, _ = w.Write([]byte(`{"success":true,"base":"USD","rates":{"BTC":0.0000232}}`))
	}))
	defer srv.Close()

	client := metalsapi.NewClient(srv.URL, "key", time.Second)
	svc := NewService(models.CatalogFor(models.MarketCrypto), client, NewMemoryStore(), zerolog.Nop(),
		Options{Rand: rand.New(rand.NewSource(11))})

	p, err := svc.GetPrice(context.Background(), "btc")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, models.SourceLive, p.Source)
	assert.Equal(t, 43103.4483, p.Price)
}
