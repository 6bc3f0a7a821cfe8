package bitmex

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignerMatchesPublishedExample(t *testing.T) {
	s := NewSigner("LAqUlngMIQkIUjXMUreyu3qn", "chNOOS4KvNXR_Xq4k4c9qsfoKWvnDecLATCRlcBwyKDYnWgO", nil)
	got := s.signWithNonce("GET", "/api/v1/instrument", 1518064236, nil)
	require.Equal(t, "c7682d435d0cfe87c16098df34ef2eb5a549d4c5a3c2b1f0f77b8af73423bf00", got)
}

func TestSignerIncludesBody(t *testing.T) {
	seed := time.UnixMicro(1_700_000_000_000_000)
	s := NewSigner("key", "secret", func() time.Time { return seed })
	body := []byte(`{"symbol":"XBTUSD","orderQty":10}`)

	sig := s.Sign("POST", "/api/v1/order", body)
	require.Equal(t, seed.UnixMicro()+1, sig.Nonce)

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("POST/api/v1/order" + strconv.FormatInt(sig.Nonce, 10)))
	mac.Write(body)
	require.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig.Value)
}

func TestSignerHeaders(t *testing.T) {
	s := NewSigner("key", "secret", nil)
	h := s.Headers("DELETE", "/api/v1/order", nil)
	require.Equal(t, "key", h.Get("api-key"))
	require.NotEmpty(t, h.Get("api-nonce"))
	require.Len(t, h.Get("api-signature"), 64)

	nonce, err := strconv.ParseInt(h.Get("api-nonce"), 10, 64)
	require.NoError(t, err)
	require.Equal(t, s.signWithNonce("DELETE", "/api/v1/order", nonce, nil), h.Get("api-signature"))
}

func TestSignerNonceStrictlyIncreases(t *testing.T) {
	s := NewSigner("key", "secret", nil)
	prev := int64(0)
	for i := 0; i < 100; i++ {
		sig := s.Sign("GET", "/api/v1/order", nil)
		require.Greater(t, sig.Nonce, prev)
		prev = sig.Nonce
	}
}

func TestSignerNonceUniqueUnderConcurrency(t *testing.T) {
	s := NewSigner("key", "secret", nil)
	const workers, perWorker = 16, 200

	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, s.Sign("POST", "/api/v1/order", nil).Nonce)
			}
			mu.Lock()
			for _, n := range local {
				seen[n] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, workers*perWorker)
}
