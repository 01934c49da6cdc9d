package credential

import (
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, subject string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	raw, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

func TestNew_ReadsJWTClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	cred := New(signedToken(t, "alice", exp))

	require.Equal(t, "alice", cred.Subject)
	require.True(t, cred.ExpiresAt.Equal(exp), "ExpiresAt = %v, want %v", cred.ExpiresAt, exp)
	require.False(t, cred.Expired(time.Now()))
	require.True(t, cred.Expired(exp))
}

func TestNew_OpaqueTokenHasNoExpiry(t *testing.T) {
	cred := New("  opaque-token ")
	require.Equal(t, "opaque-token", cred.Token)
	require.True(t, cred.ExpiresAt.IsZero())
	require.False(t, cred.Expired(time.Now().Add(100*time.Hour)))
}

func TestStore_SetGetClear(t *testing.T) {
	store := NewStore()
	_, ok := store.Get()
	require.False(t, ok)
	require.False(t, store.Clear(), "Clear on empty store should report nothing cleared")

	store.Set(New("t1"))
	got, ok := store.Get()
	require.True(t, ok)
	require.Equal(t, "t1", got.Token)
	require.Equal(t, "t1", store.Token())

	require.True(t, store.Clear())
	require.Equal(t, "", store.Token())
}

func TestStore_SetEmptyTokenClears(t *testing.T) {
	store := NewStore()
	store.Set(New("t1"))
	store.Set(Credential{})
	_, ok := store.Get()
	require.False(t, ok)
}

func TestStore_OnChangeRunsInMutationOrder(t *testing.T) {
	store := NewStore()
	var seen []string
	cancel := store.OnChange(func(cred Credential, present bool) {
		if !present {
			seen = append(seen, "<cleared>")
			return
		}
		seen = append(seen, cred.Token)
	})

	store.Set(New("t1"))
	store.Set(New("t2"))
	store.Clear()
	store.Clear()
	cancel()
	store.Set(New("t3"))

	require.Equal(t, []string{"t1", "t2", "<cleared>"}, seen)
}

func TestStore_ConcurrentReadersNeverSeePartialValues(t *testing.T) {
	store := NewStore()
	tokens := []string{"token-aaaaaaaa", "token-bbbbbbbb", "token-cccccccc"}
	valid := map[string]bool{"": true}
	for _, tok := range tokens {
		valid[tok] = true
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if (i+j)%5 == 0 {
					store.Clear()
					continue
				}
				store.Set(New(tokens[(i+j)%len(tokens)]))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if tok := store.Token(); !valid[tok] {
					t.Errorf("observed torn token %q", tok)
					return
				}
			}
		}()
	}
	wg.Wait()
}
