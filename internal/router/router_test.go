package router

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrefixFromHost(t *testing.T) {
	cases := []struct {
		host   string
		prefix string
		ok     bool
	}{
		{"v1.echo.example.com", "v1.echo", true},
		{"v1.echo.example.com:8080", "v1.echo", true},
		{"PROD.Echo.example.com", "prod.echo", true},
		{"example.com", "", false},
		{"echo.com", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := PrefixFromHost(c.host)
		require.Equal(t, c.ok, ok, c.host)
		if c.ok {
			require.Equal(t, c.prefix, got, c.host)
		}
	}
}

func TestPublishAndLookup(t *testing.T) {
	r := New()
	_, ok := r.Lookup("v1.echo")
	require.False(t, ok)

	require.NoError(t, r.Publish("v1.echo", "127.0.0.1:18080"))
	target, ok := r.Lookup("v1.echo")
	require.True(t, ok)
	require.Equal(t, "127.0.0.1:18080", target.Addr)
	require.NotNil(t, target.TCPAddr)

	r.Remove("v1.echo")
	_, ok = r.Lookup("v1.echo")
	require.False(t, ok)
}

func TestPublishNeverExposesPartialUpdate(t *testing.T) {
	r := New()
	require.NoError(t, r.Publish("v1.a", "127.0.0.1:1"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Publish("v1.b", "127.0.0.1:2")
			r.Remove("v1.b")
		}(i)
	}
	wg.Wait()

	// The pre-existing entry must have survived every concurrent
	// publish/remove cycle on a different key.
	target, ok := r.Lookup("v1.a")
	require.True(t, ok)
	require.Equal(t, "127.0.0.1:1", target.Addr)
}
