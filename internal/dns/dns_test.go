package dns

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupIPLiteral(t *testing.T) {
	r := &Resolver{}
	for _, host := range []string{"127.0.0.1", "::1"} {
		ip, err := r.Lookup(context.Background(), host)
		require.NoError(t, err)
		assert.Equal(t, host, ip)
	}
}

func TestPickIPPrefersIPv4(t *testing.T) {
	ip, err := pickIP([]string{"::1", "10.0.0.7", "10.0.0.8"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", ip)

	ip, err = pickIP([]string{"fe80::1"})
	require.NoError(t, err)
	assert.Equal(t, "fe80::1", ip)

	_, err = pickIP(nil)
	assert.ErrorIs(t, err, ErrNoAddress)
}

func TestDialContextLoopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan struct{})
	go func() {
		if c, err := ln.Accept(); err == nil {
			c.Close()
		}
		close(accepted)
	}()

	r := NewResolver()
	r.Fallback = nil

	conn, err := r.DialContext(context.Background(), "tcp", ln.Addr().String())
	require.NoError(t, err)
	conn.Close()
	<-accepted
}

func TestDialContextBadAddress(t *testing.T) {
	r := NewResolver()
	_, err := r.DialContext(context.Background(), "tcp", "missing-port")
	assert.Error(t, err)
}
