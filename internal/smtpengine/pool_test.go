package smtpengine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/relay/internal/apperror"
	"github.com/ignite/relay/internal/domain"
)

func TestPoolForReturnsSameInstanceForSameConfig(t *testing.T) {
	p := New("passphrase", time.Minute, zerolog.Nop())
	defer p.Close()

	cfg := domain.SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u"}
	a := p.poolFor(cfg)
	b := p.poolFor(cfg)
	assert.Same(t, a, b)
}

func TestPoolForSeparatesDifferentConfigs(t *testing.T) {
	p := New("passphrase", time.Minute, zerolog.Nop())
	defer p.Close()

	a := p.poolFor(domain.SMTPConfig{Host: "a.example.com", Port: 587, Username: "u"})
	b := p.poolFor(domain.SMTPConfig{Host: "b.example.com", Port: 587, Username: "u"})
	assert.NotSame(t, a, b)
}

func TestAcquireTimesOutWhenPoolSaturated(t *testing.T) {
	p := New("passphrase", time.Minute, zerolog.Nop())
	defer p.Close()

	cfg := domain.SMTPConfig{
		Host: "smtp.example.com", Port: 587, Username: "u",
		PoolSize: 1, TimeoutMillis: 50,
	}
	cp := p.poolFor(cfg)
	cp.mu.Lock()
	cp.conns = append(cp.conns, &pooledConn{inUse: true, lastUsed: time.Now()})
	cp.mu.Unlock()

	start := time.Now()
	_, err := p.acquire(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acquire timeout")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestAcquireReusesReleasedConnection(t *testing.T) {
	p := New("passphrase", time.Minute, zerolog.Nop())
	defer p.Close()

	cfg := domain.SMTPConfig{
		Host: "smtp.example.com", Port: 587, Username: "u",
		PoolSize: 1, TimeoutMillis: 2000,
	}
	cp := p.poolFor(cfg)
	conn := &pooledConn{inUse: true, lastUsed: time.Now()}
	cp.mu.Lock()
	cp.conns = append(cp.conns, conn)
	cp.mu.Unlock()

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.release(cfg, conn)
	}()

	got, err := p.acquire(context.Background(), cfg)
	require.NoError(t, err)
	assert.Same(t, conn, got)
	assert.True(t, got.inUse)
}

func TestDialFailsOnBadCiphertext(t *testing.T) {
	p := New("passphrase", time.Minute, zerolog.Nop())
	defer p.Close()

	cfg := domain.SMTPConfig{
		Host:           "smtp.example.com",
		Port:           587,
		Username:       "u",
		PasswordCipher: "not-valid-hex",
		TimeoutMillis:  1000,
	}
	_, err := p.dial(context.Background(), cfg)
	require.Error(t, err)
}

type temporaryErr struct{ temp bool }

func (e temporaryErr) Error() string   { return "smtp error" }
func (e temporaryErr) Temporary() bool { return e.temp }

func TestClassifyTransientByDefault(t *testing.T) {
	err := classify(errors.New("connection reset"))
	ae, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.KindSMTPTransient, ae.Kind)
}

func TestClassifyPermanentWhenNotTemporary(t *testing.T) {
	err := classify(temporaryErr{temp: false})
	ae, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.KindSMTPPermanent, ae.Kind)
}

func TestClassifyTransientWhenTemporary(t *testing.T) {
	err := classify(temporaryErr{temp: true})
	ae, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.KindSMTPTransient, ae.Kind)
}
