// Package smtpengine implements the SMTP Engine of spec.md §4.4: a
// per-configuration connection pool keyed by hash(host|port|user), backed
// by github.com/wneessen/go-mail. Grounded on defmans7-notifuse's
// pkg/mailer.go for the go-mail wiring (mail.NewMsg, mail.NewClient,
// DialAndSend options), and on the teacher's own background-goroutine
// style (internal/distlock's RedisLock, internal/worker's RateLimiter) for
// the idle-connection reaper ticker.
package smtpengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"

	"github.com/ignite/relay/internal/apperror"
	"github.com/ignite/relay/internal/cryptoutil"
	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/obs"
)

// SendResult is the outcome of a successful send, per spec.md §4.4 `send`.
type SendResult struct {
	MessageID string
	Accepted  []string
	Rejected  []string
}

// pooledConn wraps a dialed go-mail client cached for reuse.
type pooledConn struct {
	client   *mail.Client
	inUse    bool
	lastUsed time.Time
}

// configPool holds the connections cached for a single SMTP Config.
type configPool struct {
	mu    sync.Mutex
	cond  *sync.Cond
	cfg   domain.SMTPConfig
	conns []*pooledConn
}

// Pool implements the connection pool of spec.md §4.4: acquire/send/release
// with a background reaper closing connections idle longer than
// idleTimeout, and a bounded wait on acquire when a config's pool is
// saturated.
type Pool struct {
	encryptionKey string
	idleTimeout   time.Duration
	log           zerolog.Logger

	mu     sync.Mutex
	pools  map[string]*configPool
	stopCh chan struct{}
}

// New builds a Pool. encryptionKey decrypts SMTPConfig.PasswordCipher;
// idleTimeout is the reaper cadence (spec.md §4.4 default 1 minute).
func New(encryptionKey string, idleTimeout time.Duration, log zerolog.Logger) *Pool {
	if idleTimeout <= 0 {
		idleTimeout = time.Minute
	}
	p := &Pool{
		encryptionKey: encryptionKey,
		idleTimeout:   idleTimeout,
		log:           log,
		pools:         make(map[string]*configPool),
		stopCh:        make(chan struct{}),
	}
	go p.reapLoop()
	return p
}

// Close stops the reaper and closes every cached connection.
func (p *Pool) Close() {
	close(p.stopCh)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cp := range p.pools {
		cp.mu.Lock()
		for _, c := range cp.conns {
			if c.client != nil {
				_ = c.client.Close()
			}
		}
		cp.mu.Unlock()
	}
}

func (p *Pool) reapLoop() {
	ticker := time.NewTicker(p.idleTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *Pool) reapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := time.Now().Add(-p.idleTimeout)
	for key, cp := range p.pools {
		cp.mu.Lock()
		kept := cp.conns[:0]
		for _, c := range cp.conns {
			if !c.inUse && c.lastUsed.Before(cutoff) {
				if err := c.client.Close(); err != nil {
					p.log.Debug().Err(err).Str("pool", key).Msg("smtpengine: close idle connection")
				}
				continue
			}
			kept = append(kept, c)
		}
		cp.conns = kept
		empty := len(cp.conns) == 0
		cp.mu.Unlock()
		if empty {
			delete(p.pools, key)
		}
	}
}

func (p *Pool) poolFor(cfg domain.SMTPConfig) *configPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := cfg.PoolKey()
	cp, ok := p.pools[key]
	if !ok {
		cp = &configPool{cfg: cfg}
		cp.cond = sync.NewCond(&cp.mu)
		p.pools[key] = cp
	}
	return cp
}

// acquire returns an idle connection for cfg, dialing a new one if the pool
// has capacity, or waits up to cfg.Timeout() for a release. Spec.md §4.4
// `acquire(cfg)`. The saturated-pool wait is a cond loop woken either by a
// release or by a deadline timer that broadcasts after cfg.Timeout().
func (p *Pool) acquire(ctx context.Context, cfg domain.SMTPConfig) (*pooledConn, error) {
	cp := p.poolFor(cfg)
	deadline := time.Now().Add(cfg.Timeout())

	expired := false
	timer := time.AfterFunc(cfg.Timeout(), func() {
		cp.mu.Lock()
		expired = true
		cp.mu.Unlock()
		cp.cond.Broadcast()
	})
	defer timer.Stop()

	stop := context.AfterFunc(ctx, func() {
		cp.cond.Broadcast()
	})
	defer stop()

	cp.mu.Lock()
	defer cp.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, c := range cp.conns {
			if !c.inUse {
				c.inUse = true
				return c, nil
			}
		}
		poolSize := cfg.PoolSize
		if poolSize <= 0 {
			poolSize = 5
		}
		if len(cp.conns) < poolSize {
			cp.mu.Unlock()
			conn, err := p.dial(ctx, cfg)
			cp.mu.Lock()
			if err != nil {
				return nil, err
			}
			conn.inUse = true
			cp.conns = append(cp.conns, conn)
			return conn, nil
		}

		if expired || time.Now().After(deadline) {
			return nil, fmt.Errorf("smtpengine: acquire timeout for pool %s", cfg.PoolKey())
		}
		cp.cond.Wait()
	}
}

// release returns conn to the idle set and wakes any waiter.
func (p *Pool) release(cfg domain.SMTPConfig, conn *pooledConn) {
	cp := p.poolFor(cfg)
	cp.mu.Lock()
	conn.inUse = false
	conn.lastUsed = time.Now()
	cp.mu.Unlock()
	cp.cond.Broadcast()
}

// dial decrypts the config's password once and builds a new, already-dialed
// go-mail client, per spec.md §4.4 "passwords are decrypted once per
// transporter creation and held only in the transporter's memory."
func (p *Pool) dial(ctx context.Context, cfg domain.SMTPConfig) (*pooledConn, error) {
	password, err := cryptoutil.DecryptString(cfg.PasswordCipher, p.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("smtpengine: decrypt password: %w", err)
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(password),
		mail.WithTimeout(cfg.Timeout()),
	}
	switch cfg.Encryption {
	case domain.EncryptionTLS:
		opts = append(opts, mail.WithSSL())
	case domain.EncryptionNone:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtpengine: new client: %w", err)
	}
	start := time.Now()
	if err := client.DialWithContext(ctx); err != nil {
		return nil, fmt.Errorf("smtpengine: dial: %w", err)
	}
	obs.SMTPVerifyDuration.WithLabelValues(cfg.Host).Observe(time.Since(start).Seconds())
	return &pooledConn{client: client, lastUsed: time.Now()}, nil
}

// Message is the fully-personalized content the Worker Pool hands to Send.
type Message struct {
	From     domain.Recipient
	To       []domain.Recipient
	CC       []domain.Recipient
	BCC      []domain.Recipient
	ReplyTo  string
	Subject  string
	HTML     string
	Text     string
	Headers  map[string]string
}

// Send acquires a connection for cfg, submits msg, and releases the
// connection, per spec.md §4.4 `send(cfg, message)`.
func (p *Pool) Send(ctx context.Context, cfg domain.SMTPConfig, msg Message) (*SendResult, error) {
	conn, err := p.acquire(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer p.release(cfg, conn)

	m := mail.NewMsg()
	if msg.From.Name != "" {
		if err := m.FromFormat(msg.From.Name, msg.From.Email); err != nil {
			return nil, fmt.Errorf("smtpengine: from address: %w", err)
		}
	} else if err := m.From(msg.From.Email); err != nil {
		return nil, fmt.Errorf("smtpengine: from address: %w", err)
	}

	var accepted []string
	for _, r := range msg.To {
		if err := m.AddToFormat(r.Name, r.Email); err != nil {
			return nil, fmt.Errorf("smtpengine: to address %s: %w", r.Email, err)
		}
		accepted = append(accepted, r.Email)
	}
	for _, r := range msg.CC {
		if err := m.AddCcFormat(r.Name, r.Email); err != nil {
			return nil, fmt.Errorf("smtpengine: cc address %s: %w", r.Email, err)
		}
		accepted = append(accepted, r.Email)
	}
	for _, r := range msg.BCC {
		if err := m.AddBccFormat(r.Name, r.Email); err != nil {
			return nil, fmt.Errorf("smtpengine: bcc address %s: %w", r.Email, err)
		}
		accepted = append(accepted, r.Email)
	}
	if msg.ReplyTo != "" {
		if err := m.ReplyTo(msg.ReplyTo); err != nil {
			return nil, fmt.Errorf("smtpengine: reply-to: %w", err)
		}
	}
	for k, v := range msg.Headers {
		m.SetGenHeader(mail.Header(k), v)
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), cfg.Host)
	m.SetGenHeader(mail.Header("Message-Id"), messageID)
	m.Subject(msg.Subject)

	switch {
	case msg.HTML != "" && msg.Text != "":
		m.SetBodyString(mail.TypeTextHTML, msg.HTML)
		m.AddAlternativeString(mail.TypeTextPlain, msg.Text)
	case msg.HTML != "":
		m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	default:
		m.SetBodyString(mail.TypeTextPlain, msg.Text)
	}

	if err := conn.client.Send(m); err != nil {
		return nil, classify(err)
	}

	return &SendResult{MessageID: messageID, Accepted: accepted}, nil
}

// temporaryError mirrors the standard library's net.Error convention; go-mail
// surfaces dial/protocol failures implementing it to distinguish a dropped
// connection from a hard SMTP rejection (5xx).
type temporaryError interface {
	Temporary() bool
}

// classify maps a go-mail send failure onto spec.md §7's SMTP_TRANSIENT vs
// SMTP_PERMANENT taxonomy so the Worker Pool can decide retry vs. bounce.
func classify(err error) error {
	if te, ok := err.(temporaryError); ok && !te.Temporary() {
		return apperror.Wrap(apperror.KindSMTPPermanent, "smtp send rejected", err)
	}
	return apperror.Wrap(apperror.KindSMTPTransient, "smtp send failed", err)
}
