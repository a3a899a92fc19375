// Package domain holds the data model shared by every component: tenants,
// queues, SMTP configs, emails, events, suppressions, scheduled jobs,
// webhook deliveries, and tracking links.
package domain

import "time"

// EmailStatus is the lifecycle state of an Email row.
type EmailStatus string

const (
	EmailQueued     EmailStatus = "queued"
	EmailProcessing EmailStatus = "processing"
	EmailSent       EmailStatus = "sent"
	EmailDelivered  EmailStatus = "delivered"
	EmailBounced    EmailStatus = "bounced"
	EmailFailed     EmailStatus = "failed"
	EmailCancelled  EmailStatus = "cancelled"
)

// Terminal reports whether a status admits no further transitions.
func (s EmailStatus) Terminal() bool {
	switch s {
	case EmailSent, EmailDelivered, EmailBounced, EmailFailed, EmailCancelled:
		return true
	default:
		return false
	}
}

// EventType enumerates the kinds of Email Event rows.
type EventType string

const (
	EventQueued       EventType = "queued"
	EventProcessing   EventType = "processing"
	EventSent         EventType = "sent"
	EventDelivered    EventType = "delivered"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventBounced      EventType = "bounced"
	EventComplained   EventType = "complained"
	EventUnsubscribed EventType = "unsubscribed"
)

// SuppressionReason enumerates why an address is suppressed.
type SuppressionReason string

const (
	ReasonHardBounce SuppressionReason = "hard_bounce"
	ReasonSoftBounce SuppressionReason = "soft_bounce"
	ReasonComplaint  SuppressionReason = "complaint"
	ReasonUnsubscribe SuppressionReason = "unsubscribe"
	ReasonManual     SuppressionReason = "manual"
)

// WebhookDeliveryStatus is the lifecycle of a Webhook Delivery row.
type WebhookDeliveryStatus string

const (
	WebhookPending   WebhookDeliveryStatus = "pending"
	WebhookDelivered WebhookDeliveryStatus = "delivered"
	WebhookFailed    WebhookDeliveryStatus = "failed"
)

// EncryptionMode is the transport-security mode of an SMTP Config.
type EncryptionMode string

const (
	EncryptionTLS      EncryptionMode = "tls"
	EncryptionSTARTTLS EncryptionMode = "starttls"
	EncryptionNone     EncryptionMode = "none"
)

// Recipient is a single {email, name?} entry in a to/cc/bcc array.
type Recipient struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Tenant (a.k.a. App) is the billing and isolation boundary.
type Tenant struct {
	ID                   string         `json:"id"`
	AccountID            *string        `json:"accountId,omitempty"`
	Name                 string         `json:"name"`
	Active               bool           `json:"active"`
	Sandbox              bool           `json:"sandbox"`
	WebhookURL           *string        `json:"webhookUrl,omitempty"`
	EncryptedWebhookSecret *string      `json:"-"`
	DailyQuota           *int64         `json:"dailyQuota,omitempty"`
	MonthlyQuota         *int64         `json:"monthlyQuota,omitempty"`
	Settings             map[string]any `json:"settings,omitempty"`
	ReputationScore      float64        `json:"reputationScore"`
	CreatedAt            time.Time      `json:"createdAt"`
}

// APIKey authenticates a caller against a tenant with a set of scopes.
type APIKey struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenantId"`
	HashedKey    string     `json:"-"`
	Scopes       []string   `json:"scopes"`
	IPAllowlist  []string   `json:"ipAllowlist,omitempty"`
	RateLimitOverride *int  `json:"rateLimitOverride,omitempty"`
	Active       bool       `json:"active"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Queue is a named send channel within a tenant.
type Queue struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenantId"`
	Name            string    `json:"name"`
	Priority        int       `json:"priority"`
	RateLimitPerMin *int      `json:"rateLimitPerMinute,omitempty"`
	MaxRetries      int       `json:"maxRetries"`
	RetryDelaySeq   []int     `json:"retryDelaySeconds"`
	SMTPConfigID    *string   `json:"smtpConfigId,omitempty"`
	Paused          bool      `json:"paused"`
	TrackOpens      bool      `json:"trackOpens"`
	TrackClicks     bool      `json:"trackClicks"`
	CreatedAt       time.Time `json:"createdAt"`
}

// DefaultRetryDelaySeconds is the backoff sequence used when a queue does
// not configure its own (spec.md §4.2).
var DefaultRetryDelaySeconds = []int{30, 120, 600, 3600, 86400}

// BackoffSeconds returns the retry delay for the given attempt count,
// clamped to the sequence's final entry once attempts exceed its length.
func (q Queue) BackoffSeconds(attempts int) int {
	seq := q.RetryDelaySeq
	if len(seq) == 0 {
		seq = DefaultRetryDelaySeconds
	}
	idx := attempts
	if idx >= len(seq) {
		idx = len(seq) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return seq[idx]
}

// SMTPConfig is a tenant's outbound relay configuration. Password is held
// only as ciphertext; it is decrypted solely inside the SMTP Engine.
type SMTPConfig struct {
	ID               string         `json:"id"`
	TenantID         string         `json:"tenantId"`
	Name             string         `json:"name"`
	Host             string         `json:"host"`
	Port             int            `json:"port"`
	Username         string         `json:"username"`
	PasswordCipher   string         `json:"-"`
	Encryption       EncryptionMode `json:"encryption"`
	PoolSize         int            `json:"poolSize"`
	TimeoutMillis    int            `json:"timeoutMs"`
	Active           bool           `json:"active"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// Timeout returns the configured SMTP timeout as a duration.
func (c SMTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

// PoolKey is the connection-pool key, hash(host|port|user), per spec.md §4.4.
func (c SMTPConfig) PoolKey() string {
	return poolKeyHash(c.Host, c.Port, c.Username)
}

// Email is a single outbound message and its delivery lifecycle.
type Email struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenantId"`
	QueueID         string         `json:"queueId"`
	IdempotencyKey  *string        `json:"idempotencyKey,omitempty"`
	MessageID       *string        `json:"messageId,omitempty"`
	FromEmail       string         `json:"fromEmail"`
	FromName        string         `json:"fromName,omitempty"`
	To              []Recipient    `json:"to"`
	CC              []Recipient    `json:"cc,omitempty"`
	BCC             []Recipient    `json:"bcc,omitempty"`
	ReplyTo         string         `json:"replyTo,omitempty"`
	Subject         string         `json:"subject"`
	HTMLBody        string         `json:"htmlBody,omitempty"`
	TextBody        string         `json:"textBody,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	Personalization map[string]any    `json:"personalization,omitempty"`
	Metadata        map[string]any    `json:"metadata,omitempty"`
	Status          EmailStatus    `json:"status"`
	RetryCount      int            `json:"retryCount"`
	LastError       *string        `json:"lastError,omitempty"`
	ScheduledAt     *time.Time     `json:"scheduledAt,omitempty"`
	SentAt          *time.Time     `json:"sentAt,omitempty"`
	DeliveredAt     *time.Time     `json:"deliveredAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// AllRecipients returns to, cc, and bcc concatenated for suppression checks.
func (e Email) AllRecipients() []Recipient {
	out := make([]Recipient, 0, len(e.To)+len(e.CC)+len(e.BCC))
	out = append(out, e.To...)
	out = append(out, e.CC...)
	out = append(out, e.BCC...)
	return out
}

// EmailEvent is an append-only lifecycle record.
type EmailEvent struct {
	ID        string         `json:"id"`
	EmailID   string         `json:"emailId"`
	Type      EventType      `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// SuppressionEntry blocks outbound mail to an address, tenant- or
// globally-scoped (TenantID == nil).
type SuppressionEntry struct {
	ID           string            `json:"id"`
	TenantID     *string           `json:"tenantId,omitempty"`
	Email        string            `json:"email"`
	Reason       SuppressionReason `json:"reason"`
	SourceEmailID *string          `json:"sourceEmailId,omitempty"`
	ExpiresAt    *time.Time        `json:"expiresAt,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// Active reports whether the entry currently blocks sends.
func (s SuppressionEntry) Active(now time.Time) bool {
	return s.ExpiresAt == nil || s.ExpiresAt.After(now)
}

// ScheduledJob is a cron-driven recurring send.
type ScheduledJob struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenantId"`
	QueueID        string         `json:"queueId"`
	CronExpression string         `json:"cronExpression"`
	Timezone       string         `json:"timezone"`
	EmailTemplate  map[string]any `json:"emailTemplate"`
	Active         bool           `json:"active"`
	LastRunAt      *time.Time     `json:"lastRunAt,omitempty"`
	NextRunAt      *time.Time     `json:"nextRunAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// WebhookDelivery tracks one outbound webhook attempt chain.
type WebhookDelivery struct {
	ID           string                `json:"id"`
	TenantID     string                `json:"tenantId"`
	SourceEmailID *string              `json:"sourceEmailId,omitempty"`
	EventType    EventType             `json:"eventType"`
	Payload      map[string]any        `json:"payload"`
	Status       WebhookDeliveryStatus `json:"status"`
	Attempts     int                   `json:"attempts"`
	LastError    *string               `json:"lastError,omitempty"`
	NextRetryAt  *time.Time            `json:"nextRetryAt,omitempty"`
	DeliveredAt  *time.Time            `json:"deliveredAt,omitempty"`
	CreatedAt    time.Time             `json:"createdAt"`
}

// WebhookQueueName is the logical broker queue webhook deliveries are
// enqueued onto, distinct from the per-tenant-Queue email queues (spec.md
// §4.5).
const WebhookQueueName = "webhooks"

// TrackingLink is a short-code redirect recorded against an email.
type TrackingLink struct {
	ID          string    `json:"id"`
	EmailID     string    `json:"emailId"`
	ShortCode   string    `json:"shortCode"`
	OriginalURL string    `json:"originalUrl"`
	ClickCount  int       `json:"clickCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Cursor encodes a page boundary for (created-at desc, id desc) listings.
type Cursor struct {
	CreatedAt time.Time `json:"c"`
	ID        string    `json:"i"`
}
