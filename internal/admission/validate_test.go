package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/relay/internal/apperror"
	"github.com/ignite/relay/internal/domain"
)

func validRequest() SendRequest {
	return SendRequest{
		QueueName: "transactional",
		From:      domain.Recipient{Email: "a@x.io"},
		To:        []domain.Recipient{{Email: "b@y.io"}},
		Subject:   "hi",
		TextBody:  "hi",
	}
}

func TestValidateSendRequestAcceptsMinimalValidPayload(t *testing.T) {
	assert.NoError(t, validateSendRequest(validRequest()))
}

func TestValidateSendRequestRejectsMissingRecipient(t *testing.T) {
	req := validRequest()
	req.To = nil
	err := validateSendRequest(req)
	require.Error(t, err)
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.KindValidation, appErr.Kind)
}

func TestValidateSendRequestRejectsMissingBody(t *testing.T) {
	req := validRequest()
	req.TextBody = ""
	err := validateSendRequest(req)
	require.Error(t, err)
}

func TestValidateSendRequestRejectsEmptySubject(t *testing.T) {
	req := validRequest()
	req.Subject = "   "
	assert.Error(t, validateSendRequest(req))
}

func TestValidateSendRequestRejectsTooManyRecipients(t *testing.T) {
	req := validRequest()
	var to []domain.Recipient
	for i := 0; i < maxRecipients+1; i++ {
		to = append(to, domain.Recipient{Email: "b@y.io"})
	}
	req.To = to
	assert.Error(t, validateSendRequest(req))
}

func TestValidateSendRequestRejectsMalformedAddress(t *testing.T) {
	req := validRequest()
	req.To = []domain.Recipient{{Email: "not-an-address"}}
	assert.Error(t, validateSendRequest(req))
}

func TestValidateSendRequestRejectsConsecutiveDots(t *testing.T) {
	req := validRequest()
	req.To = []domain.Recipient{{Email: "a..b@y.io"}}
	assert.Error(t, validateSendRequest(req))
}

func TestValidateSendRequestRejectsLeadingDotLocalPart(t *testing.T) {
	req := validRequest()
	req.To = []domain.Recipient{{Email: ".b@y.io"}}
	assert.Error(t, validateSendRequest(req))
}

func TestValidateSendRequestRejectsScriptTag(t *testing.T) {
	req := validRequest()
	req.TextBody = ""
	req.HTMLBody = "<p>hi</p><script>alert(1)</script>"
	assert.Error(t, validateSendRequest(req))
}

func TestValidateSendRequestRejectsOnHandler(t *testing.T) {
	req := validRequest()
	req.TextBody = ""
	req.HTMLBody = `<img src=x onerror="alert(1)">`
	assert.Error(t, validateSendRequest(req))
}

func TestValidateSendRequestRejectsJavascriptURL(t *testing.T) {
	req := validRequest()
	req.TextBody = ""
	req.HTMLBody = `<a href="javascript:alert(1)">click</a>`
	assert.Error(t, validateSendRequest(req))
}

func TestValidateSendRequestAllowsSafeHTML(t *testing.T) {
	req := validRequest()
	req.TextBody = ""
	req.HTMLBody = `<p>hello <b>world</b></p>`
	assert.NoError(t, validateSendRequest(req))
}

func TestValidateSendRequestRejectsOversizedSubject(t *testing.T) {
	req := validRequest()
	long := make([]byte, maxSubjectLength+1)
	for i := range long {
		long[i] = 'a'
	}
	req.Subject = string(long)
	assert.Error(t, validateSendRequest(req))
}

func TestValidQueueName(t *testing.T) {
	assert.True(t, ValidQueueName("transactional"))
	assert.True(t, ValidQueueName("marketing-2024"))
	assert.False(t, ValidQueueName(""))
	assert.False(t, ValidQueueName("Has_Underscore"))
	assert.False(t, ValidQueueName("Has Space"))
}
