// Validation rules for the Admission Controller's step 2 (spec.md §4.1):
// address grammar, body caps, and an HTML safety pass. Grounded on the
// teacher's internal/api validation helpers (per-field error accumulation
// returned as a single VALIDATION_ERROR), generalized from campaign-builder
// field checks to this platform's Email payload shape.
package admission

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/ignite/relay/internal/apperror"
	"github.com/ignite/relay/internal/domain"
)

const (
	maxAddressLength = 254
	maxLocalLength   = 64
	maxSubjectLength = 998
	maxHTMLBytes     = 5 * 1024 * 1024
	maxTextBytes     = 1 * 1024 * 1024
	maxRecipients    = 50
)

// fieldError is one path-scoped validation failure; several accumulate into
// a single apperror.KindValidation carrying all of them as Details.
type fieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

var scriptTagPattern = regexp.MustCompile(`(?i)<\s*script[\s>]`)
var onHandlerPattern = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)
var javascriptURLPattern = regexp.MustCompile(`(?i)javascript\s*:`)

// validateAddress applies spec.md §4.1 step 2's pragmatic RFC-5322 grammar
// plus the platform's own length and dot rules.
func validateAddress(addr string) error {
	if len(addr) > maxAddressLength {
		return fmt.Errorf("address exceeds %d characters", maxAddressLength)
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return fmt.Errorf("invalid address: %v", err)
	}
	at := strings.LastIndex(parsed.Address, "@")
	if at < 0 {
		return fmt.Errorf("address missing @")
	}
	local := parsed.Address[:at]
	if len(local) > maxLocalLength {
		return fmt.Errorf("local part exceeds %d characters", maxLocalLength)
	}
	if strings.Contains(parsed.Address, "..") {
		return fmt.Errorf("address contains consecutive dots")
	}
	if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") {
		return fmt.Errorf("address has a leading or trailing dot")
	}
	return nil
}

// htmlSafe runs the spec.md §4.1 step 2 safety pass: reject <script> tags,
// on*= handlers, and javascript: URLs.
func htmlSafe(html string) error {
	if scriptTagPattern.MatchString(html) {
		return fmt.Errorf("html body contains a <script> tag")
	}
	if onHandlerPattern.MatchString(html) {
		return fmt.Errorf("html body contains an on*= event handler")
	}
	if javascriptURLPattern.MatchString(html) {
		return fmt.Errorf("html body contains a javascript: URL")
	}
	return nil
}

// validateRecipients checks a to/cc/bcc array against the length cap and
// per-address grammar, appending any failures at path.
func validateRecipients(path string, rs []domain.Recipient, errs *[]fieldError) {
	if len(rs) > maxRecipients {
		*errs = append(*errs, fieldError{Path: path, Message: fmt.Sprintf("exceeds %d recipients", maxRecipients)})
	}
	for i, r := range rs {
		if err := validateAddress(r.Email); err != nil {
			*errs = append(*errs, fieldError{Path: fmt.Sprintf("%s[%d].email", path, i), Message: err.Error()})
		}
	}
}

// validateSendRequest applies spec.md §4.1 step 2 in full, returning a
// single apperror.KindValidation with per-path details on any failure.
func validateSendRequest(req SendRequest) error {
	var errs []fieldError

	if err := validateAddress(req.From.Email); err != nil {
		errs = append(errs, fieldError{Path: "from.email", Message: err.Error()})
	}
	if len(req.To) == 0 {
		errs = append(errs, fieldError{Path: "to", Message: "at least one recipient is required"})
	}
	validateRecipients("to", req.To, &errs)
	validateRecipients("cc", req.CC, &errs)
	validateRecipients("bcc", req.BCC, &errs)
	if req.ReplyTo != "" {
		if err := validateAddress(req.ReplyTo); err != nil {
			errs = append(errs, fieldError{Path: "replyTo", Message: err.Error()})
		}
	}

	if strings.TrimSpace(req.Subject) == "" {
		errs = append(errs, fieldError{Path: "subject", Message: "subject is required"})
	} else if len(req.Subject) > maxSubjectLength {
		errs = append(errs, fieldError{Path: "subject", Message: fmt.Sprintf("exceeds %d characters", maxSubjectLength)})
	}

	if req.HTMLBody == "" && req.TextBody == "" {
		errs = append(errs, fieldError{Path: "htmlBody", Message: "either htmlBody or textBody is required"})
	}
	if len(req.HTMLBody) > maxHTMLBytes {
		errs = append(errs, fieldError{Path: "htmlBody", Message: fmt.Sprintf("exceeds %d bytes", maxHTMLBytes)})
	}
	if len(req.TextBody) > maxTextBytes {
		errs = append(errs, fieldError{Path: "textBody", Message: fmt.Sprintf("exceeds %d bytes", maxTextBytes)})
	}
	if req.HTMLBody != "" {
		if err := htmlSafe(req.HTMLBody); err != nil {
			errs = append(errs, fieldError{Path: "htmlBody", Message: err.Error()})
		}
	}

	if len(errs) > 0 {
		return apperror.New(apperror.KindValidation, "request validation failed").WithDetails(errs)
	}
	return nil
}
