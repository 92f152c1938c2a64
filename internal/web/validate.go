package web

import (
	"errors"
	"fmt"
	"net"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/modfin/bulkbrev"
)

const maxSubject = 200
const maxBody = 50000

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func fieldErr(field string, value any, format string, args ...any) error {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...), Value: value}
}

// validateBulk returns one detail per broken rule, nil when the request is fine
func validateBulk(req bulkbrev.BulkRequest, maxRecipients int) []*FieldError {
	return details(errors.Join(
		validateSender(req.Sender),
		validateSubject(req.Subject),
		validateBody(req.Body),
		validateReceivers(req.Receivers, maxRecipients),
	))
}

func details(err error) []*FieldError {
	if err == nil {
		return nil
	}
	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}

	var fes []*FieldError
	for _, e := range errs {
		var fe *FieldError
		if errors.As(e, &fe) {
			fes = append(fes, fe)
			continue
		}
		fes = append(fes, &FieldError{Message: e.Error()})
	}
	return fes
}

func validateSender(sender string) error {
	if !validEmail(sender) {
		return fieldErr("sender", sender, "Sender must be a valid email address")
	}
	return nil
}

func validateSubject(subject string) error {
	if strings.TrimSpace(subject) == "" {
		return fieldErr("subject", subject, "Subject is required")
	}
	if utf8.RuneCountInString(subject) > maxSubject {
		return fieldErr("subject", nil, "Subject must be between 1 and %d characters", maxSubject)
	}
	return nil
}

func validateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return fieldErr("body", nil, "Email body is required")
	}
	if utf8.RuneCountInString(body) > maxBody {
		return fieldErr("body", nil, "Email body must be between 1 and 50,000 characters")
	}
	return nil
}

func validateReceivers(receivers []string, max int) error {
	if len(receivers) == 0 {
		return fieldErr("receivers", nil, "Receivers must be a non-empty array")
	}

	var errs []error
	if len(receivers) > max {
		errs = append(errs, fieldErr("receivers", len(receivers), "Maximum %d recipients allowed per request", max))
	}

	var invalid []string
	for _, r := range receivers {
		if !validEmail(r) {
			invalid = append(invalid, r)
		}
	}
	if len(invalid) > 0 {
		errs = append(errs, fieldErr("receivers", invalid, "Invalid email addresses: %s", strings.Join(invalid, ", ")))
	}

	seen := map[string]struct{}{}
	var dups []string
	for _, r := range receivers {
		k := strings.ToLower(r)
		if _, ok := seen[k]; ok {
			dups = append(dups, r)
			continue
		}
		seen[k] = struct{}{}
	}
	if len(dups) > 0 {
		errs = append(errs, fieldErr("receivers", dups, "Duplicate email addresses found in receivers list"))
	}

	return errors.Join(errs...)
}

// validEmail accepts a bare ascii address with a dotted domain name, display names and ip literals are refused
func validEmail(address string) bool {
	if address == "" || len(address) > 254 {
		return false
	}
	a, err := mail.ParseAddress(address)
	if err != nil || a.Name != "" || a.Address != address {
		return false
	}

	at := strings.LastIndex(address, "@")
	local, domain := address[:at], address[at+1:]
	if local == "" || len(local) > 64 {
		return false
	}
	for _, c := range local {
		if c > 127 {
			return false
		}
	}

	if strings.HasPrefix(domain, "[") || net.ParseIP(domain) != nil {
		return false
	}
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if l == "" || len(l) > 63 || strings.HasPrefix(l, "-") || strings.HasSuffix(l, "-") {
			return false
		}
		for _, c := range l {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c > 127) {
				return false
			}
		}
	}
	tld := labels[len(labels)-1]
	if len(tld) < 2 {
		return false
	}
	for _, c := range tld {
		if c >= '0' && c <= '9' {
			return false
		}
	}
	return true
}
