// Package format renders human-readable invoice numbers.
package format

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var seqPadRe = regexp.MustCompile(`\{SEQ(\d+)\}`)

const DefaultTemplate = "INV-{SEQ5}"

// Template turns a configured prefix into a number template. A prefix that already
// carries tokens is used as is.
func Template(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return DefaultTemplate
	}
	if strings.Contains(prefix, "{") {
		return prefix
	}
	return prefix + "{SEQ5}"
}

// InvoiceNumber expands date tokens ({YYYY} {YY} {MM} {DD}) and the per-organization
// sequence ({SEQ}, or {SEQn} zero padded to n digits).
func InvoiceNumber(template string, generatedAt time.Time, seq int64) (string, error) {
	if strings.TrimSpace(template) == "" {
		return "", fmt.Errorf("invoice number template is empty")
	}
	if seq <= 0 {
		return "", fmt.Errorf("invalid invoice sequence: %d", seq)
	}

	out := strings.NewReplacer(
		"{YYYY}", generatedAt.Format("2006"),
		"{YY}", generatedAt.Format("06"),
		"{MM}", generatedAt.Format("01"),
		"{DD}", generatedAt.Format("02"),
		"{SEQ}", strconv.FormatInt(seq, 10),
	).Replace(template)

	out = seqPadRe.ReplaceAllStringFunc(out, func(token string) string {
		width, err := strconv.Atoi(seqPadRe.FindStringSubmatch(token)[1])
		if err != nil || width <= 0 {
			return token
		}
		return fmt.Sprintf("%0*d", width, seq)
	})

	if strings.ContainsAny(out, "{}") {
		return "", fmt.Errorf("unresolved token in invoice number: %s", out)
	}
	return out, nil
}
