package mail

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
)

// ParseAddress extracts a bare lowercase address and display name from an
// RFC 5322 address string, tolerating bare addresses without display names.
func ParseAddress(raw string) (email, name string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		// Bare or malformed input: best effort.
		return strings.ToLower(strings.Trim(raw, "<> ")), ""
	}
	return strings.ToLower(addr.Address), addr.Name
}

// ParseAddressList parses a comma-separated address header value into bare
// lowercase addresses. Malformed entries are skipped rather than failing the
// whole list.
func ParseAddressList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []string
	if addrs, err := mail.ParseAddressList(raw); err == nil {
		for _, a := range addrs {
			out = append(out, strings.ToLower(a.Address))
		}
		return out
	}
	for _, part := range strings.Split(raw, ",") {
		if email, _ := ParseAddress(part); email != "" {
			out = append(out, email)
		}
	}
	return out
}

// SplitAddress splits an address into local part and domain.
func SplitAddress(addr string) (local, domain string, ok bool) {
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "", "", false
	}
	return addr[:at], addr[at+1:], true
}

// ReplyAddress builds the plus-addressed reply-routing address that embeds a
// session token in the assistant's local part.
func ReplyAddress(assistantAddr, sessionToken string) string {
	local, domain, ok := SplitAddress(assistantAddr)
	if !ok {
		return assistantAddr
	}
	return fmt.Sprintf("%s+%s@%s", local, sessionToken, domain)
}

// ExtractRoutingToken pulls the plus-addressed token out of an address, if
// present. Returns "" when the address carries no tag.
func ExtractRoutingToken(addr string) string {
	local, _, ok := SplitAddress(strings.ToLower(strings.TrimSpace(addr)))
	if !ok {
		return ""
	}
	plus := strings.Index(local, "+")
	if plus < 0 || plus == len(local)-1 {
		return ""
	}
	return local[plus+1:]
}

// ValidRoutingToken reports whether a token is a syntactically valid session
// identifier. Session ids are UUIDs, so anything else is noise from an
// unrelated plus-tag.
func ValidRoutingToken(token string) bool {
	if token == "" {
		return false
	}
	_, err := uuid.Parse(token)
	return err == nil
}

// IsAssistantAddress reports whether addr is the assistant's own address in
// either its bare or plus-tagged form.
func IsAssistantAddress(addr, assistantAddr string) bool {
	addr = strings.ToLower(strings.TrimSpace(addr))
	assistantAddr = strings.ToLower(strings.TrimSpace(assistantAddr))
	if addr == assistantAddr {
		return true
	}
	aLocal, aDomain, ok := SplitAddress(addr)
	if !ok {
		return false
	}
	bLocal, bDomain, ok := SplitAddress(assistantAddr)
	if !ok {
		return false
	}
	if aDomain != bDomain {
		return false
	}
	if plus := strings.Index(aLocal, "+"); plus >= 0 {
		aLocal = aLocal[:plus]
	}
	return aLocal == bLocal
}

// CleanMessageID normalizes an RFC Message-ID header value for storage and
// lookup: angle brackets and whitespace are stripped, and any trailing
// domain-like suffix is dropped so the id survives provider rewriting.
func CleanMessageID(raw string) string {
	id := strings.TrimSpace(raw)
	id = strings.Trim(id, "<>")
	id = strings.TrimSpace(id)
	if at := strings.Index(id, "@"); at >= 0 {
		id = id[:at]
	}
	return id
}

// BuildReferences appends the triggering message id to an inherited
// References header value, de-duplicated, preserving order.
func BuildReferences(inherited, triggerRFCID string) string {
	var refs []string
	seen := make(map[string]bool)
	for _, f := range strings.Fields(inherited) {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		refs = append(refs, f)
	}
	if triggerRFCID != "" {
		bracketed := "<" + triggerRFCID + ">"
		if !seen[bracketed] {
			refs = append(refs, bracketed)
		}
	}
	return strings.Join(refs, " ")
}
