// internal/security/mask.go
package security

import "regexp"

var phonePattern = regexp.MustCompile(`\+?\d{10,15}`)

// MaskPhone replaces the last four digits of any phone number found in s.
// Log lines carry recipient numbers through here so PII never lands in logs.
func MaskPhone(s string) string {
    return phonePattern.ReplaceAllStringFunc(s, func(m string) string {
        if len(m) < 5 {
            return m
        }
        return m[:len(m)-4] + "****"
    })
}
