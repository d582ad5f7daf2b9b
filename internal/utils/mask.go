package utils

const maskVisible = 4

// MaskSecret keeps a short prefix of long secrets for log correlation and hides the rest.
func MaskSecret(s string) string {
	if len(s) < 3*maskVisible {
		return "*****"
	}
	return s[:maskVisible] + "*****"
}
