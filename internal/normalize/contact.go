package normalize

import "strings"

// Phone strips every non-digit, drops a leading country code 1 from an
// 11-digit number and accepts only the resulting 10-digit form. The second
// return is false when the phone is absent or unusable.
func Phone(raw string) (string, bool) {
	d := digits(raw)
	if len(d) == 11 && d[0] == '1' {
		d = d[1:]
	}
	if len(d) != 10 {
		return "", false
	}
	return d, true
}

// PartialPhone returns the last seven digits of raw, the local number
// without area code. Used only in combination with PartialAddress.
func PartialPhone(raw string) (string, bool) {
	d := digits(raw)
	if len(d) < 7 {
		return "", false
	}
	return d[len(d)-7:], true
}

// Email lowercases and trims an address, dropping stray quotes and angle
// brackets left by spreadsheet exports.
func Email(raw string) string {
	email := strings.ToLower(strings.TrimSpace(raw))
	return strings.Trim(email, "\"'<> ")
}

// PostalCode returns the five-digit ZIP of raw. ZIP+4 suffixes and float
// artifacts ("43215.0") are removed. Anything that is not five digits after
// that is returned as "", false.
func PostalCode(raw string) (string, bool) {
	z := strings.TrimSpace(raw)
	if idx := strings.Index(z, "."); idx > 0 {
		z = z[:idx]
	}
	if idx := strings.Index(z, "-"); idx > 0 {
		z = z[:idx]
	}
	if len(z) == 9 && digits(z) == z {
		z = z[:5]
	}
	if len(z) == 4 && digits(z) == z {
		// leading zero lost by a numeric column (New England ZIPs)
		z = "0" + z
	}
	if len(z) != 5 || digits(z) != z {
		return "", false
	}
	return z, true
}

func digits(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
