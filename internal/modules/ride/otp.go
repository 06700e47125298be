package ride

import "regexp"

var otpPattern = regexp.MustCompile(`^\d{6}$`)

// ValidateOTP accepts exactly six ASCII digits.
func ValidateOTP(otp string) error {
	if !otpPattern.MatchString(otp) {
		return ErrInvalidOTP
	}
	return nil
}
