package twitchirc

// ValidateLogin checks login against Twitch's channel/user login grammar,
// [a-z0-9_]{1,25} (spec §6). It returns a *LoginValidationError describing
// the first violation found, or nil if login is valid.
func ValidateLogin(login string) error {
	if len(login) == 0 {
		return &LoginValidationError{Reason: "too_short"}
	}
	if len(login) > 25 {
		return &LoginValidationError{Reason: "too_long"}
	}
	for i, r := range login {
		if isValidLoginChar(r) {
			continue
		}
		return &LoginValidationError{Reason: "invalid_character", Position: i, Char: r}
	}
	return nil
}

func isValidLoginChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_':
		return true
	default:
		return false
	}
}
