package pam

// maxLoginNameLen bounds accepted user and group names, matching the
// usual Linux LOGIN_NAME_MAX.
const maxLoginNameLen = 256

// IsValidName reports whether name looks like a plausible user or
// group name, per the POSIX portable user/group name character set
// with a few extensions. Every username must pass this check before
// it is interpolated into a directory filter or echoed in a log line.
//
// Accepted anywhere: @A-Z, a-z, 0-9, '.', '_', '$'.
// Accepted anywhere except first: '-', '~'.
// Accepted anywhere except first and last: '\\', ' '.
func IsValidName(name string) bool {
	if name == "" || len(name) > maxLoginNameLen {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= '@' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '_' || c == '$':
		case (c == '-' || c == '~') && i > 0:
		case (c == '\\' || c == ' ') && i > 0 && i < len(name)-1:
		default:
			return false
		}
	}
	return true
}
