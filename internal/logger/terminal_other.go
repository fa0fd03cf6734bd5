//go:build !linux

package logger

// isTerminal conservatively reports false on platforms without a
// termios probe; the daemon targets Linux and color is cosmetic.
func isTerminal(_ uintptr) bool {
	return false
}
