package console

import (
	"errors"
	"os/exec"
	"runtime"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Decode turns captured child output into UTF-8. Windows consoles speak an OEM
// code page, everything else is passed through.
func Decode(out []byte) string {
	if runtime.GOOS == "windows" {
		if s, err := charmap.CodePage866.NewDecoder().String(string(out)); err == nil {
			return s
		}
		if s, err := charmap.Windows1251.NewDecoder().String(string(out)); err == nil {
			return s
		}
	}
	return string(out)
}

// Tail keeps at most the last max bytes of s without splitting a rune.
func Tail(s string, max int) string {
	if len(s) <= max {
		return s
	}

	start := len(s) - max
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}

// ExitCode is the child's exit status, or -1 when it never ran to completion.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

// Shell returns the platform shell invocation for a command line.
func Shell(command string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C", command}
	}
	return "sh", []string{"-c", command}
}
