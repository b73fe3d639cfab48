package storage

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxFilenameBytes = 255

// SanitizeFilename strips everything that lets an untrusted name address a
// different directory or break common filesystems. It returns "" when nothing
// usable is left.
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == utf8.RuneError, unicode.IsControl(r):
			continue
		case strings.ContainsRune(`/\?<>:*|"`, r):
			continue
		}
		b.WriteRune(r)
	}

	out := strings.TrimSpace(b.String())
	out = strings.TrimRight(out, ". ")
	if out == "" || out == "." || out == ".." {
		return ""
	}
	if reserved(out) {
		out = "_" + out
	}
	return truncate(out, maxFilenameBytes)
}

// reserved reports Windows device names.
func reserved(name string) bool {
	stem := strings.ToUpper(name)
	if i := strings.IndexByte(stem, '.'); i >= 0 {
		stem = stem[:i]
	}
	switch stem {
	case "CON", "PRN", "AUX", "NUL",
		"COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9",
		"LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9":
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
