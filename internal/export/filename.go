package export

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	documentExt  = ".pdf"
	fallbackName = "untitled"
	maxBaseRunes = 120
)

// SanitizeFilename turns a display name into a base filename that is safe on
// common filesystems. Characters in / \ : * ? " < > | and control characters
// are dropped, whitespace runs collapse to one space and the result is NFC
// normalized so visually equal names compare equal.
func SanitizeFilename(name string) string {
	name = norm.NFC.String(name)
	var b strings.Builder
	space := false
	for _, r := range name {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			continue
		case unicode.IsSpace(r):
			space = true
			continue
		case unicode.IsControl(r):
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	base := strings.Trim(b.String(), ". ")
	if runes := []rune(base); len(runes) > maxBaseRunes {
		base = strings.TrimRight(string(runes[:maxBaseRunes]), ". ")
	}
	if base == "" {
		return fallbackName
	}
	return base
}

// namer hands out unique document filenames within one archive. Repeats of a
// base get " (2)", " (3)", ... in first-seen order. Names compare exactly, so
// bases differing only in case keep their own names.
type namer struct {
	counts map[string]int
	used   map[string]bool
}

func newNamer() *namer {
	return &namer{counts: map[string]int{}, used: map[string]bool{}}
}

func (n *namer) next(displayName string) string {
	base := SanitizeFilename(displayName)
	for {
		n.counts[base]++
		name := base
		if c := n.counts[base]; c > 1 {
			name = base + " (" + strconv.Itoa(c) + ")"
		}
		file := name + documentExt
		if !n.used[file] {
			n.used[file] = true
			return file
		}
	}
}
