package command

import (
	"errors"
	"strings"
	"unicode"
)

const (
	postDelimiter = "|"
	uploadPrefix  = "/upload"
	minPostArgs   = 3 // site + at least two words
)

// Parse errors. Each maps to a fixed reply via UsageText.
var (
	ErrPostUsage        = errors.New("post: not enough arguments")
	ErrMissingDelimiter = errors.New("post: missing '|' between title and content")
	ErrBadCaption       = errors.New("upload: caption does not start with /upload")
	ErrUploadUsage      = errors.New("upload: not enough arguments")
)

// PostArgs is a parsed /post command.
type PostArgs struct {
	Site    string
	Title   string
	Content string
}

// UploadArgs is a parsed /upload caption.
type UploadArgs struct {
	Site  string
	Title string
}

// ParsePost parses the whitespace-separated words that follow /post.
// Words after the site are rejoined with single spaces and split once on
// the first '|' into title and content.
func ParsePost(args []string) (PostArgs, error) {
	if len(args) < minPostArgs {
		return PostArgs{}, ErrPostUsage
	}

	combined := strings.Join(args[1:], " ")
	title, content, found := strings.Cut(combined, postDelimiter)
	if !found {
		return PostArgs{}, ErrMissingDelimiter
	}

	return PostArgs{
		Site:    args[0],
		Title:   strings.TrimSpace(title),
		Content: strings.TrimSpace(content),
	}, nil
}

// ParseUpload parses a document caption of the form
// "/upload <site> <title...>". The title is everything after the site,
// '|' included.
func ParseUpload(caption string) (UploadArgs, error) {
	if caption == "" || !strings.HasPrefix(caption, uploadPrefix) {
		return UploadArgs{}, ErrBadCaption
	}

	parts := splitN(caption, 3)
	if len(parts) < 3 {
		return UploadArgs{}, ErrUploadUsage
	}

	return UploadArgs{
		Site:  parts[1],
		Title: strings.TrimSpace(parts[2]),
	}, nil
}

// splitN splits s on runs of whitespace into at most n fields; the last
// field keeps the remainder of s starting at its first non-space rune.
func splitN(s string, n int) []string {
	var out []string
	rest := strings.TrimLeftFunc(s, unicode.IsSpace)
	for rest != "" && len(out) < n-1 {
		i := strings.IndexFunc(rest, unicode.IsSpace)
		if i < 0 {
			out = append(out, rest)
			return out
		}
		out = append(out, rest[:i])
		rest = strings.TrimLeftFunc(rest[i:], unicode.IsSpace)
	}
	if rest != "" {
		out = append(out, rest)
	}
	return out
}
