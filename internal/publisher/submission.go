package publisher

import "fmt"

// Mode says which WordPress endpoint a submission goes to.
type Mode string

const (
	ModeText Mode = "text" // inline content, /wp/v2/posts
	ModeFile Mode = "file" // markdown upload, /markdown-post-creator/v1/upload-markdown
)

// Submission is one post to create. Exactly one of Content and MarkdownFile
// is set.
type Submission struct {
	Site         string
	Title        string
	Content      string
	MarkdownFile string // local path
}

func NewTextSubmission(site, title, content string) Submission {
	return Submission{Site: site, Title: title, Content: content}
}

func NewFileSubmission(site, title, path string) Submission {
	return Submission{Site: site, Title: title, MarkdownFile: path}
}

// Mode reports the endpoint the submission targets.
func (s Submission) Mode() (Mode, error) {
	switch {
	case s.MarkdownFile != "" && s.Content != "":
		return "", &Error{Message: "Submission must carry either content or a Markdown file, not both."}
	case s.MarkdownFile != "":
		return ModeFile, nil
	case s.Content != "":
		return ModeText, nil
	default:
		return "", &Error{Message: "No Markdown file or content provided."}
	}
}

// Result describes a created post.
type Result struct {
	Site   string
	Mode   Mode
	PostID string
}

// Error is a publishing failure whose message is meant for the user:
// unknown site, unsupported auth method, or an error reported by WordPress.
// Any other error returned by Publish is unexpected.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

func errorf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}
