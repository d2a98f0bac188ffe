package command

import (
	"errors"
	"fmt"
)

const (
	WelcomeText = "Welcome!\n" +
		"Use /post <site> <title> | <content> to create a post.\n" +
		"Example: /post site1 My New Post | This is the content of my new post.\n\n" +
		"Or use /upload <site> <title> and attach a Markdown file."

	PostUsageText = "Usage: /post <site> <title> | <content>\n" +
		"Example: /post site1 My New Post | This is the content."

	MissingDelimiterText = "Please separate the title and content with '|'.\n" +
		"Example: /post site1 My New Post | This is the content."

	AttachFileText = "Please attach a Markdown file with the command."

	BadCaptionText = "Please use '/upload <site> <title>' as the caption for the attached file."

	UploadUsageText = "Usage: /upload <site> <title>\n" +
		"Attach a Markdown file with the command."

	UnknownCommandText = "Unknown command. Type /help for available commands."

	UnauthorizedText = "Unauthorized. Your user ID is not in the allow list."
)

// UsageText returns the reply for a parse error.
func UsageText(err error) string {
	switch {
	case errors.Is(err, ErrPostUsage):
		return PostUsageText
	case errors.Is(err, ErrMissingDelimiter):
		return MissingDelimiterText
	case errors.Is(err, ErrBadCaption):
		return BadCaptionText
	case errors.Is(err, ErrUploadUsage):
		return UploadUsageText
	default:
		return UnexpectedText(err)
	}
}

func SuccessText(postID string) string {
	if postID == "" {
		postID = "unknown"
	}
	return fmt.Sprintf("Post created successfully!\nPost ID: %s", postID)
}

func RemoteErrorText(msg string) string {
	return "Error: " + msg
}

func UnexpectedText(err error) string {
	return fmt.Sprintf("An error occurred: %v", err)
}
