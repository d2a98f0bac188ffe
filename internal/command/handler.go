// Package command turns parsed chat commands into WordPress publish calls
// and formats the reply. It knows nothing about Telegram: the channel layer
// builds a Request and sends back whatever string Handle returns.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pressbot/internal/bus"
	"pressbot/internal/publisher"

	"github.com/google/uuid"
)

// Command names.
const (
	CmdStart  = "start"
	CmdHelp   = "help"
	CmdPost   = "post"
	CmdUpload = "upload"
)

// Publisher creates a post from a submission.
type Publisher interface {
	Publish(ctx context.Context, sub publisher.Submission) (*publisher.Result, error)
}

// Downloader fetches a chat attachment to a local path.
type Downloader interface {
	Download(ctx context.Context, fileID, dest string) error
}

// Document is an attachment on the inbound message.
type Document struct {
	FileID   string
	FileName string
}

// Request is one inbound command.
type Request struct {
	ID       string // correlation ID; generated when empty
	Command  string
	ChatID   int64
	UserID   int64
	Args     []string // words after the command, for /post
	Caption  string   // document caption, for /upload
	Document *Document
}

type HandlerConfig struct {
	Publisher  Publisher
	Downloader Downloader
	TempDir    string // default: os.TempDir()
	Events     *bus.EventBus
	Logger     *slog.Logger
}

// Handler is stateless across requests and safe for concurrent use.
type Handler struct {
	publisher  Publisher
	downloader Downloader
	tempDir    string
	events     *bus.EventBus
	logger     *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Handler{
		publisher:  cfg.Publisher,
		downloader: cfg.Downloader,
		tempDir:    cfg.TempDir,
		events:     cfg.Events,
		logger:     cfg.Logger,
	}
}

// errDownloadFailed is the only download error shown to the user; the cause
// is logged.
var errDownloadFailed = errors.New("could not download the attachment")

type reply struct {
	text    string
	outcome string
}

// Handle runs one command and returns the reply text.
func (h *Handler) Handle(ctx context.Context, req Request) string {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	log := h.logger.With("request_id", req.ID, "command", req.Command, "chat_id", req.ChatID)
	log.Info("command received")

	start := time.Now()
	var r reply
	switch req.Command {
	case CmdStart, CmdHelp:
		r = reply{text: WelcomeText, outcome: bus.OutcomeSuccess}
	case CmdPost:
		r = h.post(ctx, req, log)
	case CmdUpload:
		r = h.upload(ctx, req, log)
	default:
		r = reply{text: UnknownCommandText, outcome: bus.OutcomeUsageError}
	}

	h.events.Emit(bus.Event{
		Type:      bus.EventCommandHandled,
		RequestID: req.ID,
		Command:   req.Command,
		ChatID:    req.ChatID,
		UserID:    req.UserID,
		Outcome:   r.outcome,
		Duration:  time.Since(start),
	})
	return r.text
}

func (h *Handler) post(ctx context.Context, req Request, log *slog.Logger) reply {
	args, err := ParsePost(req.Args)
	if err != nil {
		log.Warn("invalid /post arguments", "err", err)
		return reply{text: UsageText(err), outcome: bus.OutcomeUsageError}
	}

	log.Info("creating post", "site", args.Site, "title", args.Title, "content_len", len(args.Content))
	return h.publish(ctx, req, publisher.NewTextSubmission(args.Site, args.Title, args.Content), log)
}

func (h *Handler) upload(ctx context.Context, req Request, log *slog.Logger) reply {
	if req.Document == nil {
		log.Warn("no file attached to /upload command")
		return reply{text: AttachFileText, outcome: bus.OutcomeUsageError}
	}

	args, err := ParseUpload(req.Caption)
	if err != nil {
		log.Warn("invalid /upload caption", "err", err)
		return reply{text: UsageText(err), outcome: bus.OutcomeUsageError}
	}

	path, err := h.tempPath(req.Document)
	if err != nil {
		log.Error("cannot stage attachment", "err", err)
		return reply{text: UnexpectedText(err), outcome: bus.OutcomeInternal}
	}
	defer h.removeTemp(req, path, log)

	if err := h.downloader.Download(ctx, req.Document.FileID, path); err != nil {
		log.Error("attachment download failed", "file_id", req.Document.FileID, "err", err)
		return reply{text: UnexpectedText(errDownloadFailed), outcome: bus.OutcomeInternal}
	}
	log.Info("attachment downloaded", "path", path)

	return h.publish(ctx, req, publisher.NewFileSubmission(args.Site, args.Title, path), log)
}

func (h *Handler) publish(ctx context.Context, req Request, sub publisher.Submission, log *slog.Logger) reply {
	mode, _ := sub.Mode()
	event := bus.Event{
		Type:      bus.EventPublishCompleted,
		RequestID: req.ID,
		Command:   req.Command,
		ChatID:    req.ChatID,
		UserID:    req.UserID,
		Site:      sub.Site,
		Mode:      string(mode),
		Title:     sub.Title,
	}

	start := time.Now()
	res, err := h.publisher.Publish(ctx, sub)
	event.Duration = time.Since(start)

	var r reply
	var pubErr *publisher.Error
	switch {
	case err == nil:
		log.Info("post created", "site", sub.Site, "post_id", res.PostID)
		event.PostID = res.PostID
		r = reply{text: SuccessText(res.PostID), outcome: bus.OutcomeSuccess}
	case errors.As(err, &pubErr):
		log.Error("wordpress rejected post", "site", sub.Site, "err", pubErr.Message)
		r = reply{text: RemoteErrorText(pubErr.Message), outcome: bus.OutcomeRemoteError}
	default:
		log.Error("publish failed", "site", sub.Site, "err", err)
		r = reply{text: UnexpectedText(err), outcome: bus.OutcomeInternal}
	}

	event.Outcome = r.outcome
	if err != nil {
		event.Error = err.Error()
	}
	h.events.Emit(event)
	return r
}

// tempPath names the staged attachment after the platform file ID plus the
// original extension.
func (h *Handler) tempPath(doc *Document) (string, error) {
	if doc.FileID == "" || strings.ContainsAny(doc.FileID, `/\`) || doc.FileID == ".." {
		return "", fmt.Errorf("invalid file id %q", doc.FileID)
	}
	return filepath.Join(h.tempDir, doc.FileID+filepath.Ext(doc.FileName)), nil
}

func (h *Handler) removeTemp(req Request, path string, log *slog.Logger) {
	err := os.Remove(path)
	switch {
	case err == nil:
		log.Info("temporary file deleted", "path", path)
	case errors.Is(err, os.ErrNotExist):
	default:
		log.Error("temporary file not deleted", "path", path, "err", err)
		h.events.Emit(bus.Event{
			Type:      bus.EventTempFileCleanupError,
			RequestID: req.ID,
			Command:   req.Command,
			Path:      path,
			Error:     err.Error(),
		})
	}
}
