package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Bot API servers refuse downloads above 20 MB.
const maxDownloadBytes = 20 << 20

// FileURLResolver resolves a Telegram file ID to a download URL.
// *tgbotapi.BotAPI implements it.
type FileURLResolver interface {
	GetFileDirectURL(fileID string) (string, error)
}

type DownloaderConfig struct {
	Resolver   FileURLResolver
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Downloader saves Telegram attachments to local files.
type Downloader struct {
	resolver FileURLResolver
	client   *http.Client
	timeout  time.Duration
	logger   *slog.Logger
}

func NewDownloader(cfg DownloaderConfig) *Downloader {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Downloader{
		resolver: cfg.Resolver,
		client:   cfg.HTTPClient,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}
}

// Download writes the file to dest. On error dest may hold a partial file;
// the caller owns its removal.
func (d *Downloader) Download(ctx context.Context, fileID, dest string) error {
	fileURL, err := d.resolver.GetFileDirectURL(fileID)
	if err != nil {
		return fmt.Errorf("resolve file %s: %w", fileID, stripURL(err))
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return fmt.Errorf("new request for file %s: %w", fileID, stripURL(err))
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("download file %s: %w", fileID, stripURL(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download file %s: HTTP %d", fileID, resp.StatusCode)
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}

	n, copyErr := io.Copy(out, io.LimitReader(resp.Body, maxDownloadBytes+1))
	closeErr := out.Close()
	switch {
	case copyErr != nil:
		return fmt.Errorf("write %s: %w", dest, copyErr)
	case closeErr != nil:
		return fmt.Errorf("close %s: %w", dest, closeErr)
	case n > maxDownloadBytes:
		return fmt.Errorf("file %s exceeds %d bytes", fileID, maxDownloadBytes)
	}

	d.logger.Debug("file downloaded", "file_id", fileID, "bytes", n)
	return nil
}

// stripURL drops the request URL from transport errors. Telegram file and
// API URLs embed the bot token.
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}
