package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"flowerhub-tryon/internal/imagedata"
)

const (
	maxTextBytes    = 4096
	maxCaptionBytes = 1024
)

type Options struct {
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Debug      bool
	// MaxPhotoBytes caps downloaded user photos; <= 0 uses 10 MiB.
	MaxPhotoBytes int64
}

type Client struct {
	bot           *tgbotapi.BotAPI
	httpClient    *http.Client
	logger        *slog.Logger
	maxPhotoBytes int64
}

type (
	Update         = tgbotapi.Update
	InlineKeyboard = tgbotapi.InlineKeyboardMarkup
)

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if opts.HTTPClient == nil {
		return nil, errors.New("http client is nil")
	}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.Token, tgbotapi.APIEndpoint, opts.HTTPClient)
	if err != nil {
		return nil, err
	}
	bot.Debug = opts.Debug

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	maxPhoto := opts.MaxPhotoBytes
	if maxPhoto <= 0 {
		maxPhoto = 10 << 20
	}

	return &Client{
		bot:           bot,
		httpClient:    opts.HTTPClient,
		logger:        logger,
		maxPhotoBytes: maxPhoto,
	}, nil
}

func (c *Client) Username() string {
	return c.bot.Self.UserName
}

type UpdatesOptions struct {
	Timeout time.Duration
}

func (c *Client) Updates(opts UpdatesOptions) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	if opts.Timeout > 0 {
		u.Timeout = int(opts.Timeout.Seconds())
	}
	u.AllowedUpdates = []string{"message", "callback_query"}
	return c.bot.GetUpdatesChan(u)
}

func (c *Client) StopUpdates() {
	c.bot.StopReceivingUpdates()
}

func (c *Client) SendTyping(chatID int64) {
	_, _ = c.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatUploadPhoto))
}

func (c *Client) SendText(chatID int64, text string) error {
	for _, p := range splitByBytes(text, maxTextBytes) {
		if _, err := c.bot.Send(tgbotapi.NewMessage(chatID, p)); err != nil {
			return err
		}
	}
	return nil
}

// SendPanel posts a message with an inline keyboard and returns its id so it
// can be edited in place later.
func (c *Client) SendPanel(chatID int64, text string, keyboard InlineKeyboard) (int, error) {
	msg := tgbotapi.NewMessage(chatID, truncateByBytes(text, maxTextBytes))
	msg.ReplyMarkup = keyboard
	sent, err := c.bot.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (c *Client) EditPanel(chatID int64, messageID int, text string, keyboard InlineKeyboard) error {
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, truncateByBytes(text, maxTextBytes), keyboard)
	_, err := c.bot.Request(edit)
	if isNotModified(err) {
		return nil
	}
	return err
}

func (c *Client) AnswerCallback(callbackID, text string) error {
	_, err := c.bot.Request(tgbotapi.NewCallback(callbackID, text))
	return err
}

// SendPhotoDataURL uploads an image held as a data URL (or bare base64).
func (c *Client) SendPhotoDataURL(chatID int64, dataURL string, caption string) error {
	payload, err := imagedata.Parse(dataURL)
	if err != nil {
		return err
	}
	data, err := payload.Bytes()
	if err != nil {
		return fmt.Errorf("decode base64: %w", err)
	}

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
		Name:  photoFileName(payload.MimeType),
		Bytes: data,
	})
	if caption != "" {
		photo.Caption = truncateByBytes(caption, maxCaptionBytes)
	}

	_, err = c.bot.Send(photo)
	return err
}

// DownloadPhoto fetches a Telegram file and encodes it as an image payload.
func (c *Client) DownloadPhoto(ctx context.Context, fileID string) (imagedata.Payload, error) {
	fileURL, err := c.bot.GetFileDirectURL(fileID)
	if err != nil {
		return imagedata.Payload{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return imagedata.Payload{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return imagedata.Payload{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return imagedata.Payload{}, fmt.Errorf("telegram file download %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	return imagedata.FromReader(resp.Body, resp.Header.Get("content-type"), c.maxPhotoBytes)
}

func photoFileName(mimeType string) string {
	switch mimeType {
	case "image/png":
		return "tryon.png"
	case "image/webp":
		return "tryon.webp"
	case "image/gif":
		return "tryon.gif"
	}
	return "tryon.jpg"
}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

func splitByBytes(text string, maxBytes int) []string {
	if len(text) <= maxBytes || maxBytes <= 0 {
		return []string{text}
	}

	var out []string
	var buf strings.Builder
	buf.Grow(maxBytes)

	for _, r := range text {
		n := utf8.RuneLen(r)
		if n < 0 {
			n = len(string(r))
		}
		if buf.Len() > 0 && buf.Len()+n > maxBytes {
			out = append(out, buf.String())
			buf.Reset()
		}
		buf.WriteRune(r)
	}

	if buf.Len() > 0 {
		out = append(out, buf.String())
	}
	return out
}

func truncateByBytes(text string, maxBytes int) string {
	if len(text) <= maxBytes || maxBytes <= 0 {
		return text
	}

	var buf strings.Builder
	buf.Grow(maxBytes)
	for _, r := range text {
		n := utf8.RuneLen(r)
		if n < 0 {
			n = len(string(r))
		}
		if buf.Len()+n > maxBytes {
			break
		}
		buf.WriteRune(r)
	}
	return buf.String()
}
