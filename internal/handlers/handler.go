package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/lithammer/dedent"

	"flowerhub-tryon/internal/catalog"
	"flowerhub-tryon/internal/imagedata"
	"flowerhub-tryon/internal/mediagroup"
	"flowerhub-tryon/internal/session"
	"flowerhub-tryon/internal/telegram"
)

var helpText = strings.TrimSpace(dedent.Dedent(`
	🌸 FlowerHub virtual try-on

	1. Pick a garland from the panel.
	2. Send a portrait photo.
	3. Press "Try on" and wait for your preview.

	/start - show the panel
	/reset - start over
	/help - this message
`))

// Messenger is the part of the Telegram client the handler needs.
type Messenger interface {
	SendText(chatID int64, text string) error
	SendTyping(chatID int64)
	SendPanel(chatID int64, text string, keyboard telegram.InlineKeyboard) (int, error)
	EditPanel(chatID int64, messageID int, text string, keyboard telegram.InlineKeyboard) error
	AnswerCallback(callbackID, text string) error
	SendPhotoDataURL(chatID int64, dataURL string, caption string) error
	DownloadPhoto(ctx context.Context, fileID string) (imagedata.Payload, error)
}

type Options struct {
	Telegram Messenger
	Runner   session.Runner
	Sessions *session.Store
	Logger   *slog.Logger
}

type Handler struct {
	tg         Messenger
	runner     session.Runner
	sessions   *session.Store
	logger     *slog.Logger
	aggregator *mediagroup.Aggregator

	mu     sync.Mutex
	panels map[int64]*panel
}

// panel is the chat's control message, kept in sync with its controller.
type panel struct {
	messageID   int
	ctrl        *session.Controller
	unsubscribe func()
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sessions := opts.Sessions
	if sessions == nil {
		sessions = session.NewStore(session.Options{})
	}

	return &Handler{
		tg:       opts.Telegram,
		runner:   opts.Runner,
		sessions: sessions,
		logger:   logger,
		panels:   make(map[int64]*panel),
	}
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(ctx, update.CallbackQuery)
	}
	if update.Message == nil || update.Message.Chat == nil {
		return nil
	}

	msg := update.Message
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		return h.handleCommand(chatID, msg)
	}

	if len(msg.Photo) > 0 {
		return h.handlePhoto(ctx, chatID, msg)
	}

	if msg.Text != "" {
		return h.handleText(chatID, msg.Text)
	}

	return nil
}

// HandleAlbum keeps the first photo of an album as the portrait.
func (h *Handler) HandleAlbum(ctx context.Context, album mediagroup.Album) {
	if len(album.FileIDs) == 0 {
		return
	}
	if err := h.setPortrait(ctx, album.ChatID, album.FileIDs[0]); err != nil {
		h.logger.Error("album processing failed", "chat_id", album.ChatID, "err", err)
		return
	}
	if len(album.FileIDs) > 1 {
		_ = h.tg.SendText(album.ChatID, fmt.Sprintf("Only the first of %d photos is used for the try-on.", len(album.FileIDs)))
	}
}

func (h *Handler) handleCommand(chatID int64, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return h.showPanel(chatID)
	case "help":
		return h.tg.SendText(chatID, helpText)
	case "reset":
		h.controller(chatID).Reset()
		return h.ensurePanel(chatID)
	default:
		return h.tg.SendText(chatID, "Unknown command. Use /help.")
	}
}

func (h *Handler) handleText(chatID int64, text string) error {
	item, ok := matchGarland(text)
	if !ok {
		return h.tg.SendText(chatID, "Pick a garland from the panel or send a portrait photo. /help")
	}
	h.controller(chatID).SelectItem(item)
	return h.ensurePanel(chatID)
}

func (h *Handler) handlePhoto(ctx context.Context, chatID int64, msg *tgbotapi.Message) error {
	fileID := msg.Photo[len(msg.Photo)-1].FileID

	if msg.MediaGroupID != "" && h.aggregator != nil {
		if h.aggregator.Add(mediagroup.Item{
			ChatID:       chatID,
			MediaGroupID: msg.MediaGroupID,
			FileID:       fileID,
		}) {
			return nil
		}
	}

	return h.setPortrait(ctx, chatID, fileID)
}

func (h *Handler) setPortrait(ctx context.Context, chatID int64, fileID string) error {
	payload, err := h.tg.DownloadPhoto(ctx, fileID)
	if err != nil {
		h.logger.Error("photo download failed", "chat_id", chatID, "err", err)
		return h.tg.SendText(chatID, "❌ Could not read that photo. Please send another one.")
	}

	h.controller(chatID).SetUserPhoto(payload.DataURL())
	return h.ensurePanel(chatID)
}

func (h *Handler) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	if q.Message == nil || q.Message.Chat == nil {
		return nil
	}
	action, arg, ok := parseCallback(q.Data)
	if !ok {
		return h.tg.AnswerCallback(q.ID, "")
	}

	chatID := q.Message.Chat.ID
	h.adoptPanel(chatID, q.Message.MessageID)
	ctrl := h.controller(chatID)

	switch action {
	case actionSelect:
		item, found := catalog.Find(arg)
		if !found {
			return h.tg.AnswerCallback(q.ID, "This garland is no longer available.")
		}
		ctrl.SelectItem(item)
		return h.tg.AnswerCallback(q.ID, item.Name)
	case actionReset:
		ctrl.Reset()
		return h.tg.AnswerCallback(q.ID, "Cleared")
	case actionGenerate:
		return h.generate(ctx, chatID, q.ID, ctrl)
	}
	return h.tg.AnswerCallback(q.ID, "")
}

func (h *Handler) generate(ctx context.Context, chatID int64, callbackID string, ctrl *session.Controller) error {
	if h.runner == nil {
		return h.tg.AnswerCallback(callbackID, "Try-on is not available right now.")
	}

	st := ctrl.Snapshot()
	switch {
	case st.IsProcessing:
		return h.tg.AnswerCallback(callbackID, "Already designing, please wait.")
	case !st.CanGenerate():
		return h.tg.AnswerCallback(callbackID, "Pick a garland and send a photo first.")
	}
	_ = h.tg.AnswerCallback(callbackID, "Designing your look…")
	h.tg.SendTyping(chatID)

	st, err := ctrl.Generate(ctx, h.runner)
	switch {
	case errors.Is(err, session.ErrSuperseded):
		return h.tg.SendText(chatID, "Your selection changed while designing. Press \"Try on\" again.")
	case errors.Is(err, session.ErrNotReady), errors.Is(err, session.ErrBusy):
		return nil
	case err != nil:
		h.logger.Error("try-on failed", "chat_id", chatID, "err", err)
		return nil
	}

	if st.ResultImage == "" {
		return nil
	}
	return h.tg.SendPhotoDataURL(chatID, st.ResultImage, resultCaption(st))
}

func (h *Handler) controller(chatID int64) *session.Controller {
	return h.sessions.Get(sessionKey(chatID))
}

func sessionKey(chatID int64) string {
	return fmt.Sprintf("tg:%d", chatID)
}

func resultCaption(st session.State) string {
	if st.SelectedItem == nil {
		return "✨ Your FlowerHub preview"
	}
	return fmt.Sprintf("✨ %s · £%.0f", st.SelectedItem.Name, st.SelectedItem.Price)
}
