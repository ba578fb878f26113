package handlers

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"flowerhub-tryon/internal/catalog"
	"flowerhub-tryon/internal/session"
)

const callbackPrefix = "fh"

const (
	actionSelect   = "sel"
	actionGenerate = "gen"
	actionReset    = "reset"
)

func (h *Handler) showPanel(chatID int64) error {
	ctrl := h.controller(chatID)
	st := ctrl.Snapshot()

	msgID, err := h.tg.SendPanel(chatID, panelText(st), panelKeyboard(st))
	if err != nil {
		return err
	}
	h.attach(chatID, msgID, ctrl)
	return nil
}

// ensurePanel sends a panel if the chat has none. An existing panel follows its
// controller through observers; it only needs re-attaching when the store
// handed out a fresh controller after an idle sweep.
func (h *Handler) ensurePanel(chatID int64) error {
	ctrl := h.controller(chatID)

	h.mu.Lock()
	p, ok := h.panels[chatID]
	h.mu.Unlock()

	if !ok {
		return h.showPanel(chatID)
	}
	if p.ctrl == ctrl {
		return nil
	}

	h.attach(chatID, p.messageID, ctrl)
	st := ctrl.Snapshot()
	return h.tg.EditPanel(chatID, p.messageID, panelText(st), panelKeyboard(st))
}

// adoptPanel makes the message a button was pressed on the chat's panel.
func (h *Handler) adoptPanel(chatID int64, messageID int) {
	h.attach(chatID, messageID, h.controller(chatID))
}

// attach points the chat's panel at messageID and ctrl. Subscribing and
// unsubscribing take the controller's lock, so neither happens under h.mu.
func (h *Handler) attach(chatID int64, messageID int, ctrl *session.Controller) {
	h.mu.Lock()
	if p, ok := h.panels[chatID]; ok && p.ctrl == ctrl {
		p.messageID = messageID
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	unsubscribe := ctrl.Subscribe(h.renderer(chatID))

	h.mu.Lock()
	old, ok := h.panels[chatID]
	if ok && old.ctrl == ctrl {
		old.messageID = messageID
		h.mu.Unlock()
		unsubscribe()
		return
	}
	h.panels[chatID] = &panel{
		messageID:   messageID,
		ctrl:        ctrl,
		unsubscribe: unsubscribe,
	}
	h.mu.Unlock()

	if ok {
		old.unsubscribe()
	}
}

func (h *Handler) renderer(chatID int64) session.Observer {
	return func(st session.State) {
		h.mu.Lock()
		msgID := 0
		if p, ok := h.panels[chatID]; ok {
			msgID = p.messageID
		}
		h.mu.Unlock()

		if msgID == 0 {
			return
		}
		if err := h.tg.EditPanel(chatID, msgID, panelText(st), panelKeyboard(st)); err != nil {
			h.logger.Warn("panel update failed", "chat_id", chatID, "err", err)
		}
	}
}

func panelText(st session.State) string {
	var b strings.Builder
	b.WriteString("🌸 FlowerHub · Virtual Try-On\n\n")

	if st.SelectedItem != nil {
		fmt.Fprintf(&b, "Garland: %s (£%.0f)\n", st.SelectedItem.Name, st.SelectedItem.Price)
	} else {
		b.WriteString("Garland: not selected\n")
	}
	if st.UserPhoto != "" {
		b.WriteString("Portrait: received ✅\n")
	} else {
		b.WriteString("Portrait: send a photo 📷\n")
	}

	switch {
	case st.IsProcessing:
		b.WriteString("\n⏳ Designing your look…")
	case st.Error != "":
		b.WriteString("\n❌ " + st.Error)
	case st.ResultImage != "":
		b.WriteString("\n✨ Your preview is ready.")
	case st.CanGenerate():
		b.WriteString("\nPress \"Try on\" to visualize.")
	}

	return b.String()
}

func panelKeyboard(st session.State) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, item := range catalog.Items() {
		label := item.Name
		if st.SelectedItem != nil && st.SelectedItem.ID == item.ID {
			label = "✓ " + label
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, cb(actionSelect, item.ID)),
		))
	}

	tryLabel := "✨ Try on"
	if st.IsProcessing {
		tryLabel = "⏳ Designing…"
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(tryLabel, cb(actionGenerate)),
		tgbotapi.NewInlineKeyboardButtonData("↺ Reset", cb(actionReset)),
	))

	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func cb(parts ...string) string {
	return callbackPrefix + ":" + strings.Join(parts, ":")
}

func parseCallback(data string) (action, arg string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] != callbackPrefix {
		return "", "", false
	}

	action = parts[1]
	if len(parts) == 3 {
		arg = parts[2]
	}

	switch action {
	case actionSelect:
		return action, arg, arg != ""
	case actionGenerate, actionReset:
		return action, "", true
	}
	return "", "", false
}
