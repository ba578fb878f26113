package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowerhub-tryon/internal/catalog"
	"flowerhub-tryon/internal/imagedata"
	"flowerhub-tryon/internal/mediagroup"
	"flowerhub-tryon/internal/session"
	"flowerhub-tryon/internal/telegram"
	"flowerhub-tryon/internal/tryon"
)

type sentPanel struct {
	chatID    int64
	messageID int
	text      string
	keyboard  telegram.InlineKeyboard
}

type fakeMessenger struct {
	mu        sync.Mutex
	nextID    int
	texts     []string
	panels    []sentPanel
	edits     []sentPanel
	answers   []string
	photos    []string
	captions  []string
	downloads []string
	dlErr     error
}

func (f *fakeMessenger) SendText(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeMessenger) SendTyping(int64) {}

func (f *fakeMessenger) SendPanel(chatID int64, text string, kb telegram.InlineKeyboard) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.panels = append(f.panels, sentPanel{chatID, f.nextID, text, kb})
	return f.nextID, nil
}

func (f *fakeMessenger) EditPanel(chatID int64, messageID int, text string, kb telegram.InlineKeyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, sentPanel{chatID, messageID, text, kb})
	return nil
}

func (f *fakeMessenger) AnswerCallback(_ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeMessenger) SendPhotoDataURL(_ int64, dataURL string, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos = append(f.photos, dataURL)
	f.captions = append(f.captions, caption)
	return nil
}

func (f *fakeMessenger) DownloadPhoto(_ context.Context, fileID string) (imagedata.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, fileID)
	if f.dlErr != nil {
		return imagedata.Payload{}, f.dlErr
	}
	return imagedata.Payload{MimeType: "image/png", Data: "UE5H"}, nil
}

func (f *fakeMessenger) lastEdit() sentPanel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return sentPanel{}
	}
	return f.edits[len(f.edits)-1]
}

type runnerFunc func(ctx context.Context, userPhoto, referenceURL string) (string, error)

func (f runnerFunc) Run(ctx context.Context, userPhoto, referenceURL string) (string, error) {
	return f(ctx, userPhoto, referenceURL)
}

const chatID = int64(42)

func command(text string) telegram.Update {
	return telegram.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}}
}

func photo(fileIDs ...string) telegram.Update {
	sizes := make([]tgbotapi.PhotoSize, 0, len(fileIDs))
	for _, id := range fileIDs {
		sizes = append(sizes, tgbotapi.PhotoSize{FileID: id})
	}
	return telegram.Update{Message: &tgbotapi.Message{
		Chat:  &tgbotapi.Chat{ID: chatID},
		Photo: sizes,
	}}
}

func callback(data string, messageID int) telegram.Update {
	return telegram.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb",
		Data: data,
		Message: &tgbotapi.Message{
			MessageID: messageID,
			Chat:      &tgbotapi.Chat{ID: chatID},
		},
	}}
}

func newHandler(runner session.Runner) (*Handler, *fakeMessenger, *session.Store) {
	tg := &fakeMessenger{}
	store := session.NewStore(session.Options{})
	h := New(Options{Telegram: tg, Runner: runner, Sessions: store})
	return h, tg, store
}

func TestHandler_FullFlow(t *testing.T) {
	var gotURL string
	h, tg, store := newHandler(runnerFunc(func(_ context.Context, _ string, url string) (string, error) {
		gotURL = url
		return "data:image/png;base64,UkVT", nil
	}))
	ctx := context.Background()

	require.NoError(t, h.HandleUpdate(ctx, command("/start")))
	require.Len(t, tg.panels, 1)
	panelID := tg.panels[0].messageID
	assert.Contains(t, tg.panels[0].text, "Garland: not selected")

	require.NoError(t, h.HandleUpdate(ctx, callback("fh:sel:rose-velvet", panelID)))
	assert.Contains(t, tg.lastEdit().text, "Velvet Rose Ombre")
	assert.Equal(t, panelID, tg.lastEdit().messageID)

	require.NoError(t, h.HandleUpdate(ctx, photo("small", "large")))
	assert.Equal(t, []string{"large"}, tg.downloads)
	assert.Contains(t, tg.lastEdit().text, "Portrait: received")

	require.NoError(t, h.HandleUpdate(ctx, callback("fh:gen", panelID)))
	assert.Equal(t, "https://images.unsplash.com/photo-1548092372-0d1bd40894a3?auto=format&fit=crop&q=80&w=800", gotURL)
	require.Len(t, tg.photos, 1)
	assert.Equal(t, "data:image/png;base64,UkVT", tg.photos[0])
	assert.Contains(t, tg.captions[0], "Velvet Rose Ombre")
	assert.Contains(t, tg.lastEdit().text, "preview is ready")

	st := store.Get(sessionKey(chatID)).Snapshot()
	assert.Equal(t, "data:image/png;base64,UkVT", st.ResultImage)

	require.NoError(t, h.HandleUpdate(ctx, callback("fh:reset", panelID)))
	st = store.Get(sessionKey(chatID)).Snapshot()
	assert.Empty(t, st.UserPhoto)
	assert.Nil(t, st.SelectedItem)
}

func TestHandler_GenerateNotReady(t *testing.T) {
	called := false
	h, tg, _ := newHandler(runnerFunc(func(context.Context, string, string) (string, error) {
		called = true
		return "", nil
	}))

	require.NoError(t, h.HandleUpdate(context.Background(), callback("fh:gen", 7)))
	assert.False(t, called)
	assert.Equal(t, []string{"Pick a garland and send a photo first."}, tg.answers)
	assert.Empty(t, tg.photos)
}

func TestHandler_GenerateFailureShownOnPanel(t *testing.T) {
	h, tg, _ := newHandler(runnerFunc(func(context.Context, string, string) (string, error) {
		return "", tryon.ErrNoImage
	}))
	ctx := context.Background()

	require.NoError(t, h.HandleUpdate(ctx, command("/start")))
	require.NoError(t, h.HandleUpdate(ctx, callback("fh:sel:jasmine-royal", 1)))
	require.NoError(t, h.HandleUpdate(ctx, photo("p")))
	require.NoError(t, h.HandleUpdate(ctx, callback("fh:gen", 1)))

	assert.Empty(t, tg.photos)
	assert.Contains(t, tg.lastEdit().text, session.FailureMessage(tryon.ErrNoImage))
}

func TestHandler_PhotoDownloadFails(t *testing.T) {
	h, tg, store := newHandler(nil)
	tg.dlErr = errors.New("boom")

	require.NoError(t, h.HandleUpdate(context.Background(), photo("p")))
	assert.Len(t, tg.texts, 1)
	assert.Empty(t, store.Get(sessionKey(chatID)).Snapshot().UserPhoto)
}

func TestHandler_TextSelectsGarland(t *testing.T) {
	h, tg, store := newHandler(nil)
	ctx := context.Background()

	require.NoError(t, h.HandleUpdate(ctx, telegram.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: "I'd like the marigold one",
	}}))
	st := store.Get(sessionKey(chatID)).Snapshot()
	require.NotNil(t, st.SelectedItem)
	assert.Equal(t, "marigold-sun", st.SelectedItem.ID)
	assert.Len(t, tg.panels, 1)

	require.NoError(t, h.HandleUpdate(ctx, telegram.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: "hello",
	}}))
	assert.Len(t, tg.texts, 1)
}

func TestHandler_ResetCommand(t *testing.T) {
	h, _, store := newHandler(nil)
	ctx := context.Background()

	require.NoError(t, h.HandleUpdate(ctx, photo("p")))
	require.NoError(t, h.HandleUpdate(ctx, command("/reset")))
	assert.Empty(t, store.Get(sessionKey(chatID)).Snapshot().UserPhoto)
}

func TestHandler_Album(t *testing.T) {
	h, tg, store := newHandler(nil)
	flushed := make(chan mediagroup.Album, 1)
	h.SetMediaGroupAggregator(mediagroup.New(mediagroup.Options{
		OnFlush: func(a mediagroup.Album) { flushed <- a },
	}))

	up := photo("a")
	up.Message.MediaGroupID = "g"
	require.NoError(t, h.HandleUpdate(context.Background(), up))
	assert.Empty(t, tg.downloads)

	h.HandleAlbum(context.Background(), mediagroup.Album{ChatID: chatID, FileIDs: []string{"a", "b"}})
	assert.Equal(t, []string{"a"}, tg.downloads)
	assert.NotEmpty(t, store.Get(sessionKey(chatID)).Snapshot().UserPhoto)
	assert.Len(t, tg.texts, 1)
}

func TestHandler_PanelReattachesAfterSweep(t *testing.T) {
	h, tg, store := newHandler(nil)
	ctx := context.Background()

	require.NoError(t, h.HandleUpdate(ctx, command("/start")))
	store.Delete(sessionKey(chatID))

	require.NoError(t, h.HandleUpdate(ctx, photo("p")))
	assert.Len(t, tg.panels, 1)
	assert.Contains(t, tg.lastEdit().text, "Portrait: received")
}

func TestHandler_SelectionChangedWhileDesigning(t *testing.T) {
	var h *Handler
	ctx := context.Background()
	h, tg, store := newHandler(runnerFunc(func(context.Context, string, string) (string, error) {
		require.NoError(t, h.HandleUpdate(ctx, callback("fh:sel:mixed-divine", 1)))
		return "data:image/png;base64,UkVT", nil
	}))

	require.NoError(t, h.HandleUpdate(ctx, command("/start")))
	require.NoError(t, h.HandleUpdate(ctx, callback("fh:sel:rose-velvet", 1)))
	require.NoError(t, h.HandleUpdate(ctx, photo("p")))
	require.NoError(t, h.HandleUpdate(ctx, callback("fh:gen", 1)))

	assert.Empty(t, tg.photos, "a result for the previous garland must not be sent")
	st := store.Get(sessionKey(chatID)).Snapshot()
	assert.Equal(t, "mixed-divine", st.SelectedItem.ID)
	assert.Empty(t, st.ResultImage)
	assert.False(t, st.IsProcessing)
	require.NotEmpty(t, tg.texts)
	assert.Contains(t, tg.texts[len(tg.texts)-1], "selection changed")
}

func TestHandler_ConcurrentReattachAndUpdates(t *testing.T) {
	h, _, store := newHandler(nil)
	require.NoError(t, h.showPanel(chatID))
	item, ok := catalog.Find("rose-velvet")
	require.True(t, ok)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			store.Delete(sessionKey(chatID))
			h.adoptPanel(chatID, 1)
		}
	}()
	for g := 0; g < 2; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				store.Get(sessionKey(chatID)).SelectItem(item)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(20 * time.Second):
		t.Fatal("panel re-attach deadlocked against controller updates")
	}
}

func TestParseCallback(t *testing.T) {
	tests := []struct {
		data   string
		action string
		arg    string
		ok     bool
	}{
		{"fh:sel:rose-velvet", actionSelect, "rose-velvet", true},
		{"fh:sel:", "", "", false},
		{"fh:gen", actionGenerate, "", true},
		{"fh:reset", actionReset, "", true},
		{"pv:1:menu", "", "", false},
		{"fh:nope", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		action, arg, ok := parseCallback(tt.data)
		assert.Equal(t, tt.ok, ok, tt.data)
		if tt.ok {
			assert.Equal(t, tt.action, action, tt.data)
			assert.Equal(t, tt.arg, arg, tt.data)
		}
	}
}

func TestPanelKeyboard(t *testing.T) {
	kb := panelKeyboard(session.State{})
	require.Len(t, kb.InlineKeyboard, 5)
	last := kb.InlineKeyboard[4]
	require.Len(t, last, 2)
	assert.Equal(t, "fh:gen", *last[0].CallbackData)
	assert.Equal(t, "fh:reset", *last[1].CallbackData)
	assert.Equal(t, "fh:sel:jasmine-royal", *kb.InlineKeyboard[0][0].CallbackData)
}

func TestMatchGarland(t *testing.T) {
	item, ok := matchGarland("Velvet Rose Ombre")
	require.True(t, ok)
	assert.Equal(t, "rose-velvet", item.ID)

	item, ok = matchGarland("something with orchids? no, lilies")
	require.True(t, ok)
	assert.Equal(t, "mixed-divine", item.ID)

	_, ok = matchGarland("rose or jasmine")
	assert.False(t, ok)

	_, ok = matchGarland("   ")
	assert.False(t, ok)
}
