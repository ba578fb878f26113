package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowerhub-tryon/internal/catalog"
	"flowerhub-tryon/internal/session"
	"flowerhub-tryon/internal/tryon"
)

var pngBytes = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x01}

type runnerFunc func(ctx context.Context, userPhoto, referenceURL string) (string, error)

func (f runnerFunc) Run(ctx context.Context, userPhoto, referenceURL string) (string, error) {
	return f(ctx, userPhoto, referenceURL)
}

func newTestServer(t *testing.T, runner session.Runner) (*httptest.Server, *http.Client) {
	t.Helper()
	srv := New(Options{
		Runner: runner,
		Now:    func() time.Time { return time.UnixMilli(1700000000000) },
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return ts, &http.Client{Jar: jar}
}

func decodeState(t *testing.T, resp *http.Response) stateView {
	t.Helper()
	defer resp.Body.Close()
	var v stateView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func postJSON(t *testing.T, c *http.Client, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	resp, err := c.Post(url, "application/json", r)
	require.NoError(t, err)
	return resp
}

func uploadPhoto(t *testing.T, c *http.Client, url string, contentType string, data []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="photo"; filename="me.png"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := c.Post(url+"/api/photo", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	return resp
}

func TestServer_FullFlow(t *testing.T) {
	var gotURL, gotPhoto string
	ts, c := newTestServer(t, runnerFunc(func(ctx context.Context, photo, url string) (string, error) {
		gotPhoto, gotURL = photo, url
		return "data:image/png;base64,UkVT", nil
	}))

	resp, err := c.Get(ts.URL + "/api/catalog")
	require.NoError(t, err)
	var items []catalog.Item
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	resp.Body.Close()
	require.Len(t, items, 4)

	st := decodeState(t, postJSON(t, c, ts.URL+"/api/select", map[string]string{"id": "marigold-sun"}))
	assert.Equal(t, "marigold-sun", st.SelectedItem.ID)
	assert.False(t, st.CanGenerate)

	st = decodeState(t, uploadPhoto(t, c, ts.URL, "image/png", pngBytes))
	assert.True(t, strings.HasPrefix(st.UserPhoto, "data:image/png;base64,"))
	assert.True(t, st.CanGenerate)

	resp = postJSON(t, c, ts.URL+"/api/generate", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	st = decodeState(t, resp)
	assert.Equal(t, "data:image/png;base64,UkVT", st.ResultImage)
	assert.Empty(t, st.Error)
	assert.False(t, st.IsProcessing)
	assert.Equal(t, items[2].ImageURL, gotURL)
	assert.Equal(t, st.UserPhoto, gotPhoto)

	resp, err = c.Get(ts.URL + "/api/result")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []byte("RES"), body)
	assert.Equal(t, `attachment; filename="flowerhub-custom-1700000000000.png"`, resp.Header.Get("Content-Disposition"))

	st = decodeState(t, postJSON(t, c, ts.URL+"/api/reset", nil))
	assert.Equal(t, stateView{}, st)

	resp, err = c.Get(ts.URL + "/api/result")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_SessionsAreIndependent(t *testing.T) {
	ts, a := newTestServer(t, nil)
	jar, _ := cookiejar.New(nil)
	b := &http.Client{Jar: jar}

	decodeState(t, postJSON(t, a, ts.URL+"/api/select", map[string]string{"id": "rose-velvet"}))

	resp, err := b.Get(ts.URL + "/api/state")
	require.NoError(t, err)
	assert.Nil(t, decodeState(t, resp).SelectedItem)
}

func TestServer_GenerateGuard(t *testing.T) {
	called := false
	ts, c := newTestServer(t, runnerFunc(func(context.Context, string, string) (string, error) {
		called = true
		return "", nil
	}))

	resp := postJSON(t, c, ts.URL+"/api/generate", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	st := decodeState(t, resp)
	assert.False(t, st.IsProcessing)
	assert.False(t, called)
}

func TestServer_GenerateFailure(t *testing.T) {
	ts, c := newTestServer(t, runnerFunc(func(context.Context, string, string) (string, error) {
		return "", tryon.ErrNoImage
	}))

	decodeState(t, postJSON(t, c, ts.URL+"/api/select", map[string]string{"id": "rose-velvet"}))
	decodeState(t, uploadPhoto(t, c, ts.URL, "image/png", pngBytes))

	resp := postJSON(t, c, ts.URL+"/api/generate", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	st := decodeState(t, resp)
	assert.Equal(t, session.FailureMessage(tryon.ErrNoImage), st.Error)
	assert.Empty(t, st.ResultImage)
	assert.False(t, st.IsProcessing)
}

func TestServer_GarlandChangedWhileGenerating(t *testing.T) {
	var (
		ts *httptest.Server
		c  *http.Client
	)
	ts, c = newTestServer(t, runnerFunc(func(context.Context, string, string) (string, error) {
		decodeState(t, postJSON(t, c, ts.URL+"/api/select", map[string]string{"id": "mixed-divine"}))
		return "data:image/png;base64,UkVT", nil
	}))

	decodeState(t, postJSON(t, c, ts.URL+"/api/select", map[string]string{"id": "rose-velvet"}))
	decodeState(t, uploadPhoto(t, c, ts.URL, "image/png", pngBytes))

	resp := postJSON(t, c, ts.URL+"/api/generate", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	st := decodeState(t, resp)
	require.NotNil(t, st.SelectedItem)
	assert.Equal(t, "mixed-divine", st.SelectedItem.ID)
	assert.Empty(t, st.ResultImage)
	assert.False(t, st.IsProcessing)
	assert.True(t, st.CanGenerate)
}

func TestServer_GenerateWithoutRunner(t *testing.T) {
	ts, c := newTestServer(t, nil)
	resp := postJSON(t, c, ts.URL+"/api/generate", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_SelectUnknown(t *testing.T) {
	ts, c := newTestServer(t, nil)

	resp := postJSON(t, c, ts.URL+"/api/select", map[string]string{"id": "tulip"})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err := c.Post(ts.URL+"/api/select", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_PhotoMustBeImage(t *testing.T) {
	ts, c := newTestServer(t, nil)

	resp := uploadPhoto(t, c, ts.URL, "text/plain", []byte("hello"))
	resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	resp = uploadPhoto(t, c, ts.URL, "application/octet-stream", []byte("<html>"))
	resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	st := decodeState(t, uploadPhoto(t, c, ts.URL, "application/octet-stream", pngBytes))
	assert.True(t, strings.HasPrefix(st.UserPhoto, "data:image/png;base64,"))
}

func TestServer_MethodNotAllowed(t *testing.T) {
	ts, c := newTestServer(t, nil)
	for _, path := range []string{"/api/select", "/api/photo", "/api/generate", "/api/reset"} {
		resp, err := c.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, path)
	}
}

func TestServer_IndexAndHealth(t *testing.T) {
	ts, c := newTestServer(t, nil)

	resp, err := c.Get(ts.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "FLOWERHUB")

	resp, err = c.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Events(t *testing.T) {
	ts, c := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan stateView, 4)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var v stateView
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &v) == nil {
				events <- v
			}
		}
	}()

	first := waitEvent(t, events)
	assert.Nil(t, first.SelectedItem)

	decodeState(t, postJSON(t, c, ts.URL+"/api/select", map[string]string{"id": "jasmine-royal"}))
	next := waitEvent(t, events)
	require.NotNil(t, next.SelectedItem)
	assert.Equal(t, "jasmine-royal", next.SelectedItem.ID)
}

func waitEvent(t *testing.T, ch <-chan stateView) stateView {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("no event received")
	}
	return stateView{}
}

func TestDownloadName(t *testing.T) {
	at := time.UnixMilli(42)
	assert.Equal(t, "flowerhub-custom-42.png", DownloadName(at, "image/png"))
	assert.Equal(t, "flowerhub-custom-42.jpg", DownloadName(at, "image/jpeg"))
	assert.Equal(t, "flowerhub-custom-42.png", DownloadName(at, "image/x-unknown"))
}

func TestToView(t *testing.T) {
	item := catalog.Item{ID: "x"}
	v := toView(session.State{UserPhoto: "p", SelectedItem: &item, Error: "e"})
	assert.True(t, v.CanGenerate)
	assert.Equal(t, "e", v.Error)
}
