package client

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	httpadapter "github.com/dkeye/busboard/internal/adapters/http"
	"github.com/dkeye/busboard/internal/adapters/signal"
	"github.com/dkeye/busboard/internal/app"
	"github.com/dkeye/busboard/internal/auth"
	"github.com/dkeye/busboard/internal/config"
	"github.com/dkeye/busboard/internal/core"
	"github.com/dkeye/busboard/internal/display"
	"github.com/dkeye/busboard/internal/domain"
	"github.com/dkeye/busboard/internal/storage"
)

func seed() domain.SharedState {
	s := domain.NewSharedState()
	s.RouteTable = domain.RouteTable{
		"3": {DestinationLabel: "DOWNTOWN", Stops: []domain.Stop{{Name: "A"}, {Name: "B", AudioRef: "audio/b.mp3"}}},
	}
	return s
}

func newServer(t *testing.T) (*httptest.Server, *app.Hub) {
	t.Helper()
	srv, hub, _ := newServerWithMedia(t)
	return srv, hub
}

func newServerWithMedia(t *testing.T) (*httptest.Server, *app.Hub, *storage.Client) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	provider, err := auth.NewProvider([]auth.Credential{
		{Username: "admin", PasswordHash: string(hash)},
		{Username: "kiosk", PasswordHash: string(hash)},
	})
	require.NoError(t, err)

	metrics := app.NewMetrics(prometheus.NewRegistry())
	gate := app.NewGate(provider, metrics)
	hub := app.NewHub(core.NewStateStore(seed()), gate, app.NewRegistry(), app.SimplePolicy{}, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	media := storage.NewClient(storage.NewMemoryProvider(), "b", "")
	cfg := &config.Config{Mode: "test", Secret: "s", SessionMaxAge: time.Hour, StaticPath: t.TempDir()}
	r := httpadapter.SetupRouter(ctx, cfg, httpadapter.Deps{
		Hub:    hub,
		Auth:   provider,
		Media:  media,
		Signal: signal.NewSignalWSController(hub, signal.NewPatchLimiter(0, 0), signal.Options{}),
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hub, media
}

func newClient(t *testing.T, url, user, password string) *Client {
	t.Helper()
	c, err := New(Options{BaseURL: url, Username: user, Password: password, BackoffBase: 10 * time.Millisecond, BackoffCap: 50 * time.Millisecond})
	require.NoError(t, err)
	return c
}

// effectLog collects rendered effects from RunViewer.
type effectLog struct {
	mu      sync.Mutex
	effects []display.Effect
}

func (l *effectLog) add(e []display.Effect) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.effects = append(l.effects, e...)
}

func (l *effectLog) has(pred func(display.Effect) bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.effects {
		if pred(e) {
			return true
		}
	}
	return false
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New(Options{BaseURL: "ftp://example"})
	assert.Error(t, err)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	srv, _ := newServer(t)
	c := newClient(t, srv.URL, "admin", "wrong")
	assert.ErrorIs(t, c.Login(context.Background()), ErrInvalidCredentials)
}

func TestRunViewer_InvalidCredentialsStops(t *testing.T) {
	srv, _ := newServer(t)
	c := newClient(t, srv.URL, "kiosk", "wrong")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.RunViewer(ctx, display.NewViewer(), func([]display.Effect) {})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestControlDrivesViewerAcrossReconnect(t *testing.T) {
	srv, hub := newServer(t)
	viewer := newClient(t, srv.URL, "kiosk", "secret")
	ctl := newClient(t, srv.URL, "admin", "secret")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := &effectLog{}
	done := make(chan error, 1)
	go func() { done <- viewer.RunViewer(ctx, display.NewViewer(), log.add) }()

	require.Eventually(t, func() bool { return hub.ActiveCount() == 1 }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, ctl.Control(ctx, func(p *display.Producer) error {
		return p.SelectRoute("3")
	}))
	require.Eventually(t, func() bool {
		return log.has(func(e display.Effect) bool {
			r, ok := e.(display.RenderStop)
			return ok && r.Stop.Name == "A"
		})
	}, 3*time.Second, 10*time.Millisecond)

	// drop the kiosk without revoking it; it must come back on its own
	before := hub.Registry.SessionsOf("kiosk")
	require.Len(t, before, 1)
	hub.DisconnectUser("kiosk")
	require.Eventually(t, func() bool {
		now := hub.Registry.SessionsOf("kiosk")
		return len(now) == 1 && now[0] != before[0]
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, ctl.Control(ctx, func(p *display.Producer) error {
		_, err := p.NextStop()
		return err
	}))
	require.Eventually(t, func() bool {
		return log.has(func(e display.Effect) bool {
			a, ok := e.(display.PlayStopAudio)
			return ok && a.Ref == "audio/b.mp3"
		})
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("viewer did not stop")
	}
}

func TestControl_PropagatesEditError(t *testing.T) {
	srv, _ := newServer(t)
	ctl := newClient(t, srv.URL, "admin", "secret")
	boom := errors.New("nope")
	err := ctl.Control(context.Background(), func(*display.Producer) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestUploadMediaThenSelectIt(t *testing.T) {
	srv, hub, media := newServerWithMedia(t)
	ctl := newClient(t, srv.URL, "admin", "secret")

	path := filepath.Join(t.TempDir(), "promo.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0o644))

	ctx := context.Background()
	require.NoError(t, ctl.Control(ctx, func(p *display.Producer) error {
		ref, err := ctl.UploadMedia(ctx, path)
		if err != nil {
			return err
		}
		return p.SetMedia(domain.SourceUploadedFile, ref)
	}))

	var state domain.SharedState
	require.Eventually(t, func() bool {
		state, _ = hub.Snapshot()
		return state.Media.SourceKind == domain.SourceUploadedFile
	}, 3*time.Second, 10*time.Millisecond)
	require.NotEmpty(t, state.Media.Reference)

	obj, err := media.Retrieve(ctx, storage.Reference(state.Media.Reference))
	require.NoError(t, err)
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, "not really a video", string(data))
	assert.NotEmpty(t, obj.ContentType)
}

func TestUploadMedia_InvalidCredentials(t *testing.T) {
	srv, _ := newServer(t)
	c := newClient(t, srv.URL, "admin", "wrong")
	_, err := c.UploadMedia(context.Background(), "whatever.mp4")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
