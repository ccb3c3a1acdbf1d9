package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dkeye/busboard/internal/display"
	"github.com/dkeye/busboard/internal/domain"
)

func producer() *display.Producer {
	s := domain.NewSharedState()
	s.RouteTable = domain.RouteTable{"3": {DestinationLabel: "X", Stops: []domain.Stop{{Name: "A"}, {Name: "B"}}}}
	s.ActiveRouteID = "3"
	return display.NewProducer(s, display.WithProducerClock(func() time.Time { return time.UnixMilli(42) }))
}

func flush(t *testing.T, p *display.Producer) domain.SharedState {
	t.Helper()
	out := domain.NewSharedState()
	require.NoError(t, p.Flush(func(patch domain.Patch) error {
		out.Apply(patch)
		return nil
	}))
	return out
}

func fakeUpload(path string) (string, error) { return "media/" + path, nil }

func TestParseControl(t *testing.T) {
	cases := []struct {
		args  []string
		check func(t *testing.T, s domain.SharedState)
	}{
		{[]string{"announce"}, func(t *testing.T, s domain.SharedState) {
			assert.Equal(t, int64(42), s.OneShotEvents[domain.EventAnnouncement].FiredAt)
		}},
		{[]string{"book"}, func(t *testing.T, s domain.SharedState) {
			assert.Contains(t, s.OneShotEvents, domain.EventStopBooking)
		}},
		{[]string{"next"}, func(t *testing.T, s domain.SharedState) {
			assert.Equal(t, 1, s.ActiveStopIndex)
		}},
		{[]string{"stop", "1"}, func(t *testing.T, s domain.SharedState) {
			assert.Equal(t, 1, s.ActiveStopIndex)
		}},
		{[]string{"route", "3"}, func(t *testing.T, s domain.SharedState) {
			assert.Equal(t, "3", s.ActiveRouteID)
		}},
		{[]string{"seek", "-7.5"}, func(t *testing.T, s domain.SharedState) {
			require.NotNil(t, s.Playback.PendingSeek)
			assert.Equal(t, -7.5, s.Playback.PendingSeek.DeltaSeconds)
		}},
		{[]string{"status", "offline"}, func(t *testing.T, s domain.SharedState) {
			assert.Equal(t, domain.ServiceOffline, s.ServiceStatus)
		}},
		{[]string{"message", "Lavori", "in", "corso"}, func(t *testing.T, s domain.SharedState) {
			assert.Equal(t, []string{"Lavori in corso"}, s.ScrollingMessages)
		}},
		{[]string{"route-clear"}, func(t *testing.T, s domain.SharedState) {
			assert.Empty(t, s.ActiveRouteID)
		}},
		{[]string{"route-put", "15b", "SASSI", "Vittorio|Piazza", "Gran Madre||audio/gm.mp3"}, func(t *testing.T, s domain.SharedState) {
			r, ok := s.RouteTable["15B"]
			require.True(t, ok)
			assert.Equal(t, "SASSI", r.DestinationLabel)
			assert.Equal(t, []domain.Stop{
				{Name: "Vittorio", Subtitle: "Piazza"},
				{Name: "Gran Madre", AudioRef: "audio/gm.mp3"},
			}, r.Stops)
			assert.Contains(t, s.RouteTable, "3")
		}},
		{[]string{"route-delete", "3"}, func(t *testing.T, s domain.SharedState) {
			assert.NotContains(t, s.RouteTable, "3")
			assert.Empty(t, s.ActiveRouteID)
		}},
		{[]string{"media", "upload", "clip.mp4"}, func(t *testing.T, s domain.SharedState) {
			assert.Equal(t, domain.SourceUploadedFile, s.Media.SourceKind)
			assert.Equal(t, "media/clip.mp4", s.Media.Reference)
			assert.Equal(t, int64(42), s.Media.LastChangedAt)
		}},
		{[]string{"media", "embed", "<iframe", "src=x>"}, func(t *testing.T, s domain.SharedState) {
			assert.Equal(t, domain.SourceEmbeddedFrame, s.Media.SourceKind)
			assert.Equal(t, "<iframe src=x>", s.Media.Reference)
		}},
		{[]string{"media", "disable"}, func(t *testing.T, s domain.SharedState) {
			assert.Equal(t, domain.SourceDisabled, s.Media.SourceKind)
		}},
		{[]string{"media", "none"}, func(t *testing.T, s domain.SharedState) {
			assert.Equal(t, domain.SourceNone, s.Media.SourceKind)
			assert.Equal(t, int64(42), s.Media.LastChangedAt)
		}},
		{[]string{"volume", "0.3"}, func(t *testing.T, s domain.SharedState) {
			assert.Equal(t, 0.3, s.Playback.Volume)
			assert.Equal(t, domain.PlaybackPlaying, s.Playback.State)
		}},
		{[]string{"pause"}, func(t *testing.T, s domain.SharedState) {
			assert.Equal(t, domain.PlaybackPaused, s.Playback.State)
			assert.Equal(t, 1.0, s.Playback.Volume)
		}},
		{[]string{"play"}, func(t *testing.T, s domain.SharedState) {
			assert.Equal(t, domain.PlaybackPlaying, s.Playback.State)
		}},
	}
	for _, tc := range cases {
		t.Run(strings.Join(tc.args, "_"), func(t *testing.T) {
			edit, err := parseControl(tc.args, fakeUpload)
			require.NoError(t, err)
			p := producer()
			require.NoError(t, edit(p))
			tc.check(t, flush(t, p))
		})
	}
}

func TestParseControl_Errors(t *testing.T) {
	for _, args := range [][]string{
		{"warp"},
		{"stop"},
		{"stop", "x"},
		{"seek", "fast"},
		{"status", "sideways"},
		{"announce", "now"},
		{"route-put", "9", "X"},
		{"route-delete"},
		{"media"},
		{"media", "upload"},
		{"media", "embed"},
		{"media", "stream"},
		{"media", "none", "x"},
		{"volume", "loud"},
		{"volume", "1.5"},
		{"play", "now"},
	} {
		_, err := parseControl(args, fakeUpload)
		assert.Error(t, err, args)
	}

	edit, err := parseControl([]string{"stop", "5"}, fakeUpload)
	require.NoError(t, err)
	assert.ErrorIs(t, edit(producer()), display.ErrStopOutOfRange)

	edit, err = parseControl([]string{"route-put", "9", "X", " "}, fakeUpload)
	require.NoError(t, err)
	assert.ErrorIs(t, edit(producer()), domain.ErrEmptyStop)

	edit, err = parseControl([]string{"route-delete", "42"}, fakeUpload)
	require.NoError(t, err)
	assert.ErrorIs(t, edit(producer()), display.ErrUnknownRoute)

	failed := errors.New("disk full")
	edit, err = parseControl([]string{"media", "upload", "clip.mp4"}, func(string) (string, error) { return "", failed })
	require.NoError(t, err)
	p := producer()
	assert.ErrorIs(t, edit(p), failed)
	assert.Equal(t, domain.SourceNone, p.State().Media.SourceKind)
}

func TestHashPassword(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"hash-password", "--cost", "4", "s3cret"})
	require.NoError(t, cmd.Execute())

	hash := strings.TrimSpace(out.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))
}
