package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/busboard/internal/auth"
	"github.com/dkeye/busboard/internal/config"
	"github.com/dkeye/busboard/internal/domain"
	"github.com/dkeye/busboard/internal/storage"
)

// operatorAccounts returns the configured users, or a single admin with the
// default password when none are configured.
func operatorAccounts(cfg config.AuthConfig) ([]auth.Credential, error) {
	if len(cfg.Users) > 0 {
		return cfg.Users, nil
	}
	hash, err := auth.HashPassword(cfg.DefaultPassword)
	if err != nil {
		return nil, err
	}
	log.Warn().Str("module", "auth").Msg("no users configured, created default admin; set auth.users before going live")
	return []auth.Credential{{Username: "admin", Name: "Amministratore", PasswordHash: hash}}, nil
}

// loadSeed reads the initial shared state. An empty path starts blank.
func loadSeed(path string) (domain.SharedState, error) {
	if path == "" {
		return domain.NewSharedState(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.SharedState{}, err
	}
	var s domain.SharedState
	if err := json.Unmarshal(data, &s); err != nil {
		return domain.SharedState{}, fmt.Errorf("parse %s: %w", path, err)
	}
	log.Info().Str("module", "app").Str("path", path).Int("routes", len(s.RouteTable)).Msg("seed loaded")
	return s, nil
}

// originChecker accepts same-host dials and the configured origins.
// With no origins configured any origin is accepted.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, origin) {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

// seedAudio copies the configured cue files into storage under their
// references. A reference that already exists is left alone.
func seedAudio(ctx context.Context, media *storage.Client, cfg config.AudioConfig) error {
	var errs []error
	for _, cue := range []struct{ ref, file string }{
		{cfg.Announcement, cfg.AnnouncementFile},
		{cfg.Booking, cfg.BookingFile},
	} {
		if cue.ref == "" || cue.file == "" {
			continue
		}
		if err := seedCue(ctx, media, storage.Reference(cue.ref), cue.file); err != nil {
			errs = append(errs, fmt.Errorf("audio %s: %w", cue.ref, err))
		}
	}
	return errors.Join(errs...)
}

func seedCue(ctx context.Context, media *storage.Client, ref storage.Reference, path string) error {
	ok, err := media.Exists(ctx, ref)
	if err != nil {
		return err
	}
	if ok {
		log.Debug().Str("module", "storage").Str("ref", string(ref)).Msg("audio cue present")
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = "audio/mpeg"
	}
	if err := media.Put(ctx, ref, ct, f); err != nil {
		return err
	}
	log.Info().Str("module", "storage").Str("ref", string(ref)).Str("file", path).Msg("audio cue seeded")
	return nil
}
