package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// UploadMedia sends a local video file to the server's media store and
// returns the reference to put into the media descriptor.
func (c *Client) UploadMedia(ctx context.Context, path string) (string, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	name := filepath.Base(path)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="video"; filename=%q`, name))
	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+"/api/media", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
	case http.StatusUnauthorized:
		c.forgetLogin()
		return "", ErrUnauthorized
	default:
		return "", fmt.Errorf("upload: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Reference string `json:"reference"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	log.Info().Str("module", "client").Str("name", name).Str("ref", out.Reference).Msg("media uploaded")
	return out.Reference, nil
}
