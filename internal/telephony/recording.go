package telephony

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
)

// maxRecordingBytes bounds a single download; announcements are a few minutes.
const maxRecordingBytes = 50 << 20

// FetchRecording downloads the audio behind an extension-less recording url,
// trying .wav first and then .mp3. It returns the bytes and a filename whose
// extension names the format.
func (c *Client) FetchRecording(ctx context.Context, recordingURL string) ([]byte, string, error) {
	base := strings.TrimSpace(recordingURL)
	if base == "" {
		return nil, "", errors.New("empty recording url")
	}

	candidates := []string{base + ".wav", base + ".mp3"}
	if ext := path.Ext(base); ext == ".wav" || ext == ".mp3" {
		candidates = []string{base}
	}

	var lastErr error
	for _, u := range candidates {
		audio, err := c.download(ctx, u)
		if err == nil {
			c.log.WithField("url", u).WithField("bytes", len(audio)).Info("recording downloaded")
			return audio, "recording" + path.Ext(u), nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		c.log.WithField("url", u).WithError(err).Warn("recording download attempt failed")
		lastErr = err
	}
	return nil, "", fmt.Errorf("download recording: %w", lastErr)
}

func (c *Client) download(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)
	req.Header.Set("User-Agent", "colorcodely/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode}
	}
	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxRecordingBytes))
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("empty recording")
	}
	return audio, nil
}
