package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/grafov/m3u8"
)

var ErrEmptyPlaylist = errors.New("playlist has no segments")

// maxPlaylistDepth bounds master -> media indirection.
const maxPlaylistDepth = 2

// ProbeHLS fetches an HLS playlist and returns the total duration of its
// segments. A master playlist is followed to its first variant.
func ProbeHLS(ctx context.Context, client *http.Client, manifestURL string) (float64, error) {
	return probeHLS(ctx, client, manifestURL, 0)
}

func probeHLS(ctx context.Context, client *http.Client, manifestURL string, depth int) (float64, error) {
	body, err := fetch(ctx, client, manifestURL)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	playlist, listType, err := m3u8.DecodeFrom(body, true)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", manifestURL, err)
	}

	switch listType {
	case m3u8.MEDIA:
		media := playlist.(*m3u8.MediaPlaylist)
		var total float64
		var n int
		for _, seg := range media.Segments {
			if seg == nil {
				continue
			}
			total += seg.Duration
			n++
		}
		if n == 0 {
			return 0, fmt.Errorf("%s: %w", manifestURL, ErrEmptyPlaylist)
		}
		return total, nil

	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		if depth >= maxPlaylistDepth || len(master.Variants) == 0 || master.Variants[0] == nil {
			return 0, fmt.Errorf("%s: %w", manifestURL, ErrEmptyPlaylist)
		}
		variant, err := resolve(manifestURL, master.Variants[0].URI)
		if err != nil {
			return 0, err
		}
		return probeHLS(ctx, client, variant, depth+1)

	default:
		return 0, fmt.Errorf("%s: unknown playlist type", manifestURL)
	}
}

// ProbeFile checks that a single-file source is reachable.
func ProbeFile(ctx context.Context, client *http.Client, fileURL string) error {
	body, err := fetch(ctx, client, fileURL)
	if err != nil {
		return err
	}
	return body.Close()
}

func fetch(ctx context.Context, client *http.Client, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	return resp.Body, nil
}

func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}
