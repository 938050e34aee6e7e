package tiles

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"net/url"
	"path"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jlaffaye/ftp"

	"github.com/lox/watershed/internal/srtm"
)

// FTPSource fetches tile archives from an FTP mirror laid out like the
// HTTP distribution directory.
type FTPSource struct {
	addr     string
	dir      string
	username string
	password string
	timeout  time.Duration
}

// NewFTPSource parses a URL of the form ftp://[user:pass@]host[:port]/dir/.
// Anonymous login is used when no user is given.
func NewFTPSource(rawURL string) (*FTPSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse ftp url: %w", err)
	}
	if u.Scheme != "ftp" {
		return nil, fmt.Errorf("parse ftp url: unsupported scheme %q", u.Scheme)
	}
	addr := u.Host
	if u.Port() == "" {
		addr += ":21"
	}
	s := &FTPSource{
		addr:     addr,
		dir:      u.Path,
		username: "anonymous",
		password: "anonymous",
		timeout:  30 * time.Second,
	}
	if u.User != nil {
		s.username = u.User.Username()
		s.password, _ = u.User.Password()
	}
	return s, nil
}

func (s *FTPSource) Name() string {
	return "ftp"
}

func (s *FTPSource) Fetch(ctx context.Context, tile srtm.Tile) (io.ReadCloser, error) {
	var body []byte
	operation := func() error {
		conn, err := ftp.Dial(s.addr, ftp.DialWithTimeout(s.timeout), ftp.DialWithContext(ctx))
		if err != nil {
			return fmt.Errorf("ftp dial: %w", err)
		}
		defer conn.Quit()

		if err := conn.Login(s.username, s.password); err != nil {
			return backoff.Permanent(fmt.Errorf("ftp login: %w", err))
		}

		resp, err := conn.Retr(path.Join(s.dir, tile.ArchiveName()))
		if err != nil {
			var protoErr *textproto.Error
			if errors.As(err, &protoErr) && protoErr.Code == ftp.StatusFileUnavailable {
				return backoff.Permanent(fmt.Errorf("%w: %s", ErrTileNotFound, tile))
			}
			return fmt.Errorf("ftp retr: %w", err)
		}
		defer resp.Close()

		body, err = io.ReadAll(resp)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}
