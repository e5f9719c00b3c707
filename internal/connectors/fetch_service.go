package connectors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"remaininggoods/internal"
	"remaininggoods/internal/retry"
)

const DefaultChunkSize = 4096

var (
	ErrHostUnreachable = errors.New("host unreachable")
	ErrNoMatch         = errors.New("no file matches pattern")
	ErrEmptyFile       = errors.New("downloaded file is empty")
	ErrCopyFailed      = errors.New("copy failed")
)

type FetchOptions struct {
	MaxAttempts int
	BackoffBase time.Duration
	ChunkSize   int
	// Debug makes Fetch return failures instead of logging them.
	Debug bool
	// Sleep overrides the backoff wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

type FetchService struct {
	prober      Prober
	dialer      ShareDialer
	downloadDir string
	opts        FetchOptions
	log         *slog.Logger
}

func NewFetchService(prober Prober, dialer ShareDialer, downloadDir string, opts FetchOptions, log *slog.Logger) *FetchService {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &FetchService{prober: prober, dialer: dialer, downloadDir: downloadDir, opts: opts, log: log}
}

// LocalPath is where the export of a site is written: the site id plus the
// extension of the match pattern, or of the remote file when the pattern has
// no literal one.
func (s *FetchService) LocalPath(target internal.RemoteTarget, remoteName string) string {
	ext := path.Ext(target.Pattern)
	if ext == "" || strings.ContainsAny(ext, "*?[") {
		ext = path.Ext(remoteName)
	}
	return filepath.Join(s.downloadDir, target.Site+strings.ToLower(ext))
}

// Fetch copies the newest file matching the target's pattern to LocalPath.
// A failed fetch yields a result without a path; the error is only returned
// in debug mode.
func (s *FetchService) Fetch(ctx context.Context, target internal.RemoteTarget) (internal.FetchResult, error) {
	log := s.log.With("site", target.Site, "host", target.Host)
	result := internal.FetchResult{Site: target.Site}

	if !s.prober.Alive(ctx, target.Host) {
		return s.fail(log, result, fmt.Errorf("%w: %s", ErrHostUnreachable, target.Host))
	}

	log.Debug("connecting to share", "unc", target.UNCPath())
	share, err := s.dialer.Dial(ctx, target)
	if err != nil {
		return s.fail(log, result, fmt.Errorf("connect %s: %w", target.UNCPath(), err))
	}
	defer func() {
		if share != nil {
			_ = share.Close()
		}
	}()

	entries, err := share.ReadDir(target.Dir)
	if err != nil {
		return s.fail(log, result, fmt.Errorf("list %s: %w", target.UNCPath(), err))
	}

	match, ok := SelectNewest(entries, target.Pattern)
	if !ok {
		return s.fail(log, result, fmt.Errorf("%w: %s in %s", ErrNoMatch, target.Pattern, target.UNCPath()))
	}

	remote := path.Join(strings.ReplaceAll(target.Dir, `\`, "/"), match.Name())
	local := s.LocalPath(target, match.Name())
	log = log.With("remote", remote, "local", local)

	if err := s.copyFile(ctx, log, target, &share, remote, local); err != nil {
		return s.fail(log, result, err)
	}

	log.Info("file downloaded", "size", match.Size(), "modified", match.ModTime().Format(time.RFC3339))
	result.Path = local
	return result, nil
}

// copyFile retries the transfer under the fetch policy. Attempts after a
// transport failure run on a fresh session; a locked file keeps the session.
func (s *FetchService) copyFile(ctx context.Context, log *slog.Logger, target internal.RemoteTarget, share *Share, remote, local string) error {
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return err
	}
	dst, err := os.Create(local)
	if err != nil {
		return err
	}

	policy := retry.Policy{
		MaxAttempts: s.opts.MaxAttempts,
		Backoff:     retry.Exponential(s.opts.BackoffBase),
		Retryable:   isTransferError,
		Sleep:       s.opts.Sleep,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			log.Warn("transfer failed, retrying", "attempt", attempt, "wait", wait.String(), "err", err)
		},
	}

	var lastErr error
	copyErr := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			if err := rewind(dst); err != nil {
				return &localError{err: err}
			}
			if *share == nil || !isRemotePermission(lastErr) {
				if lastErr = s.reconnect(ctx, log, target, share); lastErr != nil {
					return lastErr
				}
			}
		}
		lastErr = s.copyChunks(ctx, *share, remote, dst)
		if isRemotePermission(lastErr) {
			log.Error("access denied, the file may be held open by another process", "attempt", attempt, "err", lastErr)
		}
		return lastErr
	})

	closeErr := dst.Close()
	if copyErr != nil {
		_ = os.Remove(local)
		return fmt.Errorf("%w: %s: %w", ErrCopyFailed, remote, copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(local)
		return closeErr
	}

	info, err := os.Stat(local)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		_ = os.Remove(local)
		return fmt.Errorf("%w: %s", ErrEmptyFile, remote)
	}
	return nil
}

// reconnect replaces *share with a new session. On failure *share is left nil.
func (s *FetchService) reconnect(ctx context.Context, log *slog.Logger, target internal.RemoteTarget, share *Share) error {
	if *share != nil {
		_ = (*share).Close()
		*share = nil
	}
	log.Debug("reconnecting to share", "unc", target.UNCPath())
	fresh, err := s.dialer.Dial(ctx, target)
	if err != nil {
		return fmt.Errorf("reconnect %s: %w", target.UNCPath(), err)
	}
	*share = fresh
	return nil
}

func (s *FetchService) copyChunks(ctx context.Context, share Share, remote string, dst io.Writer) error {
	src, err := share.Open(remote)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	buf := make([]byte, s.opts.ChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return &localError{err: err}
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

func (s *FetchService) fail(log *slog.Logger, result internal.FetchResult, err error) (internal.FetchResult, error) {
	if errors.Is(err, ErrHostUnreachable) || errors.Is(err, ErrNoMatch) {
		log.Warn("fetch skipped", "err", err)
	} else {
		log.Error("fetch failed", "err", err)
	}
	if s.opts.Debug {
		return result, err
	}
	return result, nil
}

// SelectNewest picks the most recently modified regular file whose name
// matches pattern, case-insensitively. Equal times fall back to name order.
func SelectNewest(entries []fs.FileInfo, pattern string) (fs.FileInfo, bool) {
	pattern = strings.ToLower(pattern)
	var matches []fs.FileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ok, err := path.Match(pattern, strings.ToLower(entry.Name()))
		if err != nil || !ok {
			continue
		}
		matches = append(matches, entry)
	}
	if len(matches) == 0 {
		return nil, false
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if !matches[i].ModTime().Equal(matches[j].ModTime()) {
			return matches[i].ModTime().After(matches[j].ModTime())
		}
		return matches[i].Name() < matches[j].Name()
	})
	return matches[0], true
}

// localError marks failures on our side of the copy, which retrying the
// remote read does not fix.
type localError struct{ err error }

func (e *localError) Error() string { return "local write: " + e.err.Error() }
func (e *localError) Unwrap() error { return e.err }

func isTransferError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var local *localError
	return !errors.As(err, &local)
}

func isRemotePermission(err error) bool {
	var local *localError
	return errors.Is(err, fs.ErrPermission) && !errors.As(err, &local)
}

func rewind(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.Seek(0, io.SeekStart)
	return err
}
