package smb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hirochachacha/go-smb2"

	"remaininggoods/internal"
	"remaininggoods/internal/connectors"
)

// NTSTATUS codes meaning "somebody else holds the file" or "not allowed".
const (
	statusAccessDenied      = 0xC0000022
	statusSharingViolation  = 0xC0000043
	statusFileLockConflict  = 0xC0000054
	statusNetworkAccessDeny = 0xC00000CA
)

type Dialer struct {
	Port    int
	Timeout time.Duration
}

func NewDialer(port int, timeout time.Duration) *Dialer {
	if port <= 0 {
		port = 445
	}
	return &Dialer{Port: port, Timeout: timeout}
}

func (d *Dialer) Dial(ctx context.Context, target internal.RemoteTarget) (connectors.Share, error) {
	if strings.TrimSpace(target.Share) == "" {
		return nil, errors.New("missing share name")
	}

	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", net.JoinHostPort(target.Host, strconv.Itoa(d.Port)))
	if err != nil {
		return nil, err
	}

	sd := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     target.User,
			Password: target.Password,
			Domain:   target.Domain,
		},
	}
	session, err := sd.DialContext(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("smb session: %w", err)
	}

	mount, err := session.Mount(fmt.Sprintf(`\\%s\%s`, target.Host, strings.Trim(target.Share, `\/`)))
	if err != nil {
		_ = session.Logoff()
		return nil, fmt.Errorf("mount %s: %w", target.Share, translate(err))
	}

	return &share{session: session, fs: mount.WithContext(ctx)}, nil
}

type share struct {
	session *smb2.Session
	fs      *smb2.Share
}

func (s *share) ReadDir(dir string) ([]fs.FileInfo, error) {
	entries, err := s.fs.ReadDir(remoteName(dir))
	if err != nil {
		return nil, translate(err)
	}
	return entries, nil
}

func (s *share) Open(name string) (io.ReadCloser, error) {
	f, err := s.fs.Open(remoteName(name))
	if err != nil {
		return nil, translate(err)
	}
	return &file{f: f}, nil
}

func (s *share) Close() error {
	umountErr := s.fs.Umount()
	logoffErr := s.session.Logoff()
	return errors.Join(umountErr, logoffErr)
}

type file struct {
	f *smb2.File
}

func (f *file) Read(p []byte) (int, error) {
	n, err := f.f.Read(p)
	if err != nil && err != io.EOF {
		return n, translate(err)
	}
	return n, err
}

func (f *file) Close() error {
	return f.f.Close()
}

func remoteName(name string) string {
	return strings.Trim(strings.ReplaceAll(name, "/", `\`), `\`)
}

// translate maps lock and access NTSTATUS codes onto fs.ErrPermission so the
// fetcher can tell a locked export from a dropped session.
func translate(err error) error {
	var resp *smb2.ResponseError
	if errors.As(err, &resp) {
		switch resp.Code {
		case statusAccessDenied, statusSharingViolation, statusFileLockConflict, statusNetworkAccessDeny:
			return fmt.Errorf("%w: %w", fs.ErrPermission, err)
		}
	}
	return err
}
