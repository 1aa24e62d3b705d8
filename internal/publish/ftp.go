// Package publish uploads committed artifacts to public hosting over FTP
// and maps them to their public URLs.
package publish

import (
	"context"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assetsmith/internal/config"
)

// dialFunc connects to an FTP server. Swapped in tests.
type dialFunc func(ctx context.Context, host string, timeout time.Duration) (ftpConn, error)

// ftpConn is the slice of *ftp.ServerConn the publisher uses.
type ftpConn interface {
	Login(user, password string) error
	MakeDir(dir string) error
	Stor(path string, r io.Reader) error
	Quit() error
}

// realDial wraps ftp.Dial so the ftp types stay behind ftpConn.
func realDial(ctx context.Context, host string, timeout time.Duration) (ftpConn, error) {
	return ftp.Dial(host, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
}

// FTPPublisher uploads artifact files to an FTP host. Each Upload opens a
// fresh connection; runs publish a handful of files, so connection reuse is
// not worth the stale-session handling it would need.
type FTPPublisher struct {
	cfg     config.PublishConfig
	timeout time.Duration
	dial    dialFunc
}

// NewFTPPublisher creates a publisher from config. The host gains the
// default FTP port when none is given.
func NewFTPPublisher(cfg config.PublishConfig) *FTPPublisher {
	if _, _, err := net.SplitHostPort(cfg.Host); err != nil {
		cfg.Host = net.JoinHostPort(cfg.Host, "21")
	}
	return &FTPPublisher{
		cfg:     cfg,
		timeout: 30 * time.Second,
		dial:    realDial,
	}
}

// Upload stores the local file under the configured remote directory and
// returns the public URL it will be served from.
func (p *FTPPublisher) Upload(ctx context.Context, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", eris.Wrapf(err, "publish: open %s", localPath)
	}
	defer file.Close()

	conn, err := p.dial(ctx, p.cfg.Host, p.timeout)
	if err != nil {
		return "", eris.Wrapf(err, "publish: dial %s", p.cfg.Host)
	}
	defer conn.Quit()

	if err := conn.Login(p.cfg.Username, p.cfg.Password); err != nil {
		return "", eris.Wrap(err, "publish: login")
	}

	// Artifacts live at <remote_dir>/<kind>/<name>, mirroring the local
	// output layout. MakeDir fails when the directory exists; that is fine.
	rel := remoteRel(localPath)
	remotePath := path.Join(p.cfg.RemoteDir, rel)
	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := conn.MakeDir(dir); err != nil {
			zap.L().Debug("publish: mkdir", zap.String("dir", dir), zap.Error(err))
		}
	}

	if err := conn.Stor(remotePath, file); err != nil {
		return "", eris.Wrapf(err, "publish: store %s", remotePath)
	}

	url := publicURL(p.cfg.BaseURL, rel)
	zap.L().Info("publish: uploaded artifact",
		zap.String("local", localPath),
		zap.String("remote", remotePath),
		zap.String("url", url),
	)
	return url, nil
}

// remoteRel keeps the kind directory and file name from the local artifact
// path so published assets group by kind.
func remoteRel(localPath string) string {
	dir, name := filepath.Split(localPath)
	kind := filepath.Base(filepath.Clean(dir))
	if kind == "." || kind == string(filepath.Separator) {
		return name
	}
	return path.Join(kind, name)
}

func publicURL(base, rel string) string {
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/" + rel
}
