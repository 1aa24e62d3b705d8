package publish

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/assetsmith/internal/config"
)

// fakeConn records FTP commands in order.
type fakeConn struct {
	loginUser string
	loginPass string
	loginErr  error
	mkdirs    []string
	stored    map[string][]byte
	storErr   error
	quit      bool
}

func (f *fakeConn) Login(user, password string) error {
	f.loginUser, f.loginPass = user, password
	return f.loginErr
}

func (f *fakeConn) MakeDir(dir string) error {
	f.mkdirs = append(f.mkdirs, dir)
	return nil
}

func (f *fakeConn) Stor(path string, r io.Reader) error {
	if f.storErr != nil {
		return f.storErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if f.stored == nil {
		f.stored = make(map[string][]byte)
	}
	f.stored[path] = data
	return nil
}

func (f *fakeConn) Quit() error {
	f.quit = true
	return nil
}

func testPublisher(conn *fakeConn, dialErr error) *FTPPublisher {
	p := NewFTPPublisher(config.PublishConfig{
		Enabled:   true,
		Host:      "cdn.example.com",
		Username:  "assets",
		Password:  "secret",
		RemoteDir: "/pub/assets",
		BaseURL:   "https://cdn.example.com/assets/",
	})
	p.dial = func(context.Context, string, time.Duration) (ftpConn, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return conn, nil
	}
	return p
}

func writeLocalArtifact(t *testing.T, data string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "icon")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "0123456789abcdef.png")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestUploadStoresUnderRemoteDir(t *testing.T) {
	conn := &fakeConn{}
	p := testPublisher(conn, nil)

	url, err := p.Upload(context.Background(), writeLocalArtifact(t, "png-bytes"))
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example.com/assets/icon/0123456789abcdef.png", url)
	assert.Equal(t, []byte("png-bytes"), conn.stored["/pub/assets/icon/0123456789abcdef.png"])
	assert.Contains(t, conn.mkdirs, "/pub/assets/icon")
	assert.Equal(t, "assets", conn.loginUser)
	assert.Equal(t, "secret", conn.loginPass)
	assert.True(t, conn.quit, "connection released after upload")
}

func TestUploadDialFailure(t *testing.T) {
	p := testPublisher(nil, eris.New("connection refused"))
	_, err := p.Upload(context.Background(), writeLocalArtifact(t, "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial")
}

func TestUploadLoginFailure(t *testing.T) {
	conn := &fakeConn{loginErr: eris.New("530 not logged in")}
	p := testPublisher(conn, nil)
	_, err := p.Upload(context.Background(), writeLocalArtifact(t, "x"))
	require.Error(t, err)
	assert.True(t, conn.quit, "connection released on failure")
}

func TestUploadStorFailure(t *testing.T) {
	conn := &fakeConn{storErr: eris.New("552 quota exceeded")}
	p := testPublisher(conn, nil)
	_, err := p.Upload(context.Background(), writeLocalArtifact(t, "x"))
	require.Error(t, err)
}

func TestUploadMissingLocalFile(t *testing.T) {
	p := testPublisher(&fakeConn{}, nil)
	_, err := p.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.png"))
	require.Error(t, err)
}

func TestNewFTPPublisherAddsDefaultPort(t *testing.T) {
	p := NewFTPPublisher(config.PublishConfig{Host: "cdn.example.com"})
	assert.Equal(t, "cdn.example.com:21", p.cfg.Host)

	p = NewFTPPublisher(config.PublishConfig{Host: "cdn.example.com:2121"})
	assert.Equal(t, "cdn.example.com:2121", p.cfg.Host)
}
