// Package sftp fetches concept definition files from a remote drop directory.
package sftp

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/clinepi/cdipipe/internal/config"
)

// Fetcher downloads concept files into a local directory.
type Fetcher interface {
	Fetch(localDir string) ([]string, error)
}

// RemoteFetcher copies every .csv under the configured remote directory.
type RemoteFetcher struct {
	cfg config.SFTP
}

func NewRemoteFetcher(cfg config.SFTP) *RemoteFetcher {
	return &RemoteFetcher{cfg: cfg}
}

func (f *RemoteFetcher) Fetch(localDir string) ([]string, error) {
	addr := fmt.Sprintf("%s:%d", f.cfg.Host, f.cfg.Port)
	conn, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User: f.cfg.User,
		Auth: []ssh.AuthMethod{ssh.Password(f.cfg.Password)},
		// The drop host lives inside the deployment perimeter; host keys are
		// not pinned there.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	defer conn.Close()

	client, err := sftp.NewClient(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sftp session: %w", err)
	}
	defer client.Close()

	entries, err := client.ReadDir(f.cfg.RemoteDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", f.cfg.RemoteDir, err)
	}

	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", localDir, err)
	}

	var fetched []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".csv") {
			continue
		}
		localPath := filepath.Join(localDir, entry.Name())
		if err := f.download(client, path.Join(f.cfg.RemoteDir, entry.Name()), localPath); err != nil {
			return fetched, err
		}
		fetched = append(fetched, localPath)
	}
	return fetched, nil
}

func (f *RemoteFetcher) download(client *sftp.Client, remotePath, localPath string) error {
	src, err := client.Open(remotePath)
	if err != nil {
		return fmt.Errorf("failed to open remote %s: %w", remotePath, err)
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy %s: %w", remotePath, err)
	}
	return nil
}
