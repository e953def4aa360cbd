// Package repomanager hands out a per-project working copy under a
// process-scoped temporary root, cloning on first use and guarding each
// checkout against concurrent access from a second bot process.
package repomanager

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/marge-go/mergebot/internal/gitwork"
	"github.com/marge-go/mergebot/internal/lock"
	"github.com/marge-go/mergebot/internal/platform"
)

// Transport selects how the remote URL is constructed.
type Transport int

const (
	// HTTPS embeds {username}:{authToken}@ into the project's http_url_to_repo.
	HTTPS Transport = iota
	// SSH uses the project's ssh_url_to_repo with an identity file.
	SSH
)

// lockTimeout bounds how long a second process waits for another to
// release a project's working-copy lock before giving up.
const lockTimeout = 30 * time.Second

// Manager owns the process-scoped root directory and the set of clones
// acquired under it.
type Manager struct {
	Root          string
	Transport     Transport
	Username      string
	AuthToken     string
	SSHKeyFile    string
	GitTimeout    time.Duration
	ReferenceRepo string
	BotName       string
	BotEmail      string

	checkouts map[int]*checkout
}

type checkout struct {
	repo *gitwork.Repo
	lock *lock.Lock
}

// NewManager creates a Manager rooted at root (typically an os.MkdirTemp
// result the caller removes on process exit).
func NewManager(root string, transport Transport) *Manager {
	return &Manager{Root: root, Transport: transport, checkouts: make(map[int]*checkout)}
}

// remoteURL builds the clone URL for project per the configured transport.
func (m *Manager) remoteURL(p *platform.Project) string {
	if m.Transport == SSH {
		return p.SSHURLToRepo
	}
	url := p.HTTPURLToRepo
	// Embed {username}:{authToken}@ right after the scheme.
	if idx := strings.Index(url, "://"); idx >= 0 {
		return url[:idx+3] + m.Username + ":" + m.AuthToken + "@" + url[idx+3:]
	}
	return url
}

// Acquire returns the working copy for p, cloning it on first use and
// locking it for the duration of the caller's Git operations. The caller
// must call the returned release func when done.
func (m *Manager) Acquire(ctx context.Context, p *platform.Project) (repo *gitwork.Repo, release func() error, err error) {
	co, ok := m.checkouts[p.ID]
	if !ok {
		localPath := fmt.Sprintf("%s/project-%d", m.Root, p.ID)
		repo := &gitwork.Repo{
			RemoteURL: m.remoteURL(p),
			LocalPath: localPath,
			Timeout:   m.GitTimeout,
			Reference: m.ReferenceRepo,
		}
		if m.Transport == SSH {
			repo.SSHKeyFile = m.SSHKeyFile
		}
		if err := os.MkdirAll(localPath, 0755); err != nil {
			return nil, nil, fmt.Errorf("creating working-copy dir for project %d: %w", p.ID, err)
		}
		if err := repo.Clone(ctx); err != nil {
			return nil, nil, fmt.Errorf("cloning project %d: %w", p.ID, err)
		}
		if err := repo.ConfigUserInfo(ctx, m.BotName, m.BotEmail); err != nil {
			return nil, nil, fmt.Errorf("configuring identity for project %d: %w", p.ID, err)
		}
		co = &checkout{repo: repo, lock: lock.New(localPath)}
		m.checkouts[p.ID] = co
	}

	if err := co.lock.Acquire(lockTimeout); err != nil {
		return nil, nil, err
	}
	return co.repo, co.lock.Release, nil
}

// Close releases every held lock. It does not remove the working-copy
// root; the caller (typically the supervisor) is responsible for that via
// a deferred os.RemoveAll of Root.
func (m *Manager) Close() error {
	var firstErr error
	for _, co := range m.checkouts {
		if co.lock.Locked() {
			if err := co.lock.Release(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
