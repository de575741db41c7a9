// Package queue implements a spool-directory transaction queue. Producers drop
// JSON envelopes into inbox/; consumers move each file to done/ or failed/.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/fraudlink/internal/checksum"
	"github.com/starford/fraudlink/internal/models"
)

// Spool folders.
const (
	Inbox  = "inbox"
	Done   = "done"
	Failed = "failed"
)

const envelopeExt = ".json"

// Spool is a directory-backed queue.
type Spool struct {
	root string
}

// NewSpool opens the spool at root, creating its folders when missing.
func NewSpool(root string) (*Spool, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("queue: resolve root: %w", err)
	}
	for _, dir := range []string{Inbox, Done, Failed} {
		if err := os.MkdirAll(filepath.Join(abs, dir), 0o755); err != nil {
			return nil, fmt.Errorf("queue: mkdir %s: %w", dir, err)
		}
	}
	return &Spool{root: abs}, nil
}

// InboxDir returns the absolute inbox path.
func (s *Spool) InboxDir() string {
	return filepath.Join(s.root, Inbox)
}

// safePath resolves name inside dir and rejects anything that escapes it.
func (s *Spool) safePath(dir, name string) (string, error) {
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." {
		return "", fmt.Errorf("queue: invalid file name %q", name)
	}
	return filepath.Join(s.root, dir, name), nil
}

// Pending lists envelope file names waiting in the inbox, oldest name first.
func (s *Spool) Pending() ([]string, error) {
	entries, err := os.ReadDir(s.InboxDir())
	if err != nil {
		return nil, fmt.Errorf("queue: list inbox: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !isEnvelope(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// Enqueue atomically writes tx into the inbox: tmp file, fsync, rename. A
// missing id is replaced by a random UUID. Envelopes are named by the digest
// of their encoding, so enqueueing one that is still pending is a no-op. It
// returns the file name.
func (s *Spool) Enqueue(tx models.Transaction) (string, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	data, err := json.Marshal(tx)
	if err != nil {
		return "", fmt.Errorf("queue: encode: %w", err)
	}
	name := checksum.Sum(data) + envelopeExt
	if s.exists(name) {
		return name, nil
	}

	tmp, err := os.CreateTemp(s.InboxDir(), ".fraudlink-tmp-*")
	if err != nil {
		return "", fmt.Errorf("queue: create temp: %w", err)
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("queue: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("queue: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("queue: close temp: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.InboxDir(), name)); err != nil {
		return "", fmt.Errorf("queue: rename: %w", err)
	}
	success = true
	return name, nil
}

// Read decodes the inbox envelope name. An envelope without an id takes the
// file stem as its transaction id.
func (s *Spool) Read(name string) (models.Transaction, error) {
	p, err := s.safePath(Inbox, name)
	if err != nil {
		return models.Transaction{}, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("queue: read %s: %w", name, err)
	}
	var tx models.Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return models.Transaction{}, fmt.Errorf("queue: decode %s: %w", name, err)
	}
	if tx.ID == "" {
		tx.ID = strings.TrimSuffix(name, envelopeExt)
	}
	return tx, nil
}

// MarkDone moves name from the inbox to done/.
func (s *Spool) MarkDone(name string) error {
	return s.move(name, Done)
}

// MarkFailed moves name to failed/ and records cause next to it.
func (s *Spool) MarkFailed(name string, cause error) error {
	if err := s.move(name, Failed); err != nil {
		return err
	}
	if cause == nil {
		return nil
	}
	p, err := s.safePath(Failed, strings.TrimSuffix(name, envelopeExt)+".err")
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, []byte(cause.Error()+"\n"), 0o644); err != nil {
		return fmt.Errorf("queue: write failure note: %w", err)
	}
	return nil
}

func (s *Spool) move(name, dir string) error {
	from, err := s.safePath(Inbox, name)
	if err != nil {
		return err
	}
	to, err := s.safePath(dir, name)
	if err != nil {
		return err
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("queue: move %s to %s: %w", name, dir, err)
	}
	return nil
}

// exists reports whether name is still waiting in the inbox.
func (s *Spool) exists(name string) bool {
	p, err := s.safePath(Inbox, name)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return !errors.Is(err, os.ErrNotExist)
}

func isEnvelope(name string) bool {
	return strings.HasSuffix(name, envelopeExt) && !strings.HasPrefix(name, ".")
}
