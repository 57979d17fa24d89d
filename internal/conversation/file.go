package conversation

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/mubot/mu/internal/chat"
	"github.com/mubot/mu/internal/log"
)

const (
	fileExt      = ".jsonl"
	lockFileName = "store.lock"

	// lockRetryDelay is how often a blocked writer re-attempts the
	// advisory lock before its context expires.
	lockRetryDelay = 50 * time.Millisecond

	// maxLineBytes bounds a single JSONL line. Assistant messages can be
	// long but a line past this point means a corrupt file, not a message.
	maxLineBytes = 16 << 20
)

// FileStore persists each conversation as one JSONL file under a data
// directory: the first line holds the conversation metadata, every
// following line one message. It backs the "file" storage mode for
// single-node development.
//
// Mutations take an advisory lock (gofrs/flock on <dir>/store.lock) so a
// second mu process sharing the directory cannot interleave a
// read-modify-write. Files are replaced atomically via temp file + rename,
// which also keeps lock-free readers consistent: they see the old snapshot
// or the new one, never a torn file.
type FileStore struct {
	dir    string
	flk    *flock.Flock
	mu     sync.Mutex
	logger log.Logger
}

type fileConversation struct {
	meta Conversation
	msgs []chat.Message
}

// NewFileStore creates a FileStore rooted at dir, creating the directory
// if needed.
func NewFileStore(dir string, logger log.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("data dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &FileStore{
		dir:    dir,
		flk:    flock.New(filepath.Join(dir, lockFileName)),
		logger: logger,
	}, nil
}

// lock serializes mutations against other goroutines and other processes.
// The returned release function must be called exactly once.
func (s *FileStore) lock(ctx context.Context) (func(), error) {
	s.mu.Lock()
	locked, err := s.flk.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("acquiring store lock: %w", err)
	}
	if !locked {
		s.mu.Unlock()
		return nil, fmt.Errorf("store lock is held by another process")
	}
	return func() {
		if err := s.flk.Unlock(); err != nil {
			s.logger.Warn("releasing store lock", "error", err)
		}
		s.mu.Unlock()
	}, nil
}

func (s *FileStore) path(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+fileExt)
}

// Create starts a new conversation.
func (s *FileStore) Create(ctx context.Context, title string) (Conversation, error) {
	release, err := s.lock(ctx)
	if err != nil {
		return Conversation{}, err
	}
	defer release()

	now := time.Now().UTC()
	fc := &fileConversation{meta: Conversation{
		ID:        uuid.New(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	if err := s.write(fc); err != nil {
		return Conversation{}, err
	}

	s.logger.Debug("created conversation", "id", fc.meta.ID, "title", title)
	return fc.meta, nil
}

// Get returns one conversation by ID.
func (s *FileStore) Get(_ context.Context, id uuid.UUID) (Conversation, error) {
	fc, err := s.read(id)
	if err != nil {
		return Conversation{}, err
	}
	return fc.meta, nil
}

// List returns conversations ordered by most recent activity first.
func (s *FileStore) List(_ context.Context, limit, offset int) ([]Conversation, error) {
	limit = NormalizeListLimit(limit)
	if offset < 0 {
		offset = 0
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading data dir: %w", err)
	}

	all := make([]Conversation, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(entry.Name(), fileExt))
		if err != nil {
			continue
		}
		fc, err := s.read(id)
		if err != nil {
			s.logger.Warn("skipping unreadable conversation file", "file", entry.Name(), "error", err)
			continue
		}
		all = append(all, fc.meta)
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})

	if offset >= len(all) {
		return []Conversation{}, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Delete removes a conversation and all its messages.
func (s *FileStore) Delete(ctx context.Context, id uuid.UUID) error {
	release, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	return nil
}

// SetTitle renames a conversation.
func (s *FileStore) SetTitle(ctx context.Context, id uuid.UUID, title string) error {
	release, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer release()

	fc, err := s.read(id)
	if err != nil {
		return err
	}
	fc.meta.Title = title
	fc.meta.UpdatedAt = time.Now().UTC()
	return s.write(fc)
}

// History returns all stored messages for a conversation, oldest first.
func (s *FileStore) History(_ context.Context, conversationID uuid.UUID) ([]chat.Message, error) {
	fc, err := s.read(conversationID)
	if err != nil {
		return nil, err
	}
	return fc.msgs, nil
}

// Append durably adds messages to the end of the conversation. The file
// is rewritten and fsynced before rename, so a message reported saved
// survives a crash.
func (s *FileStore) Append(ctx context.Context, conversationID uuid.UUID, msgs ...chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	release, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer release()

	fc, err := s.read(conversationID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, msg := range msgs {
		if msg.ID == uuid.Nil {
			msg.ID = uuid.New()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		msg.ConversationID = conversationID
		fc.msgs = append(fc.msgs, msg)
	}
	fc.meta.MessageCount = len(fc.msgs)
	fc.meta.UpdatedAt = now

	if err := s.write(fc); err != nil {
		return err
	}

	s.logger.Debug("appended messages", "conversation_id", conversationID, "count", len(msgs))
	return nil
}

// read loads one conversation file. Malformed message lines are skipped
// with a warning; a malformed metadata line fails the whole read.
func (s *FileStore) read(id uuid.UUID) (*fileConversation, error) {
	f, err := os.Open(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("opening conversation %s: %w", id, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading conversation %s: %w", id, err)
		}
		return nil, fmt.Errorf("conversation file %s is empty", id)
	}

	fc := &fileConversation{}
	if err := json.Unmarshal(scanner.Bytes(), &fc.meta); err != nil {
		return nil, fmt.Errorf("parsing metadata for %s: %w", id, err)
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg chat.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.logger.Warn("skipping malformed message line", "conversation_id", id, "error", err)
			continue
		}
		fc.msgs = append(fc.msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading conversation %s: %w", id, err)
	}
	return fc, nil
}

// write replaces the conversation file atomically: write to a temp file in
// the same directory, fsync, then rename over the target.
func (s *FileStore) write(fc *fileConversation) error {
	tmp, err := os.CreateTemp(s.dir, fc.meta.ID.String()+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	if err := writeLine(w, fc.meta); err != nil {
		return fmt.Errorf("writing metadata for %s: %w", fc.meta.ID, err)
	}
	for i, msg := range fc.msgs {
		if err := writeLine(w, msg); err != nil {
			return fmt.Errorf("writing message %d for %s: %w", i, fc.meta.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing conversation %s: %w", fc.meta.ID, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing conversation %s: %w", fc.meta.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path(fc.meta.ID)); err != nil {
		return fmt.Errorf("replacing conversation %s: %w", fc.meta.ID, err)
	}
	tmpName = ""
	return nil
}

func writeLine(w *bufio.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.WriteByte('\n')
}
