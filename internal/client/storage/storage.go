// Package storage persists the gateway session on disk so the session
// store can rehydrate it on the next start.
package storage

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SessionFile stores a Record at path. With a passphrase the record is
// sealed; without one it is written as plain JSON. The file is always
// created with mode 0600.
type SessionFile struct {
	path       string
	passphrase []byte
	mu         sync.Mutex
	now        func() time.Time
}

// NewSessionFile returns a SessionFile at path. An empty passphrase
// disables sealing.
func NewSessionFile(path, passphrase string) *SessionFile {
	return &SessionFile{
		path:       path,
		passphrase: []byte(passphrase),
		now:        time.Now,
	}
}

// Path returns the file location.
func (f *SessionFile) Path() string {
	return f.path
}

// Load returns the persisted cookies, or "" when nothing is stored.
func (f *SessionFile) Load() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read session file: %w", err)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return "", fmt.Errorf("parse session file: %w", err)
	}

	if !ff.Sealed {
		if ff.Record == nil {
			return "", nil
		}
		return ff.Record.Cookies, nil
	}

	salt, err := base64.StdEncoding.DecodeString(ff.Salt)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(ff.Data)
	if err != nil {
		return "", fmt.Errorf("decode session data: %w", err)
	}
	aead, err := NewAEADFromPassphrase(f.passphrase, salt)
	if err != nil {
		return "", err
	}
	plain, err := open(aead, sealed)
	if err != nil {
		return "", err
	}
	var rec Record
	if err := json.Unmarshal(plain, &rec); err != nil {
		return "", fmt.Errorf("parse sealed session: %w", err)
	}
	return rec.Cookies, nil
}

// Save replaces the stored cookies.
func (f *SessionFile) Save(cookies string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec := Record{Cookies: cookies, SavedAt: f.now().UTC()}
	ff := fileFormat{Record: &rec}

	if len(f.passphrase) > 0 {
		salt, err := newSalt()
		if err != nil {
			return err
		}
		aead, err := NewAEADFromPassphrase(f.passphrase, salt)
		if err != nil {
			return err
		}
		plain, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		sealed, err := seal(aead, plain)
		if err != nil {
			return err
		}
		ff = fileFormat{
			Sealed: true,
			Salt:   base64.StdEncoding.EncodeToString(salt),
			Data:   base64.StdEncoding.EncodeToString(sealed),
		}
	}

	data, err := json.Marshal(ff)
	if err != nil {
		return err
	}
	return writeFileAtomic(f.path, data)
}

// Clear removes the stored session. Clearing a missing file is not an error.
func (f *SessionFile) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod session file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}
