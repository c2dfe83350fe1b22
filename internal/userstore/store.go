package userstore

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"paper-twinview/internal/logger"
	"paper-twinview/internal/types"
)

// User is a stored account. Accounts start pending and unpaid; an
// administrator approves them before they can sign in.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	Active       bool      `json:"active"`
	Pending      bool      `json:"pending"`
	Paid         bool      `json:"paid"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}

// AdminUsername is the account guaranteed to exist after store creation.
const AdminUsername = "admin"

const defaultAdminPassword = "admin"

// Store persists user accounts.
type Store interface {
	Get(username string) (User, bool)
	List() []User
	Register(username, password string) (User, error)
	Authenticate(username, password string) (User, error)
	Approve(username string) error
	SetPaid(username string, paid bool) error
}

// FileStore keeps all accounts in a single JSON file, loaded at
// construction and rewritten atomically on every mutation.
type FileStore struct {
	mu    sync.RWMutex
	path  string
	users map[string]User
}

// NewFileStore loads (or creates) the store at path and ensures the
// admin account exists. Creation is idempotent across restarts.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, users: make(map[string]User)}

	if err := s.load(); err != nil {
		return nil, err
	}
	if err := s.ensureAdmin(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return types.NewAppError(types.ErrStorage, "failed to read user store", err)
	}
	if len(data) == 0 {
		return nil
	}

	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		return types.NewAppError(types.ErrStorage, "user store is corrupted", err)
	}
	for _, u := range users {
		s.users[u.Username] = u
	}
	return nil
}

// ensureAdmin creates the built-in admin account if absent. An existing
// admin record is never modified, so a changed admin password survives
// restarts.
func (s *FileStore) ensureAdmin() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[AdminUsername]; ok {
		return nil
	}

	s.users[AdminUsername] = User{
		ID:           uuid.New().String(),
		Username:     AdminUsername,
		PasswordHash: hashPassword(defaultAdminPassword),
		Active:       true,
		Pending:      false,
		Paid:         true,
		IsAdmin:      true,
		CreatedAt:    time.Now(),
	}
	logger.Info("created built-in admin account", logger.String("path", s.path))
	return s.persistLocked()
}

func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

func verifyPassword(hash, password string) bool {
	candidate := hashPassword(password)
	return subtle.ConstantTimeCompare([]byte(hash), []byte(candidate)) == 1
}

// persistLocked writes the store. Callers must hold s.mu.
func (s *FileStore) persistLocked() error {
	users := make([]User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })

	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return types.NewAppError(types.ErrStorage, "failed to encode user store", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return types.NewAppError(types.ErrStorage, "failed to create user store directory", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return types.NewAppError(types.ErrStorage, "failed to write user store", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return types.NewAppError(types.ErrStorage, "failed to replace user store", err)
	}
	return nil
}

// Get returns the account for username.
func (s *FileStore) Get(username string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	return u, ok
}

// List returns all accounts ordered by creation time.
func (s *FileStore) List() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users
}

// Register creates a new pending account.
func (s *FileStore) Register(username, password string) (User, error) {
	if username == "" || password == "" {
		return User{}, types.NewAppError(types.ErrInvalidInput, "username and password are required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return User{}, types.NewAppError(types.ErrInvalidInput, fmt.Sprintf("username %q is taken", username), nil)
	}

	u := User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hashPassword(password),
		Active:       false,
		Pending:      true,
		Paid:         false,
		IsAdmin:      false,
		CreatedAt:    time.Now(),
	}
	s.users[username] = u

	if err := s.persistLocked(); err != nil {
		delete(s.users, username)
		return User{}, err
	}
	logger.Info("registered account", logger.String("username", username))
	return u, nil
}

// Authenticate verifies credentials and account state.
func (s *FileStore) Authenticate(username, password string) (User, error) {
	s.mu.RLock()
	u, ok := s.users[username]
	s.mu.RUnlock()

	if !ok || !verifyPassword(u.PasswordHash, password) {
		return User{}, types.NewAppError(types.ErrAuth, "invalid username or password", nil)
	}
	if u.Pending {
		return User{}, types.NewAppError(types.ErrAuth, "account is awaiting approval", nil)
	}
	if !u.Active {
		return User{}, types.NewAppError(types.ErrAuth, "account is disabled", nil)
	}
	return u, nil
}

// Approve activates a pending account.
func (s *FileStore) Approve(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return types.NewAppError(types.ErrInvalidInput, fmt.Sprintf("unknown user %q", username), nil)
	}
	u.Pending = false
	u.Active = true
	s.users[username] = u
	return s.persistLocked()
}

// SetPaid flips the paid flag on an account.
func (s *FileStore) SetPaid(username string, paid bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return types.NewAppError(types.ErrInvalidInput, fmt.Sprintf("unknown user %q", username), nil)
	}
	u.Paid = paid
	s.users[username] = u
	return s.persistLocked()
}
