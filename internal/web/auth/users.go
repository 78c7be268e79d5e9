package auth

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/conduit-lang/admin/internal/admin/perm"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password
var ErrInvalidCredentials = errors.New("invalid username or password")

// User is an account allowed to request tokens
type User struct {
	ID           int64    `mapstructure:"id"`
	Username     string   `mapstructure:"username"`
	PasswordHash string   `mapstructure:"password_hash"`
	Roles        []string `mapstructure:"roles"`
	Superuser    bool     `mapstructure:"superuser"`
}

// Identity returns the caller the user authenticates as
func (u User) Identity() perm.Identity {
	roles := make([]string, len(u.Roles))
	copy(roles, u.Roles)
	return perm.Identity{UserID: u.ID, Username: u.Username, Roles: roles, Superuser: u.Superuser}
}

// Directory is an in-memory table of users keyed by username
type Directory struct {
	mu    sync.RWMutex
	users map[string]User
	// dummy is checked for unknown usernames
	dummy string
}

// NewDirectory creates a directory holding users
func NewDirectory(users ...User) (*Directory, error) {
	dummy, err := HashPassword("conduit-admin")
	if err != nil {
		return nil, err
	}
	d := &Directory{users: make(map[string]User), dummy: dummy}
	for _, u := range users {
		if err := d.Add(u); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Add registers a user. Usernames and ids are unique; ids must be positive.
func (d *Directory) Add(u User) error {
	if u.Username == "" || u.ID <= 0 {
		return fmt.Errorf("user needs a username and a positive id")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, existing := range d.users {
		if name == u.Username || existing.ID == u.ID {
			return fmt.Errorf("user %s (id %d) is already registered", u.Username, u.ID)
		}
	}
	d.users[u.Username] = u
	return nil
}

// AddWithPassword hashes password and registers the user
func (d *Directory) AddWithPassword(u User, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return d.Add(u)
}

// Authenticate checks the password and returns the user's identity
func (d *Directory) Authenticate(username, password string) (perm.Identity, error) {
	d.mu.RLock()
	u, ok := d.users[username]
	d.mu.RUnlock()

	if !ok {
		CheckPassword(password, d.dummy)
		return perm.Anonymous(), ErrInvalidCredentials
	}
	if !CheckPassword(password, u.PasswordHash) {
		return perm.Anonymous(), ErrInvalidCredentials
	}
	return u.Identity(), nil
}

// Usernames lists the registered usernames in order
func (d *Directory) Usernames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.users))
	for name := range d.users {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
