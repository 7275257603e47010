package security

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUserNotFound indicates the directory has no user under the given name.
	ErrUserNotFound = errors.New("user not found")

	// ErrOrganizationNotFound indicates the organization is unknown to the directory.
	ErrOrganizationNotFound = errors.New("organization not found")
)

// Directory is an in-memory organization and user directory.
type Directory struct {
	mu            sync.RWMutex
	organizations map[string]struct{}
	users         map[string]User
}

func NewDirectory() *Directory {
	return &Directory{
		organizations: make(map[string]struct{}),
		users:         make(map[string]User),
	}
}

// AddOrganization registers an organization id.
func (d *Directory) AddOrganization(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.organizations[id] = struct{}{}
}

// AddUser registers a user. The user's organization is registered as well.
func (d *Directory) AddUser(user User) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.organizations[user.Organization] = struct{}{}
	d.users[userKeyOf(user.Organization, user.Username)] = user
}

// OrganizationExists reports whether id is a known organization.
func (d *Directory) OrganizationExists(_ context.Context, id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.organizations[id]

	return ok
}

// LoadUser returns the user registered under username in organization.
func (d *Directory) LoadUser(_ context.Context, organization, username string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, ok := d.organizations[organization]; !ok {
		return User{}, fmt.Errorf("%s: %w", organization, ErrOrganizationNotFound)
	}

	user, ok := d.users[userKeyOf(organization, username)]
	if !ok {
		return User{}, fmt.Errorf("%s/%s: %w", organization, username, ErrUserNotFound)
	}

	return user, nil
}

func userKeyOf(organization, username string) string {
	return organization + "/" + username
}

type directoryFile struct {
	Organizations []string `yaml:"organizations"`
	Users         []User   `yaml:"users"`
}

// LoadDirectory reads organizations and users from a YAML document.
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read user directory: %w", err)
	}

	var doc directoryFile

	err = yaml.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse user directory %s: %w", path, err)
	}

	d := NewDirectory()

	for _, org := range doc.Organizations {
		d.AddOrganization(org)
	}

	for i, user := range doc.Users {
		if user.Username == "" || user.Organization == "" {
			return nil, fmt.Errorf("user %d of %s needs a username and an organization", i, path)
		}

		d.AddUser(user)
	}

	return d, nil
}
