package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	domainchat "workly/internal/domain/chat"
)

// Directory is the profile lookup chatd serves under /users and /companies.
type Directory struct {
	mu       sync.RWMutex
	profiles map[string]domainchat.Profile
	managers map[string]map[string]struct{}
}

func NewDirectory() *Directory {
	return &Directory{
		profiles: make(map[string]domainchat.Profile),
		managers: make(map[string]map[string]struct{}),
	}
}

func (d *Directory) Profile(ctx context.Context, p domainchat.Participant) (domainchat.Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	prof, ok := d.profiles[p.Key()]
	if !ok {
		return domainchat.Profile{}, domainchat.ErrProfileNotFound
	}
	return prof, nil
}

func (d *Directory) Put(prof domainchat.Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[prof.Participant.Key()] = prof
}

// AddManager lets userID act on behalf of companyID.
func (d *Directory) AddManager(companyID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.managers[companyID]
	if !ok {
		set = make(map[string]struct{})
		d.managers[companyID] = set
	}
	set[userID] = struct{}{}
}

// CompaniesOf lists the companies userID manages, used when minting tokens.
func (d *Directory) CompaniesOf(userID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for company, users := range d.managers {
		if _, ok := users[userID]; ok {
			out = append(out, company)
		}
	}
	sort.Strings(out)
	return out
}

type fixtureFile struct {
	Users []struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Headline string `json:"headline"`
		Avatar   string `json:"avatar_url"`
	} `json:"users"`
	Companies []struct {
		ID       string   `json:"id"`
		Name     string   `json:"name"`
		Headline string   `json:"headline"`
		Avatar   string   `json:"avatar_url"`
		Managers []string `json:"managers"`
	} `json:"companies"`
}

// LoadDirectory reads user and company fixtures from a JSON file.
func LoadDirectory(path string) (*Directory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var fx fixtureFile
	if err := json.Unmarshal(raw, &fx); err != nil {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}
	d := NewDirectory()
	for _, u := range fx.Users {
		id := strings.TrimSpace(u.ID)
		if id == "" {
			return nil, fmt.Errorf("fixtures: %w", domainchat.ErrParticipantIDRequired)
		}
		d.Put(domainchat.Profile{Participant: domainchat.User(id), DisplayName: u.Name, Headline: u.Headline, AvatarURL: u.Avatar})
	}
	for _, c := range fx.Companies {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			return nil, fmt.Errorf("fixtures: %w", domainchat.ErrParticipantIDRequired)
		}
		d.Put(domainchat.Profile{Participant: domainchat.CompanyParticipant(id), DisplayName: c.Name, Headline: c.Headline, AvatarURL: c.Avatar})
		for _, m := range c.Managers {
			d.AddManager(id, strings.TrimSpace(m))
		}
	}
	return d, nil
}
