package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
)

// MemoryStore is an in-process Store for tests and local runs. WithTx
// snapshots every table and restores the snapshot when the callback fails.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData
	inTx bool
	now  func() time.Time
}

var _ Store = (*MemoryStore)(nil)

type memData struct {
	seq           int64
	users         map[int64]models.User
	profiles      map[int64]models.Profile
	accounts      map[int64]models.ConnectedAccount
	posts         map[int64]models.Post
	postPlatforms map[int64]models.PostPlatform
	usage         map[int64]models.UsageCounter
	logs          []models.UsageLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: &memData{
			users:         map[int64]models.User{},
			profiles:      map[int64]models.Profile{},
			accounts:      map[int64]models.ConnectedAccount{},
			posts:         map[int64]models.Post{},
			postPlatforms: map[int64]models.PostPlatform{},
			usage:         map[int64]models.UsageCounter{},
		},
		now: time.Now,
	}
}

func (d *memData) clone() *memData {
	c := &memData{
		seq:           d.seq,
		users:         make(map[int64]models.User, len(d.users)),
		profiles:      make(map[int64]models.Profile, len(d.profiles)),
		accounts:      make(map[int64]models.ConnectedAccount, len(d.accounts)),
		posts:         make(map[int64]models.Post, len(d.posts)),
		postPlatforms: make(map[int64]models.PostPlatform, len(d.postPlatforms)),
		usage:         make(map[int64]models.UsageCounter, len(d.usage)),
		logs:          append([]models.UsageLog(nil), d.logs...),
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.profiles {
		c.profiles[k] = v
	}
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.posts {
		c.posts[k] = v
	}
	for k, v := range d.postPlatforms {
		c.postPlatforms[k] = v
	}
	for k, v := range d.usage {
		c.usage[k] = v
	}
	return c
}

func (s *MemoryStore) nextID() int64 {
	s.data.seq++
	return s.data.seq
}

func (s *MemoryStore) Users() UserRepository                 { return memUsers{s} }
func (s *MemoryStore) Profiles() ProfileRepository           { return memProfiles{s} }
func (s *MemoryStore) Accounts() SocialAccountRepository     { return memAccounts{s} }
func (s *MemoryStore) Posts() PostRepository                 { return memPosts{s} }
func (s *MemoryStore) PostPlatforms() PostPlatformRepository { return memPostPlatforms{s} }
func (s *MemoryStore) Usage() UsageRepository                { return memUsage{s} }

func (s *MemoryStore) WithTx(ctx context.Context, fn func(Store) error) error {
	s.mu.Lock()
	if s.inTx {
		s.mu.Unlock()
		return fn(s)
	}
	snapshot := s.data.clone()
	s.inTx = true
	s.mu.Unlock()

	err := fn(s)
	if err == nil {
		err = ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTx = false
	if err != nil {
		s.data = snapshot
	}
	return err
}

// UsageLogs returns every usage log written so far.
func (s *MemoryStore) UsageLogs() []models.UsageLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.UsageLog(nil), s.data.logs...)
}

type memUsers struct{ s *MemoryStore }

func (m memUsers) GetByID(_ context.Context, id int64) (*models.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.data.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return &u, nil
}

func (m memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.data.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
}

func (m memUsers) Create(_ context.Context, user *models.User) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.data.users {
		if u.Email == user.Email {
			return 0, fmt.Errorf("user %s: %w", user.Email, ErrDuplicate)
		}
	}
	u := *user
	if u.Tier == "" {
		u.Tier = models.TierFree
	}
	u.ID = m.s.nextID()
	u.CreatedAt, u.UpdatedAt = m.s.now(), m.s.now()
	m.s.data.users[u.ID] = u
	return u.ID, nil
}

func (m memUsers) Update(_ context.Context, user *models.User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.data.users[user.ID]
	if !ok {
		return fmt.Errorf("user %d: %w", user.ID, ErrNotFound)
	}
	u.GoogleID, u.Name, u.ProfilePicture = user.GoogleID, user.Name, user.ProfilePicture
	u.UpdatedAt = m.s.now()
	m.s.data.users[u.ID] = u
	return nil
}

type memProfiles struct{ s *MemoryStore }

func (m memProfiles) Create(_ context.Context, p *models.Profile) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if p.IsDefault {
		for _, existing := range m.s.data.profiles {
			if existing.UserID == p.UserID && existing.IsDefault {
				return 0, fmt.Errorf("default profile: %w", ErrDuplicate)
			}
		}
	}
	c := *p
	c.ID = m.s.nextID()
	c.CreatedAt, c.UpdatedAt = m.s.now(), m.s.now()
	m.s.data.profiles[c.ID] = c
	return c.ID, nil
}

func (m memProfiles) GetByID(_ context.Context, id int64) (*models.Profile, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.data.profiles[id]
	if !ok {
		return nil, fmt.Errorf("profile %d: %w", id, ErrNotFound)
	}
	return &p, nil
}

func (m memProfiles) ListByUserID(_ context.Context, userID int64) ([]*models.Profile, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*models.Profile
	for _, p := range m.s.data.profiles {
		if p.UserID == userID {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m memProfiles) CountByUserID(ctx context.Context, userID int64) (int, error) {
	list, err := m.ListByUserID(ctx, userID)
	return len(list), err
}

func (m memProfiles) ClearDefault(_ context.Context, userID int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for id, p := range m.s.data.profiles {
		if p.UserID == userID && p.IsDefault {
			p.IsDefault = false
			m.s.data.profiles[id] = p
		}
	}
	return nil
}

func (m memProfiles) SetDefault(_ context.Context, id int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.data.profiles[id]
	if !ok {
		return fmt.Errorf("profile %d: %w", id, ErrNotFound)
	}
	p.IsDefault = true
	m.s.data.profiles[id] = p
	return nil
}

// Remove cascades to accounts and posts like the foreign keys do.
func (m memProfiles) Remove(_ context.Context, id int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.data.profiles[id]; !ok {
		return fmt.Errorf("profile %d: %w", id, ErrNotFound)
	}
	delete(m.s.data.profiles, id)
	for aid, a := range m.s.data.accounts {
		if a.ProfileID == id {
			m.s.removeAccount(aid)
		}
	}
	for pid, p := range m.s.data.posts {
		if p.ProfileID == id {
			m.s.removePost(pid)
		}
	}
	return nil
}

func (s *MemoryStore) removeAccount(id int64) {
	delete(s.data.accounts, id)
	for ppid, pp := range s.data.postPlatforms {
		if pp.AccountID == id {
			delete(s.data.postPlatforms, ppid)
		}
	}
}

func (s *MemoryStore) removePost(id int64) {
	delete(s.data.posts, id)
	for ppid, pp := range s.data.postPlatforms {
		if pp.PostID == id {
			delete(s.data.postPlatforms, ppid)
		}
	}
}

type memAccounts struct{ s *MemoryStore }

func (m memAccounts) Upsert(_ context.Context, sa *models.ConnectedAccount) (int64, bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	now := m.s.now()
	for id, existing := range m.s.data.accounts {
		if existing.ProfileID == sa.ProfileID && existing.Platform == sa.Platform && existing.PlatformUserID == sa.PlatformUserID {
			existing.Username, existing.DisplayName, existing.ProfilePicture = sa.Username, sa.DisplayName, sa.ProfilePicture
			existing.AccessToken = sa.AccessToken
			if sa.RefreshToken != "" {
				existing.RefreshToken = sa.RefreshToken
			}
			existing.TokenExpiresAt = sa.TokenExpiresAt
			existing.PlatformData = sa.PlatformData
			existing.IsActive = true
			existing.ConnectedAt, existing.UpdatedAt = now, now
			m.s.data.accounts[id] = existing
			return id, false, nil
		}
	}
	c := *sa
	c.ID = m.s.nextID()
	c.IsActive = true
	c.ConnectedAt, c.CreatedAt, c.UpdatedAt = now, now, now
	m.s.data.accounts[c.ID] = c
	return c.ID, true, nil
}

func (m memAccounts) Exists(_ context.Context, profileID int64, platform models.Platform, platformUserID string) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, a := range m.s.data.accounts {
		if a.ProfileID == profileID && a.Platform == platform && a.PlatformUserID == platformUserID {
			return true, nil
		}
	}
	return false, nil
}

func (m memAccounts) GetByID(_ context.Context, id int64) (*models.ConnectedAccount, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.data.accounts[id]
	if !ok {
		return nil, fmt.Errorf("connected account %d: %w", id, ErrNotFound)
	}
	return &a, nil
}

func (m memAccounts) filter(keep func(models.ConnectedAccount) bool) []*models.ConnectedAccount {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*models.ConnectedAccount
	for _, a := range m.s.data.accounts {
		if keep(a) {
			a := a
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m memAccounts) ListByProfileID(_ context.Context, profileID int64) ([]*models.ConnectedAccount, error) {
	return m.filter(func(a models.ConnectedAccount) bool { return a.ProfileID == profileID }), nil
}

func (m memAccounts) CountByUserID(_ context.Context, userID int64) (int, error) {
	m.s.mu.Lock()
	owned := map[int64]bool{}
	for _, p := range m.s.data.profiles {
		if p.UserID == userID {
			owned[p.ID] = true
		}
	}
	m.s.mu.Unlock()
	return len(m.filter(func(a models.ConnectedAccount) bool { return owned[a.ProfileID] })), nil
}

func (m memAccounts) ListExpiring(_ context.Context, before time.Time) ([]*models.ConnectedAccount, error) {
	return m.filter(func(a models.ConnectedAccount) bool {
		return a.IsActive && a.RefreshToken != "" && a.TokenExpiresAt != nil && a.TokenExpiresAt.Before(before)
	}), nil
}

func (m memAccounts) update(id int64, fn func(*models.ConnectedAccount)) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.data.accounts[id]
	if !ok {
		return fmt.Errorf("connected account %d: %w", id, ErrNotFound)
	}
	fn(&a)
	now := m.s.now()
	a.LastSyncedAt = &now
	a.UpdatedAt = now
	m.s.data.accounts[id] = a
	return nil
}

func (m memAccounts) SetToken(_ context.Context, id int64, accessToken, refreshToken string, expiresAt *time.Time) error {
	return m.update(id, func(a *models.ConnectedAccount) {
		a.AccessToken = accessToken
		if refreshToken != "" {
			a.RefreshToken = refreshToken
		}
		a.TokenExpiresAt = expiresAt
	})
}

func (m memAccounts) SetActive(_ context.Context, id int64, active bool) error {
	return m.update(id, func(a *models.ConnectedAccount) { a.IsActive = active })
}

func (m memAccounts) Remove(_ context.Context, id int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.data.accounts[id]; !ok {
		return fmt.Errorf("connected account %d: %w", id, ErrNotFound)
	}
	m.s.removeAccount(id)
	return nil
}

type memPosts struct{ s *MemoryStore }

func (m memPosts) Create(_ context.Context, post *models.Post) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c := *post
	c.Platforms = nil
	c.ID = m.s.nextID()
	c.CreatedAt, c.UpdatedAt = m.s.now(), m.s.now()
	m.s.data.posts[c.ID] = c
	return c.ID, nil
}

func (m memPosts) GetByID(_ context.Context, id int64) (*models.Post, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.data.posts[id]
	if !ok {
		return nil, fmt.Errorf("post %d: %w", id, ErrNotFound)
	}
	return &p, nil
}

func (m memPosts) ListByUserID(_ context.Context, userID int64, limit int) ([]*models.Post, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*models.Post
	for _, p := range m.s.data.posts {
		if p.UserID == userID {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m memPosts) UpdateStatus(_ context.Context, id int64, status models.PostStatus) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.data.posts[id]
	if !ok {
		return fmt.Errorf("post %d: %w", id, ErrNotFound)
	}
	p.Status = status
	p.UpdatedAt = m.s.now()
	m.s.data.posts[id] = p
	return nil
}

func (m memPosts) Remove(_ context.Context, id int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.data.posts[id]; !ok {
		return fmt.Errorf("post %d: %w", id, ErrNotFound)
	}
	m.s.removePost(id)
	return nil
}

type memPostPlatforms struct{ s *MemoryStore }

func (m memPostPlatforms) Create(_ context.Context, pp *models.PostPlatform) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.data.posts[pp.PostID]; !ok {
		return 0, fmt.Errorf("post %d: %w", pp.PostID, ErrNotFound)
	}
	c := *pp
	c.ID = m.s.nextID()
	c.CreatedAt, c.UpdatedAt = m.s.now(), m.s.now()
	m.s.data.postPlatforms[c.ID] = c
	return c.ID, nil
}

func (m memPostPlatforms) GetByID(_ context.Context, id int64) (*models.PostPlatform, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	pp, ok := m.s.data.postPlatforms[id]
	if !ok {
		return nil, fmt.Errorf("post platform %d: %w", id, ErrNotFound)
	}
	return &pp, nil
}

func (m memPostPlatforms) ListByPostID(_ context.Context, postID int64) ([]*models.PostPlatform, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*models.PostPlatform
	for _, pp := range m.s.data.postPlatforms {
		if pp.PostID == postID {
			pp := pp
			out = append(out, &pp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memPostPlatforms) Update(_ context.Context, pp *models.PostPlatform) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	existing, ok := m.s.data.postPlatforms[pp.ID]
	if !ok {
		return fmt.Errorf("post platform %d: %w", pp.ID, ErrNotFound)
	}
	existing.Status = pp.Status
	existing.PublishedID, existing.PublishedURL = pp.PublishedID, pp.PublishedURL
	existing.ErrorMessage, existing.PublishedAt = pp.ErrorMessage, pp.PublishedAt
	existing.UpdatedAt = m.s.now()
	m.s.data.postPlatforms[pp.ID] = existing
	return nil
}

func (m memPostPlatforms) Claim(_ context.Context, id int64) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	pp, ok := m.s.data.postPlatforms[id]
	if !ok || pp.Status != models.TargetStatusPending {
		return false, nil
	}
	pp.Status = models.TargetStatusPublishing
	m.s.data.postPlatforms[id] = pp
	return true, nil
}

func (m memPostPlatforms) Release(_ context.Context, id int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	pp, ok := m.s.data.postPlatforms[id]
	if ok && pp.Status == models.TargetStatusPublishing {
		pp.Status = models.TargetStatusPending
		m.s.data.postPlatforms[id] = pp
	}
	return nil
}

func (m memPostPlatforms) ListDue(_ context.Context, now time.Time, limit int) ([]*models.PostPlatform, error) {
	deferred := map[models.Platform]bool{}
	for _, p := range models.DeferredPlatforms() {
		deferred[p] = true
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*models.PostPlatform
	for _, pp := range m.s.data.postPlatforms {
		post := m.s.data.posts[pp.PostID]
		if pp.Status != models.TargetStatusPending || post.Status != models.PostStatusScheduled || !deferred[pp.Platform] {
			continue
		}
		if post.ScheduledFor == nil || post.ScheduledFor.After(now) {
			continue
		}
		pp := pp
		out = append(out, &pp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memUsage struct{ s *MemoryStore }

func (m memUsage) Get(_ context.Context, userID int64) (*models.UsageCounter, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.data.usage[userID]
	if !ok {
		return &models.UsageCounter{UserID: userID}, nil
	}
	return &u, nil
}

func (m memUsage) Save(_ context.Context, u *models.UsageCounter) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c := *u
	c.UpdatedAt = m.s.now()
	m.s.data.usage[u.UserID] = c
	return nil
}

func (m memUsage) AddLog(_ context.Context, l *models.UsageLog) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c := *l
	c.ID = m.s.nextID()
	c.CreatedAt = m.s.now()
	m.s.data.logs = append(m.s.data.logs, c)
	return c.ID, nil
}
