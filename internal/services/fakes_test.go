package services

import (
	"context"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/npm-registry/npm-registry/internal/db/models"
	"github.com/npm-registry/npm-registry/internal/descriptor"
	"github.com/npm-registry/npm-registry/internal/notify"
)

// ---------------------------------------------------------------------------
// memStore: modules, tags, dependencies, keywords, stars, unpublished
// ---------------------------------------------------------------------------

// memStore is an in-memory stand-in for the PostgreSQL repositories. It keeps
// the same uniqueness rules: (name, version) for modules, (name, tag) for
// tags, (name, dependent) for dependencies, (keyword, name) for keywords.
type memStore struct {
	mu          sync.Mutex
	nextID      int64
	clock       time.Time
	modules     map[int64]*models.Module
	tags        map[int64]*models.Tag
	deps        []*models.ModuleDependency
	keywords    []*models.ModuleKeyword
	stars       []*models.ModuleStar
	unpublished map[string]*models.ModuleUnpublished

	// errs makes the named method fail
	errs map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		clock:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		modules:     map[int64]*models.Module{},
		tags:        map[int64]*models.Tag{},
		unpublished: map[string]*models.ModuleUnpublished{},
		errs:        map[string]error{},
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *memStore) fail(method string) error {
	return s.errs[method]
}

func cloneModule(m *models.Module) *models.Module {
	cp := *m
	return &cp
}

func (s *memStore) findModule(name, version string) *models.Module {
	for _, m := range s.modules {
		if m.Name == name && m.Version == version {
			return m
		}
	}
	return nil
}

func (s *memStore) GetModuleByID(_ context.Context, id int64) (*models.Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetModuleByID"); err != nil {
		return nil, err
	}
	m, ok := s.modules[id]
	if !ok {
		return nil, nil
	}
	return cloneModule(m), nil
}

func (s *memStore) GetModule(_ context.Context, name, version string) (*models.Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetModule"); err != nil {
		return nil, err
	}
	if m := s.findModule(name, version); m != nil {
		return cloneModule(m), nil
	}
	return nil, nil
}

func (s *memStore) ExistsVersion(_ context.Context, name, version string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findModule(name, version) != nil, nil
}

func (s *memStore) ListModulesByName(_ context.Context, name string) ([]*models.Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Module{}
	for _, m := range s.modules {
		if m.Name == name {
			out = append(out, cloneModule(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *memStore) ListModulesByIDs(_ context.Context, ids []int64) ([]*models.Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Module{}
	for _, id := range ids {
		if m, ok := s.modules[id]; ok {
			out = append(out, cloneModule(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) ListSummariesByIDs(_ context.Context, ids []int64) ([]models.ModuleSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.ModuleSummary{}
	for _, id := range ids {
		if m, ok := s.modules[id]; ok {
			out = append(out, models.ModuleSummary{Name: m.Name, Description: m.Description})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) ListNamesByAuthor(_ context.Context, username string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListNamesByAuthor"); err != nil {
		return nil, err
	}
	var names []string
	for _, m := range s.modules {
		if m.Author == username && !slices.Contains(names, m.Name) {
			names = append(names, m.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *memStore) GetLastModified(_ context.Context, name string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *time.Time
	for _, m := range s.modules {
		if m.Name == name && (latest == nil || m.UpdatedAt.After(*latest)) {
			ts := m.UpdatedAt
			latest = &ts
		}
	}
	return latest, nil
}

func (s *memStore) UpsertModule(_ context.Context, m *models.Module) (*models.SaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpsertModule"); err != nil {
		return nil, err
	}
	now := s.tick()
	row := s.findModule(m.Name, m.Version)
	if row == nil {
		row = &models.Module{ID: s.id(), Name: m.Name, Version: m.Version, CreatedAt: now}
		s.modules[row.ID] = row
	}
	row.Author = m.Author
	row.Package = m.Package
	row.Description = m.Description
	row.Dist = m.Dist
	row.PublishTime = m.PublishTime
	row.UpdatedAt = now

	m.ID = row.ID
	m.UpdatedAt = now
	return &models.SaveResult{ID: row.ID, LastModified: now}, nil
}

func (s *memStore) UpdatePackage(_ context.Context, id int64, pkg descriptor.Descriptor) (*models.Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[id]
	if !ok {
		return nil, nil
	}
	m.Package = pkg
	m.UpdatedAt = s.tick()
	return cloneModule(m), nil
}

func (s *memStore) UpdateDescription(_ context.Context, id int64, description string, pkg descriptor.Descriptor) (*models.Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[id]
	if !ok {
		return nil, nil
	}
	m.Description = description
	m.Package = pkg
	m.UpdatedAt = s.tick()
	return cloneModule(m), nil
}

func (s *memStore) TouchLastModified(_ context.Context, name string) (*models.Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("TouchLastModified"); err != nil {
		return nil, err
	}
	var newest *models.Module
	for _, m := range s.modules {
		if m.Name != name {
			continue
		}
		if newest == nil || m.UpdatedAt.After(newest.UpdatedAt) ||
			(m.UpdatedAt.Equal(newest.UpdatedAt) && m.ID > newest.ID) {
			newest = m
		}
	}
	if newest == nil {
		return nil, nil
	}
	newest.UpdatedAt = s.tick()
	return cloneModule(newest), nil
}

func (s *memStore) DeleteModulesByName(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.modules {
		if m.Name == name {
			delete(s.modules, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) DeleteModulesByNameAndVersions(_ context.Context, name string, versions []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.modules {
		if m.Name == name && slices.Contains(versions, m.Version) {
			delete(s.modules, id)
			n++
		}
	}
	return n, nil
}

// --- tags ---

func (s *memStore) findTag(name, tag string) *models.Tag {
	for _, t := range s.tags {
		if t.Name == name && t.Tag == tag {
			return t
		}
	}
	return nil
}

func (s *memStore) GetTag(_ context.Context, name, tag string) (*models.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetTag"); err != nil {
		return nil, err
	}
	if t := s.findTag(name, tag); t != nil {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) UpsertTag(_ context.Context, name, tag, version string, moduleID int64) (*models.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.tick()
	t := s.findTag(name, tag)
	if t == nil {
		t = &models.Tag{ID: s.id(), Name: name, Tag: tag, CreatedAt: now}
		s.tags[t.ID] = t
	}
	t.Version = version
	t.ModuleID = moduleID
	t.UpdatedAt = now
	cp := *t
	return &cp, nil
}

func (s *memStore) ListTags(_ context.Context, name string) ([]*models.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Tag{}
	for _, t := range s.tags {
		if t.Name == name {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out, nil
}

func (s *memStore) deleteTags(match func(*models.Tag) bool) int64 {
	var n int64
	for id, t := range s.tags {
		if match(t) {
			delete(s.tags, id)
			n++
		}
	}
	return n
}

func (s *memStore) DeleteTagsByName(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteTags(func(t *models.Tag) bool { return t.Name == name }), nil
}

func (s *memStore) DeleteTagsByIDs(_ context.Context, ids []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteTags(func(t *models.Tag) bool { return slices.Contains(ids, t.ID) }), nil
}

func (s *memStore) DeleteTagsByNames(_ context.Context, name string, tags []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteTags(func(t *models.Tag) bool { return t.Name == name && slices.Contains(tags, t.Tag) }), nil
}

func (s *memStore) latestTags(match func(*models.Tag) bool) []*models.Tag {
	var out []*models.Tag
	for _, t := range s.tags {
		if t.Tag == models.LatestTag && match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *memStore) ListLatestModuleIDs(_ context.Context, names []string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := []int64{}
	for _, t := range s.latestTags(func(t *models.Tag) bool { return slices.Contains(names, t.Name) }) {
		ids = append(ids, t.ModuleID)
	}
	return ids, nil
}

func (s *memStore) ListLatestModuleIDsByScope(_ context.Context, scope string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := []int64{}
	for _, t := range s.latestTags(func(t *models.Tag) bool { return strings.HasPrefix(t.Name, scope+"/") }) {
		ids = append(ids, t.ModuleID)
	}
	return ids, nil
}

// likeToRegexp translates a LIKE pattern into a case-insensitive regexp.
func likeToRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

func (s *memStore) SearchLatestModuleIDs(_ context.Context, pattern string, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SearchLatestModuleIDs"); err != nil {
		return nil, err
	}
	re := likeToRegexp(pattern)
	ids := []int64{}
	for _, t := range s.latestTags(func(t *models.Tag) bool { return re.MatchString(t.Name) }) {
		if len(ids) == limit {
			break
		}
		ids = append(ids, t.ModuleID)
	}
	return ids, nil
}

func (s *memStore) ListNamesModifiedSince(_ context.Context, since time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, t := range s.tags {
		if t.UpdatedAt.After(since) && !slices.Contains(names, t.Name) {
			names = append(names, t.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *memStore) ListAllNames(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, t := range s.tags {
		if !slices.Contains(names, t.Name) {
			names = append(names, t.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// --- dependencies ---

func (s *memStore) AddDependency(_ context.Context, name, dependent string) (*models.ModuleDependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("AddDependency"); err != nil {
		return nil, err
	}
	for _, d := range s.deps {
		if d.Name == name && d.Dependent == dependent {
			cp := *d
			return &cp, nil
		}
	}
	d := &models.ModuleDependency{ID: s.id(), Name: name, Dependent: dependent, CreatedAt: s.tick()}
	s.deps = append(s.deps, d)
	cp := *d
	return &cp, nil
}

func (s *memStore) ListDependents(_ context.Context, name string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []string{}
	for _, d := range s.deps {
		if d.Name == name {
			out = append(out, d.Dependent)
		}
	}
	return out, nil
}

// --- keywords ---

func (s *memStore) UpsertKeyword(_ context.Context, kw *models.ModuleKeyword) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpsertKeyword"); err != nil {
		return err
	}
	for _, k := range s.keywords {
		if k.Keyword == kw.Keyword && k.Name == kw.Name {
			k.Description = kw.Description
			kw.ID, kw.CreatedAt = k.ID, k.CreatedAt
			return nil
		}
	}
	row := &models.ModuleKeyword{ID: s.id(), Keyword: kw.Keyword, Name: kw.Name, Description: kw.Description, CreatedAt: s.tick()}
	s.keywords = append(s.keywords, row)
	kw.ID, kw.CreatedAt = row.ID, row.CreatedAt
	return nil
}

func (s *memStore) SearchByKeyword(_ context.Context, keyword string, limit int) ([]models.ModuleSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SearchByKeyword"); err != nil {
		return nil, err
	}
	var rows []*models.ModuleKeyword
	for _, k := range s.keywords {
		if k.Keyword == keyword {
			rows = append(rows, k)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID > rows[j].ID })
	out := []models.ModuleSummary{}
	for _, k := range rows {
		if len(out) == limit {
			break
		}
		out = append(out, models.ModuleSummary{Name: k.Name, Description: k.Description})
	}
	return out, nil
}

func (s *memStore) keywordRows(name string) []models.ModuleKeyword {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ModuleKeyword
	for _, k := range s.keywords {
		if k.Name == name {
			out = append(out, *k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Keyword < out[j].Keyword })
	return out
}

// --- stars ---

func (s *memStore) AddStar(_ context.Context, name, username string) (*models.ModuleStar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.stars {
		if st.Name == name && st.User == username {
			cp := *st
			return &cp, nil
		}
	}
	st := &models.ModuleStar{ID: s.id(), Name: name, User: username, CreatedAt: s.tick()}
	s.stars = append(s.stars, st)
	cp := *st
	return &cp, nil
}

func (s *memStore) RemoveStar(_ context.Context, name, username string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.stars)
	s.stars = slices.DeleteFunc(s.stars, func(st *models.ModuleStar) bool {
		return st.Name == name && st.User == username
	})
	return int64(before - len(s.stars)), nil
}

func (s *memStore) ListStarUsers(_ context.Context, name string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []string{}
	for _, st := range s.stars {
		if st.Name == name {
			out = append(out, st.User)
		}
	}
	return out, nil
}

func (s *memStore) ListStarredNames(_ context.Context, username string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []string{}
	for _, st := range s.stars {
		if st.User == username {
			out = append(out, st.Name)
		}
	}
	return out, nil
}

// --- unpublished ---

func (s *memStore) SaveUnpublished(_ context.Context, name string, pkg descriptor.Descriptor) (*models.ModuleUnpublished, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.tick()
	row, ok := s.unpublished[name]
	if !ok {
		row = &models.ModuleUnpublished{ID: s.id(), Name: name, CreatedAt: now}
		s.unpublished[name] = row
	}
	row.Package = pkg
	row.UpdatedAt = now
	cp := *row
	return &cp, nil
}

func (s *memStore) GetUnpublished(_ context.Context, name string) (*models.ModuleUnpublished, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.unpublished[name]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

// ---------------------------------------------------------------------------
// memMaintainers: one maintainer table
// ---------------------------------------------------------------------------

type memMaintainers struct {
	mu    sync.Mutex
	rows  map[string][]string // name -> usernames in insertion order
	err   error
	calls int
}

func newMemMaintainers() *memMaintainers {
	return &memMaintainers{rows: map[string][]string{}}
}

func (m *memMaintainers) set(name string, users ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[name] = append([]string(nil), users...)
}

func (m *memMaintainers) ListMaintainers(_ context.Context, name string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return append([]string{}, m.rows[name]...), nil
}

func (m *memMaintainers) ListModuleNamesByUser(_ context.Context, username string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var names []string
	for name, users := range m.rows {
		if slices.Contains(users, username) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *memMaintainers) AddMaintainers(_ context.Context, name string, usernames []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, u := range usernames {
		if !slices.Contains(m.rows[name], u) {
			m.rows[name] = append(m.rows[name], u)
		}
	}
	return nil
}

func (m *memMaintainers) UpdateMaintainers(_ context.Context, name string, usernames []string) (*models.MaintainerUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	update := &models.MaintainerUpdate{Add: []string{}, Remove: []string{}}
	for _, u := range usernames {
		if !slices.Contains(m.rows[name], u) && !slices.Contains(update.Add, u) {
			update.Add = append(update.Add, u)
		}
	}
	for _, u := range m.rows[name] {
		if !slices.Contains(usernames, u) {
			update.Remove = append(update.Remove, u)
		}
	}
	kept := slices.DeleteFunc(m.rows[name], func(u string) bool { return slices.Contains(update.Remove, u) })
	m.rows[name] = append(kept, update.Add...)
	return update, nil
}

func (m *memMaintainers) RemoveAllMaintainers(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	n := int64(len(m.rows[name]))
	delete(m.rows, name)
	return n, nil
}

// ---------------------------------------------------------------------------
// Users, classifier, notifier
// ---------------------------------------------------------------------------

type memUsers map[string]string // name -> email

func (u memUsers) ListUsersByNames(_ context.Context, names []string) ([]models.User, error) {
	out := []models.User{}
	for _, n := range names {
		if email, ok := u[n]; ok {
			out = append(out, models.User{Name: n, Email: email})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type classifierFunc func(name string) (bool, error)

func (f classifierFunc) IsPrivatePackage(_ context.Context, name string) (bool, error) {
	return f(name)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) types() []notify.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.EventType
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	store       *memStore
	private     *memMaintainers
	public      *memMaintainers
	notifier    *recordingNotifier
	packages    *PackageService
	maintainers *MaintainerService
	search      *SearchService
}

// newFixture wires the services against in-memory stores. Names under @corp
// are private.
func newFixture() *fixture {
	f := &fixture{
		store:    newMemStore(),
		private:  newMemMaintainers(),
		public:   newMemMaintainers(),
		notifier: &recordingNotifier{},
	}
	stores := Stores{
		Modules:            f.store,
		Tags:               f.store,
		Dependencies:       f.store,
		Keywords:           f.store,
		PrivateMaintainers: f.private,
		PublicMaintainers:  f.public,
		Stars:              f.store,
		Unpublished:        f.store,
		Users:              memUsers{"alice": "alice@example.com", "bob": "bob@example.com"},
	}
	classifier := NewScopeClassifier([]string{"@corp"}, nil)
	opts := Options{MaxConcurrency: 4, SearchLimit: 100}
	f.packages = NewPackageService(stores, classifier, f.notifier, opts)
	f.maintainers = NewMaintainerService(stores, classifier, f.packages)
	f.search = NewSearchService(stores, opts)
	return f
}
