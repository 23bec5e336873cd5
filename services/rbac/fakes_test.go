package rbac

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
)

// memStore backs every repository the engine uses
type memStore struct {
	mu          sync.Mutex
	roles       map[uuid.UUID]*models.Role
	rolePerms   map[uuid.UUID][]uuid.UUID
	perms       map[uuid.UUID]models.Permission
	users       map[uuid.UUID]*models.User
	assignments []*models.UserRoleAssignment
	writes      int
	permQueries int

	// beforeRoleDelete runs ahead of a role delete, e.g. to land a racing assignment
	beforeRoleDelete func()
}

func newMemStore() *memStore {
	return &memStore{
		roles:     map[uuid.UUID]*models.Role{},
		rolePerms: map[uuid.UUID][]uuid.UUID{},
		perms:     map[uuid.UUID]models.Permission{},
		users:     map[uuid.UUID]*models.User{},
	}
}

func (s *memStore) repositories() *repositories.Repositories {
	return &repositories.Repositories{
		Users:       userRepo{s},
		Roles:       roleRepo{s},
		Permissions: permRepo{s},
		Assignments: assignmentRepo{s},
	}
}

func (s *memStore) addPermission(resource, action string) models.Permission {
	p := *models.NewPermission("test", resource, action, "")
	s.perms[p.ID] = p
	return p
}

func (s *memStore) addRole(name string, system bool, perms ...models.Permission) *models.Role {
	r := models.NewRole(name, name+" role")
	r.IsSystem = system
	s.roles[r.ID] = r
	for _, p := range perms {
		s.rolePerms[r.ID] = append(s.rolePerms[r.ID], p.ID)
	}
	return r
}

func (s *memStore) addUser(tenantID uuid.UUID, email string) *models.User {
	u := models.NewUser(tenantID, email, email, "")
	s.users[u.ID] = u
	return u
}

type roleRepo struct{ s *memStore }

func (r roleRepo) Create(_ context.Context, role *models.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.roles {
		if existing.Name == role.Name {
			return repositories.ErrDuplicate
		}
	}
	cp := *role
	r.s.roles[role.ID] = &cp
	r.s.writes++
	return nil
}

func (r roleRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	role, ok := r.s.roles[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *role
	return &cp, nil
}

func (r roleRepo) GetByName(_ context.Context, name string) (*models.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, role := range r.s.roles {
		if role.Name == name {
			cp := *role
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r roleRepo) List(context.Context) ([]*models.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*models.Role, 0, len(r.s.roles))
	for _, role := range r.s.roles {
		cp := *role
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r roleRepo) Update(_ context.Context, role *models.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.roles[role.ID]; !ok {
		return repositories.ErrNotFound
	}
	cp := *role
	r.s.roles[role.ID] = &cp
	r.s.writes++
	return nil
}

func (r roleRepo) Delete(_ context.Context, id uuid.UUID) error {
	if r.s.beforeRoleDelete != nil {
		r.s.beforeRoleDelete()
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.roles[id]; !ok {
		return repositories.ErrNotFound
	}
	for _, a := range r.s.assignments {
		if a.RoleID == id {
			return fmt.Errorf("delete role: %w", repositories.ErrInUse)
		}
	}
	delete(r.s.roles, id)
	delete(r.s.rolePerms, id)
	r.s.writes++
	return nil
}

func (r roleRepo) GetPermissions(_ context.Context, roleID uuid.UUID) ([]models.Permission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.Permission{}
	for _, id := range r.s.rolePerms[roleID] {
		out = append(out, r.s.perms[id])
	}
	return out, nil
}

func (r roleRepo) SetPermissions(_ context.Context, roleID uuid.UUID, ids []uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.rolePerms[roleID] = append([]uuid.UUID(nil), ids...)
	r.s.writes++
	return nil
}

func (r roleRepo) CountAssignments(_ context.Context, roleID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, a := range r.s.assignments {
		if a.RoleID == roleID {
			n++
		}
	}
	return n, nil
}

type permRepo struct{ s *memStore }

func (r permRepo) Upsert(_ context.Context, p *models.Permission) (*models.Permission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, existing := range r.s.perms {
		if existing.Name == p.Name {
			existing.Description = p.Description
			existing.Category = p.Category
			r.s.perms[id] = existing
			return &existing, nil
		}
	}
	r.s.perms[p.ID] = *p
	cp := *p
	return &cp, nil
}

func (r permRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]models.Permission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.Permission{}
	for _, id := range ids {
		if p, ok := r.s.perms[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r permRepo) List(_ context.Context, category string) ([]models.Permission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.Permission{}
	for _, p := range r.s.perms {
		if category == "" || p.Category == category {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type assignmentRepo struct{ s *memStore }

func (r assignmentRepo) Create(_ context.Context, a *models.UserRoleAssignment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.assignments {
		if existing.UserID == a.UserID && existing.RoleID == a.RoleID {
			return repositories.ErrDuplicate
		}
	}
	r.s.assignments = append(r.s.assignments, a)
	r.s.writes++
	return nil
}

func (r assignmentRepo) Get(_ context.Context, userID, roleID uuid.UUID) (*models.UserRoleAssignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.assignments {
		if a.UserID == userID && a.RoleID == roleID {
			return a, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r assignmentRepo) Delete(_ context.Context, userID, roleID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, a := range r.s.assignments {
		if a.UserID == userID && a.RoleID == roleID {
			r.s.assignments = append(r.s.assignments[:i], r.s.assignments[i+1:]...)
			r.s.writes++
			return nil
		}
	}
	return repositories.ErrNotFound
}

func (r assignmentRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]models.UserRole, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.UserRole{}
	for _, a := range r.s.assignments {
		if a.UserID == userID {
			out = append(out, models.UserRole{Role: *r.s.roles[a.RoleID], AssignedBy: a.AssignedBy, AssignedAt: a.AssignedAt})
		}
	}
	return out, nil
}

func (r assignmentRepo) PermissionsForUser(_ context.Context, userID uuid.UUID) ([]models.Permission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.permQueries++
	seen := map[uuid.UUID]bool{}
	out := []models.Permission{}
	for _, a := range r.s.assignments {
		if a.UserID != userID {
			continue
		}
		for _, id := range r.s.rolePerms[a.RoleID] {
			if !seen[id] {
				seen[id] = true
				out = append(out, r.s.perms[id])
			}
		}
	}
	return out, nil
}

type userRepo struct{ s *memStore }

func (r userRepo) Create(_ context.Context, u *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.users[u.ID] = u
	return nil
}

func (r userRepo) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return u, nil
}

func (r userRepo) GetByEmail(_ context.Context, tenantID uuid.UUID, email string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.TenantID == tenantID && u.Email == models.NormalizeEmail(email) {
			return u, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r userRepo) ListByTenant(_ context.Context, tenantID uuid.UUID, _, _ int) ([]*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*models.User{}
	for _, u := range r.s.users {
		if u.TenantID == tenantID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r userRepo) Update(_ context.Context, u *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.users[u.ID] = u
	return nil
}

// inlineTx runs the callback without a real transaction
type inlineTx struct{}

func (inlineTx) Begin(context.Context) (repositories.Transaction, error) { return nil, nil }

func (inlineTx) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	return fn(ctx, nil)
}

type mockAuditSink struct {
	mock.Mock
}

func (m *mockAuditSink) Record(ctx context.Context, entry *models.AuditLog) error {
	return m.Called(ctx, entry).Error(0)
}

// actions returns the recorded audit actions in order
func (m *mockAuditSink) actions() []models.AuditAction {
	var out []models.AuditAction
	for _, call := range m.Calls {
		if call.Method == "Record" {
			out = append(out, call.Arguments.Get(1).(*models.AuditLog).Action)
		}
	}
	return out
}
