package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"specsync/api/internal/apperr"
	"specsync/api/internal/archive"
	"specsync/api/internal/events"
	"specsync/api/internal/gitmirror"
	"specsync/api/internal/linkcode"
	"specsync/api/internal/rbac"
	"specsync/api/internal/search"
	"specsync/api/internal/store"
	"specsync/api/internal/util"
)

const (
	maxSlugLength   = 50
	maxSlugAttempts = 20
)

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	slug := strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		return "project"
	}
	return slug
}

// CreateProject creates a project owned by userID, who also becomes its
// first ADMIN member. The slug comes from the name with a numeric suffix
// when taken.
func (s *Service) CreateProject(ctx context.Context, userID string, input CreateProjectInput) (store.Project, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)
	if err := s.validate.Struct(input); err != nil {
		return store.Project{}, err
	}
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	now := s.now().UTC()
	base := slugify(input.Name)
	for attempt := 1; attempt <= maxSlugAttempts+1; attempt++ {
		slug := base
		switch {
		case attempt > maxSlugAttempts:
			slug = base + "-" + util.NewID("")[:6]
		case attempt > 1:
			slug = fmt.Sprintf("%s-%d", base, attempt)
		}
		project := store.Project{
			ID:          util.NewID("prj"),
			Name:        input.Name,
			Slug:        slug,
			Description: input.Description,
			OwnerID:     userID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		err := s.store.CreateProject(ctx, project)
		if err == nil {
			return project, nil
		}
		if !errors.Is(err, store.ErrAlreadyExists) {
			return store.Project{}, fmt.Errorf("create project: %w", apperr.FromStore(err, "project"))
		}
	}
	return store.Project{}, apperr.Internal("Could not allocate a project slug", nil)
}

func (s *Service) ListProjects(ctx context.Context, userID string) ([]store.ProjectSummary, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	projects, err := s.store.ListProjectsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", apperr.FromStore(err, "project"))
	}
	if projects == nil {
		projects = []store.ProjectSummary{}
	}
	return projects, nil
}

// GetProject looks a project up by id or slug. Callers without access see
// NotFound rather than AccessDenied.
func (s *Service) GetProject(ctx context.Context, ref, userID string) (ProjectDetail, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	projectID := ref
	if _, err := s.store.GetProject(ctx, ref); errors.Is(err, store.ErrNotFound) {
		bySlug, slugErr := s.store.GetProjectBySlug(ctx, ref)
		if slugErr != nil {
			return ProjectDetail{}, apperr.FromStore(slugErr, "project")
		}
		projectID = bySlug.ID
	} else if err != nil {
		return ProjectDetail{}, apperr.FromStore(err, "project")
	}

	a, err := s.resolveAccess(ctx, projectID, userID)
	if err != nil {
		return ProjectDetail{}, err
	}
	if !a.allows(rbac.RoleView) {
		return ProjectDetail{}, apperr.NotFound("project")
	}
	stats, err := s.store.ProjectStats(ctx, projectID)
	if err != nil {
		return ProjectDetail{}, fmt.Errorf("project stats: %w", apperr.FromStore(err, "project"))
	}
	return ProjectDetail{Project: a.project, Role: string(a.role), IsOwner: a.owner, Stats: stats}, nil
}

func (s *Service) UpdateProject(ctx context.Context, projectID, userID string, input UpdateProjectInput) (store.Project, error) {
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		input.Name = &name
	}
	if err := s.validate.Struct(input); err != nil {
		return store.Project{}, err
	}
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	a, err := s.require(ctx, projectID, userID, rbac.RoleAdmin)
	if err != nil {
		return store.Project{}, err
	}
	name, description := a.project.Name, a.project.Description
	if input.Name != nil {
		name = *input.Name
	}
	if input.Description != nil {
		description = strings.TrimSpace(*input.Description)
	}
	project, err := s.store.UpdateProject(ctx, projectID, name, description, s.now())
	if err != nil {
		return store.Project{}, fmt.Errorf("update project: %w", apperr.FromStore(err, "project"))
	}
	return project, nil
}

// DeleteProject removes the project with everything it owns. Only the owner
// may do this.
func (s *Service) DeleteProject(ctx context.Context, projectID, userID string) error {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	a, err := s.resolveAccess(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if !a.owner {
		return apperr.AccessDenied("Only the project owner can delete the project")
	}
	specs, err := s.store.ListSpecs(ctx, projectID, "")
	if err != nil {
		return fmt.Errorf("list specs: %w", apperr.FromStore(err, "project"))
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return fmt.Errorf("delete project: %w", apperr.FromStore(err, "project"))
	}

	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		ids = append(ids, spec.ID)
	}
	s.search.DeleteSpecs(ids)
	if s.mirror != nil {
		if err := s.mirror.Remove(projectID); err != nil {
			s.logger.Warn("remove project mirror", zap.String("project_id", projectID), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) ListMembers(ctx context.Context, projectID, userID string) ([]store.Member, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	if _, err := s.require(ctx, projectID, userID, rbac.RoleView); err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", apperr.FromStore(err, "project"))
	}
	if members == nil {
		members = []store.Member{}
	}
	return members, nil
}

func (s *Service) UpdateMemberRole(ctx context.Context, projectID, userID, memberID string, input UpdateMemberInput) (store.Member, error) {
	input.Role = strings.ToUpper(strings.TrimSpace(input.Role))
	if err := s.validate.Struct(input); err != nil {
		return store.Member{}, err
	}
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	a, err := s.require(ctx, projectID, userID, rbac.RoleAdmin)
	if err != nil {
		return store.Member{}, err
	}
	if memberID == a.project.OwnerID {
		return store.Member{}, apperr.AccessDenied("The project owner's role cannot be changed")
	}
	if err := s.store.UpdateMemberRole(ctx, projectID, memberID, input.Role); err != nil {
		return store.Member{}, fmt.Errorf("update member role: %w", apperr.FromStore(err, "member"))
	}
	member, err := s.store.GetMember(ctx, projectID, memberID)
	if err != nil {
		return store.Member{}, apperr.FromStore(err, "member")
	}
	return member, nil
}

// RemoveMember removes memberID from the project. Admins may remove anyone
// but the owner; any member may remove themselves.
func (s *Service) RemoveMember(ctx context.Context, projectID, userID, memberID string) error {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	a, err := s.resolveAccess(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if memberID == a.project.OwnerID {
		return apperr.AccessDenied("The project owner cannot be removed")
	}
	if memberID != userID && !a.allows(rbac.RoleAdmin) {
		return apperr.AccessDenied("ADMIN access to the project is required")
	}
	if err := s.store.RemoveMember(ctx, projectID, memberID); err != nil {
		return fmt.Errorf("remove member: %w", apperr.FromStore(err, "member"))
	}
	return nil
}

// GenerateLinkCode issues a single-use code that adds its redeemer to the
// project. Role defaults to EDIT and the code expires after 24 hours unless
// the input says otherwise.
func (s *Service) GenerateLinkCode(ctx context.Context, projectID, userID string, input LinkCodeInput) (LinkCode, error) {
	input.Role = strings.ToUpper(strings.TrimSpace(input.Role))
	if err := s.validate.Struct(input); err != nil {
		return LinkCode{}, err
	}
	if s.linkCodes == nil {
		return LinkCode{}, notConfigured("Link codes require Redis")
	}
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	if _, err := s.require(storeCtx, projectID, userID, rbac.RoleAdmin); err != nil {
		return LinkCode{}, err
	}

	role := input.Role
	if role == "" {
		role = DefaultLinkRole
	}
	hours := input.ExpiresInHours
	if hours == 0 {
		hours = DefaultLinkExpiryHour
	}
	now := s.now().UTC()
	grant := linkcode.Grant{
		ProjectID: projectID,
		Role:      role,
		CreatedBy: userID,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(hours) * time.Hour),
	}
	code, err := s.linkCodes.Create(ctx, grant)
	if err != nil {
		return LinkCode{}, apperr.Transient(fmt.Errorf("create link code: %w", err))
	}
	return LinkCode{Code: code, ProjectID: projectID, Role: role, ExpiresAt: grant.ExpiresAt}, nil
}

// RedeemLinkCode consumes code and adds userID to its project with the
// code's role. Existing members and the owner keep their standing.
func (s *Service) RedeemLinkCode(ctx context.Context, code, userID string) (RedeemResult, error) {
	code = linkcode.Normalize(code)
	if len(code) != linkcode.CodeLength {
		return RedeemResult{}, apperr.Validation("Invalid link code", []FieldError{{Field: "code", Rule: "len", Message: fmt.Sprintf("must be %d characters", linkcode.CodeLength)}})
	}
	if s.linkCodes == nil {
		return RedeemResult{}, notConfigured("Link codes require Redis")
	}
	grant, err := s.linkCodes.Redeem(ctx, code)
	if errors.Is(err, linkcode.ErrNotFound) {
		return RedeemResult{}, apperr.NotFound("link code")
	}
	if err != nil {
		return RedeemResult{}, apperr.Transient(fmt.Errorf("redeem link code: %w", err))
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	project, err := s.store.GetProject(ctx, grant.ProjectID)
	if err != nil {
		return RedeemResult{}, apperr.FromStore(err, "project")
	}
	if project.OwnerID == userID {
		return RedeemResult{Project: project, Role: store.RoleAdmin, AlreadyMember: true}, nil
	}
	role := string(rbac.Normalize(grant.Role))
	created, err := s.store.AddMember(ctx, store.Member{
		ProjectID: project.ID,
		UserID:    userID,
		Role:      role,
		CreatedAt: s.now(),
	})
	if err != nil {
		return RedeemResult{}, fmt.Errorf("add member: %w", apperr.FromStore(err, "project"))
	}
	if created {
		return RedeemResult{Project: project, Role: role}, nil
	}
	member, err := s.store.GetMember(ctx, project.ID, userID)
	if err != nil {
		return RedeemResult{}, apperr.FromStore(err, "member")
	}
	return RedeemResult{Project: project, Role: member.Role, AlreadyMember: true}, nil
}

// ValidateLinkCode reports whether code can still be redeemed and what it
// grants. Unknown and expired codes are reported as invalid, not as errors.
func (s *Service) ValidateLinkCode(ctx context.Context, code string) (LinkCodeCheck, error) {
	code = linkcode.Normalize(code)
	if len(code) != linkcode.CodeLength {
		return LinkCodeCheck{}, apperr.Validation("Invalid link code", []FieldError{{Field: "code", Rule: "len", Message: fmt.Sprintf("must be %d characters", linkcode.CodeLength)}})
	}
	if s.linkCodes == nil {
		return LinkCodeCheck{}, notConfigured("Link codes require Redis")
	}
	grant, err := s.linkCodes.Lookup(ctx, code)
	if errors.Is(err, linkcode.ErrNotFound) {
		return LinkCodeCheck{Error: "Invalid or expired link code"}, nil
	}
	if err != nil {
		return LinkCodeCheck{}, apperr.Transient(fmt.Errorf("lookup link code: %w", err))
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	project, err := s.store.GetProject(ctx, grant.ProjectID)
	if errors.Is(err, store.ErrNotFound) {
		return LinkCodeCheck{Error: "Invalid or expired link code"}, nil
	}
	if err != nil {
		return LinkCodeCheck{}, apperr.FromStore(err, "project")
	}
	return LinkCodeCheck{
		Valid:       true,
		ProjectID:   project.ID,
		ProjectName: project.Name,
		Role:        string(rbac.Normalize(grant.Role)),
		ExpiresAt:   &grant.ExpiresAt,
	}, nil
}

// ListLinkCodes returns the project's outstanding codes, newest first.
func (s *Service) ListLinkCodes(ctx context.Context, projectID, userID string) ([]linkcode.Active, error) {
	if s.linkCodes == nil {
		return nil, notConfigured("Link codes require Redis")
	}
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	if _, err := s.require(storeCtx, projectID, userID, rbac.RoleAdmin); err != nil {
		return nil, err
	}
	active, err := s.linkCodes.List(ctx, projectID)
	if err != nil {
		return nil, apperr.Transient(fmt.Errorf("list link codes: %w", err))
	}
	return active, nil
}

// RevokeLinkCode deletes an outstanding code of the project.
func (s *Service) RevokeLinkCode(ctx context.Context, projectID, userID, code string) error {
	if s.linkCodes == nil {
		return notConfigured("Link codes require Redis")
	}
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	if _, err := s.require(storeCtx, projectID, userID, rbac.RoleAdmin); err != nil {
		return err
	}
	err := s.linkCodes.Revoke(ctx, projectID, code)
	if errors.Is(err, linkcode.ErrNotFound) {
		return apperr.NotFound("link code")
	}
	if err != nil {
		return apperr.Transient(fmt.Errorf("revoke link code: %w", err))
	}
	return nil
}

func (s *Service) GetSyncStatus(ctx context.Context, projectID, userID string) (SyncStatus, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	a, err := s.require(ctx, projectID, userID, rbac.RoleView)
	if err != nil {
		return SyncStatus{}, err
	}
	last, err := s.events.LastEvent(ctx, projectID, userID)
	if err != nil {
		return SyncStatus{}, err
	}
	stats, err := s.store.ProjectStats(ctx, projectID)
	if err != nil {
		return SyncStatus{}, fmt.Errorf("project stats: %w", apperr.FromStore(err, "project"))
	}
	status := SyncStatus{Project: a.project, Role: string(a.role), IsOwner: a.owner, LastEvent: last, Stats: stats}
	if a.member != nil {
		status.LastSyncAt = a.member.LastSyncAt
	}
	return status, nil
}

func (s *Service) GetActivity(ctx context.Context, projectID, userID string, limit, offset int) (events.Feed, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	if _, err := s.require(ctx, projectID, userID, rbac.RoleView); err != nil {
		return events.Feed{}, err
	}
	return s.events.Feed(ctx, projectID, events.Page{Limit: limit, Offset: offset})
}

// GetUserActivity lists the newest events across all of the user's projects.
func (s *Service) GetUserActivity(ctx context.Context, userID string, limit int) ([]store.SyncEvent, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	return s.events.UserActivity(ctx, userID, limit)
}

func (s *Service) GetActivitySummary(ctx context.Context, projectID, userID string, since time.Time) (events.Summary, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	if _, err := s.require(ctx, projectID, userID, rbac.RoleView); err != nil {
		return events.Summary{}, err
	}
	return s.events.Summarize(ctx, projectID, since)
}

func (s *Service) Search(ctx context.Context, projectID, userID, text string, limit int) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{}, apperr.Validation("Search query is required", []FieldError{{Field: "q", Rule: "required", Message: "is required"}})
	}
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	if _, err := s.require(ctx, projectID, userID, rbac.RoleView); err != nil {
		return search.Response{}, err
	}
	response, err := s.search.Search(ctx, search.Query{ProjectID: projectID, Text: text, Limit: limit})
	if err != nil {
		return search.Response{}, fmt.Errorf("search specs: %w", apperr.FromStore(err, "project"))
	}
	return response, nil
}

// ExportSnapshot writes the project's current documents and a manifest to
// object storage.
func (s *Service) ExportSnapshot(ctx context.Context, projectID, userID string) (archive.Snapshot, error) {
	if s.archive == nil {
		return archive.Snapshot{}, notConfigured("Snapshot export requires object storage")
	}
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	a, err := s.require(storeCtx, projectID, userID, rbac.RoleView)
	if err != nil {
		return archive.Snapshot{}, err
	}
	specs, err := s.store.ListSpecs(storeCtx, projectID, "")
	if err != nil {
		return archive.Snapshot{}, fmt.Errorf("list specs: %w", apperr.FromStore(err, "project"))
	}
	snapshot, err := s.archive.Export(ctx, a.project, specs, userID)
	if err != nil {
		return archive.Snapshot{}, apperr.Transient(fmt.Errorf("export snapshot: %w", err))
	}
	s.logger.Info("snapshot exported",
		zap.String("project_id", projectID),
		zap.String("prefix", snapshot.Prefix),
		zap.Int("entries", len(snapshot.Manifest.Entries)),
	)
	return snapshot, nil
}

// MirrorHistory lists the newest commits of the project's git mirror.
func (s *Service) MirrorHistory(ctx context.Context, projectID, userID string, limit int) ([]gitmirror.Commit, error) {
	if s.mirror == nil {
		return nil, notConfigured("Git mirror is not configured")
	}
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	if _, err := s.require(storeCtx, projectID, userID, rbac.RoleView); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	commits, err := s.mirror.History(projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("mirror history: %w", err)
	}
	return commits, nil
}
