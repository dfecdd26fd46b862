package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"specsync/api/internal/apperr"
	"specsync/api/internal/archive"
	"specsync/api/internal/config"
	"specsync/api/internal/conflicts"
	"specsync/api/internal/events"
	"specsync/api/internal/gitmirror"
	"specsync/api/internal/linkcode"
	"specsync/api/internal/metrics"
	"specsync/api/internal/ratelimit"
	"specsync/api/internal/rbac"
	"specsync/api/internal/search"
	"specsync/api/internal/store"
	"specsync/api/internal/versions"
)

const defaultStoreTimeout = 5 * time.Second

type dataStore interface {
	Ping(ctx context.Context) error

	CreateProject(ctx context.Context, project store.Project) error
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	GetProjectBySlug(ctx context.Context, slug string) (store.Project, error)
	ListProjectsForUser(ctx context.Context, userID string) ([]store.ProjectSummary, error)
	UpdateProject(ctx context.Context, projectID, name, description string, at time.Time) (store.Project, error)
	DeleteProject(ctx context.Context, projectID string) error
	ProjectStats(ctx context.Context, projectID string) (store.ProjectStats, error)

	GetMember(ctx context.Context, projectID, userID string) (store.Member, error)
	ListMembers(ctx context.Context, projectID string) ([]store.Member, error)
	AddMember(ctx context.Context, member store.Member) (bool, error)
	UpdateMemberRole(ctx context.Context, projectID, userID, role string) error
	RemoveMember(ctx context.Context, projectID, userID string) error
	TouchMemberSync(ctx context.Context, projectID, userID string, at time.Time) error

	GetSpec(ctx context.Context, projectID, featureID string, fileType store.FileType) (store.Spec, error)
	GetSpecByID(ctx context.Context, specID string) (store.Spec, error)
	ListSpecs(ctx context.Context, projectID, featureID string) ([]store.Spec, error)
	ListAllSpecs(ctx context.Context) ([]store.Spec, error)
	CreateSpec(ctx context.Context, spec store.Spec, versionID string) (store.SpecVersion, error)
	CommitContent(ctx context.Context, commit store.ContentCommit) (store.SpecVersion, error)

	CountPendingConflicts(ctx context.Context, projectID, featureID string) (int, error)
}

type linkCodeStore interface {
	Create(ctx context.Context, grant linkcode.Grant) (string, error)
	Redeem(ctx context.Context, code string) (linkcode.Grant, error)
	Lookup(ctx context.Context, code string) (linkcode.Grant, error)
	List(ctx context.Context, projectID string) ([]linkcode.Active, error)
	Revoke(ctx context.Context, projectID, code string) error
}

type historyMirror interface {
	Record(projectID string, entry gitmirror.Entry) (gitmirror.Commit, error)
	History(projectID string, limit int) ([]gitmirror.Commit, error)
	Remove(projectID string) error
}

type snapshotExporter interface {
	Export(ctx context.Context, project store.Project, specs []store.Spec, userID string) (archive.Snapshot, error)
}

// Options carries the optional capabilities. Nil members are disabled:
// rate limiting becomes a no-op, search falls back to SQL, and link codes,
// the git mirror and snapshots report NOT_CONFIGURED.
type Options struct {
	Limiter   ratelimit.Limiter
	LinkCodes *linkcode.RedisStore
	Search    *search.Service
	Mirror    *gitmirror.Service
	Archive   *archive.Exporter
	Metrics   *metrics.Collector
	Logger    *zap.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	versions  *versions.Service
	conflicts *conflicts.Service
	events    *events.Service
	limiter   ratelimit.Limiter
	linkCodes linkCodeStore
	search    *search.Service
	mirror    historyMirror
	archive   snapshotExporter
	metrics   *metrics.Collector
	logger    *zap.Logger
	validate  *payloadValidator
	now       func() time.Time
}

func New(cfg config.Config, dataStore *store.SQLStore, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	versionService := versions.NewService(dataStore)
	s := &Service{
		cfg:       cfg,
		store:     dataStore,
		versions:  versionService,
		conflicts: conflicts.NewService(dataStore, versionService),
		events:    events.NewService(dataStore),
		limiter:   opts.Limiter,
		search:    opts.Search,
		metrics:   opts.Metrics,
		logger:    logger,
		validate:  mustPayloadValidator(),
		now:       time.Now,
	}
	if s.limiter == nil {
		s.limiter = ratelimit.Noop{}
	}
	if s.search == nil {
		s.search = search.NewService(nil, search.NewSQL(dataStore), logger)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if opts.LinkCodes != nil {
		s.linkCodes = opts.LinkCodes
	}
	if opts.Mirror != nil {
		s.mirror = opts.Mirror
	}
	if opts.Archive != nil {
		s.archive = opts.Archive
	}
	return s
}

func (s *Service) Metrics() *metrics.Collector {
	return s.metrics
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.cfg.Sync.StoreTimeout()
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

type access struct {
	project store.Project
	role    rbac.Role
	owner   bool
	member  *store.Member
}

func (a access) allows(required rbac.Role) bool {
	return a.owner || rbac.AtLeast(a.role, required)
}

// resolveAccess loads the project and the caller's standing in it. A caller
// with no membership gets an access with an empty role.
func (s *Service) resolveAccess(ctx context.Context, projectID, userID string) (access, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return access{}, apperr.FromStore(err, "project")
	}
	a := access{project: project, owner: project.OwnerID == userID}
	member, err := s.store.GetMember(ctx, projectID, userID)
	switch {
	case err == nil:
		a.member = &member
		a.role, _ = rbac.Parse(member.Role)
	case !errors.Is(err, store.ErrNotFound):
		return access{}, fmt.Errorf("load membership: %w", apperr.FromStore(err, "member"))
	}
	if a.owner {
		a.role = rbac.RoleAdmin
	}
	return a, nil
}

func (s *Service) require(ctx context.Context, projectID, userID string, required rbac.Role) (access, error) {
	a, err := s.resolveAccess(ctx, projectID, userID)
	if err != nil {
		return access{}, err
	}
	if !a.allows(required) {
		return access{}, apperr.AccessDenied(fmt.Sprintf("%s access to the project is required", required))
	}
	return a, nil
}

// HasAccess reports whether userID may act on the project with the required
// role. The owner always may; members need a role at least as high. Unknown
// projects yield false.
func (s *Service) HasAccess(ctx context.Context, projectID, userID string, required rbac.Role) (bool, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	a, err := s.resolveAccess(ctx, projectID, userID)
	if apperr.Is(err, apperr.KindNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return a.allows(required), nil
}

func (s *Service) rule(limit int, fallback ratelimit.Rule) ratelimit.Rule {
	if limit <= 0 {
		return fallback
	}
	return ratelimit.Rule{Limit: limit, Window: fallback.Window}
}

// checkRate consults the limiter. A limiter failure lets the request
// through; an unavailable Redis must not stop syncing.
func (s *Service) checkRate(ctx context.Context, key string, rule ratelimit.Rule) error {
	decision, err := s.limiter.Allow(ctx, key, rule)
	if err != nil {
		s.logger.Warn("rate limiter unavailable, allowing request", zap.String("key", key), zap.Error(err))
		return nil
	}
	if !decision.Allowed {
		return apperr.RateLimited(decision.RetryAfterSeconds())
	}
	return nil
}

// recordSync appends the sync event and stamps the caller's last sync time.
// The data change already happened, so failures are logged only.
func (s *Service) recordSync(parent context.Context, projectID, userID string, eventType store.EventType, features []string) {
	ctx, cancel := s.storeContext(parent)
	defer cancel()
	if _, err := s.events.Record(ctx, projectID, userID, eventType, features); err != nil {
		s.logger.Error("record sync event",
			zap.String("project_id", projectID),
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
	}
	if eventType == store.EventResolve {
		return
	}
	if err := s.store.TouchMemberSync(ctx, projectID, userID, s.now()); err != nil {
		s.logger.Warn("touch member sync", zap.String("project_id", projectID), zap.Error(err))
	}
}

// afterCommit brings the search index and the git mirror up to date with a
// committed spec.
func (s *Service) afterCommit(spec store.Spec) {
	s.search.IndexSpec(searchRecord(spec))
	if s.mirror == nil {
		return
	}
	_, err := s.mirror.Record(spec.ProjectID, gitmirror.Entry{
		FeatureID: spec.FeatureID,
		FileType:  string(spec.FileType),
		Content:   spec.Content,
		Version:   spec.Version,
		Author:    spec.LastModifiedBy,
		At:        spec.UpdatedAt,
	})
	if err != nil {
		s.logger.Warn("mirror spec version",
			zap.String("spec_id", spec.ID),
			zap.Int("version", spec.Version),
			zap.Error(err),
		)
	}
}

// afterCommitByID reloads a spec that changed outside the push path.
func (s *Service) afterCommitByID(parent context.Context, specID string) {
	ctx, cancel := s.storeContext(parent)
	defer cancel()
	spec, err := s.store.GetSpecByID(ctx, specID)
	if err != nil {
		s.logger.Warn("reload committed spec", zap.String("spec_id", specID), zap.Error(err))
		return
	}
	s.afterCommit(spec)
}

func searchRecord(spec store.Spec) search.SpecRecord {
	return search.SpecRecord{
		ID:          spec.ID,
		ProjectID:   spec.ProjectID,
		FeatureID:   spec.FeatureID,
		FeatureName: spec.FeatureName,
		FileType:    string(spec.FileType),
		Content:     spec.Content,
		Version:     spec.Version,
	}
}

// Reindex loads every stored spec into the search index.
func (s *Service) Reindex(ctx context.Context) {
	s.search.Reindex(ctx, func(ctx context.Context) ([]search.SpecRecord, error) {
		specs, err := s.store.ListAllSpecs(ctx)
		if err != nil {
			return nil, err
		}
		records := make([]search.SpecRecord, 0, len(specs))
		for _, spec := range specs {
			records = append(records, searchRecord(spec))
		}
		return records, nil
	})
}
