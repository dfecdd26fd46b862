package store

import "time"

type FileType string

const (
	FileSpec  FileType = "spec"
	FilePlan  FileType = "plan"
	FileTasks FileType = "tasks"
)

// FileTypes lists the tracked document kinds in display order.
var FileTypes = []FileType{FileSpec, FilePlan, FileTasks}

func (f FileType) Valid() bool {
	switch f {
	case FileSpec, FilePlan, FileTasks:
		return true
	default:
		return false
	}
}

// Rank orders file types spec, plan, tasks.
func (f FileType) Rank() int {
	for i, ft := range FileTypes {
		if ft == f {
			return i
		}
	}
	return len(FileTypes)
}

const (
	RoleView  = "VIEW"
	RoleEdit  = "EDIT"
	RoleAdmin = "ADMIN"
)

type ConflictStatus string

const (
	ConflictPending    ConflictStatus = "PENDING"
	ConflictResolved   ConflictStatus = "RESOLVED"
	ConflictAutoMerged ConflictStatus = "AUTO_MERGED"
)

type Resolution string

const (
	ResolutionLocal  Resolution = "LOCAL"
	ResolutionCloud  Resolution = "CLOUD"
	ResolutionMerged Resolution = "MERGED"
)

type EventType string

const (
	EventPush    EventType = "PUSH"
	EventPull    EventType = "PULL"
	EventResolve EventType = "RESOLVE"
)

type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	OwnerID     string    `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ProjectSummary is a project as seen by one user.
type ProjectSummary struct {
	Project
	Role      string `json:"role"`
	IsOwner   bool   `json:"isOwner"`
	SpecCount int    `json:"specCount"`
}

type Member struct {
	ProjectID  string     `json:"projectId"`
	UserID     string     `json:"userId"`
	Role       string     `json:"role"`
	LastSyncAt *time.Time `json:"lastSyncAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

type Spec struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"projectId"`
	FeatureID      string    `json:"featureId"`
	FeatureName    string    `json:"featureName"`
	FileType       FileType  `json:"fileType"`
	Content        string    `json:"content"`
	Checksum       string    `json:"checksum"`
	Version        int       `json:"version"`
	LastModifiedBy string    `json:"lastModifiedBy,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type SpecVersion struct {
	ID         string    `json:"id"`
	SpecID     string    `json:"specId"`
	Version    int       `json:"version"`
	Content    string    `json:"content"`
	Checksum   string    `json:"checksum"`
	ModifiedBy string    `json:"modifiedBy"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Conflict struct {
	ID              string         `json:"id"`
	ProjectID       string         `json:"projectId"`
	SpecID          string         `json:"specId"`
	FeatureID       string         `json:"featureId"`
	FileType        FileType       `json:"fileType"`
	BaseVersion     int            `json:"baseVersion"`
	BaseContent     string         `json:"baseContent"`
	LocalContent    string         `json:"localContent"`
	LocalChecksum   string         `json:"localChecksum"`
	CloudContent    string         `json:"cloudContent"`
	CloudChecksum   string         `json:"cloudChecksum"`
	Status          ConflictStatus `json:"status"`
	Resolution      Resolution     `json:"resolution,omitempty"`
	ResolvedContent *string        `json:"resolvedContent,omitempty"`
	CreatedBy       string         `json:"createdBy"`
	ResolvedBy      string         `json:"resolvedBy,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	ResolvedAt      *time.Time     `json:"resolvedAt,omitempty"`
}

type SyncEvent struct {
	ID               int64     `json:"id"`
	ProjectID        string    `json:"projectId"`
	UserID           string    `json:"userId"`
	EventType        EventType `json:"eventType"`
	FeaturesAffected []string  `json:"featuresAffected"`
	CreatedAt        time.Time `json:"createdAt"`
}

type ProjectStats struct {
	TotalSpecs       int `json:"totalSpecs"`
	TotalFeatures    int `json:"totalFeatures"`
	TotalMembers     int `json:"totalMembers"`
	PendingConflicts int `json:"pendingConflicts"`
}

// ContentCommit describes one content change of a spec: the new content,
// the version row that records it, and the checksum the stored spec must
// still have for the write to go through. An empty ExpectedChecksum makes
// the write unconditional.
type ContentCommit struct {
	SpecID           string
	ExpectedChecksum string
	Content          string
	Checksum         string
	FeatureName      string
	ModifiedBy       string
	VersionID        string
	At               time.Time
}

// ConflictClosing closes a PENDING conflict and commits the winning content.
// With KeepCurrent set the spec is left as it is and Commit only names it.
type ConflictClosing struct {
	ConflictID      string
	Status          ConflictStatus
	Resolution      Resolution
	ResolvedContent string
	ResolvedBy      string
	KeepCurrent     bool
	Commit          ContentCommit
}
