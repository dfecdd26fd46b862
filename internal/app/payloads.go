package app

import (
	"time"

	"specsync/api/internal/store"
)

const (
	MaxContentBytes       = 500000
	DefaultLinkRole       = store.RoleEdit
	DefaultLinkExpiryHour = 24
)

// PushRequest is one push batch. Force overwrites the cloud copy without
// conflict detection and needs ADMIN access.
type PushRequest struct {
	Specs []PushSpec `json:"specs" validate:"required,min=1,max=50,dive"`
	Force bool       `json:"force,omitempty"`
}

type PushSpec struct {
	FeatureID   string     `json:"featureId" validate:"required,max=100,featureid"`
	FeatureName string     `json:"featureName" validate:"required,min=1,max=200"`
	Files       []PushFile `json:"files" validate:"required,min=1,max=3,unique=Type,dive"`
}

// PushFile is one document of a push. A positive BaseVersion names the
// cloud version the client last synced; without one the client treats the
// document as new.
type PushFile struct {
	Type        store.FileType `json:"type" validate:"required,oneof=spec plan tasks"`
	Content     string         `json:"content" validate:"maxbytes=500000"`
	BaseVersion *int           `json:"baseVersion,omitempty" validate:"omitempty,gte=0"`
}

// Document is the resolved form of a pushed file: NewDocument or
// ExistingDocument.
type Document interface {
	content() string
}

type NewDocument struct {
	Content string
}

type ExistingDocument struct {
	Content     string
	BaseVersion int
}

func (d NewDocument) content() string      { return d.Content }
func (d ExistingDocument) content() string { return d.Content }

func (f PushFile) Document() Document {
	if f.BaseVersion != nil && *f.BaseVersion > 0 {
		return ExistingDocument{Content: f.Content, BaseVersion: *f.BaseVersion}
	}
	return NewDocument{Content: f.Content}
}

type PushResult struct {
	Success        bool          `json:"success"`
	SyncedFeatures []string      `json:"syncedFeatures"`
	Errors         []PushError   `json:"errors"`
	Conflicts      []ConflictRef `json:"conflicts"`
	AutoMerged     []string      `json:"autoMerged"`
}

// PushError reports a file that could not be processed. Retryable errors
// come from store timeouts; pushing the same batch again is safe.
type PushError struct {
	FeatureID string         `json:"featureId"`
	FileType  store.FileType `json:"fileType"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
}

type ConflictRef struct {
	ConflictID   string         `json:"conflictId"`
	FeatureID    string         `json:"featureId"`
	FileType     store.FileType `json:"fileType"`
	BaseVersion  int            `json:"baseVersion"`
	CloudVersion int            `json:"cloudVersion"`
	Summary      string         `json:"summary"`
}

type CloudFile struct {
	Type           store.FileType `json:"type"`
	Content        string         `json:"content"`
	Checksum       string         `json:"checksum"`
	Version        int            `json:"version"`
	LastModified   time.Time      `json:"lastModified"`
	LastModifiedBy string         `json:"lastModifiedBy,omitempty"`
}

type CloudSpec struct {
	FeatureID   string      `json:"featureId"`
	FeatureName string      `json:"featureName"`
	Files       []CloudFile `json:"files"`
}

// PullResult is the project's current documents plus the number of PENDING
// conflicts within the pulled scope.
type PullResult struct {
	Specs         []CloudSpec `json:"specs"`
	HasConflicts  bool        `json:"hasConflicts"`
	ConflictCount int         `json:"conflictCount"`
}

type CreateProjectInput struct {
	Name        string `json:"name" validate:"required,min=1,max=100"`
	Description string `json:"description" validate:"max=500"`
}

type UpdateProjectInput struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=500"`
}

type ProjectDetail struct {
	store.Project
	Role    string             `json:"role"`
	IsOwner bool               `json:"isOwner"`
	Stats   store.ProjectStats `json:"stats"`
}

type UpdateMemberInput struct {
	Role string `json:"role" validate:"required,oneof=VIEW EDIT ADMIN"`
}

type LinkCodeInput struct {
	Role           string `json:"role,omitempty" validate:"omitempty,oneof=VIEW EDIT ADMIN"`
	ExpiresInHours int    `json:"expiresInHours,omitempty" validate:"omitempty,min=1,max=168"`
}

type LinkCode struct {
	Code      string    `json:"code"`
	ProjectID string    `json:"projectId"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LinkCodeCheck tells a prospective member what a code would grant without
// consuming it.
type LinkCodeCheck struct {
	Valid       bool      `json:"valid"`
	Error       string    `json:"error,omitempty"`
	ProjectID   string    `json:"projectId,omitempty"`
	ProjectName string    `json:"projectName,omitempty"`
	Role        string    `json:"role,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

type RedeemResult struct {
	Project       store.Project `json:"project"`
	Role          string        `json:"role"`
	AlreadyMember bool          `json:"alreadyMember"`
}

type ResolveInput struct {
	Resolution    string  `json:"resolution"`
	MergedContent *string `json:"mergedContent,omitempty"`
}

type SyncStatus struct {
	Project    store.Project      `json:"project"`
	Role       string             `json:"role"`
	IsOwner    bool               `json:"isOwner"`
	LastSyncAt *time.Time         `json:"lastSyncAt"`
	LastEvent  *store.SyncEvent   `json:"lastEvent"`
	Stats      store.ProjectStats `json:"stats"`
}
