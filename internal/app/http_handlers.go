package app

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) badRequest(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
}

func (s *HTTPServer) badQuery(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
}

func (s *HTTPServer) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.service.ListProjects(r.Context(), sessionFrom(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *HTTPServer) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var body CreateProjectInput
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	project, err := s.service.CreateProject(r.Context(), sessionFrom(r).UserID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *HTTPServer) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.service.GetProject(r.Context(), chi.URLParam(r, "projectID"), sessionFrom(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *HTTPServer) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var body UpdateProjectInput
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	project, err := s.service.UpdateProject(r.Context(), chi.URLParam(r, "projectID"), sessionFrom(r).UserID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *HTTPServer) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteProject(r.Context(), chi.URLParam(r, "projectID"), sessionFrom(r).UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.service.ListMembers(r.Context(), chi.URLParam(r, "projectID"), sessionFrom(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (s *HTTPServer) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	var body UpdateMemberInput
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	member, err := s.service.UpdateMemberRole(r.Context(), chi.URLParam(r, "projectID"), sessionFrom(r).UserID, chi.URLParam(r, "userID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (s *HTTPServer) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	err := s.service.RemoveMember(r.Context(), chi.URLParam(r, "projectID"), sessionFrom(r).UserID, chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	var body LinkCodeInput
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	code, err := s.service.GenerateLinkCode(r.Context(), chi.URLParam(r, "projectID"), sessionFrom(r).UserID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, code)
}

func (s *HTTPServer) handleRedeemLink(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	result, err := s.service.RedeemLinkCode(r.Context(), body.Code, sessionFrom(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleValidateLink(w http.ResponseWriter, r *http.Request) {
	check, err := s.service.ValidateLinkCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (s *HTTPServer) handleListLinks(w http.ResponseWriter, r *http.Request) {
	codes, err := s.service.ListLinkCodes(r.Context(), chi.URLParam(r, "projectID"), sessionFrom(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"codes": codes})
}

func (s *HTTPServer) handleRevokeLink(w http.ResponseWriter, r *http.Request) {
	err := s.service.RevokeLinkCode(r.Context(), chi.URLParam(r, "projectID"), sessionFrom(r).UserID, chi.URLParam(r, "code"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handlePush(w http.ResponseWriter, r *http.Request) {
	var body PushRequest
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	result, err := s.service.Push(r.Context(), chi.URLParam(r, "projectID"), sessionFrom(r).UserID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handlePull(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Pull(r.Context(), chi.URLParam(r, "projectID"), sessionFrom(r).UserID, r.URL.Query().Get("featureId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.GetSyncStatus(r.Context(), chi.URLParam(r, "projectID"), sessionFrom(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *HTTPServer) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.badQuery(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.badQuery(w, err)
		return
	}
	feed, err := s.service.GetActivity(r.Context(), chi.URLParam(r, "projectID"), sessionFrom(r).UserID, limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (s *HTTPServer) handleActivitySummary(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.badQuery(w, errors.New("since must be an RFC 3339 timestamp"))
			return
		}
		since = parsed
	}
	summary, err := s.service.GetActivitySummary(r.Context(), chi.URLParam(r, "projectID"), sessionFrom(r).UserID, since)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *HTTPServer) handleUserActivity(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.badQuery(w, err)
		return
	}
	items, err := s.service.GetUserActivity(r.Context(), sessionFrom(r).UserID, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": items})
}

func (s *HTTPServer) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	includeResolved, _ := strconv.ParseBool(r.URL.Query().Get("includeResolved"))
	list, err := s.service.ListConflicts(r.Context(), chi.URLParam(r, "projectID"), sessionFrom(r).UserID, includeResolved)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *HTTPServer) handleGetConflict(w http.ResponseWriter, r *http.Request) {
	detail, err := s.service.GetConflict(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "conflictID"), sessionFrom(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *HTTPServer) handlePreviewMerge(w http.ResponseWriter, r *http.Request) {
	merge, err := s.service.PreviewMerge(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "conflictID"), sessionFrom(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, merge)
}

func (s *HTTPServer) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	var body ResolveInput
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	resolution, err := s.service.ResolveConflict(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "conflictID"), sessionFrom(r).UserID, body.Resolution, body.MergedContent)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolution)
}

func (s *HTTPServer) handleAutoResolveConflict(w http.ResponseWriter, r *http.Request) {
	resolution, err := s.service.AutoResolveConflict(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "conflictID"), sessionFrom(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolution)
}

func (s *HTTPServer) handleDismissConflict(w http.ResponseWriter, r *http.Request) {
	resolution, err := s.service.DismissConflict(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "conflictID"), sessionFrom(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolution)
}

func (s *HTTPServer) handleVersionHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.badQuery(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.badQuery(w, err)
		return
	}
	history, err := s.service.GetVersionHistory(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "specID"), sessionFrom(r).UserID, limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *HTTPServer) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	version, err := pathInt(r, "version")
	if err != nil {
		s.badQuery(w, err)
		return
	}
	record, err := s.service.GetVersion(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "specID"), sessionFrom(r).UserID, version)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *HTTPServer) handleRestoreVersion(w http.ResponseWriter, r *http.Request) {
	version, err := pathInt(r, "version")
	if err != nil {
		s.badQuery(w, err)
		return
	}
	record, err := s.service.RestoreVersion(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "specID"), sessionFrom(r).UserID, version)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *HTTPServer) handleCompareVersions(w http.ResponseWriter, r *http.Request) {
	from, err := queryInt(r, "from", 0)
	if err != nil {
		s.badQuery(w, err)
		return
	}
	to, err := queryInt(r, "to", 0)
	if err != nil {
		s.badQuery(w, err)
		return
	}
	comparison, err := s.service.CompareVersions(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "specID"), sessionFrom(r).UserID, from, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comparison)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.badQuery(w, err)
		return
	}
	response, err := s.service.Search(r.Context(), chi.URLParam(r, "projectID"), sessionFrom(r).UserID, r.URL.Query().Get("q"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.service.ExportSnapshot(r.Context(), chi.URLParam(r, "projectID"), sessionFrom(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snapshot)
}

func (s *HTTPServer) handleMirrorHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.badQuery(w, err)
		return
	}
	commits, err := s.service.MirrorHistory(r.Context(), chi.URLParam(r, "projectID"), sessionFrom(r).UserID, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
}
