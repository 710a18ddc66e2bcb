package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/mod/semver"

	"github.com/storyline-app/storyline/internal/storage"
	"github.com/storyline-app/storyline/internal/types"
)

// serverPageSize is the page size for comment and activity collections.
// Grouped views carry their own page size on the ViewSpec.
const serverPageSize = 20

// defaultGroupPageSize applies when a ViewSpec does not set one.
const defaultGroupPageSize = 50

// statusCategories maps workflow status ids to their category bucket.
// Category filters are evaluated daemon-side; clients treat them as
// opaque.
var statusCategories = map[string]string{
	"backlog":     "backlog",
	"todo":        "unstarted",
	"in_progress": "started",
	"in_review":   "started",
	"done":        "completed",
	"canceled":    "canceled",
}

// checkVersionCompatibility validates the client version against the
// server version. Major versions must match and the daemon must be at
// least as new as the client, so a stale daemon never serves requests
// with old schema assumptions.
func (s *Server) checkVersionCompatibility(clientVersion string) error {
	if clientVersion == "" {
		return nil
	}

	serverVer := ServerVersion
	if !strings.HasPrefix(serverVer, "v") {
		serverVer = "v" + serverVer
	}
	clientVer := clientVersion
	if !strings.HasPrefix(clientVer, "v") {
		clientVer = "v" + clientVer
	}

	// Invalid semver (dev builds) is allowed through.
	if !semver.IsValid(serverVer) || !semver.IsValid(clientVer) {
		return nil
	}

	if semver.Major(serverVer) != semver.Major(clientVer) {
		if semver.Compare(serverVer, clientVer) < 0 {
			return fmt.Errorf("incompatible major versions: client %s, daemon %s. Daemon is older; restart it: 'story serve --stop && story serve'",
				clientVersion, ServerVersion)
		}
		return fmt.Errorf("incompatible major versions: client %s, daemon %s. Upgrade the story CLI to match the daemon's major version",
			clientVersion, ServerVersion)
	}

	if semver.Compare(serverVer, clientVer) < 0 {
		return fmt.Errorf("version mismatch: daemon v%s is older than client v%s. Restart the daemon: 'story serve --stop && story serve'",
			ServerVersion, clientVersion)
	}

	return nil
}

// validateDatabaseBinding verifies the client is talking to the daemon
// serving the database it expects. Memory-backed daemons have no path
// and skip the check.
func (s *Server) validateDatabaseBinding(req *Request) error {
	if req.ExpectedDB == "" {
		return nil
	}

	daemonDB := s.storage.Path()
	if daemonDB == "" {
		return nil
	}

	expectedPath, err := filepath.EvalSymlinks(req.ExpectedDB)
	if err != nil {
		expectedPath = filepath.Clean(req.ExpectedDB)
	}
	daemonPath, err := filepath.EvalSymlinks(daemonDB)
	if err != nil {
		daemonPath = filepath.Clean(daemonDB)
	}

	if expectedPath != daemonPath {
		return fmt.Errorf("database mismatch: client expects %s but daemon serves %s. Wrong daemon connection - check socket path",
			req.ExpectedDB, daemonDB)
	}

	return nil
}

func (s *Server) handleRequest(req *Request) Response {
	// Skip binding and version checks for diagnostics so a mismatched
	// client can still find out what it is talking to.
	if req.Operation != OpHealth && req.Operation != OpPing {
		if err := s.validateDatabaseBinding(req); err != nil {
			s.errors.Add(1)
			return Response{Success: false, Error: err.Error(), Rejected: true}
		}
		if err := s.checkVersionCompatibility(req.ClientVersion); err != nil {
			s.errors.Add(1)
			return Response{Success: false, Error: err.Error(), Rejected: true}
		}
	}

	var resp Response
	switch req.Operation {
	case OpPing:
		resp = s.handlePing(req)
	case OpStatus:
		resp = s.handleStatus(req)
	case OpHealth:
		resp = s.handleHealth(req)
	case OpShutdown:
		resp = Response{Success: true}
	case OpListGrouped:
		resp = s.handleListGrouped(req)
	case OpGroupPage:
		resp = s.handleGroupPage(req)
	case OpShow:
		resp = s.handleShow(req)
	case OpCommentList:
		resp = s.handleCommentList(req)
	case OpActivityList:
		resp = s.handleActivityList(req)
	case OpCreate:
		resp = s.handleCreate(req)
	case OpCreateMany:
		resp = s.handleCreateMany(req)
	case OpUpdate:
		resp = s.handleUpdate(req)
	case OpDelete:
		resp = s.handleDelete(req)
	case OpCommentAdd:
		resp = s.handleCommentAdd(req)
	case OpGetConfig:
		resp = s.handleGetConfig(req)
	case OpSetConfig:
		resp = s.handleSetConfig(req)
	default:
		resp = Response{Success: false, Error: fmt.Sprintf("unknown operation: %s", req.Operation)}
	}

	if !resp.Success {
		s.errors.Add(1)
		// Any well-formed error the daemon returns is a rejection:
		// the server answered. Transport failures never produce one.
		resp.Rejected = true
	}
	return resp
}

// reqCtx returns a context with the server's request timeout applied so
// stalled database operations cannot hang a connection.
func (s *Server) reqCtx(_ *Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.requestTimeout)
}

func (s *Server) reqActor(req *Request) string {
	if req != nil && req.Actor != "" {
		return req.Actor
	}
	return "daemon"
}

func (s *Server) handlePing(_ *Request) Response {
	return ok(PingResponse{Message: "pong", Version: ServerVersion})
}

func (s *Server) handleStatus(_ *Request) Response {
	return ok(StatusResponse{
		Version:       ServerVersion,
		DBPath:        s.dbPath,
		SocketPath:    s.socketPath,
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		Requests:      s.requests.Load(),
		Errors:        s.errors.Load(),
	})
}

func (s *Server) handleHealth(req *Request) Response {
	healthCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	status := "healthy"
	dbError := ""

	// Any storage read serves as the liveness probe.
	if _, err := s.storage.GetMetadata(healthCtx, "schema_version"); err != nil {
		status = "unhealthy"
		dbError = err.Error()
	}

	health := HealthResponse{
		Status: status,
		Uptime: time.Since(s.startTime).Seconds(),
		Error:  dbError,
	}

	data, _ := json.Marshal(health)
	return Response{
		Success: status != "unhealthy",
		Data:    data,
		Error:   dbError,
	}
}

func (s *Server) handleListGrouped(req *Request) Response {
	var args ListGroupedArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return fail("invalid arguments: %v", err)
	}

	ctx, cancel := s.reqCtx(req)
	defer cancel()

	spec := args.Spec.Normalize()
	groups, err := s.viewGroups(ctx, spec)
	if err != nil {
		return fail("failed to list items: %v", err)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	page := args.Page
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * groupPageSize(spec)

	resp := GroupedPayload{}
	for _, k := range keys {
		gp := pageWindow(spec, groups[k], offset)
		gp.Key = k
		resp.Groups = append(resp.Groups, gp)
	}
	return ok(resp)
}

func (s *Server) handleGroupPage(req *Request) Response {
	var args GroupPageArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return fail("invalid arguments: %v", err)
	}

	ctx, cancel := s.reqCtx(req)
	defer cancel()

	spec := args.Spec.Normalize()
	groups, err := s.viewGroups(ctx, spec)
	if err != nil {
		return fail("failed to list items: %v", err)
	}

	offset := 0
	if args.Cursor != "" {
		offset, err = strconv.Atoi(args.Cursor)
		if err != nil || offset < 0 {
			return fail("invalid cursor: %q", args.Cursor)
		}
	}

	gp := pageWindow(spec, groups[args.GroupKey], offset)
	gp.Key = args.GroupKey
	return ok(gp)
}

func (s *Server) handleShow(req *Request) Response {
	var args ShowArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return fail("invalid arguments: %v", err)
	}

	ctx, cancel := s.reqCtx(req)
	defer cancel()

	item, err := s.storage.GetItem(ctx, args.ID)
	if err != nil {
		if errors.Is(err, storage.ErrItemNotFound) {
			return fail("item not found: %s", args.ID)
		}
		return fail("failed to get item: %v", err)
	}
	description, err := s.storage.GetDescription(ctx, args.ID)
	if err != nil {
		return fail("failed to get description: %v", err)
	}

	entry := &types.DetailEntry{Item: item, Description: description}

	comments, err := s.storage.GetComments(ctx, args.ID)
	if err != nil {
		return fail("failed to get comments: %v", err)
	}
	entry.Comments, entry.CommentPages = pageComments(comments, 1)

	activity, err := s.storage.GetActivity(ctx, args.ID, 0)
	if err != nil {
		return fail("failed to get activity: %v", err)
	}
	entry.Activity, entry.ActivityPage = pageActivity(activity, 1)

	return ok(entry)
}

func (s *Server) handleCommentList(req *Request) Response {
	var args CommentListArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return fail("invalid arguments: %v", err)
	}

	ctx, cancel := s.reqCtx(req)
	defer cancel()

	if _, err := s.storage.GetItem(ctx, args.ID); err != nil {
		if errors.Is(err, storage.ErrItemNotFound) {
			return fail("item not found: %s", args.ID)
		}
		return fail("failed to get item: %v", err)
	}

	comments, err := s.storage.GetComments(ctx, args.ID)
	if err != nil {
		return fail("failed to get comments: %v", err)
	}

	page := args.Page
	if page < 1 {
		page = 1
	}
	items, info := pageComments(comments, page)
	return ok(CommentsPayload{Items: items, Pagination: info})
}

func (s *Server) handleActivityList(req *Request) Response {
	var args ActivityListArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return fail("invalid arguments: %v", err)
	}

	ctx, cancel := s.reqCtx(req)
	defer cancel()

	activity, err := s.storage.GetActivity(ctx, args.ID, 0)
	if err != nil {
		if errors.Is(err, storage.ErrItemNotFound) {
			return fail("item not found: %s", args.ID)
		}
		return fail("failed to get activity: %v", err)
	}

	page := args.Page
	if page < 1 {
		page = 1
	}
	items, info := pageActivity(activity, page)
	return ok(ActivityPayload{Items: items, Pagination: info})
}

func (s *Server) handleCreate(req *Request) Response {
	var args CreateArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return fail("invalid arguments: %v", err)
	}
	if args.Draft == nil {
		return fail("draft is required")
	}

	ctx, cancel := s.reqCtx(req)
	defer cancel()

	item, err := s.createFromDraft(ctx, args.Draft, s.reqActor(req))
	if err != nil {
		return fail("%v", err)
	}
	return ok(item)
}

func (s *Server) handleCreateMany(req *Request) Response {
	var args CreateManyArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return fail("invalid arguments: %v", err)
	}

	ctx, cancel := s.reqCtx(req)
	defer cancel()

	// Drafts are independent: one failing never aborts the rest.
	result := CreateManyResult{}
	actor := s.reqActor(req)
	for _, draft := range args.Drafts {
		item, err := s.createFromDraft(ctx, draft, actor)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Created = append(result.Created, item)
	}
	return ok(result)
}

func (s *Server) createFromDraft(ctx context.Context, draft *types.ItemDraft, actor string) (*types.WorkItem, error) {
	if draft == nil {
		return nil, fmt.Errorf("draft is required")
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	statusID := draft.StatusID
	if statusID == "" {
		statusID = "backlog"
	}

	now := time.Now().UTC()
	item := &types.WorkItem{
		ID:          "st-" + strings.ToLower(ulid.Make().String()),
		Title:       draft.Title,
		StatusID:    statusID,
		Priority:    draft.Priority,
		AssigneeID:  draft.AssigneeID,
		LabelIDs:    types.NormalizeLabels(draft.LabelIDs),
		SprintID:    draft.SprintID,
		ObjectiveID: draft.ObjectiveID,
		ParentID:    draft.ParentID,
		TeamID:      draft.TeamID,
		StartDate:   draft.StartDate,
		Deadline:    draft.Deadline,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.storage.CreateItem(ctx, item, draft.Description, actor); err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	return item, nil
}

func (s *Server) handleUpdate(req *Request) Response {
	var args UpdateArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return fail("invalid arguments: %v", err)
	}
	if args.Patch == nil || args.Patch.IsZero() {
		return fail("patch is empty")
	}

	ctx, cancel := s.reqCtx(req)
	defer cancel()

	item, err := s.storage.UpdateItem(ctx, args.ID, args.Patch, s.reqActor(req))
	if err != nil {
		if errors.Is(err, storage.ErrItemNotFound) {
			return fail("item not found: %s", args.ID)
		}
		return fail("failed to update item: %v", err)
	}
	return ok(item)
}

func (s *Server) handleDelete(req *Request) Response {
	var args DeleteArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return fail("invalid arguments: %v", err)
	}

	ctx, cancel := s.reqCtx(req)
	defer cancel()

	if err := s.storage.DeleteItem(ctx, args.ID, s.reqActor(req)); err != nil {
		if errors.Is(err, storage.ErrItemNotFound) {
			return fail("item not found: %s", args.ID)
		}
		return fail("failed to delete item: %v", err)
	}
	return Response{Success: true}
}

func (s *Server) handleCommentAdd(req *Request) Response {
	var args CommentAddArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return fail("invalid arguments: %v", err)
	}
	if strings.TrimSpace(args.Body) == "" {
		return fail("comment body is required")
	}

	ctx, cancel := s.reqCtx(req)
	defer cancel()

	comment, err := s.storage.AddComment(ctx, args.ID, s.reqActor(req), args.Body)
	if err != nil {
		if errors.Is(err, storage.ErrItemNotFound) {
			return fail("item not found: %s", args.ID)
		}
		return fail("failed to add comment: %v", err)
	}
	return ok(comment)
}

func (s *Server) handleGetConfig(req *Request) Response {
	var args ConfigArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return fail("invalid arguments: %v", err)
	}

	ctx, cancel := s.reqCtx(req)
	defer cancel()

	value, err := s.storage.GetConfig(ctx, args.Key)
	if err != nil {
		return fail("failed to get config: %v", err)
	}
	return ok(value)
}

func (s *Server) handleSetConfig(req *Request) Response {
	var args ConfigArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return fail("invalid arguments: %v", err)
	}
	if args.Key == "" {
		return fail("config key is required")
	}

	ctx, cancel := s.reqCtx(req)
	defer cancel()

	if err := s.storage.SetConfig(ctx, args.Key, args.Value); err != nil {
		return fail("failed to set config: %v", err)
	}
	return Response{Success: true}
}

// viewGroups lists the view's members from storage, applies the
// category filter, and returns them grouped and ordered.
func (s *Server) viewGroups(ctx context.Context, spec types.ViewSpec) (map[string][]*types.WorkItem, error) {
	filter := storage.ItemFilter{
		TeamIDs:     spec.TeamIDs,
		StatusIDs:   spec.StatusIDs,
		AssigneeIDs: spec.AssigneeIDs,
		Priorities:  spec.Priorities,
		SprintID:    spec.SprintID,
		ObjectiveID: spec.ObjectiveID,
	}

	items, err := s.storage.ListItems(ctx, filter)
	if err != nil {
		return nil, err
	}

	if len(spec.Categories) > 0 {
		wanted := make(map[string]bool, len(spec.Categories))
		for _, c := range spec.Categories {
			wanted[c] = true
		}
		kept := items[:0]
		for _, it := range items {
			if wanted[statusCategories[it.StatusID]] {
				kept = append(kept, it)
			}
		}
		items = kept
	}

	groups := make(map[string][]*types.WorkItem)
	for _, it := range items {
		key := groupKeyFor(spec, it)
		groups[key] = append(groups[key], it)
	}
	for _, members := range groups {
		sortItems(spec, members)
	}
	return groups, nil
}

func groupKeyFor(spec types.ViewSpec, item *types.WorkItem) string {
	switch spec.GroupBy {
	case types.GroupByStatus:
		return item.StatusID
	case types.GroupByPriority:
		return item.Priority.String()
	case types.GroupByAssignee:
		return item.AssigneeID
	default:
		return "all"
	}
}

// sortItems orders a group's members by the view's sort field with a
// stable id-ascending tie break, so offset cursors resume at a
// well-defined position.
func sortItems(spec types.ViewSpec, members []*types.WorkItem) {
	sort.Slice(members, func(i, j int) bool {
		a, b := members[i], members[j]
		var less, eq bool
		switch spec.OrderBy {
		case types.OrderByTitle:
			less, eq = a.Title < b.Title, a.Title == b.Title
		case types.OrderByPriority:
			less, eq = a.Priority < b.Priority, a.Priority == b.Priority
		case types.OrderByDeadline:
			less, eq = deadlineBefore(a, b), deadlineEqual(a, b)
		case types.OrderByCreatedAt:
			less, eq = a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.Equal(b.CreatedAt)
		default:
			less, eq = a.UpdatedAt.Before(b.UpdatedAt), a.UpdatedAt.Equal(b.UpdatedAt)
		}
		if eq {
			return a.ID < b.ID
		}
		if spec.OrderDirection == types.OrderDesc {
			return !less
		}
		return less
	})
}

// Items without a deadline sort after every dated item.
func deadlineBefore(a, b *types.WorkItem) bool {
	switch {
	case a.Deadline == nil:
		return false
	case b.Deadline == nil:
		return true
	default:
		return a.Deadline.Before(*b.Deadline)
	}
}

func deadlineEqual(a, b *types.WorkItem) bool {
	if a.Deadline == nil || b.Deadline == nil {
		return a.Deadline == nil && b.Deadline == nil
	}
	return a.Deadline.Equal(*b.Deadline)
}

func groupPageSize(spec types.ViewSpec) int {
	if spec.PageSize > 0 {
		return spec.PageSize
	}
	return defaultGroupPageSize
}

// pageWindow slices one page out of an ordered group. The cursor is the
// offset of the next unfetched item, so re-requesting a cursor replays
// the same window.
func pageWindow(spec types.ViewSpec, members []*types.WorkItem, offset int) *PagePayload {
	ps := groupPageSize(spec)
	if offset > len(members) {
		offset = len(members)
	}
	end := offset + ps
	if end > len(members) {
		end = len(members)
	}

	page := &PagePayload{TotalCount: len(members)}
	page.Items = append(page.Items, members[offset:end]...)
	page.HasMore = end < len(members)
	page.Cursor = strconv.Itoa(end)
	return page
}

func pageComments(all []*types.Comment, page int) ([]*types.Comment, types.PageInfo) {
	start := (page - 1) * serverPageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + serverPageSize
	if end > len(all) {
		end = len(all)
	}
	info := types.PageInfo{
		Page:     page,
		PageSize: serverPageSize,
		HasMore:  end < len(all),
		NextPage: page + 1,
	}
	return all[start:end], info
}

func pageActivity(all []*types.Activity, page int) ([]*types.Activity, types.PageInfo) {
	start := (page - 1) * serverPageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + serverPageSize
	if end > len(all) {
		end = len(all)
	}
	info := types.PageInfo{
		Page:     page,
		PageSize: serverPageSize,
		HasMore:  end < len(all),
		NextPage: page + 1,
	}
	return all[start:end], info
}

func ok(v interface{}) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return fail("failed to marshal response: %v", err)
	}
	return Response{Success: true, Data: data}
}

func fail(format string, args ...interface{}) Response {
	return Response{Success: false, Error: fmt.Sprintf(format, args...)}
}
