package rpc

import (
	"context"
	"encoding/json"

	"github.com/jivecore/jivecore/internal/corerr"
	"github.com/jivecore/jivecore/internal/store"
	"github.com/jivecore/jivecore/internal/workitem"
)

func handleResolve(ctx context.Context, s *Server, raw json.RawMessage) envelope {
	var req struct {
		Identifier string `json:"identifier"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail(corerr.InvalidArgument("bad arguments: %v", err))
	}
	detail, err := s.resolver.ResolveDetail(ctx, req.Identifier)
	if err != nil {
		return fail(err)
	}
	return ok(envelope{
		"id":         detail.ID,
		"matched_by": detail.MatchedBy,
		"candidates": detail.Candidates,
	})
}

type draftArgs struct {
	ID                    string            `json:"id"`
	ItemID                string            `json:"item_id"`
	ItemType              workitem.Type     `json:"item_type"`
	Title                 string            `json:"title"`
	Description           string            `json:"description"`
	Status                workitem.Status   `json:"status"`
	Priority              workitem.Priority `json:"priority"`
	ParentID              string            `json:"parent_id"`
	Dependencies          []string          `json:"dependencies"`
	Assignee              string            `json:"assignee"`
	Tags                  []string          `json:"tags"`
	AcceptanceCriteria    []string          `json:"acceptance_criteria"`
	EstimatedHours        *float64          `json:"estimated_hours"`
	ActualHours           *float64          `json:"actual_hours"`
	Progress              *float64          `json:"progress"`
	AutonomousExecutable  bool              `json:"autonomous_executable"`
	ExecutionInstructions string            `json:"execution_instructions"`
	Metadata              json.RawMessage   `json:"metadata"`
}

func (d draftArgs) toDraft() workitem.Draft {
	return workitem.Draft{
		ID: d.ID, ItemID: d.ItemID, ItemType: d.ItemType, Title: d.Title,
		Description: d.Description, Status: d.Status, Priority: d.Priority,
		ParentID: d.ParentID, Dependencies: d.Dependencies, Assignee: d.Assignee,
		Tags: d.Tags, AcceptanceCriteria: d.AcceptanceCriteria,
		EstimatedHours: d.EstimatedHours, ActualHours: d.ActualHours, Progress: d.Progress,
		AutonomousExecutable: d.AutonomousExecutable, ExecutionInstructions: d.ExecutionInstructions,
		Metadata: d.Metadata,
	}
}

func handleCreate(ctx context.Context, s *Server, raw json.RawMessage) envelope {
	var req draftArgs
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail(corerr.InvalidArgument("bad arguments: %v", err))
	}
	id, err := s.store.CreateWorkItem(ctx, req.toDraft())
	if err != nil {
		return fail(err)
	}
	return ok(envelope{"id": id})
}

func handleGet(ctx context.Context, s *Server, raw json.RawMessage) envelope {
	var req struct {
		Identifier string `json:"id"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail(corerr.InvalidArgument("bad arguments: %v", err))
	}
	id, resolvedFrom, err := s.resolveID(ctx, req.Identifier)
	if err != nil {
		return fail(err)
	}
	item, err := s.store.GetWorkItem(ctx, id)
	if err != nil {
		return fail(err)
	}
	return withResolvedFrom(ok(workItemPayload(item)), resolvedFrom)
}

type patchArgs struct {
	ID                    string             `json:"id"`
	ItemID                *string            `json:"item_id"`
	Title                 *string            `json:"title"`
	Description           *string            `json:"description"`
	Status                *workitem.Status   `json:"status"`
	Priority              *workitem.Priority `json:"priority"`
	ParentID              *string            `json:"parent_id"`
	Dependencies          []string           `json:"dependencies"`
	DependenciesSet       bool               `json:"dependencies_set"`
	Assignee              *string            `json:"assignee"`
	Tags                  []string           `json:"tags"`
	TagsSet               bool               `json:"tags_set"`
	AcceptanceCriteria    []string           `json:"acceptance_criteria"`
	AcceptanceCriteriaSet bool               `json:"acceptance_criteria_set"`
	EstimatedHours        *float64           `json:"estimated_hours"`
	ActualHours           *float64           `json:"actual_hours"`
	Progress              *float64           `json:"progress"`
	AutonomousExecutable  *bool              `json:"autonomous_executable"`
	ExecutionInstructions *string            `json:"execution_instructions"`
	Metadata              json.RawMessage    `json:"metadata"`
	MetadataSet           bool               `json:"metadata_set"`
}

func (p patchArgs) toPatch() workitem.Patch {
	return workitem.Patch{
		ItemID: p.ItemID, Title: p.Title, Description: p.Description, Status: p.Status,
		Priority: p.Priority, ParentID: p.ParentID, ParentIDSet: p.ParentID != nil,
		Dependencies: p.Dependencies, DependenciesSet: p.DependenciesSet,
		Assignee: p.Assignee, Tags: p.Tags, TagsSet: p.TagsSet,
		AcceptanceCriteria: p.AcceptanceCriteria, AcceptanceCriteriaSet: p.AcceptanceCriteriaSet,
		EstimatedHours: p.EstimatedHours, ActualHours: p.ActualHours, Progress: p.Progress,
		AutonomousExecutable: p.AutonomousExecutable, ExecutionInstructions: p.ExecutionInstructions,
		Metadata: p.Metadata, MetadataSet: p.MetadataSet,
	}
}

func handleUpdate(ctx context.Context, s *Server, raw json.RawMessage) envelope {
	var req patchArgs
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail(corerr.InvalidArgument("bad arguments: %v", err))
	}
	id, resolvedFrom, err := s.resolveID(ctx, req.ID)
	if err != nil {
		return fail(err)
	}
	item, err := s.store.UpdateWorkItem(ctx, id, req.toPatch())
	if err != nil {
		return fail(err)
	}
	return withResolvedFrom(ok(workItemPayload(item)), resolvedFrom)
}

func handleDelete(ctx context.Context, s *Server, raw json.RawMessage) envelope {
	var req struct {
		ID      string `json:"id"`
		Cascade bool   `json:"cascade"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail(corerr.InvalidArgument("bad arguments: %v", err))
	}
	id, resolvedFrom, err := s.resolveID(ctx, req.ID)
	if err != nil {
		return fail(err)
	}
	count, err := s.store.DeleteWorkItem(ctx, id, req.Cascade)
	if err != nil {
		return fail(err)
	}
	return withResolvedFrom(ok(envelope{"deleted": count}), resolvedFrom)
}

func handleList(ctx context.Context, s *Server, raw json.RawMessage) envelope {
	var req struct {
		ItemType string `json:"item_type"`
		Status   string `json:"status"`
		Priority string `json:"priority"`
		ParentID string `json:"parent_id"`
		Assignee string `json:"assignee"`
		Tag      string `json:"tag"`
		SortBy   string `json:"sort_by"`
		Desc     bool   `json:"desc"`
		Limit    int    `json:"limit"`
		Offset   int    `json:"offset"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail(corerr.InvalidArgument("bad arguments: %v", err))
	}
	items, err := s.store.ListWorkItems(ctx, store.ListOptions{
		Filters: store.ListFilters{
			ItemType: workitem.Type(req.ItemType), Status: req.Status, Priority: req.Priority,
			ParentID: req.ParentID, Assignee: req.Assignee, Tag: req.Tag,
		},
		SortBy: req.SortBy, Desc: req.Desc, Limit: req.Limit, Offset: req.Offset,
	})
	if err != nil {
		return fail(err)
	}
	return ok(envelope{"work_items": items})
}

func handleCount(ctx context.Context, s *Server, raw json.RawMessage) envelope {
	var req struct {
		ItemType string `json:"item_type"`
		Status   string `json:"status"`
		Priority string `json:"priority"`
		ParentID string `json:"parent_id"`
		Assignee string `json:"assignee"`
		Tag      string `json:"tag"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail(corerr.InvalidArgument("bad arguments: %v", err))
	}
	count, err := s.store.CountWorkItems(ctx, store.ListFilters{
		ItemType: workitem.Type(req.ItemType), Status: req.Status, Priority: req.Priority,
		ParentID: req.ParentID, Assignee: req.Assignee, Tag: req.Tag,
	})
	if err != nil {
		return fail(err)
	}
	return ok(envelope{"count": count})
}

func handleSearch(ctx context.Context, s *Server, raw json.RawMessage) envelope {
	var req struct {
		Query      string `json:"query"`
		SearchType string `json:"search_type"`
		ItemType   string `json:"item_type"`
		Status     string `json:"status"`
		Limit      *int   `json:"limit"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail(corerr.InvalidArgument("bad arguments: %v", err))
	}
	mode := store.SearchHybrid
	if req.SearchType != "" {
		mode = store.SearchMode(req.SearchType)
	}
	// An absent limit defaults to 10; an explicit out-of-range one is the
	// caller's error and surfaces from the storage core as InvalidArgument.
	limit := 10
	if req.Limit != nil {
		limit = *req.Limit
	}
	resp, err := s.store.SearchWorkItems(ctx, store.SearchOptions{
		Query: req.Query, Mode: mode, Limit: limit,
		Filters: store.ListFilters{ItemType: workitem.Type(req.ItemType), Status: req.Status},
	})
	if err != nil {
		return fail(err)
	}
	return ok(envelope{"results": resp.Results, "fallback_used": resp.FallbackUsed})
}

func handleValidateWorkItem(ctx context.Context, s *Server, raw json.RawMessage) envelope {
	var req draftArgs
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail(corerr.InvalidArgument("bad arguments: %v", err))
	}
	errs := workitem.ValidateDraft(req.toDraft())
	return ok(envelope{"valid": len(errs) == 0, "errors": errs})
}

func handleReindex(ctx context.Context, s *Server, _ json.RawMessage) envelope {
	if err := s.store.Reindex(ctx); err != nil {
		return fail(err)
	}
	return ok(nil)
}
