// Package mcp exposes the review/feedback core as MCP tools so a coding
// agent can read pending feedback and respond to it without leaving its
// session.
package mcp

import (
	"context"
	"errors"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rpggio/aipair/internal/domain/feedback"
	"github.com/rpggio/aipair/internal/domain/review"
	"github.com/rpggio/aipair/internal/dvcs"
)

// Config wires the domain services an MCP server needs.
type Config struct {
	Trunk   *dvcs.Client
	Reviews *review.Service
	Logger  *slog.Logger
}

// NewServer builds an MCP server exposing get_pending_feedback,
// respond_to_thread, and record_revision.
func NewServer(cfg Config) *sdkmcp.Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "aipair",
		Version: "0.1.0",
	}, &sdkmcp.ServerOptions{
		Instructions: serverInstructions,
		Logger:       cfg.Logger,
	})

	h := &toolHandler{trunk: cfg.Trunk, reviews: cfg.Reviews, logger: cfg.Logger}

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_pending_feedback",
		Description: "Return a Markdown report of every open review thread across all changes, with line positions mapped to the current commit",
	}, h.getPendingFeedback)

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "respond_to_thread",
		Description: "Post an agent reply to a review thread and optionally resolve it",
	}, h.respondToThread)

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "record_revision",
		Description: "Record that a change's working commit has advanced, clearing the pending-revision merge blocker",
	}, h.recordRevision)

	return server
}

const serverInstructions = `This server tracks line-anchored review threads against a jj (Jujutsu) repository's changes.
Call get_pending_feedback at the start of a turn to see what a human reviewer is waiting on.
Call respond_to_thread after addressing a comment; call record_revision after amending a change so its pending-revision merge blocker clears.`

type toolHandler struct {
	trunk   *dvcs.Client
	reviews *review.Service
	logger  *slog.Logger
}

// GetPendingFeedbackInput takes no parameters; the report covers every
// change with an open thread.
type GetPendingFeedbackInput struct{}

// GetPendingFeedbackOutput carries the rendered report.
type GetPendingFeedbackOutput struct {
	Report string `json:"report"`
}

func (h *toolHandler) getPendingFeedback(ctx context.Context, req *sdkmcp.CallToolRequest, in GetPendingFeedbackInput) (*sdkmcp.CallToolResult, GetPendingFeedbackOutput, error) {
	reviews, err := h.reviews.ListWithOpenThreads(ctx)
	if err != nil {
		return nil, GetPendingFeedbackOutput{}, err
	}
	report := feedback.Format(ctx, h.trunk, reviews)
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: report}},
	}, GetPendingFeedbackOutput{Report: report}, nil
}

// RespondToThreadInput identifies the thread to reply to and whether the
// reply also resolves it.
type RespondToThreadInput struct {
	ChangeID string `json:"change_id" jsonschema:"the change_id (or unique prefix) the thread belongs to"`
	ThreadID string `json:"thread_id" jsonschema:"the thread id (or unique prefix) to reply to"`
	Text     string `json:"text" jsonschema:"the reply text"`
	Resolve  bool   `json:"resolve,omitempty" jsonschema:"mark the thread resolved after replying"`
}

// RespondToThreadOutput echoes the thread's resulting state.
type RespondToThreadOutput struct {
	ThreadID string              `json:"thread_id"`
	Status   review.ThreadStatus `json:"status"`
}

func (h *toolHandler) respondToThread(ctx context.Context, req *sdkmcp.CallToolRequest, in RespondToThreadInput) (*sdkmcp.CallToolResult, RespondToThreadOutput, error) {
	_, thread, err := h.reviews.ReplyToThread(ctx, in.ChangeID, in.ThreadID, review.AuthorAgent, in.Text)
	if err != nil {
		return nil, RespondToThreadOutput{}, err
	}
	if in.Resolve {
		if _, thread, err = h.reviews.ResolveThread(ctx, in.ChangeID, thread.ID); err != nil {
			return nil, RespondToThreadOutput{}, err
		}
	}
	out := RespondToThreadOutput{ThreadID: thread.ID, Status: thread.Status}
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: "replied to thread " + thread.ID}},
	}, out, nil
}

// RecordRevisionInput names the change and its new working commit.
type RecordRevisionInput struct {
	ChangeID    string `json:"change_id" jsonschema:"the change_id (or unique prefix) to record a revision for"`
	CommitID    string `json:"commit_id" jsonschema:"the new working commit_id"`
	Description string `json:"description,omitempty" jsonschema:"optional note describing what changed in this revision"`
}

// RecordRevisionOutput echoes the newly recorded revision number.
type RecordRevisionOutput struct {
	RevisionNumber int `json:"revision_number"`
}

// recordRevision does not deduplicate at the review-store layer (see
// review.Service.RecordRevision), so this caller refuses to record a
// no-op revision when the working commit hasn't actually advanced.
func (h *toolHandler) recordRevision(ctx context.Context, req *sdkmcp.CallToolRequest, in RecordRevisionInput) (*sdkmcp.CallToolResult, RecordRevisionOutput, error) {
	existing, err := h.reviews.Get(ctx, in.ChangeID)
	if err != nil && !errors.Is(err, review.ErrReviewNotFound) {
		return nil, RecordRevisionOutput{}, err
	}
	changeID := in.ChangeID
	if existing != nil {
		changeID = existing.ChangeID
		if last := existing.LastRevision(); last != nil && last.CommitID == in.CommitID {
			return &sdkmcp.CallToolResult{
				Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: "commit unchanged, no revision recorded"}},
			}, RecordRevisionOutput{RevisionNumber: last.Number}, nil
		}
	}

	rev, err := h.reviews.RecordRevision(ctx, changeID, in.CommitID, in.Description)
	if err != nil {
		return nil, RecordRevisionOutput{}, err
	}
	last := rev.LastRevision()
	out := RecordRevisionOutput{RevisionNumber: last.Number}
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: "recorded revision"}},
	}, out, nil
}
