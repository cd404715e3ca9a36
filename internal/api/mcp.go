package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/tutorcore/internal/extract"
	"github.com/kalambet/tutorcore/internal/ingest"
	"github.com/kalambet/tutorcore/internal/retrieval"
	"github.com/kalambet/tutorcore/internal/review"
)

// NewMCPServer creates an MCP server exposing the tutoring tools.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	deps = deps.withDefaults()

	s := server.NewMCPServer(
		"tutorcore",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("tutorcore: search study material, repair model JSON output and schedule flashcard reviews."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_content",
			mcp.WithDescription("Hybrid semantic and keyword search over ingested study material."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("style", mcp.Description("Response style: brief, standard, comprehensive or ultra")),
			mcp.WithNumber("depth", mcp.Description("Explicit number of results; overrides style")),
		),
		mcpSearchContent(deps),
	)

	s.AddTool(
		mcp.NewTool("parse_output",
			mcp.WithDescription("Extract and repair the first JSON array or object in raw model output."),
			mcp.WithString("text", mcp.Description("Raw model output"), mcp.Required()),
		),
		mcpParseOutput,
	)

	s.AddTool(
		mcp.NewTool("submit_review",
			mcp.WithDescription("Record a flashcard rating and return the next review schedule."),
			mcp.WithString("flashcard_id", mcp.Description("Flashcard ID"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("User ID"), mcp.Required()),
			mcp.WithNumber("quality", mcp.Description("Recall quality from 0 (forgot) to 4 (easy)"), mcp.Required()),
		),
		mcpSubmitReview(deps),
	)

	s.AddTool(
		mcp.NewTool("embedding_coverage",
			mcp.WithDescription("Report how many stored fragments have embeddings and whether the backfill is running."),
		),
		mcpEmbeddingCoverage(deps),
	)

	s.AddTool(
		mcp.NewTool("add_content",
			mcp.WithDescription("Store study text as searchable fragments."),
			mcp.WithString("text", mcp.Description("The text content to store"), mcp.Required()),
			mcp.WithString("subject", mcp.Description("Subject, e.g. Anatomy")),
			mcp.WithString("topic", mcp.Description("Topic within the subject")),
		),
		mcpAddContent(deps),
	)

	if deps.Generator != nil {
		s.AddTool(
			mcp.NewTool("generate_study_material",
				mcp.WithDescription("Ask the model for flashcards, multiple-choice questions or a study plan and return the repaired JSON."),
				mcp.WithString("kind", mcp.Description("flashcards, questions or plan"), mcp.Required()),
				mcp.WithString("prompt", mcp.Description("Full prompt sent to the model"), mcp.Required()),
			),
			mcpGenerate(deps),
		)
	}

	return s
}

func mcpSearchContent(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		depth := resolveDepth(req.GetInt("depth", 0), req.GetString("style", ""), deps.DefaultDepth)

		results := deps.Searcher.Search(ctx, query, depth)
		if results == nil {
			results = []retrieval.Result{}
		}
		return mcpJSON(results)
	}
}

func mcpParseOutput(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcpError("text is required"), nil
	}
	value, err := extract.Parse(text)
	if err != nil {
		return mcpError(err.Error()), nil
	}
	return mcpJSON(value)
}

func mcpSubmitReview(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		flashcardID, err := req.RequireString("flashcard_id")
		if err != nil {
			return mcpError("flashcard_id is required"), nil
		}
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		q, err := req.RequireFloat("quality")
		if err != nil {
			return mcpError("quality is required"), nil
		}
		if q != math.Trunc(q) {
			return mcpError(fmt.Sprintf("quality must be a whole number, got %v", q)), nil
		}

		rec, err := deps.Reviews.Submit(ctx, flashcardID, userID, review.Quality(q))
		if errors.Is(err, review.ErrInvalidQuality) || errors.Is(err, review.ErrMissingID) {
			return mcpError(err.Error()), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to record review: %v", err)), nil
		}
		return mcpJSON(rec)
	}
}

func mcpEmbeddingCoverage(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cov, err := deps.Content.Coverage(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to count fragments: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("%d of %d fragments embedded (%.1f%%), backfill running: %t",
			cov.WithEmbeddings, cov.Total, cov.Percent(), deps.Backfill.Running())), nil
	}
}

func mcpAddContent(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		frags, err := deps.Ingester.Ingest(ctx, ingest.Document{
			Subject: req.GetString("subject", ""),
			Topic:   req.GetString("topic", ""),
			Text:    text,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to store content: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored %d fragments", len(frags))), nil
	}
}

func mcpGenerate(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		kind, err := req.RequireString("kind")
		if err != nil {
			return mcpError("kind is required"), nil
		}
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcpError("prompt is required"), nil
		}
		artifact, err := generateArtifact(ctx, deps, kind, prompt)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpJSON(artifact)
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
