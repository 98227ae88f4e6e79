package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jwhahn/studydesk/internal/qacache"
)

// NewMCPServer creates an MCP server exposing the study assistant to agent
// clients over stdio. Tools share the HTTP handlers' caches, so an answer
// computed here shows up in the web cache listing and vice versa.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"studydesk",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("studydesk: question answering, quiz generation, and mistake review over the user's uploaded course material."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Answer a question from the uploaded course material. Answers are cached per question."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("user", mcp.Description("User scope (default: default)")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("make_quiz",
			mcp.WithDescription("Generate a quiz. With no files listed the quiz covers the whole library."),
			mcp.WithArray("files", mcp.Description("Optional file selection to quiz on")),
			mcp.WithString("user", mcp.Description("User scope (default: default)")),
		),
		mcpMakeQuiz(deps),
	)

	s.AddTool(
		mcp.NewTool("review_notes",
			mcp.WithDescription("List the user's recorded mistakes and study notes."),
			mcp.WithString("user", mcp.Description("User scope (default: default)")),
		),
		mcpReviewNotes(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"study://files",
			"Course Files",
			mcp.WithResourceDescription("The default user's uploaded files and which have extracted text cached"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceFiles(deps),
	)

	return s
}

func mcpAsk(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		user := req.GetString("user", defaultUser)

		key := qacache.Key(qacache.KindAsk, question)
		answer, _, err := deps.Answers.GetOrCompute(ctx, user, key, qacache.KindAsk, question,
			func(ctx context.Context) (string, error) {
				material, err := deps.Texts.Aggregate(ctx, user)
				if err != nil {
					return "", err
				}
				p := deps.Prompts.Ask(question, material)
				return deps.Generator.Generate(ctx, p.System, p.User)
			})
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		return mcpText(answer), nil
	}
}

func mcpMakeQuiz(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		user := req.GetString("user", defaultUser)
		files := req.GetStringSlice("files", nil)

		var key string
		var kind qacache.Kind
		var label string
		if len(files) == 0 {
			kind = qacache.KindQuizAll
			key = qacache.Key(kind)
			label = "Quiz over all files"
		} else {
			kind = qacache.KindQuizSelected
			key = qacache.KeyForFiles(kind, files)
			label = fmt.Sprintf("Quiz over %d selected files", len(files))
		}

		quiz, _, err := deps.Answers.GetOrCompute(ctx, user, key, kind, label,
			func(ctx context.Context) (string, error) {
				var material string
				var err error
				if len(files) == 0 {
					material, err = deps.Texts.Aggregate(ctx, user)
				} else {
					material, err = deps.Texts.AggregateSelected(ctx, user, files)
				}
				if err != nil {
					return "", err
				}
				return generateQuiz(ctx, deps, material)
			})
		if err != nil {
			return mcpError(fmt.Sprintf("quiz generation failed: %v", err)), nil
		}
		return mcpText(quiz), nil
	}
}

func mcpReviewNotes(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		user := req.GetString("user", defaultUser)
		entries, err := deps.Notes.List(user)
		if err != nil {
			return mcpError(fmt.Sprintf("listing notes failed: %v", err)), nil
		}
		if len(entries) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(entries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal notes: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceFiles(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		files, err := deps.Library.Files(defaultUser)
		if err != nil {
			return nil, fmt.Errorf("listing files: %w", err)
		}
		cached, err := deps.Texts.CachedFiles(defaultUser)
		if err != nil {
			return nil, fmt.Errorf("listing cache: %w", err)
		}

		b, err := json.Marshal(fileListResponse{Files: files, Cached: cached})
		if err != nil {
			return nil, fmt.Errorf("marshalling listing: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
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
