package tools

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/user/aichat/internal/transport"
)

const (
	ToolCreateRepository    = "create_repository"
	ToolGetUserInfo         = "get_user_info"
	ToolSearchRepositories  = "search_repositories"
	ToolGetUserRepositories = "get_user_repositories"
	ToolGetIssues           = "get_issues"
)

const (
	defaultPage     = 1
	defaultPerPage  = 30
	maxPerPage      = 100
	maxListPages    = 5
	searchPreview   = 5
	defaultIssueSet = "open"
)

// GitHub implements the repository tools against the GitHub REST API.
type GitHub struct {
	client *transport.APIClient
	logger *slog.Logger
}

func NewGitHub(client *transport.APIClient, logger *slog.Logger) *GitHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitHub{client: client, logger: logger}
}

// NewGitHubRegistry returns a registry holding every GitHub tool, gated on
// the client having a token.
func NewGitHubRegistry(client *transport.APIClient, logger *slog.Logger) (*Registry, error) {
	gh := NewGitHub(client, logger)
	reg := NewRegistry()
	for _, t := range gh.Tools() {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	reg.Require(gh.ready)
	return reg, nil
}

func (g *GitHub) ready() error {
	if !g.client.HasToken() {
		return ErrNotConfigured
	}
	return nil
}

func (g *GitHub) Tools() []Tool {
	return []Tool{
		{
			Descriptor: Descriptor{
				Name:        ToolCreateRepository,
				Description: "Create a new repository for the authenticated user",
				Parameters: map[string]Param{
					"name":        {Type: "string", Description: "Repository name", Required: true},
					"description": {Type: "string", Description: "Repository description"},
					"isPrivate":   {Type: "boolean", Description: "Create a private repository (default false)"},
				},
			},
			Execute: g.guard(g.createRepository),
		},
		{
			Descriptor: Descriptor{
				Name:        ToolGetUserInfo,
				Description: "Get information about the authenticated user",
				Parameters:  map[string]Param{},
			},
			Execute: g.guard(g.getUserInfo),
		},
		{
			Descriptor: Descriptor{
				Name:        ToolSearchRepositories,
				Description: "Search public repositories by query",
				Parameters: map[string]Param{
					"query":   {Type: "string", Description: "Search query", Required: true},
					"page":    {Type: "integer", Description: "Page number (default 1)"},
					"perPage": {Type: "integer", Description: "Results per page (default 30, max 100)"},
				},
			},
			Execute: g.guard(g.searchRepositories),
		},
		{
			Descriptor: Descriptor{
				Name:        ToolGetUserRepositories,
				Description: "List the authenticated user's repositories, most recently updated first",
				Parameters: map[string]Param{
					"page":     {Type: "integer", Description: "First page to fetch (default 1)"},
					"perPage":  {Type: "integer", Description: "Results per page (default 30, max 100)"},
					"maxPages": {Type: "integer", Description: "Number of consecutive pages to fetch (default 1, max 5)"},
				},
			},
			Execute: g.guard(g.getUserRepositories),
		},
		{
			Descriptor: Descriptor{
				Name:        ToolGetIssues,
				Description: "List issues of a repository",
				Parameters: map[string]Param{
					"owner":   {Type: "string", Description: "Repository owner", Required: true},
					"repo":    {Type: "string", Description: "Repository name", Required: true},
					"state":   {Type: "string", Description: "open, closed or all (default open)"},
					"page":    {Type: "integer", Description: "Page number (default 1)"},
					"perPage": {Type: "integer", Description: "Results per page (default 30, max 100)"},
				},
			},
			Execute: g.guard(g.getIssues),
		},
	}
}

func (g *GitHub) guard(fn func(ctx context.Context, args map[string]any) Result) func(ctx context.Context, args map[string]any) Result {
	return func(ctx context.Context, args map[string]any) Result {
		if err := g.ready(); err != nil {
			return Result{Text: NotConfiguredMessage, IsError: true}
		}
		return fn(ctx, args)
	}
}

type repository struct {
	Name        string  `json:"name"`
	FullName    string  `json:"full_name"`
	HTMLURL     string  `json:"html_url"`
	CloneURL    string  `json:"clone_url"`
	Description *string `json:"description"`
	Private     bool    `json:"private"`
	Language    *string `json:"language"`
	Stars       int     `json:"stargazers_count"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

type user struct {
	Login       string  `json:"login"`
	ID          int64   `json:"id"`
	Name        *string `json:"name"`
	Email       *string `json:"email"`
	HTMLURL     string  `json:"html_url"`
	PublicRepos int     `json:"public_repos"`
}

type searchResponse struct {
	TotalCount int          `json:"total_count"`
	Items      []repository `json:"items"`
}

type issue struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	State     string `json:"state"`
	HTMLURL   string `json:"html_url"`
	CreatedAt string `json:"created_at"`
	User      struct {
		Login string `json:"login"`
	} `json:"user"`
	PullRequest *struct{} `json:"pull_request"`
}

func (g *GitHub) createRepository(ctx context.Context, args map[string]any) Result {
	name, err := requiredString(args, "name")
	if err != nil {
		return errorResult("repository name is not specified")
	}
	description, err := optionalString(args, "description")
	if err != nil {
		return errorResult("%v", err)
	}
	private, err := optionalBool(args, "isPrivate")
	if err != nil {
		return errorResult("%v", err)
	}

	body := map[string]any{
		"name":      name,
		"private":   private,
		"auto_init": true,
	}
	if d := strings.TrimSpace(description); d != "" {
		body["description"] = d
	}
	g.logger.Debug("github create repository", "name", name, "private", private)

	resp, err := g.client.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/user/repos",
		Body:   body,
		Expect: http.StatusCreated,
	})
	if err != nil {
		return g.failure(ToolCreateRepository, "could not create repository", err)
	}
	var repo repository
	if err := resp.Decode(&repo); err != nil {
		return g.failure(ToolCreateRepository, "could not create repository", err)
	}
	return Result{Text: formatCreatedRepository(repo)}
}

func (g *GitHub) getUserInfo(ctx context.Context, _ map[string]any) Result {
	resp, err := g.client.Do(ctx, transport.Request{Path: "/user"})
	if err != nil {
		return g.failure(ToolGetUserInfo, "could not get user information", err)
	}
	var u user
	if err := resp.Decode(&u); err != nil {
		return g.failure(ToolGetUserInfo, "could not get user information", err)
	}
	return Result{Text: formatUser(u)}
}

func (g *GitHub) searchRepositories(ctx context.Context, args map[string]any) Result {
	query, err := requiredString(args, "query")
	if err != nil {
		return errorResult("search query is not specified")
	}
	page, perPage, err := paging(args)
	if err != nil {
		return errorResult("%v", err)
	}

	resp, err := g.client.Do(ctx, transport.Request{
		Path: "/search/repositories",
		Query: url.Values{
			"q":        []string{query},
			"page":     []string{strconv.Itoa(page)},
			"per_page": []string{strconv.Itoa(perPage)},
		},
	})
	if err != nil {
		return g.failure(ToolSearchRepositories, "could not search repositories", err)
	}
	var out searchResponse
	if err := resp.Decode(&out); err != nil {
		return g.failure(ToolSearchRepositories, "could not search repositories", err)
	}
	if len(out.Items) == 0 {
		return textResult("No repositories found for query %q.", query)
	}
	return Result{Text: formatSearch(query, out.TotalCount, out.Items, searchPreview)}
}

// getUserRepositories fetches up to maxPages pages and reports nothing
// unless all of them succeed.
func (g *GitHub) getUserRepositories(ctx context.Context, args map[string]any) Result {
	page, perPage, err := paging(args)
	if err != nil {
		return errorResult("%v", err)
	}
	pages, err := optionalInt(args, "maxPages", 1)
	if err != nil {
		return errorResult("%v", err)
	}
	pages = clamp(pages, 1, maxListPages)

	var all []repository
	for i := 0; i < pages; i++ {
		resp, err := g.client.Do(ctx, transport.Request{
			Path: "/user/repos",
			Query: url.Values{
				"sort":      []string{"updated"},
				"direction": []string{"desc"},
				"page":      []string{strconv.Itoa(page + i)},
				"per_page":  []string{strconv.Itoa(perPage)},
			},
		})
		if err != nil {
			return g.failure(ToolGetUserRepositories, "could not list repositories", err)
		}
		var batch []repository
		if err := resp.Decode(&batch); err != nil {
			return g.failure(ToolGetUserRepositories, "could not list repositories", err)
		}
		all = append(all, batch...)
		if len(batch) < perPage {
			break
		}
	}
	if len(all) == 0 {
		return textResult("You have no repositories yet.")
	}
	return Result{Text: formatRepositoryList(all)}
}

func (g *GitHub) getIssues(ctx context.Context, args map[string]any) Result {
	owner, err := requiredString(args, "owner")
	if err != nil {
		return errorResult("repository owner is not specified")
	}
	repo, err := requiredString(args, "repo")
	if err != nil {
		return errorResult("repository name is not specified")
	}
	state, err := optionalString(args, "state")
	if err != nil {
		return errorResult("%v", err)
	}
	state = strings.ToLower(strings.TrimSpace(state))
	if state == "" {
		state = defaultIssueSet
	}
	switch state {
	case "open", "closed", "all":
	default:
		return errorResult("state must be one of open, closed, all")
	}
	page, perPage, err := paging(args)
	if err != nil {
		return errorResult("%v", err)
	}

	resp, err := g.client.Do(ctx, transport.Request{
		Path: "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo) + "/issues",
		Query: url.Values{
			"state":    []string{state},
			"page":     []string{strconv.Itoa(page)},
			"per_page": []string{strconv.Itoa(perPage)},
		},
	})
	if err != nil {
		return g.failure(ToolGetIssues, "could not list issues", err)
	}
	var issues []issue
	if err := resp.Decode(&issues); err != nil {
		return g.failure(ToolGetIssues, "could not list issues", err)
	}
	if len(issues) == 0 {
		return textResult("No %s issues found in %s/%s.", state, owner, repo)
	}
	return Result{Text: formatIssues(owner+"/"+repo, state, issues)}
}

func (g *GitHub) failure(tool, action string, err error) Result {
	g.logger.Warn("github tool failed", "tool", tool, "error", err)
	return errorResult("%s: %s", action, describeFailure(err))
}

// describeFailure turns a transport error into text safe to show the user.
func describeFailure(err error) string {
	if transport.IsCancellation(err) {
		return "request cancelled"
	}
	te, ok := transport.AsError(err)
	if !ok {
		return "unexpected failure"
	}
	var reason string
	switch {
	case te.Kind == transport.KindTransport:
		reason = "network failure"
	case transport.IsBodyTooLarge(err):
		reason = "response too large, request fewer items per page"
	case te.Kind == transport.KindDecode:
		reason = "unexpected response"
	case te.Kind == transport.KindUnexpectedStatus:
		reason = fmt.Sprintf("unexpected response status %d", te.StatusCode)
	case transport.IsRateLimited(err):
		reason = "rate limit exceeded"
	case transport.IsValidation(err):
		reason = "request rejected"
	case transport.IsNotFound(err):
		reason = "not found"
	case te.StatusCode == http.StatusUnauthorized || te.StatusCode == http.StatusForbidden:
		reason = "access denied"
	default:
		reason = fmt.Sprintf("HTTP %d", te.StatusCode)
	}
	if te.APIMessage != "" {
		reason += " (" + te.APIMessage + ")"
	}
	return reason
}

func paging(args map[string]any) (int, int, error) {
	page, err := optionalInt(args, "page", defaultPage)
	if err != nil {
		return 0, 0, err
	}
	perPage, err := optionalInt(args, "perPage", defaultPerPage)
	if err != nil {
		return 0, 0, err
	}
	if page < 1 {
		page = defaultPage
	}
	return page, clamp(perPage, 1, maxPerPage), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
