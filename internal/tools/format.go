package tools

import (
	"fmt"
	"strings"
)

func deref(s *string, fallback string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return fallback
	}
	return strings.TrimSpace(*s)
}

func visibility(private bool) string {
	if private {
		return "private"
	}
	return "public"
}

func formatCreatedRepository(r repository) string {
	var b strings.Builder
	b.WriteString("Repository created.\n")
	fmt.Fprintf(&b, "Name: %s\n", r.Name)
	fmt.Fprintf(&b, "URL: %s\n", r.HTMLURL)
	fmt.Fprintf(&b, "Description: %s\n", deref(r.Description, "none"))
	fmt.Fprintf(&b, "Visibility: %s\n", visibility(r.Private))
	fmt.Fprintf(&b, "Created: %s", r.CreatedAt)
	if r.CloneURL != "" {
		fmt.Fprintf(&b, "\nClone: git clone %s", r.CloneURL)
	}
	return b.String()
}

func formatUser(u user) string {
	var b strings.Builder
	b.WriteString("GitHub user\n")
	fmt.Fprintf(&b, "Login: %s\n", u.Login)
	fmt.Fprintf(&b, "Name: %s\n", deref(u.Name, "not set"))
	fmt.Fprintf(&b, "Email: %s\n", deref(u.Email, "not public"))
	fmt.Fprintf(&b, "ID: %d", u.ID)
	if u.HTMLURL != "" {
		fmt.Fprintf(&b, "\nProfile: %s", u.HTMLURL)
	}
	return b.String()
}

func formatRepositoryLine(r repository) string {
	name := r.FullName
	if name == "" {
		name = r.Name
	}
	lines := []string{
		fmt.Sprintf("%s (%s)", name, visibility(r.Private)),
		"  " + r.HTMLURL,
		"  " + deref(r.Description, "no description"),
	}
	meta := make([]string, 0, 2)
	if lang := deref(r.Language, ""); lang != "" {
		meta = append(meta, "language: "+lang)
	}
	if r.Stars > 0 {
		meta = append(meta, fmt.Sprintf("stars: %d", r.Stars))
	}
	if r.UpdatedAt != "" {
		meta = append(meta, "updated: "+r.UpdatedAt)
	}
	if len(meta) > 0 {
		lines = append(lines, "  "+strings.Join(meta, ", "))
	}
	return strings.Join(lines, "\n")
}

func formatSearch(query string, total int, items []repository, limit int) string {
	shown := items
	if len(shown) > limit {
		shown = shown[:limit]
	}
	parts := make([]string, 0, len(shown)+1)
	parts = append(parts, fmt.Sprintf("Found %d repositories for %q. Top %d:", total, query, len(shown)))
	for i, r := range shown {
		parts = append(parts, fmt.Sprintf("%d. %s", i+1, formatRepositoryLine(r)))
	}
	return strings.Join(parts, "\n\n")
}

func formatRepositoryList(repos []repository) string {
	parts := make([]string, 0, len(repos)+1)
	parts = append(parts, fmt.Sprintf("Your repositories (%d):", len(repos)))
	for i, r := range repos {
		parts = append(parts, fmt.Sprintf("%d. %s", i+1, formatRepositoryLine(r)))
	}
	return strings.Join(parts, "\n\n")
}

func formatIssues(repo, state string, issues []issue) string {
	parts := make([]string, 0, len(issues)+1)
	parts = append(parts, fmt.Sprintf("Issues in %s (%s, %d):", repo, state, len(issues)))
	for _, is := range issues {
		kind := "issue"
		if is.PullRequest != nil {
			kind = "pull request"
		}
		parts = append(parts, fmt.Sprintf("#%d %s\n  %s, %s by %s\n  %s\n  created: %s",
			is.Number, is.Title, kind, is.State, is.User.Login, is.HTMLURL, is.CreatedAt))
	}
	return strings.Join(parts, "\n\n")
}
