package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/huangang/claimwatch/internal/models"
)

// maxForkBranches bounds the per-cycle cost of scanning a fork.
const maxForkBranches = 10

type ghUser struct {
	Login string `json:"login"`
}

type ghIssue struct {
	Number      int      `json:"number"`
	State       string   `json:"state"`
	Title       string   `json:"title"`
	Assignees   []ghUser `json:"assignees"`
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request,omitempty"`
}

type ghComment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	User      ghUser    `json:"user"`
	CreatedAt time.Time `json:"created_at"`
	HTMLURL   string    `json:"html_url"`
}

type ghCommit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name string    `json:"name"`
			Date time.Time `json:"date"`
		} `json:"author"`
		Committer struct {
			Date time.Time `json:"date"`
		} `json:"committer"`
	} `json:"commit"`
	Author  *ghUser `json:"author"`
	HTMLURL string  `json:"html_url"`
}

type ghRepo struct {
	Name          string  `json:"name"`
	FullName      string  `json:"full_name"`
	Fork          bool    `json:"fork"`
	DefaultBranch string  `json:"default_branch"`
	Owner         ghUser  `json:"owner"`
	Parent        *ghRepo `json:"parent,omitempty"`
	Source        *ghRepo `json:"source,omitempty"`
}

type ghBranch struct {
	Name string `json:"name"`
}

// IssueActivity is what the main repository says about an assignment since a watermark.
type IssueActivity struct {
	Events    []models.ActivityEvent
	Closed    bool
	Assignees []string
}

// StillAssigned reports whether login is among the issue's current assignees.
func (a *IssueActivity) StillAssigned(login string) bool {
	for _, l := range a.Assignees {
		if strings.EqualFold(l, login) {
			return true
		}
	}
	return false
}

// ListActivitySince returns comments and commits by assignee strictly newer
// than since. A missing issue yields ErrNotFound, never an empty result.
func (c *Client) ListActivitySince(ctx context.Context, repo string, issue int, assignee string, since time.Time) (*IssueActivity, error) {
	if _, _, err := SplitRepo(repo); err != nil {
		return nil, err
	}

	var is ghIssue
	if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/issues/%d", repo, issue), nil, nil, &is); err != nil {
		return nil, wrapNotFound(err, "issue %s#%d", repo, issue)
	}

	out := &IssueActivity{Closed: is.State == "closed"}
	for _, a := range is.Assignees {
		out.Assignees = append(out.Assignees, a.Login)
	}

	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339))
	comments, err := getPaged[ghComment](ctx, c, fmt.Sprintf("/repos/%s/issues/%d/comments", repo, issue), q)
	if err != nil {
		return nil, wrapNotFound(err, "comments %s#%d", repo, issue)
	}
	for _, cm := range comments {
		// "since" filters on updated_at; only newly created comments count.
		if !strings.EqualFold(cm.User.Login, assignee) || !cm.CreatedAt.After(since) {
			continue
		}
		out.Events = append(out.Events, models.ActivityEvent{
			Timestamp: cm.CreatedAt,
			Kind:      models.KindComment,
			Source:    models.SourceMainRepo,
			Actor:     cm.User.Login,
			Payload:   cm.Body,
			DedupeKey: fmt.Sprintf("comment:%d", cm.ID),
		})
	}

	commits, err := c.listCommits(ctx, repo, "", assignee, since)
	if err != nil {
		return nil, wrapNotFound(err, "commits %s", repo)
	}
	for _, cm := range commits {
		out.Events = append(out.Events, commitEvent(cm, models.KindCommit, models.SourceMainRepo, assignee))
	}

	sortEvents(out.Events)
	return out, nil
}

// FindForkOwnedBy returns the username's fork of repo. ErrNotFound means the
// user has no fork, which is an expected outcome.
func (c *Client) FindForkOwnedBy(ctx context.Context, repo, username string) (*models.ForkRef, error) {
	_, name, err := SplitRepo(repo)
	if err != nil {
		return nil, err
	}

	var candidate ghRepo
	_, err = c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s", username, name), nil, nil, &candidate)
	switch {
	case err == nil:
		if candidate.Fork && forkOf(&candidate, repo) {
			return repoRef(&candidate), nil
		}
	case errors.Is(err, ErrNotFound):
	default:
		return nil, err
	}

	// Renamed forks only show up in the fork list.
	forks, err := getPaged[ghRepo](ctx, c, fmt.Sprintf("/repos/%s/forks", repo), url.Values{"sort": {"newest"}})
	if err != nil {
		return nil, wrapNotFound(err, "forks of %s", repo)
	}
	for i := range forks {
		if strings.EqualFold(forks[i].Owner.Login, username) {
			return repoRef(&forks[i]), nil
		}
	}
	return nil, ErrNotFound
}

// ListCommitsSince returns commits by author on the fork's branches strictly
// newer than since, deduplicated by SHA.
func (c *Client) ListCommitsSince(ctx context.Context, forkOwner, forkRepo, author string, since time.Time) ([]models.ActivityEvent, error) {
	full := forkOwner + "/" + forkRepo
	branches, err := getPaged[ghBranch](ctx, c, fmt.Sprintf("/repos/%s/branches", full), nil)
	if err != nil {
		return nil, wrapNotFound(err, "branches of %s", full)
	}
	if len(branches) > maxForkBranches {
		branches = branches[:maxForkBranches]
	}
	if len(branches) == 0 {
		branches = []ghBranch{{Name: ""}}
	}

	seen := make(map[string]bool)
	var events []models.ActivityEvent
	for _, b := range branches {
		commits, err := c.listCommits(ctx, full, b.Name, author, since)
		if err != nil {
			return nil, wrapNotFound(err, "commits of %s@%s", full, b.Name)
		}
		for _, cm := range commits {
			if seen[cm.SHA] {
				continue
			}
			seen[cm.SHA] = true
			events = append(events, commitEvent(cm, models.KindForkCommit, models.SourceFork, author))
		}
	}
	sortEvents(events)
	return events, nil
}

func (c *Client) listCommits(ctx context.Context, fullName, branch, author string, since time.Time) ([]ghCommit, error) {
	q := url.Values{}
	q.Set("author", author)
	q.Set("since", since.UTC().Format(time.RFC3339))
	if branch != "" {
		q.Set("sha", branch)
	}
	commits, err := getPaged[ghCommit](ctx, c, fmt.Sprintf("/repos/%s/commits", fullName), q)
	if err != nil {
		var apiErr *APIError
		// 409: repository is empty.
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
			return nil, nil
		}
		return nil, err
	}
	fresh := commits[:0]
	for _, cm := range commits {
		if commitTime(cm).After(since) {
			fresh = append(fresh, cm)
		}
	}
	return fresh, nil
}

func commitTime(cm ghCommit) time.Time {
	if !cm.Commit.Committer.Date.IsZero() {
		return cm.Commit.Committer.Date
	}
	return cm.Commit.Author.Date
}

func commitEvent(cm ghCommit, kind models.ActivityKind, source models.ActivitySource, author string) models.ActivityEvent {
	actor := author
	if cm.Author != nil && cm.Author.Login != "" {
		actor = cm.Author.Login
	}
	return models.ActivityEvent{
		Timestamp: commitTime(cm),
		Kind:      kind,
		Source:    source,
		Actor:     actor,
		Payload:   cm.Commit.Message,
		DedupeKey: "commit:" + cm.SHA,
	}
}

func forkOf(r *ghRepo, upstream string) bool {
	if r.Parent != nil && strings.EqualFold(r.Parent.FullName, upstream) {
		return true
	}
	return r.Source != nil && strings.EqualFold(r.Source.FullName, upstream)
}

func repoRef(r *ghRepo) *models.ForkRef {
	return &models.ForkRef{Owner: r.Owner.Login, Name: r.Name, DefaultBranch: r.DefaultBranch}
}

func sortEvents(events []models.ActivityEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}

func wrapNotFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
	}
	return err
}
