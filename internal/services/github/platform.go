package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/huangang/claimwatch/pkg/logger"
)

const markerPrefix = "<!-- claimwatch:"

// Marker is the hidden HTML comment that makes a posted comment recognizable.
func Marker(idempotencyKey string) string {
	return markerPrefix + idempotencyKey + " -->"
}

// PostComment posts body on the issue unless a comment carrying the same
// idempotency key already exists.
func (c *Client) PostComment(ctx context.Context, repo string, issue int, body, idempotencyKey string) error {
	if _, _, err := SplitRepo(repo); err != nil {
		return err
	}
	marker := Marker(idempotencyKey)
	path := fmt.Sprintf("/repos/%s/issues/%d/comments", repo, issue)

	found, err := c.hasMarkedComment(ctx, path, marker)
	if err != nil {
		return wrapNotFound(err, "comments %s#%d", repo, issue)
	}
	if found {
		logger.Debug().Str("repo", repo).Int("issue", issue).Str("key", idempotencyKey).
			Msg("[GitHub] comment already posted, skipping")
		return nil
	}

	payload := map[string]string{"body": body + "\n\n" + marker}
	if _, err := c.do(ctx, http.MethodPost, path, nil, payload, nil); err != nil {
		return wrapNotFound(err, "post comment %s#%d", repo, issue)
	}
	return nil
}

// hasMarkedComment scans the thread newest page first. The first page is
// always read to learn the page count from the Link header; beyond that at
// most maxPages pages are read, so a marker older than the newest
// maxPages*perPage comments is not seen.
func (c *Client) hasMarkedComment(ctx context.Context, path, marker string) (bool, error) {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", "1")

	var first []ghComment
	h, err := c.do(ctx, http.MethodGet, path, q, nil, &first)
	if err != nil {
		return false, err
	}
	if containsMarker(first, marker) {
		return true, nil
	}

	last := lastPage(h)
	for page, read := last, 0; page > 1 && read < maxPages; page, read = page-1, read+1 {
		q.Set("page", strconv.Itoa(page))
		var batch []ghComment
		if _, err := c.do(ctx, http.MethodGet, path, q, nil, &batch); err != nil {
			return false, err
		}
		if containsMarker(batch, marker) {
			return true, nil
		}
	}
	return false, nil
}

func containsMarker(comments []ghComment, marker string) bool {
	for _, cm := range comments {
		if strings.Contains(cm.Body, marker) {
			return true
		}
	}
	return false
}

// lastPage reads rel="last" from a Link header; 1 when there is no next page.
func lastPage(h http.Header) int {
	for _, part := range strings.Split(h.Get("Link"), ",") {
		segs := strings.Split(part, ";")
		if len(segs) < 2 || !strings.Contains(segs[1], `rel="last"`) {
			continue
		}
		raw := strings.Trim(strings.TrimSpace(segs[0]), "<>")
		u, err := url.Parse(raw)
		if err != nil {
			return 1
		}
		if n, err := strconv.Atoi(u.Query().Get("page")); err == nil && n > 1 {
			return n
		}
	}
	return 1
}

// Unassign removes user from the issue's assignees. Removing someone who is
// not assigned is a no-op on GitHub's side.
func (c *Client) Unassign(ctx context.Context, repo string, issue int, user string) error {
	if _, _, err := SplitRepo(repo); err != nil {
		return err
	}
	payload := map[string][]string{"assignees": {user}}
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/repos/%s/issues/%d/assignees", repo, issue), nil, payload, nil)
	return wrapNotFound(err, "unassign %s from %s#%d", user, repo, issue)
}
