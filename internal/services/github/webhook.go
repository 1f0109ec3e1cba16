package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// VerifySignature checks the X-Hub-Signature-256 header against the raw body.
func VerifySignature(secret string, body []byte, signature string) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expectedMAC := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.TrimPrefix(signature, "sha256=")), []byte(expectedMAC))
}

// IssuesEvent is the subset of the "issues" webhook payload we consume.
type IssuesEvent struct {
	Action string `json:"action"` // assigned, unassigned, closed, reopened, ...
	Issue  struct {
		Number    int       `json:"number"`
		Title     string    `json:"title"`
		State     string    `json:"state"`
		UpdatedAt time.Time `json:"updated_at"`
	} `json:"issue"`
	Assignee *struct {
		Login string `json:"login"`
	} `json:"assignee"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
}

// IssueCommentEvent is the subset of the "issue_comment" webhook payload we consume.
type IssueCommentEvent struct {
	Action string `json:"action"` // created, edited, deleted
	Issue  struct {
		Number int `json:"number"`
	} `json:"issue"`
	Comment struct {
		ID   int64 `json:"id"`
		User struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"comment"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}
