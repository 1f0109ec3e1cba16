package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/huangang/claimwatch/internal/services"
	"github.com/huangang/claimwatch/internal/services/github"
	"github.com/huangang/claimwatch/pkg/logger"
)

// HandleGitHubWebhook processes one GitHub delivery. eventType is the
// X-GitHub-Event header.
func (s *Service) HandleGitHubWebhook(ctx context.Context, eventType string, body []byte) (*Result, error) {
	switch eventType {
	case "ping":
		return &Result{Event: eventType, Handled: true, Reason: "pong"}, nil

	case "issues":
		var event github.IssuesEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return nil, fmt.Errorf("%w: decode issues event: %v", services.ErrInvalidInput, err)
		}
		return s.processIssuesEvent(ctx, &event)

	case "issue_comment":
		var event github.IssueCommentEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return nil, fmt.Errorf("%w: decode issue_comment event: %v", services.ErrInvalidInput, err)
		}
		return s.processIssueComment(ctx, &event)
	}

	return ignored(eventType, "", "event type not handled"), nil
}

func (s *Service) processIssuesEvent(ctx context.Context, event *github.IssuesEvent) (*Result, error) {
	repo := event.Repository.FullName
	issue := event.Issue.Number
	res := &Result{Event: "issues", Action: event.Action}
	if repo == "" || issue <= 0 {
		return ignored("issues", event.Action, "missing repository or issue"), nil
	}

	switch event.Action {
	case "assigned":
		if event.Assignee == nil || event.Assignee.Login == "" {
			return ignored("issues", event.Action, "no assignee in payload"), nil
		}
		if s.isBot(event.Assignee.Login) {
			return ignored("issues", event.Action, "assignee is the bot account"), nil
		}
		a, err := s.track(ctx, repo, issue, event.Assignee.Login, event.Issue.UpdatedAt)
		if err != nil {
			return nil, err
		}
		res.Handled = true
		res.AssignmentIDs = []uint{a.ID}
		return res, nil

	case "unassigned":
		if event.Assignee == nil || event.Assignee.Login == "" {
			return ignored("issues", event.Action, "no assignee in payload"), nil
		}
		if s.isBot(event.Sender.Login) {
			// our own auto-unassign, already recorded by the monitor
			return ignored("issues", event.Action, "unassigned by the bot account"), nil
		}
		a, err := s.store.FindLive(ctx, repo, issue, event.Assignee.Login)
		if errors.Is(err, services.ErrAssignmentNotFound) {
			return ignored("issues", event.Action, "assignment not tracked"), nil
		}
		if err != nil {
			return nil, err
		}
		reason := fmt.Sprintf("unassigned by %s", event.Sender.Login)
		if err := s.release(ctx, a.ID, reason, event.Sender.Login); err != nil {
			return nil, err
		}
		res.Handled = true
		res.AssignmentIDs = []uint{a.ID}
		return res, nil

	case "closed", "deleted", "transferred":
		live, err := s.store.FindLiveByIssue(ctx, repo, issue)
		if err != nil {
			return nil, err
		}
		reason := "issue " + event.Action
		for _, a := range live {
			if err := s.release(ctx, a.ID, reason, event.Sender.Login); err != nil {
				return nil, err
			}
			res.AssignmentIDs = append(res.AssignmentIDs, a.ID)
		}
		res.Handled = len(res.AssignmentIDs) > 0
		if !res.Handled {
			res.Reason = "no live assignments on issue"
		}
		return res, nil
	}

	return ignored("issues", event.Action, "action not handled"), nil
}

// processIssueComment asks for an early check when the assignee comments,
// so warnings clear without waiting for the next cycle.
func (s *Service) processIssueComment(ctx context.Context, event *github.IssueCommentEvent) (*Result, error) {
	if event.Action != "created" {
		return ignored("issue_comment", event.Action, "action not handled"), nil
	}
	author := event.Comment.User.Login
	live, err := s.store.FindLiveByIssue(ctx, event.Repository.FullName, event.Issue.Number)
	if err != nil {
		return nil, err
	}

	res := &Result{Event: "issue_comment", Action: event.Action}
	for _, a := range live {
		if !strings.EqualFold(a.Assignee, author) {
			continue
		}
		if s.queue == nil {
			continue
		}
		if err := s.queue.Enqueue(ctx, &services.CheckTask{AssignmentID: a.ID, RequestedBy: "webhook"}); err != nil {
			logger.Warn().Err(err).Uint("assignment_id", a.ID).Msg("[Webhook] Failed to enqueue check")
			continue
		}
		res.AssignmentIDs = append(res.AssignmentIDs, a.ID)
	}
	res.Handled = len(res.AssignmentIDs) > 0
	if !res.Handled {
		res.Reason = "comment is not from a tracked assignee"
	}
	return res, nil
}
