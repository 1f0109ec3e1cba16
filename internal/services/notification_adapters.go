package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/huangang/claimwatch/internal/models"
	"github.com/huangang/claimwatch/pkg/logger"
)

// webhookBatch is what one bot receives for one notification: the URL to
// post to and the bodies in send order.
type webhookBatch struct {
	URL    string
	Bodies []interface{}
}

// payloadBuilder renders a notification in the format a bot type expects.
type payloadBuilder func(bot *models.IMBot, n *models.Notification, meta NotificationMetadata) (webhookBatch, error)

var payloadBuilders = map[string]payloadBuilder{
	"wechat_work": wecomPayloads,
	"dingtalk":    dingtalkPayloads,
	"feishu":      feishuPayloads,
	"slack":       slackPayloads,
	"discord":     discordPayloads,
	"teams":       teamsPayloads,
	"telegram":    telegramPayloads,
}

func builderFor(botType string) payloadBuilder {
	if b, ok := payloadBuilders[botType]; ok {
		return b
	}
	return genericPayloads
}

// sendToBot delivers n to a single bot.
func sendToBot(ctx context.Context, client *http.Client, bot *models.IMBot, n *models.Notification, meta NotificationMetadata) error {
	batch, err := builderFor(bot.Type)(bot, n, meta)
	if err != nil {
		return err
	}
	for _, body := range batch.Bodies {
		if err := postWebhook(ctx, client, batch.URL, body); err != nil {
			return err
		}
	}
	return nil
}

// decodeMetadata reads the assignment coordinates stored with n.
func decodeMetadata(n *models.Notification) (NotificationMetadata, error) {
	var meta NotificationMetadata
	if n.Metadata == "" {
		return meta, nil
	}
	if err := json.Unmarshal([]byte(n.Metadata), &meta); err != nil {
		return NotificationMetadata{}, fmt.Errorf("notification %d metadata: %w", n.ID, err)
	}
	return meta, nil
}

func postWebhook(ctx context.Context, client *http.Client, target string, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	logger.Debugf("[Notification] POST %s (%d bytes)", redactWebhook(target), len(raw))

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("webhook %s answered %d: %s", redactWebhook(target), resp.StatusCode, strings.TrimSpace(string(snippet)))
}

// redactWebhook drops the query string, where many platforms put tokens.
func redactWebhook(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	return u.String()
}

// chunkText cuts s into pieces of at most max bytes, preferring to cut
// after a newline in the second half of a piece.
func chunkText(s string, max int) []string {
	var out []string
	for len(s) > max {
		cut := max
		if i := strings.LastIndexByte(s[:max], '\n'); i >= max/2 {
			cut = i + 1
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	return append(out, s)
}

// numbered prefixes each chunk with its position when there is more than one.
func numbered(chunks []string, format string) []string {
	if len(chunks) < 2 {
		return chunks
	}
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = fmt.Sprintf(format, i+1, len(chunks), c)
	}
	return out
}

var severityMark = map[models.NotificationPriority]string{
	models.PriorityNormal: "🟡",
	models.PriorityHigh:   "🟠",
	models.PriorityUrgent: "🔴",
}

func markFor(n *models.Notification) string {
	if n.Type == models.NotificationAIUpdate {
		return "🤖"
	}
	return severityMark[n.Priority]
}

// issueLine is "acme/widgets#42 · @octocat · ALERT", leaving out what is unknown.
func issueLine(meta NotificationMetadata) string {
	var fields []string
	if meta.Repository != "" {
		fields = append(fields, meta.Repository+"#"+strconv.Itoa(meta.IssueNumber))
	}
	if meta.Assignee != "" {
		fields = append(fields, "@"+meta.Assignee)
	}
	if meta.Status != "" {
		fields = append(fields, string(meta.Status))
	}
	if meta.Actor != "" {
		fields = append(fields, "by "+meta.Actor)
	}
	return strings.Join(fields, " · ")
}

// markdownText is the shared rendering for platforms that take markdown.
func markdownText(n *models.Notification, meta NotificationMetadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s **%s**\n", markFor(n), n.Title)
	if line := issueLine(meta); line != "" {
		b.WriteString(line + "\n")
	}
	b.WriteString("\n" + n.Message)
	if meta.IssueURL != "" {
		fmt.Fprintf(&b, "\n\n[View issue](%s)", meta.IssueURL)
	}
	return b.String()
}

func wecomPayloads(bot *models.IMBot, n *models.Notification, meta NotificationMetadata) (webhookBatch, error) {
	batch := webhookBatch{URL: bot.Webhook}
	for _, c := range numbered(chunkText(markdownText(n, meta), 4000), "**[%d/%d]**\n\n%s") {
		batch.Bodies = append(batch.Bodies, map[string]interface{}{
			"msgtype":     "markdown_v2",
			"markdown_v2": map[string]string{"content": c},
		})
	}
	return batch, nil
}

func dingtalkPayloads(bot *models.IMBot, n *models.Notification, meta NotificationMetadata) (webhookBatch, error) {
	target := bot.Webhook
	if bot.Secret != "" {
		ts := time.Now().UnixMilli()
		sig := hmacBase64(bot.Secret, fmt.Sprintf("%d\n%s", ts, bot.Secret))
		target = fmt.Sprintf("%s&timestamp=%d&sign=%s", bot.Webhook, ts, url.QueryEscape(sig))
	}
	chunks := chunkText(markdownText(n, meta), 19000)
	batch := webhookBatch{URL: target}
	for i, c := range chunks {
		title := n.Title
		if len(chunks) > 1 {
			title = fmt.Sprintf("%s [%d/%d]", n.Title, i+1, len(chunks))
		}
		batch.Bodies = append(batch.Bodies, map[string]interface{}{
			"msgtype":  "markdown",
			"markdown": map[string]string{"title": title, "text": c},
		})
	}
	return batch, nil
}

func feishuPayloads(bot *models.IMBot, n *models.Notification, meta NotificationMetadata) (webhookBatch, error) {
	batch := webhookBatch{URL: bot.Webhook}
	for _, c := range numbered(chunkText(markdownText(n, meta), 4000), "[%d/%d]\n\n%s") {
		body := map[string]interface{}{
			"msg_type": "text",
			"content":  map[string]string{"text": c},
		}
		if bot.Secret != "" {
			ts := time.Now().Unix()
			body["timestamp"] = strconv.FormatInt(ts, 10)
			body["sign"] = hmacBase64(fmt.Sprintf("%d\n%s", ts, bot.Secret), "")
		}
		batch.Bodies = append(batch.Bodies, body)
	}
	return batch, nil
}

var slackMark = map[models.NotificationPriority]string{
	models.PriorityNormal: ":large_yellow_circle:",
	models.PriorityHigh:   ":large_orange_circle:",
	models.PriorityUrgent: ":red_circle:",
}

func slackPayloads(bot *models.IMBot, n *models.Notification, meta NotificationMetadata) (webhookBatch, error) {
	head := fmt.Sprintf("%s *%s*", slackMark[n.Priority], n.Title)
	if meta.IssueURL != "" {
		head += fmt.Sprintf("\n<%s|%s>", meta.IssueURL, issueLine(meta))
	} else if line := issueLine(meta); line != "" {
		head += "\n" + line
	}

	chunks := chunkText(n.Message, 3000)
	batch := webhookBatch{URL: bot.Webhook}
	for i, c := range chunks {
		if i > 0 {
			head = fmt.Sprintf("*%s* (%d/%d)", n.Title, i+1, len(chunks))
		}
		batch.Bodies = append(batch.Bodies, map[string]interface{}{
			"text": head,
			"blocks": []map[string]interface{}{
				{"type": "section", "text": map[string]string{"type": "mrkdwn", "text": head}},
				{"type": "section", "text": map[string]string{"type": "mrkdwn", "text": c}},
			},
		})
	}
	return batch, nil
}

func discordPayloads(bot *models.IMBot, n *models.Notification, meta NotificationMetadata) (webhookBatch, error) {
	batch := webhookBatch{URL: bot.Webhook}
	for _, c := range chunkText(markdownText(n, meta), 2000) {
		batch.Bodies = append(batch.Bodies, map[string]interface{}{"content": c})
	}
	return batch, nil
}

func teamsPayloads(bot *models.IMBot, n *models.Notification, meta NotificationMetadata) (webhookBatch, error) {
	blocks := []map[string]interface{}{
		{"type": "TextBlock", "text": markFor(n) + " " + n.Title, "weight": "Bolder", "wrap": true},
	}
	if line := issueLine(meta); line != "" {
		blocks = append(blocks, map[string]interface{}{"type": "TextBlock", "text": line, "isSubtle": true, "wrap": true})
	}
	blocks = append(blocks, map[string]interface{}{"type": "TextBlock", "text": n.Message, "wrap": true})

	card := map[string]interface{}{
		"type":    "AdaptiveCard",
		"$schema": "http://adaptivecards.io/schemas/adaptive-card.json",
		"version": "1.5",
		"body":    blocks,
	}
	if meta.IssueURL != "" {
		card["actions"] = []map[string]interface{}{
			{"type": "Action.OpenUrl", "title": "View issue", "url": meta.IssueURL},
		}
	}
	return webhookBatch{URL: bot.Webhook, Bodies: []interface{}{map[string]interface{}{
		"type": "message",
		"attachments": []map[string]interface{}{
			{"contentType": "application/vnd.microsoft.card.adaptive", "content": card},
		},
	}}}, nil
}

// telegramPayloads sends to the chat id kept in the bot's Extra field.
func telegramPayloads(bot *models.IMBot, n *models.Notification, meta NotificationMetadata) (webhookBatch, error) {
	if bot.Extra == "" {
		return webhookBatch{}, errors.New("telegram bot needs a chat_id in its extra field")
	}
	batch := webhookBatch{URL: bot.Webhook}
	for _, c := range chunkText(markdownText(n, meta), 4000) {
		batch.Bodies = append(batch.Bodies, map[string]interface{}{
			"chat_id":    bot.Extra,
			"text":       c,
			"parse_mode": "Markdown",
		})
	}
	return batch, nil
}

// genericPayloads posts the notification and its metadata as flat JSON.
func genericPayloads(bot *models.IMBot, n *models.Notification, meta NotificationMetadata) (webhookBatch, error) {
	return webhookBatch{URL: bot.Webhook, Bodies: []interface{}{map[string]interface{}{
		"notification_id": n.ID,
		"assignment_id":   n.AssignmentID,
		"type":            n.Type,
		"priority":        n.Priority,
		"title":           n.Title,
		"message":         n.Message,
		"created_at":      n.CreatedAt,
		"metadata":        meta,
	}}}, nil
}

func hmacBase64(key, msg string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
