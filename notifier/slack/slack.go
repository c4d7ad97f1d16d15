package slack

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/liweiyi88/onebackup/jobresult"
)

const requestTimeout = 10 * time.Second

type Slack struct {
	IncomingWebhook string `yaml:"incomingwebhook"`
}

type SlackMessage struct {
	Blocks []Block `json:"blocks"`
}

type Block struct {
	Type string `json:"type"`
	Text Text   `json:"text"`
}

type Text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func newSection(text string) Block {
	return Block{
		Type: "section",
		Text: Text{
			Type: "mrkdwn",
			Text: text,
		},
	}
}

func (slack *Slack) Notify(ctx context.Context, results []*jobresult.JobResult) error {
	if len(results) == 0 {
		return nil
	}

	blocks := make([]Block, 0, len(results)+1)
	blocks = append(blocks, newSection("*Onebackup Results*"))

	for _, result := range results {
		blocks = append(blocks, newSection(result.ToSlackText()))
	}

	data, err := json.Marshal(SlackMessage{Blocks: blocks})
	if err != nil {
		return fmt.Errorf("failed to marshal slack message, err: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, slack.IncomingWebhook, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create slack request, err: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack notification failed: %v", err)
	}

	defer func() {
		if err := res.Body.Close(); err != nil {
			slog.Error("fail to close slack response body", slog.Any("error", err))
		}
	}()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)

		return fmt.Errorf("slack notification failed: %v", string(body))
	}

	return nil
}
