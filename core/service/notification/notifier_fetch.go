package notification

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"notifier_server/core/domain"
	"notifier_server/core/port/out"
	"notifier_server/pkg/logger"
)

const bodyPreviewLimit = 500

// SyncFetcher fetches inline so the caller gets the result before the
// webhook response is written.
type SyncFetcher struct {
	sink out.MessageSink
}

func NewSyncFetcher(sink out.MessageSink) *SyncFetcher {
	return &SyncFetcher{sink: sink}
}

func (f *SyncFetcher) Fetch(ctx context.Context, client out.MailClient, messageID string) error {
	return FetchAndDeliver(ctx, client, f.sink, messageID)
}

// FetchAndDeliver reads one message and passes it to sink.
func FetchAndDeliver(ctx context.Context, client out.MailClient, sink out.MessageSink, messageID string) error {
	msg, err := client.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if sink == nil {
		return nil
	}
	return sink.Deliver(ctx, msg)
}

// LogSink writes the details of each fetched message to the log.
type LogSink struct{}

func NewLogSink() *LogSink {
	return &LogSink{}
}

func (LogSink) Deliver(_ context.Context, msg *domain.Message) error {
	to := make([]string, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, addr.String())
	}

	logger.WithFields(map[string]any{
		"email_id":     msg.ID,
		"subject":      msg.Subject,
		"received":     formatTime(msg.ReceivedDateTime),
		"sent":         formatTime(msg.SentDateTime),
		"from":         msg.From.String(),
		"to":           strings.Join(to, ", "),
		"importance":   msg.Importance,
		"body_type":    msg.BodyType,
		"body_preview": preview(msg.BodyContent, bodyPreviewLimit),
		"web_link":     msg.WebLink,
	}).Info("[LogSink] new message %s", msg.ID)
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func preview(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit]) + "..."
}
