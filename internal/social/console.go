package social

import (
	"context"
	"strconv"
	"sync/atomic"

	logx "puckbot/pkg/logx"
)

// Console is a debug adapter that prints posts to the log instead of any
// network service.
type Console struct {
	log logx.Logger
	seq atomic.Int64
}

func NewConsole(log logx.Logger) *Console {
	if log.IsZero() {
		log = logx.NewConsole("info")
	}
	return &Console{log: log}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Post(_ context.Context, p Post, replyTo *PostRef) (PostRef, error) {
	id := strconv.FormatInt(c.seq.Add(1), 10)
	fields := []logx.Field{logx.String("id", id), logx.String("text", p.Text)}
	if replyTo != nil {
		fields = append(fields, logx.String("reply_to", replyTo.ID))
	}
	if p.ImageURL != "" {
		fields = append(fields, logx.String("image_url", p.ImageURL))
	}
	c.log.Info("console post", fields...)
	return PostRef{Platform: "console", ID: id}, nil
}
