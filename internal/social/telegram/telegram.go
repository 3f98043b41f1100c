// Package telegram posts game updates to a Telegram chat via telebot.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"puckbot/internal/social"
	logx "puckbot/pkg/logx"
)

type Config struct {
	Token       string
	ChatID      int64
	PollTimeout time.Duration
}

type Client struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, log: log, bot: b}, nil
}

func (c *Client) Name() string { return "telegram" }

const textLimit = 4000

func (c *Client) Post(ctx context.Context, p social.Post, replyTo *social.PostRef) (social.PostRef, error) {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return social.PostRef{}, ctx.Err()
		default:
		}
	}

	chat := &tele.Chat{ID: c.cfg.ChatID}
	opts := &tele.SendOptions{DisableWebPagePreview: false}
	if replyTo != nil {
		id, err := strconv.Atoi(replyTo.ID)
		if err != nil {
			c.log.Debug("unusable telegram reply ref", logx.String("ref", replyTo.ID))
		} else {
			opts.ReplyTo = &tele.Message{ID: id, Chat: chat}
		}
	}

	var (
		msg *tele.Message
		err error
	)
	switch {
	case p.ImageURL != "":
		photo := &tele.Photo{File: tele.FromURL(p.ImageURL), Caption: truncate(p.Text, 1024)}
		msg, err = c.bot.Send(chat, photo, opts)
	case p.ImagePath != "":
		photo := &tele.Photo{File: tele.FromDisk(p.ImagePath), Caption: truncate(p.Text, 1024)}
		msg, err = c.bot.Send(chat, photo, opts)
	default:
		msg, err = c.bot.Send(chat, truncate(p.Text, textLimit), opts)
	}
	if err != nil {
		return social.PostRef{}, err
	}
	return social.PostRef{Platform: "telegram", ID: strconv.Itoa(msg.ID)}, nil
}

// truncate cuts on a rune boundary, preferring the last newline in the
// back third of the window.
func truncate(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	cut := limit
	for i := limit - 1; i > limit*2/3; i-- {
		if rs[i] == '\n' {
			cut = i
			break
		}
	}
	return strings.TrimRight(string(rs[:cut]), "\n")
}
