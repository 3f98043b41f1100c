// Package provider is the boundary to the upstream game-data service.
package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"puckbot/internal/httpx"
	logx "puckbot/pkg/logx"
)

const (
	defaultBaseURL      = "https://api-web.nhle.com"
	defaultStatsBaseURL = "https://api.nhle.com/stats/rest/en"
)

// Endpoint keys used for pacing buckets and breaker state.
const (
	KeyPlayByPlay  = "play_by_play"
	KeyLanding     = "landing"
	KeySchedule    = "schedule"
	KeyStatsSkater = "stats_skater"
	KeyStatsGoalie = "stats_goalie"
)

type Client struct {
	http *httpx.Client
	log  logx.Logger

	baseURL      string
	statsBaseURL string
}

func NewClient(hc *httpx.Client, baseURL, statsBaseURL string, log logx.Logger) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if strings.TrimSpace(statsBaseURL) == "" {
		statsBaseURL = defaultStatsBaseURL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		http:         hc,
		log:          log,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		statsBaseURL: strings.TrimSuffix(statsBaseURL, "/"),
	}
}

// PlayByPlay polls the full ordered play list for a game.
func (c *Client) PlayByPlay(ctx context.Context, gameID int64) (*Feed, error) {
	var feed Feed
	u := fmt.Sprintf("%s/v1/gamecenter/%d/play-by-play", c.baseURL, gameID)
	if err := c.http.GetJSON(ctx, KeyPlayByPlay, u, nil, &feed); err != nil {
		return nil, fmt.Errorf("play-by-play: %w", err)
	}
	return &feed, nil
}

// Landing fetches the scoring summary used for goal reconciliation and the
// postgame three stars.
func (c *Client) Landing(ctx context.Context, gameID int64) (*Landing, error) {
	var landing Landing
	u := fmt.Sprintf("%s/v1/gamecenter/%d/landing", c.baseURL, gameID)
	if err := c.http.GetJSON(ctx, KeyLanding, u, nil, &landing); err != nil {
		return nil, fmt.Errorf("landing: %w", err)
	}
	return &landing, nil
}

// Schedule fetches the season schedule for a team.
func (c *Client) Schedule(ctx context.Context, teamAbbrev string) (*Schedule, error) {
	var sched Schedule
	u := fmt.Sprintf("%s/v1/club-schedule-season/%s/now", c.baseURL, url.PathEscape(teamAbbrev))
	if err := c.http.GetJSON(ctx, KeySchedule, u, nil, &sched); err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}
	return &sched, nil
}

// CareerStats fetches regular-season career totals for a player.
//
// Skaters and goalies live behind different summary reports; the skater
// report is tried first and an empty row set falls through to the goalie
// report. The second return value reports whether the player is a goalie.
func (c *Client) CareerStats(ctx context.Context, playerID int64) (CareerTotals, bool, error) {
	params := url.Values{
		"isAggregate": {"true"},
		"reportType":  {"career"},
		"isGame":      {"false"},
		"cayenneExp":  {fmt.Sprintf("playerId=%d and gameTypeId=2", playerID)},
	}

	var resp careerResponse
	u := c.statsBaseURL + "/skater/summary"
	if err := c.http.GetJSON(ctx, KeyStatsSkater, u, params, &resp); err != nil {
		return CareerTotals{}, false, fmt.Errorf("skater career: %w", err)
	}
	if len(resp.Data) > 0 {
		return resp.Data[0], false, nil
	}

	c.log.Debug("no skater career row; trying goalie summary", logx.Int64("player_id", playerID))

	resp = careerResponse{}
	u = c.statsBaseURL + "/goalie/summary"
	if err := c.http.GetJSON(ctx, KeyStatsGoalie, u, params, &resp); err != nil {
		return CareerTotals{}, false, fmt.Errorf("goalie career: %w", err)
	}
	if len(resp.Data) > 0 {
		return resp.Data[0], true, nil
	}
	return CareerTotals{}, false, fmt.Errorf("no career row for player %d", playerID)
}
