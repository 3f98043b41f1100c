package provider

import "strconv"

// Wire types for the game-data provider. Field names mirror the upstream
// JSON so strict decoding stays obvious; everything downstream works with
// these structs rather than raw maps.

type LocalizedName struct {
	Default string `json:"default"`
}

type PeriodDescriptor struct {
	Number     int    `json:"number"`
	PeriodType string `json:"periodType"`
}

// RecordDetails carries the per-type payload of a play record. Only the
// fields the classifier reads are declared; unknown fields are ignored.
type RecordDetails struct {
	EventOwnerTeamID int64  `json:"eventOwnerTeamId"`
	Reason           string `json:"reason"`
	SecondaryReason  string `json:"secondaryReason"`

	AwayScore int `json:"awayScore"`
	HomeScore int `json:"homeScore"`
	AwaySOG   int `json:"awaySOG"`
	HomeSOG   int `json:"homeSOG"`

	// goal
	ScoringPlayerID    int64  `json:"scoringPlayerId"`
	ScoringPlayerTotal int    `json:"scoringPlayerTotal"`
	Assist1PlayerID    int64  `json:"assist1PlayerId"`
	Assist1PlayerTotal int    `json:"assist1PlayerTotal"`
	Assist2PlayerID    int64  `json:"assist2PlayerId"`
	Assist2PlayerTotal int    `json:"assist2PlayerTotal"`
	GoalieInNetID      int64  `json:"goalieInNetId"`
	ShotType           string `json:"shotType"`
	HighlightClipURL   string `json:"highlightClipSharingUrl"`

	// penalty
	DescKey             string `json:"descKey"`
	TypeCode            string `json:"typeCode"`
	Duration            int    `json:"duration"`
	CommittedByPlayerID int64  `json:"committedByPlayerId"`
	DrawnByPlayerID     int64  `json:"drawnByPlayerId"`
	ServedByPlayerID    int64  `json:"servedByPlayerId"`

	// faceoff
	WinningPlayerID int64 `json:"winningPlayerId"`
	LosingPlayerID  int64 `json:"losingPlayerId"`

	// shot-on-goal / missed-shot
	ShootingPlayerID int64 `json:"shootingPlayerId"`
}

// RawRecord is one play-by-play record as polled from the provider.
type RawRecord struct {
	EventID          int64            `json:"eventId"`
	PeriodDescriptor PeriodDescriptor `json:"periodDescriptor"`
	TimeInPeriod     string           `json:"timeInPeriod"`
	TimeRemaining    string           `json:"timeRemaining"`
	SituationCode    string           `json:"situationCode"`
	TypeDescKey      string           `json:"typeDescKey"`
	SortOrder        int              `json:"sortOrder"`
	Details          RecordDetails    `json:"details"`
}

type FeedTeam struct {
	ID        int64         `json:"id"`
	Abbrev    string        `json:"abbrev"`
	Score     int           `json:"score"`
	SOG       int           `json:"sog"`
	PlaceName LocalizedName `json:"placeName"`
	Name      LocalizedName `json:"commonName"`
}

type RosterSpot struct {
	TeamID        int64         `json:"teamId"`
	PlayerID      int64         `json:"playerId"`
	FirstName     LocalizedName `json:"firstName"`
	LastName      LocalizedName `json:"lastName"`
	SweaterNumber int           `json:"sweaterNumber"`
	PositionCode  string        `json:"positionCode"`
}

type GameClock struct {
	TimeRemaining  string `json:"timeRemaining"`
	InIntermission bool   `json:"inIntermission"`
}

// Feed is the full play-by-play response for one game.
type Feed struct {
	ID               int64            `json:"id"`
	Season           int64            `json:"season"`
	GameType         int              `json:"gameType"`
	GameState        string           `json:"gameState"`
	PeriodDescriptor PeriodDescriptor `json:"periodDescriptor"`
	Clock            GameClock        `json:"clock"`
	AwayTeam         FeedTeam         `json:"awayTeam"`
	HomeTeam         FeedTeam         `json:"homeTeam"`
	Plays            []RawRecord      `json:"plays"`
	RosterSpots      []RosterSpot     `json:"rosterSpots"`
}

// Coarse game-state buckets derived from GameState.
func (f *Feed) IsPregame() bool { return f.GameState == "FUT" || f.GameState == "PRE" }
func (f *Feed) IsLive() bool    { return f.GameState == "LIVE" || f.GameState == "CRIT" }
func (f *Feed) IsFinal() bool   { return f.GameState == "FINAL" || f.GameState == "OFF" }

// RosterNames flattens rosterSpots into a playerID -> "First Last" map.
func (f *Feed) RosterNames() map[int64]string {
	out := make(map[int64]string, len(f.RosterSpots))
	for _, rs := range f.RosterSpots {
		out[rs.PlayerID] = rs.FirstName.Default + " " + rs.LastName.Default
	}
	return out
}

// ---- landing (scoring summary) ----

type LandingAssist struct {
	PlayerID      int64 `json:"playerId"`
	AssistsToDate int   `json:"assistsToDate"`
}

type LandingGoal struct {
	TimeInPeriod string          `json:"timeInPeriod"`
	PlayerID     int64           `json:"playerId"`
	GoalsToDate  int             `json:"goalsToDate"`
	Strength     string          `json:"strength"`
	GoalModifier string          `json:"goalModifier"`
	Assists      []LandingAssist `json:"assists"`
}

type LandingPeriod struct {
	PeriodDescriptor PeriodDescriptor `json:"periodDescriptor"`
	Goals            []LandingGoal    `json:"goals"`
}

type ThreeStar struct {
	Star       int    `json:"star"`
	PlayerID   int64  `json:"playerId"`
	Name       string `json:"name"`
	TeamAbbrev string `json:"teamAbbrev"`
	Position   string `json:"position"`
}

type LandingSummary struct {
	Scoring    []LandingPeriod `json:"scoring"`
	ThreeStars []ThreeStar     `json:"threeStars"`
}

type Landing struct {
	ID        int64          `json:"id"`
	GameState string         `json:"gameState"`
	Summary   LandingSummary `json:"summary"`
}

// GoalsByKey flattens the landing scoring summary into a map keyed by
// "period-timeInPeriod", the same key the classifier derives from a raw goal
// record. Scoring changes never move a goal's time, so the key is stable.
func (l *Landing) GoalsByKey() map[string]LandingGoal {
	out := map[string]LandingGoal{}
	for _, p := range l.Summary.Scoring {
		for _, g := range p.Goals {
			out[GoalKey(p.PeriodDescriptor.Number, g.TimeInPeriod)] = g
		}
	}
	return out
}

// GoalKey builds the "period-timeInPeriod" identity used to match raw goal
// records against the landing scoring summary.
func GoalKey(period int, timeInPeriod string) string {
	return strconv.Itoa(period) + "-" + timeInPeriod
}

// ---- schedule ----

type ScheduleTeam struct {
	ID        int64         `json:"id"`
	Abbrev    string        `json:"abbrev"`
	PlaceName LocalizedName `json:"placeName"`
	Score     int           `json:"score"`
}

type ScheduleGame struct {
	ID           int64        `json:"id"`
	Season       int64        `json:"season"`
	GameType     int          `json:"gameType"`
	GameDate     string       `json:"gameDate"` // YYYY-MM-DD
	GameState    string       `json:"gameState"`
	StartTimeUTC string       `json:"startTimeUTC"`
	AwayTeam     ScheduleTeam `json:"awayTeam"`
	HomeTeam     ScheduleTeam `json:"homeTeam"`
}

type Schedule struct {
	CurrentSeason int64          `json:"currentSeason"`
	Games         []ScheduleGame `json:"games"`
}

// GameOn returns the game scheduled for date (YYYY-MM-DD), if any.
func (s *Schedule) GameOn(date string) (ScheduleGame, bool) {
	for _, g := range s.Games {
		if g.GameDate == date {
			return g, true
		}
	}
	return ScheduleGame{}, false
}

// NextGameAfter returns the first scheduled game strictly after date.
func (s *Schedule) NextGameAfter(date string) (ScheduleGame, bool) {
	for _, g := range s.Games {
		if g.GameDate > date {
			return g, true
		}
	}
	return ScheduleGame{}, false
}

// ---- career stats (stats API) ----

// CareerTotals is one aggregated career row from the stats source.
type CareerTotals struct {
	GamesPlayed int `json:"gamesPlayed"`
	Goals       int `json:"goals"`
	Assists     int `json:"assists"`
	Points      int `json:"points"`
	PPGoals     int `json:"ppGoals"`
	PPPoints    int `json:"ppPoints"`
	Wins        int `json:"wins"`
	Shutouts    int `json:"shutouts"`
}

type careerResponse struct {
	Data []CareerTotals `json:"data"`
}
