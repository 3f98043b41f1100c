package events

import (
	"context"
	"fmt"
	"strings"

	"puckbot/internal/provider"
)

type baseEvent struct {
	rec provider.RawRecord
	gc  *Context
}

func (b baseEvent) ID() int64      { return b.rec.EventID }
func (b baseEvent) SortOrder() int { return b.rec.SortOrder }

// PenaltyEvent covers minors, majors, bench minors, and penalty shots.
type PenaltyEvent struct{ baseEvent }

func newPenaltyEvent(rec provider.RawRecord, gc *Context) *PenaltyEvent {
	return &PenaltyEvent{baseEvent{rec: rec, gc: gc}}
}

func (e *PenaltyEvent) Parse(context.Context) ParseOutcome {
	d := e.rec.Details
	if d.DescKey == "" {
		return NotReady()
	}

	name := strings.ReplaceAll(d.DescKey, "-", " ")
	teamName := e.gc.TeamName
	if !e.gc.isPreferred(d.EventOwnerTeamID) {
		teamName = e.gc.OtherName
	}

	// Penalty shots carry a ps- prefixed key and no box time.
	if strings.HasPrefix(d.DescKey, "ps-") {
		drawn := e.gc.playerName(d.DrawnByPlayerID)
		if drawn == "" {
			return NotReady()
		}
		infraction := strings.TrimPrefix(name, "ps ")
		return Ready(fmt.Sprintf("PENALTY SHOT! %s is awarded a penalty shot for %s.", drawn, infraction))
	}

	if d.DescKey == "bench" {
		served := e.gc.playerName(d.ServedByPlayerID)
		if served == "" {
			return NotReady()
		}
		return Ready(fmt.Sprintf(
			"Penalty: %s take a bench minor (%d minutes). The penalty will be served by %s.",
			teamName, d.Duration, served))
	}

	committed := e.gc.playerName(d.CommittedByPlayerID)
	if committed == "" {
		return NotReady()
	}
	msg := fmt.Sprintf("Penalty: %s is called for %s (%d minutes).", committed, name, d.Duration)
	if drawn := e.gc.playerName(d.DrawnByPlayerID); drawn != "" {
		msg += fmt.Sprintf("\nPenalty drawn by: %s.", drawn)
	}
	return Ready(msg)
}

// FaceoffEvent only speaks for the opening faceoff of a period.
type FaceoffEvent struct{ baseEvent }

func newFaceoffEvent(rec provider.RawRecord, gc *Context) *FaceoffEvent {
	return &FaceoffEvent{baseEvent{rec: rec, gc: gc}}
}

func (e *FaceoffEvent) Parse(context.Context) ParseOutcome {
	if e.rec.TimeInPeriod != "00:00" {
		return NoMessage()
	}
	winner := e.gc.playerName(e.rec.Details.WinningPlayerID)
	loser := e.gc.playerName(e.rec.Details.LosingPlayerID)
	if winner == "" || loser == "" {
		return NotReady()
	}
	return Ready(fmt.Sprintf("%s wins the opening faceoff of %s against %s.",
		winner, periodLabel(e.rec.PeriodDescriptor), loser))
}

// StoppageEvent posts for a small set of notable stoppages.
type StoppageEvent struct{ baseEvent }

func newStoppageEvent(rec provider.RawRecord, gc *Context) *StoppageEvent {
	return &StoppageEvent{baseEvent{rec: rec, gc: gc}}
}

func (e *StoppageEvent) Parse(context.Context) ParseOutcome {
	d := e.rec.Details
	switch {
	case d.SecondaryReason == "tv-timeout":
		return Ready(fmt.Sprintf("Game Stoppage: TV timeout with %s left in %s.",
			e.rec.TimeRemaining, periodLabel(e.rec.PeriodDescriptor)))
	case d.Reason == "video-review" || d.SecondaryReason == "video-review":
		return Ready("Game Stoppage: the previous play is under video review.")
	case d.Reason == "chlg-hm-goal-interference" || d.Reason == "chlg-vis-goal-interference":
		return Ready("Game Stoppage: coach's challenge for goaltender interference.")
	}
	return NoMessage()
}

// PeriodStartEvent treats the start of the first period as the game
// start; later periods get a shorter note.
type PeriodStartEvent struct{ baseEvent }

func newPeriodStartEvent(rec provider.RawRecord, gc *Context) *PeriodStartEvent {
	return &PeriodStartEvent{baseEvent{rec: rec, gc: gc}}
}

func (e *PeriodStartEvent) Parse(context.Context) ParseOutcome {
	if e.rec.PeriodDescriptor.Number == 1 {
		return Ready(fmt.Sprintf("%s vs %s is underway! 🏒", e.gc.TeamName, e.gc.OtherName))
	}
	label := periodLabel(e.rec.PeriodDescriptor)
	if e.rec.PeriodDescriptor.PeriodType == "SO" {
		return Ready("We're headed to a shootout!")
	}
	return Ready(fmt.Sprintf("%s%s is underway!", strings.ToUpper(label[:1]), label[1:]))
}

// PeriodEndEvent posts the score line and who leads going into the
// break.
type PeriodEndEvent struct{ baseEvent }

func newPeriodEndEvent(rec provider.RawRecord, gc *Context) *PeriodEndEvent {
	return &PeriodEndEvent{baseEvent{rec: rec, gc: gc}}
}

func (e *PeriodEndEvent) Parse(context.Context) ParseOutcome {
	pd := e.rec.PeriodDescriptor
	var head string
	switch pd.PeriodType {
	case "OT":
		head = "Overtime has ended."
	case "SO":
		head = "The shootout has ended."
	default:
		head = fmt.Sprintf("The %s period has ended.", ordinal(pd.Number))
	}

	gc := e.gc
	var lead string
	switch {
	case gc.PreferredScore > gc.OtherScore:
		lead = fmt.Sprintf("%s lead after %s.", gc.TeamName, periodLabel(pd))
	case gc.PreferredScore < gc.OtherScore:
		lead = fmt.Sprintf("%s trail after %s.", gc.TeamName, periodLabel(pd))
	default:
		lead = fmt.Sprintf("We're all tied up after %s.", periodLabel(pd))
	}

	return Ready(fmt.Sprintf("%s %s\n\n%s: %d\n%s: %d",
		head, lead, gc.TeamName, gc.PreferredScore, gc.OtherName, gc.OtherScore))
}

// ShootoutEvent reclassifies any period-5 record in a non-playoff game.
// Only goals and saves are worth a post.
type ShootoutEvent struct{ baseEvent }

func newShootoutEvent(rec provider.RawRecord, gc *Context) *ShootoutEvent {
	return &ShootoutEvent{baseEvent{rec: rec, gc: gc}}
}

func (e *ShootoutEvent) Parse(context.Context) ParseOutcome {
	d := e.rec.Details
	switch e.rec.TypeDescKey {
	case "goal":
		shooter := e.gc.playerName(d.ScoringPlayerID)
		if shooter == "" {
			return NotReady()
		}
		return Ready(fmt.Sprintf("Shootout GOAL! %s beats the goalie! 🚨", shooter))
	case "shot-on-goal":
		shooter := e.gc.playerName(d.ShootingPlayerID)
		goalie := e.gc.playerName(d.GoalieInNetID)
		if shooter == "" || goalie == "" {
			return NotReady()
		}
		return Ready(fmt.Sprintf("Shootout save! %s is denied by %s.", shooter, goalie))
	case "missed-shot":
		shooter := e.gc.playerName(d.ShootingPlayerID)
		if shooter == "" {
			return NotReady()
		}
		return Ready(fmt.Sprintf("Shootout miss! %s's attempt goes wide.", shooter))
	}
	return NoMessage()
}

// GameEndEvent closes the live thread; the full recap is posted by the
// final flow.
type GameEndEvent struct{ baseEvent }

func newGameEndEvent(rec provider.RawRecord, gc *Context) *GameEndEvent {
	return &GameEndEvent{baseEvent{rec: rec, gc: gc}}
}

func (e *GameEndEvent) Parse(context.Context) ParseOutcome {
	gc := e.gc
	switch {
	case gc.PreferredScore > gc.OtherScore:
		return Ready(fmt.Sprintf("That's the final horn! %s win! 🎉\n\n%s: %d\n%s: %d",
			gc.TeamName, gc.TeamName, gc.PreferredScore, gc.OtherName, gc.OtherScore))
	case gc.PreferredScore < gc.OtherScore:
		return Ready(fmt.Sprintf("That's the final horn. %s fall tonight.\n\n%s: %d\n%s: %d",
			gc.TeamName, gc.TeamName, gc.PreferredScore, gc.OtherName, gc.OtherScore))
	}
	return Ready("That's the final horn.")
}

// GenericEvent is the fallback for unmapped record types: tracked, never
// posted.
type GenericEvent struct{ baseEvent }

func newGenericEvent(rec provider.RawRecord, gc *Context) *GenericEvent {
	return &GenericEvent{baseEvent{rec: rec, gc: gc}}
}

func (e *GenericEvent) Parse(context.Context) ParseOutcome { return NoMessage() }
