package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// FlowKind names a configuration conversation.
type FlowKind int

const (
	FlowLogin FlowKind = iota + 1
	FlowPostLikers
	FlowFollowing
)

func (k FlowKind) String() string {
	switch k {
	case FlowLogin:
		return "login"
	case FlowPostLikers:
		return string(ModePostLikers)
	case FlowFollowing:
		return string(ModeFollowing)
	default:
		return "unknown"
	}
}

// Stage is the input a flow is waiting for.
type Stage int

const (
	StageUsername Stage = iota + 1
	StagePassword
	StageTwoFactor
	StageLinks
	StageFollowCount
	StageActionCount
	StageDelayRange
	StageSleepRange
	StageFinished
)

func (s Stage) String() string {
	switch s {
	case StageUsername:
		return "username"
	case StagePassword:
		return "password"
	case StageTwoFactor:
		return "two_factor"
	case StageLinks:
		return "links"
	case StageFollowCount:
		return "follow_count"
	case StageActionCount:
		return "action_count"
	case StageDelayRange:
		return "delay_range"
	case StageSleepRange:
		return "sleep_range"
	case StageFinished:
		return "finished"
	default:
		return "unknown"
	}
}

var firstStage = map[FlowKind]Stage{
	FlowLogin:      StageUsername,
	FlowPostLikers: StageLinks,
	FlowFollowing:  StageFollowCount,
}

// nextStage is the transition table. StageTwoFactor is entered only when the
// remote asks for a code after the password stage.
var nextStage = map[FlowKind]map[Stage]Stage{
	FlowLogin: {
		StageUsername:  StagePassword,
		StagePassword:  StageFinished,
		StageTwoFactor: StageFinished,
	},
	FlowPostLikers: {
		StageLinks:       StageActionCount,
		StageActionCount: StageDelayRange,
		StageDelayRange:  StageSleepRange,
		StageSleepRange:  StageFinished,
	},
	FlowFollowing: {
		StageFollowCount: StageActionCount,
		StageActionCount: StageDelayRange,
		StageDelayRange:  StageSleepRange,
		StageSleepRange:  StageFinished,
	},
}

// Choice tokens carried by inline buttons.
const (
	ChoiceCancel = "cancel"
	ChoiceAll    = "all"
)

// flow is one in-progress conversation. Guarded by the owning session's mutex.
type flow struct {
	kind  FlowKind
	stage Stage
	cfg   JobConfig

	username string
	password string
	code     string

	// pending is set while a remote call for the finished stage is in flight;
	// settled closes when that call has been handled.
	pending bool
	settled chan struct{}
	touched time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

func newFlow(parent context.Context, kind FlowKind, now time.Time) *flow {
	ctx, cancel := context.WithCancel(parent)
	f := &flow{kind: kind, stage: firstStage[kind], touched: now, ctx: ctx, cancel: cancel}
	switch kind {
	case FlowPostLikers:
		f.cfg.Mode = ModePostLikers
	case FlowFollowing:
		f.cfg.Mode = ModeFollowing
	}
	return f
}

func (f *flow) isJob() bool { return f.kind == FlowPostLikers || f.kind == FlowFollowing }

func (f *flow) advance() {
	if next, ok := nextStage[f.kind][f.stage]; ok {
		f.stage = next
	}
}

// accept parses text for the current stage. On error the stage is unchanged.
func (f *flow) accept(text string, maxLinks int) error {
	switch f.stage {
	case StageUsername:
		u := strings.TrimPrefix(strings.TrimSpace(text), "@")
		if u == "" || strings.ContainsAny(u, " \t\n") {
			return fmt.Errorf("send your username as a single word")
		}
		f.username = u
	case StagePassword:
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("the password must not be empty")
		}
		f.password = strings.TrimSpace(text)
	case StageTwoFactor:
		code := strings.ReplaceAll(strings.TrimSpace(text), " ", "")
		if _, err := parseNonNegative(code); err != nil || len(code) < 4 {
			return fmt.Errorf("send the numeric code from your authenticator or SMS")
		}
		f.code = code
	case StageLinks:
		links, err := parseLinks(text, maxLinks)
		if err != nil {
			return err
		}
		f.cfg.Links = links
	case StageFollowCount:
		n, err := parseNonNegative(text)
		if err != nil {
			return err
		}
		f.cfg.FollowLimit = n
	case StageActionCount:
		n, err := parsePositive(text)
		if err != nil {
			return err
		}
		f.cfg.PostsPerUser = n
	case StageDelayRange:
		r, err := ParseRange(text)
		if err != nil {
			return err
		}
		f.cfg.Delay = r
	case StageSleepRange:
		r, err := ParseRange(text)
		if err != nil {
			return err
		}
		f.cfg.Sleep = r
	default:
		return fmt.Errorf("this step does not take text input")
	}
	f.advance()
	return nil
}

func (f *flow) prompt() Reply {
	var text string
	var extra []Choice
	switch f.stage {
	case StageUsername:
		text = "Send your Instagram username."
	case StagePassword:
		text = "Send your password."
	case StageTwoFactor:
		text = "Two-factor authentication is on. Send the verification code."
	case StageLinks:
		text = "Send one or more post links (one per line)."
	case StageFollowCount:
		text = "How many of the accounts you follow should be processed? Send a number, or 0 for all."
		extra = append(extra, Choice{Label: "All", Token: ChoiceAll})
	case StageActionCount:
		text = "How many recent posts per account should be liked?"
	case StageDelayRange:
		text = "Delay between requests in seconds, as min,max (e.g. 2,5)."
	case StageSleepRange:
		text = "Pause after each like in seconds, as min,max (e.g. 5,15)."
	default:
		text = "Working on it..."
	}
	row := append(extra, Choice{Label: "Cancel", Token: ChoiceCancel})
	return Reply{Text: text, Choices: [][]Choice{row}}
}
