package bot

import (
	"fmt"
	"strings"
	"time"

	"likebot/internal/orchestrator"
	kit "likebot/internal/transport"
	"likebot/pkg/tgui"
)

func renderStatus(st orchestrator.StatusSnapshot) (string, *kit.SendOptions) {
	card := tgui.New()
	switch {
	case st.Job != nil:
		j := st.Job
		eta := "unknown"
		if j.ETAKnown {
			eta = roundDur(j.ETA).String()
		}
		card.Title("▶️", "Job running").
			KV("Mode", string(j.Mode)).
			KV("Progress", fmt.Sprintf("%d/%d (%.1f%%)", j.Processed, j.Total, j.Percent)).
			KV("Liked", fmt.Sprint(j.Likes)).
			KV("Already liked", fmt.Sprint(j.AlreadyLiked)).
			KV("Errors", fmt.Sprint(j.Errors)).
			KV("Elapsed", roundDur(j.Elapsed).String()).
			KV("Remaining", eta)
		if j.LastAction != "" {
			card.KV("Last", tgui.TruncRunes(j.LastAction, 200))
		}
	case st.Phase == "configuring":
		card.Title("⚙️", "Setting up "+st.Flow.String()).
			KV("Waiting for", strings.ReplaceAll(st.Stage.String(), "_", " "))
	default:
		card.Title("💤", "No job is running")
	}

	account := "not logged in"
	if st.Authenticated {
		account = st.Username
	}
	card.KV("Account", account)
	if st.Phase == "configuring" {
		card.Blank().Line("Send /cancel to abort.")
	}
	return card.Build()
}

func roundDur(d time.Duration) time.Duration {
	if d < time.Second {
		return d.Round(time.Millisecond)
	}
	return d.Round(time.Second)
}
