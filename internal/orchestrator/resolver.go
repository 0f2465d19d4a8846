package orchestrator

import (
	"context"
	"fmt"

	"likebot/internal/remote"
)

// Resolve turns a finished config into the ordered target list.
//
// Post links: likers of every link merged by user id in first-seen order
// (a later duplicate replaces the record in place), then private accounts
// are dropped. Following: the first FollowLimit followed accounts (0 = all)
// with no privacy filter. Any remote error aborts resolution.
func Resolve(ctx context.Context, client remote.Session, cfg JobConfig) ([]remote.User, error) {
	switch cfg.Mode {
	case ModePostLikers:
		merged, err := mergeLikers(ctx, client, cfg.Links)
		if err != nil {
			return nil, err
		}
		out := merged[:0]
		for _, u := range merged {
			if !u.Private {
				out = append(out, u)
			}
		}
		return out, nil
	case ModeFollowing:
		self, err := client.Self(ctx)
		if err != nil {
			return nil, fmt.Errorf("look up own account: %w", err)
		}
		users, err := client.Following(ctx, self.ID, cfg.FollowLimit)
		if err != nil {
			return nil, fmt.Errorf("list following: %w", err)
		}
		if cfg.FollowLimit > 0 && len(users) > cfg.FollowLimit {
			users = users[:cfg.FollowLimit]
		}
		return users, nil
	default:
		return nil, fmt.Errorf("unknown job mode %q", cfg.Mode)
	}
}

// mergeLikers returns the deduplicated union of likers before privacy filtering.
func mergeLikers(ctx context.Context, client remote.Session, links []string) ([]remote.User, error) {
	index := map[string]int{}
	var merged []remote.User
	for _, link := range links {
		postID, err := client.ResolvePost(ctx, link)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", link, err)
		}
		likers, err := client.PostLikers(ctx, postID)
		if err != nil {
			return nil, fmt.Errorf("likers of %s: %w", link, err)
		}
		for _, u := range likers {
			if i, ok := index[u.ID]; ok {
				merged[i] = u
				continue
			}
			index[u.ID] = len(merged)
			merged = append(merged, u)
		}
	}
	return merged, nil
}
