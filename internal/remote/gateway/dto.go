package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strconv"

	"likebot/internal/remote"
)

var errNotUsers = errors.New("unexpected users payload")

// flexID accepts ids encoded as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type userDTO struct {
	PK        flexID `json:"pk"`
	Username  string `json:"username"`
	IsPrivate *bool  `json:"is_private"`
}

func (u userDTO) user() remote.User {
	return remote.User{ID: string(u.PK), Username: u.Username, Private: u.IsPrivate != nil && *u.IsPrivate}
}

type mediaDTO struct {
	PK       flexID `json:"pk"`
	ID       string `json:"id"`
	HasLiked bool   `json:"has_liked"`
}

// decodeUsers accepts a list of users or an object keyed by user id.
func decodeUsers(raw json.RawMessage) ([]remote.User, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch raw[0] {
	case '[':
		var list []userDTO
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		out := make([]remote.User, 0, len(list))
		for _, u := range list {
			out = append(out, u.user())
		}
		return out, nil
	case '{':
		var m map[string]userDTO
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		// objects lose upstream order; keep the result deterministic
		sort.Slice(keys, func(i, j int) bool { return lessNumeric(keys[i], keys[j]) })
		out := make([]remote.User, 0, len(m))
		for _, k := range keys {
			u := m[k]
			if u.PK == "" {
				u.PK = flexID(k)
			}
			out = append(out, u.user())
		}
		return out, nil
	default:
		return nil, errNotUsers
	}
}

func lessNumeric(a, b string) bool {
	ai, errA := strconv.ParseUint(a, 10, 64)
	bi, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		return ai < bi
	}
	return a < b
}
