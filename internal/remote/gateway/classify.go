package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"likebot/internal/remote"
)

type errorBody struct {
	Detail  any    `json:"detail"`
	ExcType string `json:"exc_type"`
}

var excKinds = map[string]remote.Kind{
	"BadPassword":                    remote.InvalidCredentials,
	"BadCredentials":                 remote.InvalidCredentials,
	"InvalidUser":                    remote.InvalidCredentials,
	"UnknownError":                   remote.Generic,
	"TwoFactorRequired":              remote.TwoFactorRequired,
	"PleaseWaitFewMinutes":           remote.RateLimited,
	"RateLimitError":                 remote.RateLimited,
	"FeedbackRequired":               remote.RateLimited,
	"UserNotFound":                   remote.NotFound,
	"MediaNotFound":                  remote.NotFound,
	"NotFoundError":                  remote.NotFound,
	"PrivateAccount":                 remote.NotFound,
	"LoginRequired":                  remote.AuthRequired,
	"ChallengeRequired":              remote.AuthRequired,
	"SelectContactPointRecoveryForm": remote.AuthRequired,
	"ReloginAttemptExceeded":         remote.AuthRequired,
}

// classify maps a non-2xx gateway response to a remote.Error.
// exc_type wins over the status code when both are present.
func classify(op string, status int, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)

	msg := detailText(eb.Detail)
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	cause := errors.New(msg)

	if k, ok := excKinds[eb.ExcType]; ok {
		return remote.E(k, op, cause)
	}
	switch {
	case status == http.StatusTooManyRequests:
		return remote.E(remote.RateLimited, op, cause)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return remote.E(remote.AuthRequired, op, cause)
	case status == http.StatusNotFound:
		return remote.E(remote.NotFound, op, cause)
	default:
		return remote.E(remote.Generic, op, cause)
	}
}

func detailText(d any) string {
	switch v := d.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
