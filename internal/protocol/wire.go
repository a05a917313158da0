package protocol

import (
	"bytes"
	"encoding/json"
)

// This file mirrors the JSON wire schema of spec.md §6 and
// original_source/protocol/src/ipc.rs: snake_case field names, a "type"
// discriminant on every tagged union, base64 for binary payloads.

// Config is the full shared configuration the server holds and the bridge
// pushes on connect: the bridge's public key plus every user's and door's
// metadata.
type Config struct {
	PublicKey string          `json:"public_key"`
	Users     map[string]User `json:"users"`
	Doors     map[string]Door `json:"doors"`
}

// User lists the door ids a user is authorized to open.
type User struct {
	Authorize []string `json:"authorize"`
}

// Door carries the door's display label. The bridge's own local config
// (internal/bridgeconfig) additionally tracks the door's BLE MAC and
// public key, which are never shared with the browser client.
type Door struct {
	Label string `json:"label"`
}

// UIConfig is the subset of Config a browser client is allowed to see:
// the bridge's public key and only the doors that particular user may
// open (spec.md §4.7 — the client never learns about doors it can't use).
type UIConfig struct {
	PublicKey string   `json:"public_key"`
	Doors     []UIDoor `json:"doors"`
}

// UIDoor is one door entry in a UIConfig.
type UIDoor struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ChallengeMessage carries one encrypted challenge to a specific user, sent
// server->client and bridge->server with the same shape.
type ChallengeMessage struct {
	User      string `json:"user"`
	Challenge string `json:"challenge"` // base64(nonce||ciphertext||tag)
}

// ServerEvent is the tagged union the server (and, on the server->bridge
// hop, the bridge) sends downstream: either a Config push or a Challenge.
type ServerEvent struct {
	Type      string            `json:"type"` // "config" | "challenge"
	Config    *UIConfig         `json:"-"`
	Bridge    *Config           `json:"-"`
	Challenge *ChallengeMessage `json:"-"`
}

const (
	EventTypeConfig    = "config"
	EventTypeChallenge = "challenge"
)

// MarshalJSON flattens the tagged union into {"type": "...", ...fields}.
func (e ServerEvent) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventTypeConfig:
		if e.Bridge != nil {
			return json.Marshal(struct {
				Type string `json:"type"`
				Config
			}{Type: e.Type, Config: *e.Bridge})
		}
		return json.Marshal(struct {
			Type string `json:"type"`
			*UIConfig
		}{Type: e.Type, UIConfig: e.Config})
	case EventTypeChallenge:
		return json.Marshal(struct {
			Type string `json:"type"`
			*ChallengeMessage
		}{Type: e.Type, ChallengeMessage: e.Challenge})
	default:
		return nil, errAuth("unknown event type: " + e.Type)
	}
}

// UnmarshalJSON decodes both shapes a "config" event can arrive in: the
// bridge-side shape (the server relays the full Config downstream-of the
// bridge) and the browser-client shape (the server sends a user's own
// UIConfig). The two are told apart by the "doors" field: a JSON object
// (user/door map) on the bridge shape, a JSON array on the client shape.
func (e *ServerEvent) UnmarshalJSON(data []byte) error {
	var peek struct {
		Type  string          `json:"type"`
		Doors json.RawMessage `json:"doors"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return err
	}
	e.Type = peek.Type

	switch peek.Type {
	case EventTypeConfig:
		if bytes.HasPrefix(bytes.TrimSpace(peek.Doors), []byte("[")) {
			var ui UIConfig
			if err := json.Unmarshal(data, &ui); err != nil {
				return err
			}
			e.Config = &ui
			return nil
		}
		var cfg Config
		if err := json.Unmarshal(data, &cfg); err != nil {
			return err
		}
		e.Bridge = &cfg
	case EventTypeChallenge:
		var msg ChallengeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		e.Challenge = &msg
	default:
		return errAuth("unknown event type: " + peek.Type)
	}
	return nil
}

// ClientRequest is the tagged union a browser client or a bridge's
// upstream relay sends: Fetch (ask for a fresh challenge) or Solve
// (answer one). The zero value of User means "infer from the connection's
// URL path" — spec.md requires the server to overwrite this field
// unconditionally rather than trust a client-supplied value.
type ClientRequest struct {
	Type string  `json:"type"` // "fetch" | "solve"
	User *string `json:"user,omitempty"`
	Door string  `json:"door"`
	Code string  `json:"code,omitempty"` // base64, only set for "solve"
}

const (
	RequestTypeFetch = "fetch"
	RequestTypeSolve = "solve"
)

// WithUser returns a copy of the request with User forced to user,
// discarding whatever the client sent. Used by internal/relay to enforce
// spec.md's "never trust the client's own user field" rule.
func (r ClientRequest) WithUser(user string) ClientRequest {
	r.User = &user
	return r
}
