// Package wire defines the JSON shapes shared by the relay server and its
// clients: the HTTP API bodies and the socket signal messages. The socket
// channel is a pure invalidation signal; no session payload ever crosses it.
package wire

// Socket message types. UPDATE is the only relay→client push event.
const (
	MsgJoin   = "JOIN"
	MsgUpdate = "UPDATE"
)

// ClientIDHeader carries the pusher's socket client id on save requests so
// the relay can skip notifying the device that just saved.
const ClientIDHeader = "X-Famtable-Client"

// Message is a socket frame. ClientID is set only on JOIN, by clients that
// also push saves over HTTP.
type Message struct {
	Type     string `json:"type"`
	FamilyID string `json:"familyId"`
	ClientID string `json:"clientId,omitempty"`
}

// FamilyResponse is the body of GET /api/family/{id}.
type FamilyResponse struct {
	Data        string `json:"data"`
	LastUpdated int64  `json:"lastUpdated"` // wall-clock milliseconds
}

// PushRequest is the body of POST /api/family.
type PushRequest struct {
	FamilyID string `json:"familyId"`
	Data     string `json:"data"`
}

// PushResponse is the body of a successful POST /api/family.
type PushResponse struct {
	Success bool `json:"success"`
}

// InviteRequest is the body of POST /api/invite.
type InviteRequest struct {
	FamilyID  string `json:"familyId"`
	FamilyKey string `json:"familyKey"`
}

// InviteCodeResponse is the body of a successful POST /api/invite.
type InviteCodeResponse struct {
	Code string `json:"code"`
}

// InviteResolveResponse is the body of GET /api/invite/{code}.
type InviteResolveResponse struct {
	FamilyID  string `json:"familyId"`
	FamilyKey string `json:"familyKey"`
}

// ErrorResponse is the body of any non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}
