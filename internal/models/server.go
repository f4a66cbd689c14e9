package models

import (
	"time"

	"github.com/google/uuid"
)

// ServerStatus is the last-known reachability of a gateway server.
type ServerStatus string

const (
	StatusUnknown    ServerStatus = "unknown"
	StatusOnline     ServerStatus = "online"
	StatusOffline    ServerStatus = "offline"
	StatusAuthFailed ServerStatus = "auth_failed"
)

// GatewayServer is a saved gateway endpoint. A server without a token is
// listable but unusable for chat until the user logs in.
type GatewayServer struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	BaseURL       string       `json:"base_url"`
	Token         string       `json:"token,omitempty"`
	Status        ServerStatus `json:"status"`
	Region        string       `json:"region,omitempty"`
	LastCheckedAt time.Time    `json:"last_checked_at,omitzero"`
}

// NewGatewayServer creates a registry entry with status unknown.
func NewGatewayServer(name, baseURL string) GatewayServer {
	return GatewayServer{
		ID:      uuid.NewString(),
		Name:    name,
		BaseURL: baseURL,
		Status:  StatusUnknown,
	}
}

// HasToken reports whether the server can be used for authenticated calls.
func (s GatewayServer) HasToken() bool {
	return s.Token != ""
}
