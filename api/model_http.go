package api

import "time"

// ResponseToken is the payload of a successful token request. A nil
// Expires means the token never expires.
type ResponseToken struct {
	Token   string     `json:"token"`
	Expires *time.Time `json:"expires"`
}

type ResponseHealth struct {
	Status string `json:"status"`
}
