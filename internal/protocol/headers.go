package protocol

// header names used on the control-channel handshake request.
const (
	HeaderAPIKey    = "X-Api-Key"
	HeaderSubdomain = "X-Subdomain"
)
