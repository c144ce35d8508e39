// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the spectator stream.
const (
	BadSubprotocolError   = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError = 3001 // Device token could not be issued or verified.
	RoomNotFoundError     = 3003 // Target room does not exist or its code is malformed.
	RoomUnavailableError  = 3004 // The room's state could not be read or went away mid-stream.
)
