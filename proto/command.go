package proto

import "strings"

// Protocol lines that are not commands.
const (
	KeepAlive = "."
	Quit      = "quit"
)

// Handshake builds the first line a client sends after connecting. The
// suffix asks the server for JSON-formatted events.
func Handshake(handle string) string {
	return handle + "(JSON)"
}

// Subscribe builds the subscribe command for a channel.
func Subscribe(channel string) string {
	return "subscribe " + channel
}

// Unsubscribe builds the unsubscribe command for a channel.
func Unsubscribe(channel string) string {
	return "unsubscribe " + channel
}

// SendRaw builds the publish command carrying a JSON payload.
func SendRaw(channel string, payload []byte) string {
	return "sendraw " + channel + " " + string(payload)
}

// IsKeepAlive reports whether an inbound line is a server keep-alive.
// Keep-alives are answered with KeepAlive and never dispatched.
func IsKeepAlive(line string) bool {
	return strings.HasPrefix(line, "ping") || strings.HasPrefix(line, ".")
}

// IsEvent reports whether an inbound line carries a JSON event.
func IsEvent(line string) bool {
	return strings.HasPrefix(line, "{")
}
