package airreplay

import (
	"fmt"
	"strings"
)

// ConnectionEndpoint is one side of a ConnectionInfo pair.
type ConnectionEndpoint struct {
	Host string
	Port string
}

func (e ConnectionEndpoint) String() string { return e.Host + ":" + e.Port }

// FormatConnectionInfo renders the OpaqueEntry.connection_info format spec
// §3 defines: "client_host:client_port#server_host:server_port".
func FormatConnectionInfo(client, server ConnectionEndpoint) string {
	return fmt.Sprintf("%s#%s", client, server)
}

// ParseConnectionInfo parses a connection_info string back into its client
// and server endpoints. A malformed string (missing '#' or ':' separators)
// is programmer misuse (spec §7 kind 1) and is fatal, matching the
// original's lack of any recovery path for a corrupted identity field.
func ParseConnectionInfo(s string) (client, server ConnectionEndpoint) {
	parts := strings.SplitN(s, "#", 2)
	if len(parts) != 2 {
		abortMisuse("connection_info %q is not of the form client_host:client_port#server_host:server_port", s)
	}
	client = parseEndpoint(s, parts[0])
	server = parseEndpoint(s, parts[1])
	return client, server
}

func parseEndpoint(full, s string) ConnectionEndpoint {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		abortMisuse("connection_info %q has a malformed endpoint %q", full, s)
	}
	return ConnectionEndpoint{Host: s[:idx], Port: s[idx+1:]}
}
