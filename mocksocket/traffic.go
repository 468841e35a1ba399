package mocksocket

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/ocx/airreplay/airreplay"
)

// SocketTraffic owns one accept-side MockServer per recorded server port and
// keeps them alive for the duration of an out-of-process replay session,
// grounded on the original's SocketTraffic(host, ports) constructor (spec
// §6's standalone CLI binary). The client-side send path is the separate
// SendTraffic function.
type SocketTraffic struct {
	mu      sync.Mutex
	servers []*MockServer
}

// NewSocketTraffic starts a MockServer on host for every port, loading
// accept-side recordings from traceDir.
func NewSocketTraffic(host string, ports []string, traceDir string) (*SocketTraffic, error) {
	st := &SocketTraffic{}
	for _, port := range ports {
		srv, err := NewMockServer(host, port, traceDir)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("mocksocket: port %s: %w", port, err)
		}
		if err := srv.ListenAndServe(); err != nil {
			st.Close()
			return nil, err
		}
		st.mu.Lock()
		st.servers = append(st.servers, srv)
		st.mu.Unlock()
	}
	return st, nil
}

// Close shuts down every owned MockServer.
func (st *SocketTraffic) Close() error {
	st.mu.Lock()
	servers := st.servers
	st.servers = nil
	st.mu.Unlock()
	for _, srv := range servers {
		srv.Close()
	}
	return nil
}

// SendTraffic parses connectionInfo as "<client_host>:<client_port>#<server_host>:<server_port>",
// opens a socket bound to the client endpoint and connected to the server
// endpoint, and drives it from the matching connect-side recording under
// traceDir, mirroring send_traffic(connection_info, entry) (spec §4.F).
func SendTraffic(connectionInfo, traceDir string) error {
	client, server := airreplay.ParseConnectionInfo(connectionInfo)

	filter := ConnectFilterPrefix + client.String() + "_from_" + server.String()
	candidates, err := loadCandidates(traceDir, server.Port, filter)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return fmt.Errorf("mocksocket: no connect recording for %s under %s", connectionInfo, traceDir)
	}

	localAddr, err := net.ResolveTCPAddr("tcp", client.String())
	if err != nil {
		return fmt.Errorf("mocksocket: resolve client endpoint %s: %w", client, err)
	}
	remoteAddr, err := net.ResolveTCPAddr("tcp", server.String())
	if err != nil {
		return fmt.Errorf("mocksocket: resolve server endpoint %s: %w", server, err)
	}

	conn, err := net.DialTCP("tcp", localAddr, remoteAddr)
	if err != nil {
		return fmt.Errorf("mocksocket: dial %s -> %s: %w", client, server, err)
	}

	tg := airreplay.NewTraceGroup(candidates...)
	cfg := airreplay.Get()
	go func() {
		airreplay.SetThreadName("airreplay-send")
		replayTrace(conn, tg, cfg.MockServerReadChunk, cfg.MockServerDrainSleep)
	}()

	slog.Info("mocksocket: sending traffic", "connection_info", connectionInfo)
	return nil
}
