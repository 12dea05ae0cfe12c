package fakeserver

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/micro-ha/transmission-sync/internal/events"
)

const writeWait = 5 * time.Second

type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) write(raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func (s *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	client := &wsClient{conn: conn}

	hello, err := events.Marshal(events.TopicConnection, map[string]string{"status": "connected", "type": "websocket"})
	if err == nil {
		err = client.write(hello)
	}
	if err != nil {
		_ = conn.Close()
		return
	}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()
	s.logger.Debug("websocket client connected", "remote", r.RemoteAddr)

	// Inbound frames are ignored; the read loop only notices the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.removeClient(client)
}

func (s *Server) removeClient(c *wsClient) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if ok {
		_ = c.conn.Close()
	}
}

// Clients reports the number of live websocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// DropClients closes every live socket, as a server restart would.
func (s *Server) DropClients() {
	s.mu.Lock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		s.removeClient(c)
	}
}

func (s *Server) historyExport(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" {
		writeError(w, http.StatusBadRequest, "Unsupported export format")
		return
	}

	rows := s.recentHistory(id, int(^uint(0)>>1))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="device_%d_history.csv"`, id))
	w.WriteHeader(http.StatusOK)

	out := csv.NewWriter(w)
	_ = out.Write([]string{"id", "device_id", "connection_id", "transmission_type", "row_index", "status", "error_message", "timestamp"})
	for _, row := range rows {
		rowIndex, errMsg := "", ""
		if row.RowIndex != nil {
			rowIndex = strconv.FormatInt(*row.RowIndex, 10)
		}
		if row.ErrorMessage != nil {
			errMsg = *row.ErrorMessage
		}
		_ = out.Write([]string{
			strconv.FormatInt(row.ID, 10),
			strconv.FormatInt(row.DeviceID, 10),
			strconv.FormatInt(row.ConnectionID, 10),
			row.TransmissionType,
			rowIndex,
			row.Status,
			errMsg,
			row.Timestamp,
		})
	}
	out.Flush()
}
