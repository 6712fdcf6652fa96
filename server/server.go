package server

import (
	"log"
	"net"
	"strconv"
	"strings"

	"lanchat/config"
	"lanchat/db"
	"lanchat/models"
	"lanchat/wire"
)

// Server accepts relay connections and runs one session handler per
// connection. Shared state is limited to the registry and the store.
type Server struct {
	store    *db.DB
	config   *config.Config
	registry *Registry
}

func New(store *db.DB, cfg *config.Config) *Server {
	return &Server{
		store:    store,
		config:   cfg,
		registry: NewRegistry(),
	}
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.config.Server.ListenPort))
	if err != nil {
		return err
	}
	defer listener.Close()

	log.Printf("relay server started on port %d", s.config.Server.ListenPort)
	return s.Serve(listener)
}

// Serve runs the accept loop on an existing listener.
func (s *Server) Serve(listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if strings.Contains(err.Error(), "use of closed network connection") {
				return nil
			}
			log.Printf("accept error: %v", err)
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()
	log.Printf("client connected from %s", remoteAddr)

	sess := newSession(s, conn)
	go sess.writePump()
	defer sess.close()

	if !sess.handshake() {
		log.Printf("client from %s left before authenticating", remoteAddr)
		return
	}

	sess.loop()
	s.cleanup(sess, remoteAddr)
}

// cleanup deregisters a session whose loop ended and tells its friends.
func (s *Server) cleanup(sess *Session, remoteAddr string) {
	if sess.userID < 0 {
		return
	}
	s.registry.Deregister(sess.userID, sess)
	s.broadcastToFriends(sess.userID,
		wire.NewCommand(wire.CmdUserOffline, formatID(sess.userID)))
	log.Printf("user %d disconnected from %s", sess.userID, remoteAddr)
}

// Announce pushes a system announcement to every connected client.
func (s *Server) Announce(text string) {
	frame := wire.NewCommand(wire.CmdSystemAnnouncement, text)
	for _, sess := range s.registry.All() {
		sess.enqueue(frame)
	}
}

// Kick force-disconnects a user, reporting whether they were online. The
// write pump flushes the notice before the connection closes.
func (s *Server) Kick(userID int64, reason string) bool {
	sess, ok := s.registry.Get(userID)
	if !ok {
		return false
	}
	sess.enqueue(wire.NewCommand(wire.CmdKicked, reason))
	sess.close()
	s.recordActivity(models.ActivityUserKicked, 0, userID, reason)
	return true
}

// Shutdown notifies every client and closes their connections.
func (s *Server) Shutdown(reason string) {
	for _, sess := range s.registry.All() {
		sess.enqueue(wire.NewCommand(wire.CmdKicked, reason))
		sess.close()
	}
}

// Stats returns a one-line summary for the control socket.
func (s *Server) Stats() string {
	ids := s.registry.OnlineIDs()
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10) + ":" + s.registry.NameOf(id)
	}
	return "connections=" + strconv.Itoa(s.registry.Count()) + ",users=" + strings.Join(parts, ";")
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
