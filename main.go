package main

import (
	"bufio"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"lanchat/config"
	"lanchat/db"
	"lanchat/server"
)

func main() {
	configPath := flag.String("config", "lanchat.ini", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store, err := db.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	srv := server.New(store, cfg)

	// Start control socket for management commands
	go startControlSocket(srv, cfg.Server.ControlSocket)

	// Handle signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		srv.Shutdown("maintenance")
		os.Remove(cfg.Server.ControlSocket)
		os.Exit(0)
	}()

	log.Fatal(srv.Start())
}

func startControlSocket(srv *server.Server, socketPath string) {
	// Remove existing socket file
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		log.Printf("Failed to create control socket: %v", err)
		return
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	log.Printf("Control socket listening on %s", socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			continue
		}

		go handleControlCommand(srv, conn, socketPath)
	}
}

func handleControlCommand(srv *server.Server, conn net.Conn, socketPath string) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}

	line = strings.TrimSpace(line)
	parts := strings.SplitN(line, "|", 3)

	switch parts[0] {
	case "stats":
		conn.Write([]byte("OK|" + srv.Stats() + "\n"))

	case "announce":
		if len(parts) < 2 || parts[1] == "" {
			conn.Write([]byte("ERROR|Announcement text required\n"))
			return
		}
		srv.Announce(parts[1])
		conn.Write([]byte("OK|Announced\n"))

	case "kick":
		if len(parts) < 2 {
			conn.Write([]byte("ERROR|User id required\n"))
			return
		}
		userID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			conn.Write([]byte("ERROR|Invalid user id\n"))
			return
		}
		reason := "kicked by operator"
		if len(parts) >= 3 && parts[2] != "" {
			reason = parts[2]
		}
		if srv.Kick(userID, reason) {
			conn.Write([]byte("OK|Kicked\n"))
		} else {
			conn.Write([]byte("ERROR|User not online\n"))
		}

	case "shutdown":
		reason := "maintenance"
		if len(parts) >= 2 && parts[1] != "" {
			reason = parts[1]
		}

		conn.Write([]byte("OK|Shutting down\n"))
		conn.Close()

		// Give time for response to be sent
		time.Sleep(100 * time.Millisecond)

		log.Printf("Shutdown requested: reason=%s", reason)
		srv.Shutdown(reason)

		os.Remove(socketPath)
		os.Exit(0)

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
