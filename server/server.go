package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/nixxel-company-limited/receipt-bridge/adapter"
	"github.com/nixxel-company-limited/receipt-bridge/connector"
	"github.com/nixxel-company-limited/receipt-bridge/job"
)

// Printer is the connector surface the server uses.
type Printer interface {
	GetStatus() connector.Status
	CreatePrintJob(config job.Config) (*connector.Job, error)
}

// Supervisor is the connection supervisor surface the server uses.
type Supervisor interface {
	EnsureConnection(ctx context.Context) error
}

// Message is a request sent by a WebSocket client.
type Message struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response is sent back to the client for every message.
type Response struct {
	Type    string                 `json:"type"`
	ID      string                 `json:"id,omitempty"`
	Status  string                 `json:"status,omitempty"`
	Message string                 `json:"message,omitempty"`
	Result  *connector.PrintResult `json:"result,omitempty"`
	Printer *connector.Status      `json:"printer,omitempty"`
}

// Server exposes printing over HTTP and WebSocket.
type Server struct {
	printer    Printer
	supervisor Supervisor
	listener   net.Listener
	httpServer *http.Server
	address    string
	mu         sync.Mutex
	running    bool
	wg         sync.WaitGroup
	logger     *log.Logger

	listDevices func() ([]adapter.DeviceInfo, error)
}

// New creates a new server instance
func New(printer Printer, supervisor Supervisor, address string) *Server {
	logger := log.New(os.Stdout, "[SERVER] ", log.LstdFlags|log.Lmsgprefix)
	return NewWithLogger(printer, supervisor, address, logger)
}

// NewWithLogger creates a new server instance with a custom logger
func NewWithLogger(printer Printer, supervisor Supervisor, address string, logger *log.Logger) *Server {
	return &Server{
		printer:    printer,
		supervisor: supervisor,
		address:    address,
		logger:     logger,

		listDevices: adapter.ListDevices,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/devices", s.handleDevices)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	})
	return mux
}

// listen binds the address. Callers hold s.mu.
func (s *Server) listen() error {
	if s.running {
		s.logger.Println("Error: Server already running")
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		s.logger.Printf("Error: Failed to start server: %v", err)
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.running = true
	s.logger.Printf("Server listening on %s", listener.Addr())
	return nil
}

// Start starts the server and blocks until Stop is called
func (s *Server) Start() error {
	s.mu.Lock()
	s.logger.Printf("Starting server on %s (blocking mode)", s.address)
	if err := s.listen(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.wg.Add(1)
	s.mu.Unlock()

	s.serve()
	return nil
}

// StartAsync starts the server in a goroutine (non-blocking)
func (s *Server) StartAsync() error {
	s.mu.Lock()
	s.logger.Printf("Starting server on %s (async mode)", s.address)
	if err := s.listen(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.serve()
	s.logger.Println("Server started in background, ready to accept connections")
	return nil
}

func (s *Server) serve() {
	defer s.wg.Done()
	s.mu.Lock()
	srv, listener := s.httpServer, s.listener
	s.mu.Unlock()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Printf("Error serving: %v", err)
	}
	s.logger.Println("Server shutting down, stopping accept loop")
}

// Stop stops the server and waits for open requests to finish.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Println("Stop called but server is not running")
		return nil
	}

	s.logger.Println("Stopping server...")
	s.running = false
	srv := s.httpServer
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(ctx)

	s.logger.Println("Waiting for active connections to close...")
	s.wg.Wait()

	if err != nil {
		s.logger.Printf("Error during shutdown: %v", err)
		return err
	}
	s.logger.Println("Server stopped successfully")
	return nil
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Address returns the configured address
func (s *Server) Address() string {
	return s.address
}

// ListenAddr returns the bound address while running, else the configured one.
func (s *Server) ListenAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.address
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.printer.GetStatus()); err != nil {
		s.logger.Printf("Error writing status: %v", err)
	}
}

// handleDevices lists attached USB devices for installers.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.listDevices()
	if err != nil {
		s.logger.Printf("Error listing devices: %v", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(devices); err != nil {
		s.logger.Printf("Error writing devices: %v", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Printf("Error accepting websocket: %v", err)
		return
	}

	clientAddr := r.RemoteAddr
	s.logger.Printf("Client connected from %s", clientAddr)
	defer func() {
		s.logger.Printf("Client disconnected: %s", clientAddr)
		conn.Close(websocket.StatusNormalClosure, "disconnected")
	}()

	ctx := r.Context()
	for {
		var msg Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				s.logger.Printf("Error reading from client %s: %v", clientAddr, err)
			}
			return
		}

		resp := s.route(ctx, &msg)
		if err := wsjson.Write(ctx, conn, resp); err != nil {
			s.logger.Printf("Error writing to client %s: %v", clientAddr, err)
			return
		}
	}
}

func (s *Server) route(ctx context.Context, msg *Message) Response {
	switch msg.Type {
	case "ping":
		return Response{Type: "pong", ID: msg.ID}
	case "status":
		st := s.printer.GetStatus()
		return Response{Type: "status", ID: msg.ID, Status: "ok", Printer: &st}
	case "receipt":
		var r job.Receipt
		if err := decodeData(msg.Data, &r); err != nil {
			return errorResponse(msg.ID, err)
		}
		return s.print(ctx, msg.ID, func(j *connector.Job) { j.AddBetReceipt(r) })
	case "slip":
		var sl job.Slip
		if err := decodeData(msg.Data, &sl); err != nil {
			return errorResponse(msg.ID, err)
		}
		return s.print(ctx, msg.ID, func(j *connector.Job) { j.AddBetSlip(sl) })
	}
	return errorResponse(msg.ID, fmt.Errorf("%w: %q", errUnknownMessage, msg.Type))
}

func decodeData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return errMissingData
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidData, err)
	}
	return nil
}

// print makes one connection attempt through the supervisor, then builds
// and executes the job.
func (s *Server) print(ctx context.Context, id string, fill func(*connector.Job)) Response {
	if err := s.supervisor.EnsureConnection(ctx); err != nil {
		s.logger.Printf("Job %s: no connection: %v", id, err)
		return errorResponse(id, err)
	}

	j, err := s.printer.CreatePrintJob(job.Config{})
	if err != nil {
		return errorResponse(id, err)
	}
	fill(j)

	start := time.Now()
	res, err := j.Execute(ctx)
	if err != nil {
		s.logger.Printf("Job %s FAILED after %v: %v", id, time.Since(start), err)
		return errorResponse(id, err)
	}

	s.logger.Printf("Job %s printed as %s via %s in %v", id, res.JobID, res.Method, time.Since(start))
	return Response{Type: "result", ID: id, Status: "success", Result: &res}
}

func errorResponse(id string, err error) Response {
	return Response{Type: "result", ID: id, Status: "error", Message: FriendlyError(err)}
}
