package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

const maxPublishBody = 1 << 20

type server struct {
	hub      *hub
	tokens   map[string]struct{}
	upgrader websocket.Upgrader
}

func newServer(h *hub, tokens []string) *server {
	allowed := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token != "" {
			allowed[token] = struct{}{}
		}
	}
	return &server{
		hub:    h,
		tokens: allowed,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleStream)
	mux.HandleFunc("POST /publish", s.handlePublish)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

type apiResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(writer http.ResponseWriter, status int, body interface{}) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(body)
}

// requestToken reads the credential from the token query parameter or a
// bearer Authorization header.
func requestToken(request *http.Request) string {
	if token := request.URL.Query().Get("token"); token != "" {
		return token
	}
	header := request.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func (s *server) authorized(token string) bool {
	if len(s.tokens) == 0 {
		return true
	}
	_, ok := s.tokens[token]
	return ok
}

func (s *server) handleStream(writer http.ResponseWriter, request *http.Request) {
	token := requestToken(request)
	if token == "" {
		writeJSON(writer, http.StatusUnauthorized, apiResponse{Message: "token required"})
		return
	}
	if !s.authorized(token) {
		writeJSON(writer, http.StatusUnauthorized, apiResponse{Message: "invalid token"})
		return
	}

	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		return
	}
	s.hub.serve(conn)
}

// handlePublish broadcasts the request body. With a type query parameter the
// body becomes the payload of a {type, payload} envelope; without one it is
// forwarded verbatim, the way broker events reach the stream.
func (s *server) handlePublish(writer http.ResponseWriter, request *http.Request) {
	body, err := io.ReadAll(io.LimitReader(request.Body, maxPublishBody))
	if err != nil {
		writeJSON(writer, http.StatusBadRequest, apiResponse{Message: err.Error()})
		return
	}
	if len(body) == 0 || !json.Valid(body) {
		writeJSON(writer, http.StatusBadRequest, apiResponse{Message: "body must be JSON"})
		return
	}

	frame := body
	if topic := request.URL.Query().Get("type"); topic != "" {
		frame, err = json.Marshal(struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}{Type: topic, Payload: body})
		if err != nil {
			writeJSON(writer, http.StatusInternalServerError, apiResponse{Message: err.Error()})
			return
		}
	}

	delivered := s.hub.broadcast(frame)
	writeJSON(writer, http.StatusAccepted, apiResponse{Success: true, Data: map[string]int{"delivered": delivered}})
}

func (s *server) handleHealth(writer http.ResponseWriter, _ *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"clients":   s.hub.count(),
		"accepted":  s.hub.accepted.Load(),
		"published": s.hub.published.Load(),
	})
}
