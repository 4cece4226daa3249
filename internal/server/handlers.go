package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// maxRegisterBody bounds the registration request body.
const maxRegisterBody = 1 << 10

// WebSocketHandler upgrades an attributed GET request to a websocket and
// starts a chat session for it. Requests without an identity are rejected
// with 401 before upgrading. The optional room query parameter selects the
// room.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	name, err := s.identity.Resolve(r)
	if err != nil {
		s.logger.Warn("rejecting websocket without identity", "addr", r.RemoteAddr, "error", err)
		http.Error(w, "identity required", http.StatusUnauthorized)
		return
	}

	room := strings.TrimSpace(r.URL.Query().Get("room"))
	if room == "" {
		room = s.cfg.DefaultRoom
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, r.RemoteAddr, s.cfg.MaxMessageSize, s.cfg.SendBufferSize, s.logger)
	s.hub.Start(client, name, room)
}

type registerRequest struct {
	Username string `json:"username"`
}

// RegisterHandler sets the identity cookie for the posted username.
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRegisterBody)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	username := strings.TrimSpace(req.Username)
	if err := s.identity.Issue(w, username); err != nil {
		http.Error(w, "username required", http.StatusBadRequest)
		return
	}

	s.logger.Info("user registered", "identity", username)
	writeJSON(w, http.StatusOK, registerRequest{Username: username}, s.logger)
}

// CurrentUserHandler returns the caller's identity as a JSON string.
func (s *Server) CurrentUserHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name, err := s.identity.Resolve(r)
	if err != nil {
		http.Error(w, "identity required", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, name, s.logger)
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("error writing JSON response", "error", err)
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "digestchat server is running!")
}

// TestPageHandler serves an HTML page for exercising the chat endpoint from a
// browser: register a name, connect, send messages, and watch both chat
// frames and history summaries arrive.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		slog.Warn("error writing HTML response", "error", err)
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>digestchat Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
        .summary { color: #6f42c1; }
    </style>
</head>
<body>
    <h1>digestchat Test</h1>

    <div>
        <input type="text" id="nameInput" placeholder="Your name">
        <button onclick="register()">Register</button>
    </div>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(text, cls) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            if (cls) { el.className = cls; }
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function render(data) {
            if ('answer' in data) {
                addLine('[summary ' + data.date + '] ' + data.answer, 'summary');
            } else {
                addLine((data.sender || '?') + ': ' + data.message);
            }
        }

        function register() {
            const username = document.getElementById('nameInput').value.trim();
            fetch('/api/register', {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify({username: username})
            }).then(r => addLine(r.ok ? 'Registered as ' + username : 'Registration failed'));
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/api/chat');
            ws.onopen = function() { updateStatus(true); };
            ws.onmessage = function(event) { render(JSON.parse(event.data)); };
            ws.onclose = function() { addLine('Connection closed'); updateStatus(false); ws = null; };
            ws.onerror = function() { addLine('Connection error'); updateStatus(false); };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const message = messageInput.value.trim();
            if (message && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({message: message}));
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') { sendMessage(); }
        });
    </script>
</body>
</html>`
