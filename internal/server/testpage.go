package server

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// TestPageHandler serves a small HTML client for trying direct messages by
// hand. It connects with a bearer token pasted into the page and sends
// frames addressed to a recipient UUID.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(testPageHTML)); err != nil {
		s.log.Warn("error writing HTML response", "error", err)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>GoChat Direct Message Test</title>
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
        input[type="text"] { width: 300px; padding: 5px; margin: 0 10px 5px 0; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>GoChat Direct Message Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="tokenInput" placeholder="Access token">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div>
        <input type="text" id="recipientInput" placeholder="Recipient user ID" disabled>
    </div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const tokenInput = document.getElementById('tokenInput');
        const recipientInput = document.getElementById('recipientInput');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(label, text, color) {
            const line = document.createElement('div');
            line.style.margin = '5px 0';
            line.style.color = color;
            const strong = document.createElement('strong');
            strong.textContent = label;
            line.appendChild(strong);
            line.appendChild(document.createTextNode(' ' + text));
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function handleFrame(raw) {
            let frame;
            try {
                frame = JSON.parse(raw);
            } catch (e) {
                addLine('?', raw, 'gray');
                return;
            }
            if (frame.type === 'sent') {
                addLine('You -> ' + frame.recipient_id + ':', frame.content, 'blue');
            } else if (frame.type === 'new_message') {
                addLine(frame.sender_id + ':', frame.content, 'green');
            } else if (frame.type === 'error') {
                addLine('Error (' + frame.code + '):', frame.message, 'red');
            } else {
                addLine('?', raw, 'gray');
            }
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            recipientInput.disabled = !connected;
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            tokenInput.disabled = connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            const token = encodeURIComponent(tokenInput.value.trim());
            ws = new WebSocket(scheme + location.host + '/ws?access_token=' + token);

            ws.onopen = function() {
                addLine('*', 'connected', 'gray');
                updateStatus(true);
            };
            ws.onmessage = function(event) {
                handleFrame(event.data);
            };
            ws.onclose = function(event) {
                addLine('*', 'connection closed (' + event.code + ' ' + event.reason + ')', 'gray');
                updateStatus(false);
                ws = null;
            };
            ws.onerror = function() {
                addLine('*', 'connection error', 'gray');
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const content = messageInput.value.trim();
            const recipient = recipientInput.value.trim();
            if (content && recipient && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({recipient_id: recipient, content: content}));
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
