// Command relayclient is a smoke-test client for the voice relay WebSocket
// endpoint. It starts a session, streams a few silent audio frames, prints
// every server message, then stops cleanly.
package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func main() {
	addr := flag.String("addr", "ws://localhost:8080/v1/relay", "relay WebSocket URL")
	username := flag.String("username", "smoke-test", "username for the session")
	frames := flag.Int("frames", 10, "number of audio frames to send")
	flag.Parse()

	conn, _, err := websocket.DefaultDialer.Dial(*addr, nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("Connected to %s", *addr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Printf("unreadable server message: %v", err)
				continue
			}
			log.Printf("<- %v", msg)
		}
	}()

	sessionID := uuid.NewString()
	start := map[string]any{
		"type":           "start",
		"username":       *username,
		"sessionId":      sessionID,
		"conversationId": uuid.NewString(),
	}
	log.Printf("-> start session %s", sessionID)
	if err := conn.WriteJSON(start); err != nil {
		log.Fatalf("failed to send start: %v", err)
	}

	// Give the greeting time to stream back.
	time.Sleep(2 * time.Second)

	// 100ms of silence at 24kHz PCM16 mono.
	silence := base64.StdEncoding.EncodeToString(make([]byte, 4800))
	for i := 0; i < *frames; i++ {
		if err := conn.WriteJSON(map[string]any{"type": "audio", "audio": silence}); err != nil {
			log.Fatalf("failed to send audio frame: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}

	// Let any simulated exchange finish streaming.
	time.Sleep(2 * time.Second)

	log.Println("-> stop")
	if err := conn.WriteJSON(map[string]any{"type": "stop", "requestNewSession": false}); err != nil {
		log.Fatalf("failed to send stop: %v", err)
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case <-done:
	case <-time.After(time.Second):
	}
	log.Println("Done")
}
