// feed streams a local PCM (or WAV) file to a running relay and prints the
// transcription events per platform, simulating the browser capture side.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"polyscribe/messages"
)

const chunkSize = 3200 // 100ms of PCM16 mono at 16kHz

func main() {
	serverURL := flag.String("server", "ws://localhost:3001/ws", "WebSocket server URL")
	audioFile := flag.String("file", "examples/speech.pcm", "Audio file to send (raw PCM or WAV)")
	linger := flag.Duration("linger", 15*time.Second, "How long to wait for results after sending")
	flag.Parse()

	log.Printf("Connecting to %s...", *serverURL)

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})

	// Print transcription events as they arrive.
	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var msg messages.TranscriptionMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				log.Printf("Parse error: %v", err)
				continue
			}

			switch msg.Type {
			case "transcript":
				fmt.Printf("[%s] FINAL   %s\n", msg.Platform, msg.Transcript)
			case "interim":
				fmt.Printf("[%s] interim %s\n", msg.Platform, msg.Transcript)
			case "delta":
				fmt.Printf("[%s] +%s\n", msg.Platform, msg.Transcript)
			}
		}
	}()

	audioData, err := loadAudioFile(*audioFile)
	if err != nil {
		log.Fatalf("Failed to load audio: %v", err)
	}
	log.Printf("Sending %d bytes of audio", len(audioData))

	// Send in chunks at a real-time pace.
	for i := 0; i < len(audioData); i += chunkSize {
		end := i + chunkSize
		if end > len(audioData) {
			end = len(audioData)
		}

		env := messages.AppendEnvelope(audioData[i:end])
		if err := conn.WriteJSON(env); err != nil {
			log.Printf("Send error: %v", err)
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	log.Println("Audio sent, waiting for results...")

	select {
	case <-done:
		log.Println("Connection closed")
	case <-interrupt:
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	case <-time.After(*linger):
	}
}

// loadAudioFile loads a PCM or WAV file and returns raw PCM bytes.
func loadAudioFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Standard 44-byte WAV header.
	if len(data) > 44 && string(data[0:4]) == "RIFF" {
		return data[44:], nil
	}
	return data, nil
}
