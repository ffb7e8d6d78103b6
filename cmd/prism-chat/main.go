// Package main provides a terminal client for prism chat sessions.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/xiaot623/prism/internal/protocol"
)

// Client represents a WebSocket client bound to one session room.
type Client struct {
	conn      *websocket.Conn
	sessionID string
	done      chan struct{}
}

// CreateChat asks the REST API for a new session and returns its id.
func CreateChat(server, token, apiKey string) (string, error) {
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(server, "/")+"/api/create-chat", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-API-Key", apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create chat: %w", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode create chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("create chat: %s: %s", resp.Status, body["error"])
	}
	return body["chatUuid"], nil
}

// NewClient connects to the gateway for the given session.
func NewClient(server, token, apiKey, sessionID string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(server, "/") + "/ws")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := url.Values{}
	q.Set("token", token)
	q.Set("apiKey", apiKey)
	q.Set("uuid", sessionID)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w (%s)", err, resp.Status)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	return &Client{
		conn:      conn,
		sessionID: sessionID,
		done:      make(chan struct{}),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	close(c.done)
	return c.conn.Close()
}

// JoinRoom joins the session room and waits for room_joined.
func (c *Client) JoinRoom() error {
	msg := protocol.JoinRoomMessage{
		BaseMessage: protocol.NewBase(protocol.TypeJoinRoom, c.sessionID),
		RoomID:      c.sessionID,
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write join_room: %w", err)
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read room_joined: %w", err)
	}

	var base protocol.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return fmt.Errorf("unmarshal room_joined: %w", err)
	}
	if base.Type == protocol.TypeError {
		var errMsg protocol.ErrorMessage
		json.Unmarshal(data, &errMsg)
		return fmt.Errorf("join failed: %s - %s", errMsg.Code, errMsg.Message)
	}
	if base.Type != protocol.TypeRoomJoined {
		return fmt.Errorf("expected room_joined, got: %s", base.Type)
	}
	return nil
}

// SendChat sends one chat turn.
func (c *Client) SendChat(text string) error {
	return c.conn.WriteJSON(protocol.ChatMessageRequest{
		BaseMessage: protocol.NewBase(protocol.TypeChatMessage, c.sessionID),
		Text:        text,
	})
}

// RequestHistory asks for the session transcript.
func (c *Client) RequestHistory() error {
	return c.conn.WriteJSON(protocol.NewBase(protocol.TypeGetChatHistory, c.sessionID))
}

// StartSummary ends the session and starts its summary.
func (c *Client) StartSummary() error {
	return c.conn.WriteJSON(protocol.StartSummaryMessage{
		BaseMessage: protocol.NewBase(protocol.TypeStartSummaryProcess, c.sessionID),
		ChatUUID:    c.sessionID,
	})
}

// ReadMessages reads and prints messages from the server.
func (c *Client) ReadMessages() {
	for {
		select {
		case <-c.done:
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("Read error: %v", err)
				}
				return
			}
			printFrame(data)
		}
	}
}

func printFrame(data []byte) {
	var base protocol.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		log.Printf("Unmarshal error: %v", err)
		return
	}

	switch base.Type {
	case protocol.TypeChatMessage:
		var msg protocol.ChatMessageBroadcast
		if err := json.Unmarshal(data, &msg); err == nil {
			fmt.Printf("\n%s: %s\n", msg.Username, msg.Message.Content)
			return
		}
	case protocol.TypeChatHistory:
		var msg protocol.ChatHistoryMessage
		if err := json.Unmarshal(data, &msg); err == nil {
			fmt.Println("\n--- history ---")
			for _, m := range msg.Messages {
				fmt.Printf("[%s] %s\n", m.Role, m.Content)
			}
			return
		}
	}

	// Pretty print the message
	var prettyJSON map[string]interface{}
	json.Unmarshal(data, &prettyJSON)
	formatted, _ := json.MarshalIndent(prettyJSON, "", "  ")
	fmt.Printf("\n[%s] Received:\n%s\n", base.Type, string(formatted))
}

func main() {
	var server, token, apiKey, chatID string

	rootCmd := &cobra.Command{
		Use:          "prism-chat",
		Short:        "Chat with a prism counselor session from the terminal",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.SetFlags(log.Ltime)

			if chatID == "" {
				id, err := CreateChat(server, token, apiKey)
				if err != nil {
					return err
				}
				chatID = id
			}

			fmt.Printf("Connecting to %s...\n", server)
			client, err := NewClient(server, token, apiKey, chatID)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.JoinRoom(); err != nil {
				return err
			}
			fmt.Printf("Joined session: %s\n", chatID)
			fmt.Println("\nType a message and press Enter to send.")
			fmt.Println("Commands: /history, /summary, /quit")

			go client.ReadMessages()
			return repl(client)
		},
	}
	rootCmd.Flags().StringVar(&server, "server", "http://localhost:8080", "prism server address")
	rootCmd.Flags().StringVar(&token, "token", os.Getenv("PRISM_TOKEN"), "access token")
	rootCmd.Flags().StringVar(&apiKey, "api-key", os.Getenv("PRISM_API_KEY"), "API key")
	rootCmd.Flags().StringVar(&chatID, "chat", "", "existing session id, a new one is created when empty")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func repl(client *Client) error {
	// Handle Ctrl+C
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	for {
		fmt.Print("> ")
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return nil
		case input, ok := <-lines:
			if !ok {
				return nil
			}
			var err error
			switch input {
			case "":
				continue
			case "/quit":
				fmt.Println("Bye!")
				return nil
			case "/history":
				err = client.RequestHistory()
			case "/summary":
				err = client.StartSummary()
			default:
				err = client.SendChat(input)
			}
			if err != nil {
				log.Printf("Send error: %v", err)
			}
		}
	}
}
