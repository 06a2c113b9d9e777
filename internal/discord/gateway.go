package discord

import (
	"fmt"
	"log"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// Gateway opcodes
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

// IntentGuildMessages is the only intent the bot needs; slash commands
// and components arrive regardless of intents.
const IntentGuildMessages = 1 << 9

type gatewayPayload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// User is the Discord user attached to an interaction
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Interaction is an incoming slash command or component press
type Interaction struct {
	ID        string `json:"id"`
	Type      int    `json:"type"`
	Token     string `json:"token"`
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	Member    *struct {
		User User `json:"user"`
	} `json:"member"`
	User *User `json:"user"`
	Data struct {
		Name          string `json:"name"`
		CustomID      string `json:"custom_id"`
		ComponentType int    `json:"component_type"`
		Options       []struct {
			Name  string          `json:"name"`
			Value json.RawMessage `json:"value"`
		} `json:"options"`
	} `json:"data"`
	Message *struct {
		ID string `json:"id"`
	} `json:"message"`
}

// Sender resolves the invoking user whether the interaction came from a
// guild or a DM
func (i *Interaction) Sender() User {
	if i.Member != nil {
		return i.Member.User
	}
	if i.User != nil {
		return *i.User
	}
	return User{}
}

// StringOption returns a named slash command option value
func (i *Interaction) StringOption(name string) string {
	for _, opt := range i.Data.Options {
		if opt.Name == name {
			var s string
			if err := json.Unmarshal(opt.Value, &s); err == nil {
				return s
			}
		}
	}
	return ""
}

// Gateway maintains a websocket connection to Discord and dispatches
// interaction events. It reconnects on failure until stopped.
type Gateway struct {
	url     string
	token   string
	intents int
	handler func(Interaction)

	done chan struct{}
	wg   sync.WaitGroup
}

func NewGateway(url, token string, intents int, handler func(Interaction)) *Gateway {
	return &Gateway{
		url:     url,
		token:   token,
		intents: intents,
		handler: handler,
		done:    make(chan struct{}),
	}
}

func (g *Gateway) Start() {
	g.wg.Add(1)
	go g.run()
}

func (g *Gateway) Stop() {
	close(g.done)
	g.wg.Wait()
}

func (g *Gateway) run() {
	defer g.wg.Done()

	backoff := time.Second
	for {
		select {
		case <-g.done:
			return
		default:
		}

		if err := g.session(); err != nil {
			log.Printf("Gateway session ended: %v", err)
		}

		select {
		case <-g.done:
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// session runs one connection from dial to disconnect
func (g *Gateway) session() error {
	conn, _, err := websocket.DefaultDialer.Dial(g.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial gateway: %w", err)
	}
	defer conn.Close()

	var hello gatewayPayload
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("failed to read hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("expected hello, got op %d", hello.Op)
	}
	var helloData struct {
		HeartbeatInterval int `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(hello.D, &helloData); err != nil {
		return fmt.Errorf("malformed hello: %w", err)
	}

	if err := g.identify(conn); err != nil {
		return err
	}

	var mu sync.Mutex
	var lastSeq *int64
	heartbeat := func() error {
		mu.Lock()
		seq := lastSeq
		mu.Unlock()
		payload, _ := json.Marshal(gatewayPayload{Op: opHeartbeat, S: seq})
		return conn.WriteMessage(websocket.TextMessage, payload)
	}

	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		ticker := time.NewTicker(time.Duration(helloData.HeartbeatInterval) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := heartbeat(); err != nil {
					conn.Close()
					return
				}
			case <-sessionDone:
				return
			case <-g.done:
				conn.Close()
				return
			}
		}
	}()

	for {
		var payload gatewayPayload
		if err := conn.ReadJSON(&payload); err != nil {
			select {
			case <-g.done:
				return nil
			default:
			}
			return fmt.Errorf("gateway read failed: %w", err)
		}

		switch payload.Op {
		case opDispatch:
			mu.Lock()
			lastSeq = payload.S
			mu.Unlock()
			g.dispatch(payload)
		case opHeartbeat:
			if err := heartbeat(); err != nil {
				return err
			}
		case opReconnect, opInvalidSession:
			return fmt.Errorf("gateway requested reconnect (op %d)", payload.Op)
		case opHeartbeatAck:
		}
	}
}

func (g *Gateway) identify(conn *websocket.Conn) error {
	identify := map[string]interface{}{
		"op": opIdentify,
		"d": map[string]interface{}{
			"token":   g.token,
			"intents": g.intents,
			"properties": map[string]string{
				"os":      "linux",
				"browser": "synapse",
				"device":  "synapse",
			},
		},
	}
	payload, err := json.Marshal(identify)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to identify: %w", err)
	}
	return nil
}

func (g *Gateway) dispatch(payload gatewayPayload) {
	switch payload.T {
	case "READY":
		var ready struct {
			User User `json:"user"`
		}
		if err := json.Unmarshal(payload.D, &ready); err == nil {
			log.Printf("Gateway ready as %s", ready.User.Username)
		}
	case "INTERACTION_CREATE":
		var interaction Interaction
		if err := json.Unmarshal(payload.D, &interaction); err != nil {
			log.Printf("Dropping malformed interaction: %v", err)
			return
		}
		if g.handler != nil {
			g.handler(interaction)
		}
	}
}
