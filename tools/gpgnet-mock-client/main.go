package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/JeroenDeDauw/server/server/gpgnet"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"
)

var (
	flagAddr      = flag.String("addr", "ws://127.0.0.1:8001/ws", "Lobby WebSocket address")
	flagServerKey = flag.String("serverkey", "defaultkey", "Server key used to sign a development token")
	flagToken     = flag.String("token", "", "Session token; overrides -serverkey")
	flagUID       = flag.Int64("uid", 1, "Player id")
	flagLogin     = flag.String("login", "MockClient", "Player login")
	flagAction    = flag.String("action", "host", "Lobby action: host | join")
	flagGameID    = flag.Int64("game", 0, "Game id (for -action=join)")
	flagPassword  = flag.String("password", "", "Game password")
	flagTitle     = flag.String("title", "Mock game", "Game title (for -action=host)")
	flagMap       = flag.String("map", "scmp_007", "Map name (for -action=host)")
	flagTeam      = flag.Int("team", 2, "Team to sit on")
	flagSlot      = flag.Int("slot", 1, "Start spot and army index")
	flagLaunch    = flag.Duration("launch", 0, "Launch this long after the lobby opens (host only, 0 waits for an interrupt)")
	flagResult    = flag.String("result", "victory 10", "Result reported for our own army once launched")
)

var logger = log.New(os.Stdout, "[gpgnet-mock-client] ", log.LstdFlags|log.Lmsgprefix)

func token() string {
	if *flagToken != "" {
		return *flagToken
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid":   *flagUID,
		"login": *flagLogin,
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	})
	signed, err := t.SignedString([]byte(*flagServerKey))
	if err != nil {
		logger.Fatalf("sign token: %v", err)
	}
	return signed
}

func dial(addr string) (*websocket.Conn, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse addr: %w", err)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.Dial(u.String(), http.Header{"Authorization": []string{"Bearer " + token()}})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

func send(conn *websocket.Conn, command string, args ...any) error {
	env := gpgnet.Envelope{Command: command, Target: "game", Args: make([]json.RawMessage, 0, len(args))}
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", command, err)
		}
		env.Args = append(env.Args, b)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", command, err)
	}
	logger.Printf("→ %s %v", command, args)
	return conn.WriteMessage(websocket.TextMessage, data)
}

func recv(conn *websocket.Conn) (*gpgnet.Envelope, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	var env gpgnet.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return &env, nil
}

// play answers the lobby handshake until the game ends or the server closes the socket.
func play(conn *websocket.Conn, host bool) error {
	launched := false
	for {
		env, err := recv(conn)
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			return err
		}

		switch env.Command {
		case "notice":
			logger.Printf("← notice (%s)\n%s", env.Style, env.Text)
			continue
		case "ping":
			continue
		}
		logger.Printf("← %s %s", env.Command, env.Args)

		switch env.Command {
		case "game_launch":
			err = send(conn, "GameState", "Idle")
		case "CreateLobby":
			err = send(conn, "GameState", "Lobby")
			if err == nil && host {
				err = seat(conn)
			}
			if err == nil && host && *flagLaunch > 0 {
				time.Sleep(*flagLaunch)
				err = send(conn, "GameState", "Launching")
				launched = true
			}
		case "JoinGame":
			err = seat(conn)
		}
		if err != nil {
			return err
		}

		if launched {
			if err := send(conn, "GameResult", *flagSlot, *flagResult); err != nil {
				return err
			}
			return send(conn, "GameState", "Ended")
		}
	}
}

// seat takes our team and slot; the server only honours it from the host.
func seat(conn *websocket.Conn) error {
	for _, opt := range []struct {
		key   string
		value int
	}{
		{"Team", *flagTeam},
		{"StartSpot", *flagSlot},
		{"Army", *flagSlot},
	} {
		if err := send(conn, "PlayerOption", *flagUID, opt.key, opt.value); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	flag.Parse()

	conn, err := dial(*flagAddr)
	if err != nil {
		logger.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	switch *flagAction {
	case "host":
		err = send(conn, "game_host", *flagTitle, *flagMap, "public", *flagPassword, "global")
	case "join":
		err = send(conn, "game_join", *flagGameID, *flagPassword)
	default:
		err = fmt.Errorf("unknown action %q; use host or join", *flagAction)
	}
	if err != nil {
		logger.Fatalf("lobby request: %v", err)
	}

	if err := play(conn, *flagAction == "host"); err != nil {
		logger.Fatalf("play: %v", err)
	}

	if err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
		logger.Printf("close: %v", err)
	}
	logger.Println("Done.")
}
