package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"clayformer.ai/internal/protocol"
)

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "server base url")
		forms    = flag.Int("forms", 4, "forms shaped side by side")
		runs     = flag.Int("runs", 20, "total runs to start before exiting (0 = forever)")
		material = flag.String("material", "clay_ball", "item to hold when an engine pauses")
		refill   = flag.Duration("refill", 2*time.Second, "delay before handing material back after a pause")
		seed     = flag.Int64("seed", 0, "recipe choice seed (0 = time based)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	cl := &client{base: strings.TrimRight(*baseURL, "/"), http: &http.Client{Timeout: 10 * time.Second}}

	recipes, err := cl.recipes()
	if err != nil {
		logger.Fatalf("list recipes: %v", err)
	}
	if len(recipes) == 0 {
		logger.Fatalf("server has no recipes")
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	d := newDriver(recipes, *forms, *runs, rand.New(rand.NewSource(*seed)))

	wsURL, err := observeURL(cl.base)
	if err != nil {
		logger.Fatalf("observe url: %v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(subscribe()); err != nil {
		logger.Fatalf("send SUBSCRIBE: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	go keepAlive(ctx, conn)

	for _, req := range d.initial() {
		cl.startForm(logger, req)
	}

	events := make(chan protocol.EventMsg, 64)
	go func() {
		defer close(events)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeEvent {
				continue
			}
			var ev protocol.EventMsg
			if err := json.Unmarshal(msg, &ev); err != nil {
				continue
			}
			events <- ev
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				logger.Printf("observer closed")
				return
			}
			logger.Printf("%s form=%v run=%s layer=%d applied=%d %s", ev.Kind, ev.Form, ev.RunID, ev.Layer, ev.Applied, ev.Status)
			step := d.observe(ev)
			if step.refill {
				time.AfterFunc(*refill, func() { cl.hold(logger, *material) })
			}
			if step.next != nil {
				cl.startForm(logger, *step.next)
			}
			if d.finished() {
				logger.Printf("done: started=%d finished=%d", d.started, d.done)
				return
			}
		}
	}
}

func subscribe() protocol.SubscribeMsg {
	return protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version}
}

// keepAlive resends the subscription so the server's read deadline never
// lapses on a quiet bench.
func keepAlive(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(30 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := conn.WriteJSON(subscribe()); err != nil {
				return
			}
		}
	}
}

func observeURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/observe"
	return u.String(), nil
}

type client struct {
	base string
	http *http.Client
}

func (c *client) recipes() ([]string, error) {
	resp, err := c.http.Get(c.base + "/v1/recipes")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var list []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(list))
	for _, r := range list {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (c *client) post(path string, body any) (int, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (c *client) startForm(logger *log.Logger, req protocol.FormRequest) {
	code, err := c.post("/v1/forms", req)
	if err != nil || code != http.StatusOK {
		logger.Printf("start %s at %v: code=%d err=%v", req.Recipe, req.Pos, code, err)
	}
}

func (c *client) hold(logger *log.Logger, item string) {
	code, err := c.post("/v1/operator", protocol.OperatorRequest{Held: item})
	if err != nil || code != http.StatusOK {
		logger.Printf("hold %s: code=%d err=%v", item, code, err)
	}
}
