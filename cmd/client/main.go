package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kristofsajdak/claude-whiteboard/pkg/canvas"
	"github.com/kristofsajdak/claude-whiteboard/pkg/reconciler"
	"github.com/kristofsajdak/claude-whiteboard/pkg/wire"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "127.0.0.1:3000", "the address to connect to")
	nameVar := flag.String("name", fmt.Sprintf("headless-%d", os.Getpid()), "display name to announce")
	flag.Parse()

	baseUrl, err := url.Parse("ws://" + *addrVar)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := new(sync.WaitGroup)

	c := &client{baseUrl: baseUrl, name: *nameVar}

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.connectAndSyncContinuously(ctx)
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()

	wg.Wait()
	return nil
}

// memoryWidget is the stand-in drawing surface for the headless client: it
// just remembers the merged element state the reconciler hands it.
type memoryWidget struct {
	mu       sync.Mutex
	elements []canvas.Element
}

func (w *memoryWidget) SetElements(elements []canvas.Element, refreshed []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.elements = elements
	if len(refreshed) > 0 {
		slog.Info("refreshed from remote", "elements", refreshed)
	}
}

func (w *memoryWidget) snapshot() []canvas.Element {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]canvas.Element, len(w.elements))
	copy(out, w.elements)
	return out
}

// connSender serializes writes on the shared websocket connection.
type connSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *connSender) Send(msg wire.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

type client struct {
	baseUrl *url.URL
	name    string
}

func (c *client) connectAndSyncContinuously(ctx context.Context) {
	for {
		if err := c.connectAndSync(ctx); err != nil {
			slog.Error("failed to sync", "err", err)
		}
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			slog.Info("stopping sync")
			return
		}
	}
}

func (c *client) connectAndSync(ctx context.Context) error {
	u := c.baseUrl.JoinPath("ws")
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()

	widget := &memoryWidget{}
	sender := &connSender{conn: conn}
	r := reconciler.New(sender, widget, reconciler.WithParticipantsFunc(func(count int) {
		slog.Info("participants", "count", count)
	}))
	r.Connecting()
	r.Connected()
	defer r.Disconnected()

	if err := sender.Send(wire.NewClientName(c.name)); err != nil {
		return fmt.Errorf("failed to announce name: %w", err)
	}

	editCtx, stopEdits := context.WithCancel(ctx)
	defer stopEdits()
	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.editRandomlyContinuously(editCtx, widget, r)
	}()

	go func() {
		<-editCtx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			stopEdits()
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read: %w", err)
		}
		r.HandleFrame(data)
	}
}

// editRandomlyContinuously moves a rectangle owned by this client around on
// a jittered timer, exercising the debounce and fingerprint paths.
func (c *client) editRandomlyContinuously(ctx context.Context, widget *memoryWidget, r *reconciler.Reconciler) {
	id := fmt.Sprintf("headless-%d", os.Getpid())
	for {
		t := time.NewTimer(time.Second + time.Second*time.Duration(rand.Intn(5)))
		select {
		case <-t.C:
			elements := widget.snapshot()
			found := false
			for i := range elements {
				if elements[i].ID == id {
					elements[i].X = float64(rand.Intn(800))
					elements[i].Y = float64(rand.Intn(600))
					elements[i].Version++
					found = true
					break
				}
			}
			if !found {
				elements = append(elements, canvas.Element{
					ID: id, Type: "rectangle",
					X: float64(rand.Intn(800)), Y: float64(rand.Intn(600)),
					Width: 120, Height: 80, Version: 1,
				})
			}
			widget.SetElements(elements, nil)
			r.LocalEdit(elements, nil)
			slog.Info("moved", "id", id)
		case <-ctx.Done():
			t.Stop()
			slog.Info("stopping scheduled edits")
			return
		}
	}
}
