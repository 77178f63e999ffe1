package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
	"github.com/BrandonDHaskell/Argus/internal/grpcapi"
)

// monitorEvent mirrors the server's websocket frames.
type monitorEvent struct {
	Event  string             `json:"event"`
	ExamID string             `json:"exam_id"`
	Exam   *types.ExamSession `json:"exam"`
	Error  string             `json:"error"`
	types.Alert
}

func runWatch(args []string) error {
	var (
		server   string
		grpcAddr string
		token    string
		exams    []string
	)
	fs := pflag.NewFlagSet("argusctl watch", pflag.ContinueOnError)
	fs.StringVar(&server, "server", envDefault("ARGUS_SERVER", "http://localhost:8080"), "server base URL (websocket feed)")
	fs.StringVar(&grpcAddr, "grpc", "", "watch over gRPC at this address instead of the websocket feed")
	fs.StringVar(&token, "token", envDefault("ARGUS_TOKEN", ""), "admin bearer token (default $ARGUS_TOKEN)")
	fs.StringSliceVar(&exams, "exam", nil, "exam id to watch; repeatable")

	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}
	if token == "" {
		return errors.New("--token is required")
	}
	if len(exams) == 0 {
		return errors.New("at least one --exam is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if grpcAddr != "" {
		return watchGRPC(ctx, grpcAddr, token, exams)
	}
	return watchWebsocket(ctx, server, token, exams)
}

func watchWebsocket(ctx context.Context, server, token string, exams []string) error {
	u, err := url.Parse(strings.TrimRight(server, "/") + "/exam/monitor")
	if err != nil {
		return fmt.Errorf("server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"token": {token}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for _, id := range exams {
		if err := conn.WriteJSON(map[string]string{"type": "join-admin", "exam_id": id}); err != nil {
			return fmt.Errorf("join %s: %w", id, err)
		}
	}

	for {
		var ev monitorEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("feed closed: %w", err)
		}
		printEvent(ev)
	}
}

func watchGRPC(ctx context.Context, addr, token string, exams []string) error {
	client, err := grpcapi.Dial(addr, token)
	if err != nil {
		return err
	}
	defer client.Close()

	errs := make(chan error, len(exams))
	for _, id := range exams {
		w, err := client.Watch(ctx, id)
		if err != nil {
			return fmt.Errorf("watch %s: %w", id, err)
		}
		printEvent(monitorEvent{Event: "joined", ExamID: id, Alert: types.Alert{Status: w.Status}})

		go func(id string) {
			for {
				a, err := w.Recv()
				if err != nil {
					errs <- fmt.Errorf("watch %s: %w", id, err)
					return
				}
				printEvent(monitorEvent{Event: string(a.Type), ExamID: id, Alert: a})
			}
		}(id)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errs:
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
}

func printEvent(ev monitorEvent) {
	ts := time.Now().Format("15:04:05")
	switch ev.Event {
	case "joined":
		status, count := ev.Status, -1
		if ev.Exam != nil {
			status, count = ev.Exam.Status, ev.Exam.ViolationCount
		}
		if count >= 0 {
			color.Green("[%s] watching %s (status=%s, %d violations so far)", ts, ev.ExamID, status, count)
		} else {
			color.Green("[%s] watching %s (status=%s)", ts, ev.ExamID, status)
		}
	case "left":
		color.White("[%s] stopped watching %s", ts, ev.ExamID)
	case string(types.AlertViolation):
		evidence := ""
		if ev.Evidence != "" {
			evidence = fmt.Sprintf(" evidence=%d bytes", len(ev.Evidence))
		}
		color.Red("[%s] %s #%d %s%s", ts, ev.ExamSessionID, ev.Seq, ev.Kind, evidence)
	case string(types.AlertStatus):
		color.Yellow("[%s] %s %s -> %s", ts, ev.ExamSessionID, ev.PrevStatus, ev.Status)
	case "error":
		color.Red("[%s] %s: %s", ts, ev.ExamID, ev.Error)
	default:
		fmt.Printf("[%s] %+v\n", ts, ev)
	}
}
