// Command viewing-probe announces presence against a running viewing-server
// and prints what it observes.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/viewing-server/internal/proto"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "viewing-probe",
		Short:        "Smoke-test a viewing-server",
		SilenceUsage: true,
	}
	cmd.AddCommand(newPushCmd(), newPollCmd())
	return cmd
}

type pushOptions struct {
	addr    string
	room    string
	path    string
	id      string
	login   string
	timeout time.Duration
}

func newPushCmd() *cobra.Command {
	opts := pushOptions{}
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Identify over WebSocket and print roster frames",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPush(ctx, opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", "ws://localhost:8080/ws", "WebSocket address")
	flags.StringVar(&opts.room, "room", "", "room key, e.g. acme/widget-42")
	flags.StringVar(&opts.path, "path", "/acme/widget/issues/42", "document path used when --room is empty")
	flags.StringVar(&opts.id, "id", "1", "viewer id")
	flags.StringVar(&opts.login, "login", "tester", "viewer login")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "how long to stay connected")
	return cmd
}

func runPush(ctx context.Context, opts pushOptions, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	u, err := url.Parse(opts.addr)
	if err != nil {
		return fmt.Errorf("parse addr: %w", err)
	}
	q := u.Query()
	if opts.room != "" {
		q.Set("room", opts.room)
	} else {
		q.Set("path", opts.path)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	identify := map[string]string{"type": proto.InboundTypeGithubUser, "id": opts.id, "login": opts.login}
	if err := wsjson.Write(ctx, conn, identify); err != nil {
		return fmt.Errorf("send identify: %w", err)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// Timeout or interrupt ends the probe normally.
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var inbound proto.Inbound
		if err := json.Unmarshal(data, &inbound); err != nil {
			fmt.Fprintf(out, "raw: %s\n", data)
			continue
		}

		switch inbound.Type {
		case proto.OutboundTypeUserStatus:
			var msg proto.UserStatus
			if err := json.Unmarshal(data, &msg); err == nil {
				fmt.Fprintf(out, "status: %s %s (%s)\n", msg.Login, msg.Action, msg.UserID)
			}
		case proto.OutboundTypeConnectedUsers:
			var msg proto.ConnectedUsers
			if err := json.Unmarshal(data, &msg); err == nil {
				logins := make([]string, 0, len(msg.Users))
				for _, u := range msg.Users {
					logins = append(logins, u.Login)
				}
				fmt.Fprintf(out, "viewers: %s\n", strings.Join(logins, ", "))
			}
		default:
			fmt.Fprintf(out, "unknown frame: %s\n", data)
		}
	}
}

type pollOptions struct {
	addr     string
	username string
	orgID    string
	issueURL string
	session  string
	interval time.Duration
	count    int
	leave    bool
}

func newPollCmd() *cobra.Command {
	opts := pollOptions{}
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Heartbeat the viewing API and print the viewers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPoll(ctx, opts, &http.Client{Timeout: 5 * time.Second}, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", "http://localhost:8080", "server base URL")
	flags.StringVar(&opts.username, "username", "tester", "viewer login")
	flags.StringVar(&opts.orgID, "org", "acme", "organisation id")
	flags.StringVar(&opts.issueURL, "issue-url", "https://github.com/acme/widget/issues/42", "issue URL")
	flags.StringVar(&opts.session, "session", uuid.NewString(), "session id")
	flags.DurationVar(&opts.interval, "interval", 15*time.Second, "heartbeat interval")
	flags.IntVar(&opts.count, "count", 3, "number of heartbeats, 0 for unlimited")
	flags.BoolVar(&opts.leave, "leave", true, "leave explicitly when done")
	return cmd
}

func runPoll(ctx context.Context, opts pollOptions, client *http.Client, out io.Writer) error {
	body := proto.ViewingRequest{
		Username:  opts.username,
		OrgID:     opts.orgID,
		IssueURL:  opts.issueURL,
		SessionID: opts.session,
	}
	endpoint := strings.TrimRight(opts.addr, "/") + "/api/viewing"

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	for i := 0; opts.count == 0 || i < opts.count; i++ {
		if i > 0 {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return leave(opts, client, endpoint, body)
			}
		}

		var resp proto.HeartbeatResponse
		if err := doJSON(ctx, client, http.MethodPost, endpoint, body, &resp); err != nil {
			return fmt.Errorf("heartbeat: %w", err)
		}
		fmt.Fprintf(out, "viewers: %s\n", strings.Join(resp.Viewers, ", "))
	}

	return leave(opts, client, endpoint, body)
}

func leave(opts pollOptions, client *http.Client, endpoint string, body proto.ViewingRequest) error {
	if !opts.leave {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var resp proto.LeaveResponse
	if err := doJSON(ctx, client, http.MethodDelete, endpoint, body, &resp); err != nil {
		return fmt.Errorf("leave: %w", err)
	}
	return nil
}

func doJSON(ctx context.Context, client *http.Client, method, endpoint string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: %s: %s", method, endpoint, resp.Status, bytes.TrimSpace(msg))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
