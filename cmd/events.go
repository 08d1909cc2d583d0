package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/wagate/internal/config"
	"github.com/nextlevelbuilder/wagate/pkg/protocol"
)

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow the gateway event stream",
	}
	cmd.AddCommand(eventsTailCmd())
	return cmd
}

func eventsTailCmd() *cobra.Command {
	var (
		addr   string
		filter []string
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print events from a running gateway until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return tailEvents(ctx, eventsURL(cfg, addr), cfg.Gateway.Token, filter)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gateway host:port (default from config)")
	cmd.Flags().StringSliceVar(&filter, "event", nil, "only print these event names")
	return cmd
}

// eventsURL builds the /ws URL. A wildcard listen host is dialed on loopback.
func eventsURL(cfg *config.Config, addr string) string {
	if addr == "" {
		host := cfg.Gateway.Host
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "127.0.0.1"
		}
		addr = net.JoinHostPort(host, strconv.Itoa(cfg.Gateway.Port))
	}
	u := url.URL{Scheme: "ws", Host: addr, Path: protocol.PathEvents}
	return u.String()
}

func tailEvents(ctx context.Context, wsURL, token string, filter []string) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := &websocket.DialOptions{}
	if token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + token}}
	}
	conn, _, err := websocket.Dial(dialCtx, wsURL, opts)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	want := make(map[string]bool, len(filter))
	for _, f := range filter {
		want[f] = true
	}

	fmt.Fprintf(os.Stderr, "connected to %s\n", wsURL)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				conn.Close(websocket.StatusNormalClosure, "")
				return nil
			}
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				return fmt.Errorf("stream closed: %d %s", ce.Code, ce.Reason)
			}
			return fmt.Errorf("read event: %w", err)
		}

		var frame protocol.EventFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			fmt.Fprintf(os.Stderr, "skipping malformed frame: %v\n", err)
			continue
		}
		if len(want) > 0 && !want[frame.Event] {
			continue
		}
		payload, _ := json.Marshal(frame.Payload)
		fmt.Printf("%s #%d %s %s\n", time.Now().Format("15:04:05"), frame.Seq, frame.Event, payload)
	}
}
