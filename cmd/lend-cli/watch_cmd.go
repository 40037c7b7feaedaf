package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"nhooyr.io/websocket"

	"lendcore/core"
)

func runWatchCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		cursor  uint64
		rawJSON bool
	)
	fs.Uint64Var(&cursor, "cursor", 0, "replay events recorded after this sequence")
	fs.BoolVar(&rawJSON, "json", false, "print raw event envelopes, one JSON object per line")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	streamURL, err := eventStreamURL(rpcEndpoint, cursor)
	if err != nil {
		return printArgError(stderr, err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	opts := &websocket.DialOptions{}
	if token := strings.TrimSpace(rpcAuthToken); token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	conn, _, err := websocket.Dial(dialCtx, streamURL, opts)
	if err != nil {
		fmt.Fprintf(stderr, "connect %s: %v\n", streamURL, err)
		return 1
	}
	defer conn.Close(websocket.StatusNormalClosure, "watch finished")

	fmt.Fprintf(stderr, "Streaming events from %s. Press Ctrl-C to stop.\n", streamURL)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return 0
			}
			fmt.Fprintf(stderr, "stream closed: %v\n", err)
			return 1
		}
		if rawJSON {
			fmt.Fprintln(stdout, string(data))
			continue
		}
		var evt core.StreamEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			fmt.Fprintf(stderr, "skipping malformed frame: %v\n", err)
			continue
		}
		fmt.Fprintln(stdout, formatStreamEvent(evt))
	}
}

// eventStreamURL maps the RPC endpoint onto the node's websocket route,
// carrying the resume cursor when one was given.
func eventStreamURL(endpoint string, cursor uint64) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("endpoint scheme %q is not supported", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("endpoint host required")
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/ws/events"
	if cursor > 0 {
		parsed.RawQuery = "cursor=" + strconv.FormatUint(cursor, 10)
	} else {
		parsed.RawQuery = ""
	}
	return parsed.String(), nil
}

// formatStreamEvent renders one event per line with attributes in a
// stable order.
func formatStreamEvent(evt core.StreamEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s", evt.Sequence, time.Unix(evt.Timestamp, 0).UTC().Format(time.RFC3339))
	if evt.Event == nil {
		b.WriteString(" <empty>")
		return b.String()
	}
	fmt.Fprintf(&b, " %s", evt.Event.Type)
	keys := make([]string, 0, len(evt.Event.Attributes))
	for k := range evt.Event.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, evt.Event.Attributes[k])
	}
	return b.String()
}
