package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/casechat/internal/api"
	"github.com/matheus3301/casechat/internal/instance"
	"github.com/matheus3301/casechat/internal/lock"
)

func main() {
	instanceFlag := pflag.StringP("instance", "i", "", "instance name (overrides config default)")
	jsonFlag := pflag.Bool("json", false, "output in JSON format")
	ttlFlag := pflag.Duration("ttl", 24*time.Hour, "token lifetime for the token command")
	limitFlag := pflag.Int("limit", 50, "page size for the messages command")
	serviceFlag := pflag.String("service", "", "legal service for direct-chat (default Direct Consultation)")
	priorityFlag := pflag.String("priority", "", "priority for direct-chat: low, medium, high or urgent")
	pflag.Usage = printUsage
	pflag.Parse()

	name := instance.Resolve(*instanceFlag)
	if err := instance.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := pflag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := api.Dial(instance.SocketPath(name))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for instance %q: %v\n", name, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		ns := ""
		if len(args) > 1 {
			ns = args[1]
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := cmdWatch(ctx, c, ns, *jsonFlag); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out *structpb.Struct
	switch {
	case args[0] == "status":
		out, err = c.Call(ctx, api.MethodStatus, nil)
	case args[0] == "rooms":
		out, err = c.Call(ctx, api.MethodRoomStats, nil)
	case args[0] == "unread" && len(args) == 3:
		out, err = call(ctx, c, api.MethodUnreadCount, map[string]any{"case_id": args[1], "user_id": args[2]})
	case args[0] == "messages" && len(args) >= 2:
		req := map[string]any{"case_id": args[1], "limit": *limitFlag}
		if len(args) > 2 {
			req["since_id"] = args[2]
		}
		out, err = call(ctx, c, api.MethodListMessages, req)
	case args[0] == "user" && len(args) >= 4 && args[1] == "add":
		req := map[string]any{"user_id": args[2], "role": args[3]}
		if len(args) > 4 {
			req["name"] = args[4]
		}
		out, err = c.Call(ctx, api.MethodUpsertUser, req)
	case args[0] == "direct-chat" && len(args) >= 3:
		req := map[string]any{"lawyer_id": args[1], "client_id": args[2], "legal_service": *serviceFlag, "priority": *priorityFlag}
		if len(args) > 3 {
			req["title"] = args[3]
		}
		out, err = c.Call(ctx, api.MethodBootstrapDirectChat, req)
	case args[0] == "token" && len(args) >= 2:
		req := map[string]any{"user_id": args[1], "ttl_seconds": int64(ttlFlag.Seconds())}
		if len(args) > 2 {
			req["role"] = args[2]
		}
		out, err = c.Call(ctx, api.MethodIssueToken, req)
	default:
		fmt.Fprintf(os.Stderr, "unknown or incomplete command: %v\n", args)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if grpcstatus.Code(err) == codes.Unavailable {
			explainUnavailable(name)
		}
		os.Exit(1)
	}

	if *jsonFlag {
		outputJSON(out.AsMap())
		return
	}
	printResult(args[0], out)
}

// explainUnavailable says which process, if any, last owned the instance.
func explainUnavailable(name string) {
	owner, err := lock.ReadOwner(instance.Dir(name))
	if err != nil {
		fmt.Fprintf(os.Stderr, "no daemon has claimed instance %q; start casechatd --instance %s\n", name, name)
		return
	}
	fmt.Fprintf(os.Stderr, "instance %q was claimed by pid %d on %s at %s\n",
		name, owner.PID, owner.Host, owner.Since.Local().Format(time.DateTime))
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: casechatctl [--instance <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                              Show daemon status")
	fmt.Fprintln(os.Stderr, "  rooms                               Show live rooms and members")
	fmt.Fprintln(os.Stderr, "  unread <case> <user>                Show a user's unread count")
	fmt.Fprintln(os.Stderr, "  messages <case> [since_id]          List messages (--limit)")
	fmt.Fprintln(os.Stderr, "  user add <id> <role> [name]         Create or update a user")
	fmt.Fprintln(os.Stderr, "  direct-chat <lawyer> <client> [title]  Open or create a direct chat case (--service, --priority)")
	fmt.Fprintln(os.Stderr, "  token <user> [role]                 Issue an access token (--ttl)")
	fmt.Fprintln(os.Stderr, "  watch [namespace]                   Stream daemon events")
}

// call validates numeric ids before sending them.
func call(ctx context.Context, c *api.Conn, method string, req map[string]any) (*structpb.Struct, error) {
	for _, key := range []string{"case_id", "since_id"} {
		s, ok := req[key].(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%s must be a non-negative integer, got %q", key, s)
		}
		req[key] = n
	}
	return c.Call(ctx, method, req)
}

func cmdWatch(ctx context.Context, c *api.Conn, namespace string, jsonOut bool) error {
	stream, err := c.WatchEvents(ctx, namespace)
	if err != nil {
		return err
	}
	for {
		evt, err := stream.Recv()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if jsonOut {
			outputJSON(evt.AsMap())
			continue
		}
		f := evt.GetFields()
		at := time.UnixMilli(int64(f["occurred_at_ms"].GetNumberValue()))
		payload, _ := json.Marshal(f["payload"].AsInterface())
		fmt.Printf("%s %-28s %s\n", at.Format("15:04:05.000"), f["kind"].GetStringValue(), payload)
	}
}

func printResult(cmd string, out *structpb.Struct) {
	f := out.GetFields()
	switch cmd {
	case "status":
		fmt.Printf("Instance:      %s\n", f["instance"].GetStringValue())
		fmt.Printf("Uptime:        %s\n", (time.Duration(f["uptime_ms"].GetNumberValue()) * time.Millisecond).Round(time.Second))
		fmt.Printf("Connections:   %.0f\n", f["connections"].GetNumberValue())
		fmt.Printf("Rooms:         %.0f\n", f["rooms"].GetNumberValue())
		fmt.Printf("Cases:         %.0f\n", f["cases"].GetNumberValue())
		fmt.Printf("Messages:      %.0f\n", f["messages"].GetNumberValue())
		fmt.Printf("Notifications: %.0f queued, %.0f failed\n",
			f["queued_notifications"].GetNumberValue(), f["failed_notifications"].GetNumberValue())
		fmt.Printf("Schema:        v%.0f\n", f["schema_version"].GetNumberValue())
	case "rooms":
		rooms := f["rooms"].GetListValue().GetValues()
		if len(rooms) == 0 {
			fmt.Println("No live rooms.")
			return
		}
		for _, r := range rooms {
			rf := r.GetStructValue().GetFields()
			users, _ := json.Marshal(rf["users"].AsInterface())
			fmt.Printf("case %-8.0f %3.0f members %s\n", rf["case_id"].GetNumberValue(), rf["members"].GetNumberValue(), users)
		}
	case "unread":
		fmt.Printf("%.0f\n", f["unread"].GetNumberValue())
	case "messages":
		for _, m := range f["messages"].GetListValue().GetValues() {
			mf := m.GetStructValue().GetFields()
			at := time.UnixMilli(int64(mf["created_at"].GetNumberValue()))
			fmt.Printf("#%-6.0f %s %-16s %s\n", mf["id"].GetNumberValue(), at.Format("2006-01-02 15:04"),
				mf["sender_id"].GetStringValue(), mf["body"].GetStringValue())
		}
		if f["has_more"].GetBoolValue() {
			fmt.Println("(more)")
		}
	case "direct-chat":
		verb := "Existing"
		if f["created"].GetBoolValue() {
			verb = "Created"
		}
		fmt.Printf("%s case %.0f %s %q (%s, %s priority)\n", verb, f["case_id"].GetNumberValue(),
			f["case_number"].GetStringValue(), f["title"].GetStringValue(),
			f["legal_service"].GetStringValue(), f["priority"].GetStringValue())
	case "token":
		fmt.Println(f["token"].GetStringValue())
	default:
		outputJSON(out.AsMap())
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
