package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fortyx-net/livechat/internal/config"
	"github.com/fortyx-net/livechat/pkg/protocol"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "health":
		cmdHealth()
	case "tickets":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: livechatctl tickets <list|show>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdTicketsList(os.Args[3:])
		case "show":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: livechatctl tickets show <sessionId>")
				os.Exit(1)
			}
			cmdTicketsShow(os.Args[3])
		default:
			fmt.Fprintf(os.Stderr, "unknown tickets subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "reply":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "usage: livechatctl reply <sessionId> <message>")
			os.Exit(1)
		}
		cmdReply(os.Args[2], strings.Join(os.Args[3:], " "))
	case "close":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: livechatctl close <sessionId>")
			os.Exit(1)
		}
		cmdClose(os.Args[2])
	case "logs":
		cmdLogs(os.Args[2:])
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: livechatctl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func cmdHealth() {
	body, err := apiGet("/api/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdTicketsList(args []string) {
	fs := flag.NewFlagSet("tickets list", flag.ExitOnError)
	openOnly := fs.Bool("open", false, "Only show open tickets")
	fs.Parse(args)

	path := "/api/tickets"
	if *openOnly {
		path += "?open=true"
	}
	body, err := apiGet(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var tickets []struct {
		SessionID string    `json:"sessionId"`
		Email     string    `json:"email"`
		CreatedAt time.Time `json:"createdAt"`
		Closed    bool      `json:"closed"`
		Messages  int       `json:"messages"`
	}
	json.Unmarshal(body, &tickets)
	for _, t := range tickets {
		status := "open"
		if t.Closed {
			status = "closed"
		}
		fmt.Printf("%-32s %-8s %3d msgs  %-24s %s\n",
			t.SessionID, status, t.Messages, t.Email, t.CreatedAt.Format(time.RFC3339))
	}
}

func cmdTicketsShow(sessionID string) {
	body, err := apiGet("/api/tickets/" + sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var t protocol.Ticket
	if err := json.Unmarshal(body, &t); err != nil {
		fmt.Println(prettyJSON(body))
		return
	}
	status := "open"
	if t.Closed {
		status = "closed"
	}
	fmt.Printf("Session: %s\nEmail:   %s\nStatus:  %s\nCreated: %s\n\n",
		t.SessionID, t.Email, status, t.CreatedAt.Format(time.RFC3339))
	for _, m := range t.Messages {
		fmt.Printf("[%s] %-7s %s\n", m.Timestamp.Format("15:04:05"), m.From, m.Text)
	}
}

func cmdReply(sessionID, message string) {
	body, err := apiPost("/api/livechat/agent-reply",
		protocol.AgentReplyRequest{SessionID: sessionID, Message: message})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdClose(sessionID string) {
	body, err := apiPost("/api/livechat/ticket-closed",
		protocol.CloseRequest{SessionID: sessionID})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	level := fs.String("level", "", "Minimum level (debug|info|warn|error)")
	limit := fs.Int("limit", 100, "Max entries")
	fs.Parse(args)

	path := fmt.Sprintf("/api/logs?limit=%d", *limit)
	if *level != "" {
		path += "&level=" + *level
	}
	body, err := apiGet(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var entries []struct {
		Time    time.Time `json:"time"`
		Level   string    `json:"level"`
		Message string    `json:"message"`
	}
	json.Unmarshal(body, &entries)
	for _, e := range entries {
		fmt.Printf("%s %-5s %s\n", e.Time.Format(time.RFC3339), e.Level, e.Message)
	}
}

func cmdConfigValidate(path string) {
	if _, err := config.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- Helpers ---

func apiGet(path string) ([]byte, error) {
	resp, err := httpClient().Get(baseURL() + path)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return readResponse(resp)
}

func apiPost(path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient().Post(baseURL()+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return readResponse(resp)
}

func readResponse(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func baseURL() string {
	if v := os.Getenv("LIVECHAT_API_URL"); v != "" {
		return v
	}
	return "http://localhost:3000"
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func printUsage() {
	fmt.Println("livechatctl — livechat operations CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  health                       Check daemon health")
	fmt.Println("  tickets list [--open]        List tickets")
	fmt.Println("  tickets show <sessionId>     Show full ticket transcript")
	fmt.Println("  reply <sessionId> <message>  Record a support reply")
	fmt.Println("  close <sessionId>            Mark a ticket closed")
	fmt.Println("  logs [--level l] [--limit n] Tail daemon logs")
	fmt.Println("  config validate <path>       Validate config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  LIVECHAT_API_URL  Daemon URL (default: http://localhost:3000)")
	fmt.Println()
}
