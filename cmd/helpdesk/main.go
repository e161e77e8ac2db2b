// Command helpdesk is the helpdesk CLI client.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/GoCodeAlone/helpdesk/internal/version"
)

const defaultServer = "http://localhost:9090"

func main() {
	var (
		serverURL = flag.String("server", envOr("HELPDESK_URL", defaultServer), "helpdesk server URL (or $HELPDESK_URL)")
		token     = flag.String("token", os.Getenv("HELPDESK_TOKEN"), "JWT auth token (or $HELPDESK_TOKEN)")
	)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cli := &Client{
		BaseURL:    strings.TrimRight(*serverURL, "/"),
		Token:      *token,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}

	cmd := args[0]
	rest := args[1:]

	var err error
	switch cmd {
	case "version":
		err = cmdVersion(rest)
	case "status":
		err = cli.cmdStatus(rest)
	case "login":
		err = cli.cmdLogin(rest)
	case "tasks":
		err = cli.cmdTasks(rest)
	case "task":
		err = cli.cmdTask(rest)
	case "messages":
		err = cli.cmdMessages(rest)
	case "serve":
		fmt.Fprintln(os.Stderr, "use helpdeskd to run the server")
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `helpdesk: Helpdesk CLI

Usage:
  helpdesk [flags] <command> [args]

Flags:
  --server  <url>    server URL (default: http://localhost:9090, or $HELPDESK_URL)
  --token   <token>  JWT auth token (or $HELPDESK_TOKEN)

Commands:
  version                               print version
  status                                show server status
  login <user> <password>               print a token for $HELPDESK_TOKEN
  tasks [--status s] [--filter f] [--limit n]
                                        list tasks
  task create [flags] <title>           create a task
  task get <id>                         show a task
  task status <id> <status>             change a task's status
  task assign <id> <user>               assign a task
  task rate <id> <1-5> [comment]        rate a completed task
  task history <id>                     show a task's history
  messages [--task id] [--limit n]      show recent notifications
`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// --- version ---

func cmdVersion(_ []string) error {
	fmt.Printf("helpdesk %s (commit %s, built %s)\n",
		version.Version, version.Commit, version.BuildDate)
	return nil
}

// Client holds HTTP client state for CLI commands.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// do sends body (JSON-encoded when non-nil) and decodes the response into v
// (may be nil).
func (c *Client) do(method, path string, body, v any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s (%d %s)", e.Error, resp.StatusCode, e.Code)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if v != nil && resp.ContentLength != 0 {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

func (c *Client) get(path string, v any) error {
	return c.do(http.MethodGet, path, nil, v)
}

// --- status ---

func (c *Client) cmdStatus(_ []string) error {
	var result map[string]any
	if err := c.get("/api/status", &result); err != nil {
		return err
	}
	fmt.Printf("status:  %s\n", strVal(result["status"]))
	fmt.Printf("version: %s\n", strVal(result["version"]))
	if up, ok := result["uptime_seconds"]; ok {
		fmt.Printf("uptime:  %ss\n", strVal(up))
	}
	return nil
}

// --- login ---

func (c *Client) cmdLogin(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: helpdesk login <user> <password>")
	}
	var result struct {
		Token string `json:"token"`
	}
	body := map[string]string{"username": args[0], "password": args[1]}
	if err := c.do(http.MethodPost, "/api/auth/login", body, &result); err != nil {
		return err
	}
	fmt.Println(result.Token)
	return nil
}

// --- tasks ---

func (c *Client) cmdTasks(args []string) error {
	fs := flag.NewFlagSet("tasks", flag.ContinueOnError)
	status := fs.String("status", "", "only tasks in this status")
	filter := fs.String("filter", "", `filter expression, e.g. priority = "high"`)
	limit := fs.Int("limit", 0, "maximum number of tasks")
	if err := fs.Parse(args); err != nil {
		return err
	}

	q := url.Values{}
	if *status != "" {
		q.Set("status", *status)
	}
	if *filter != "" {
		q.Set("filter", *filter)
	}
	if *limit > 0 {
		q.Set("limit", strconv.Itoa(*limit))
	}
	path := "/api/v1/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var tasks []map[string]any
	if err := c.get(path, &tasks); err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("no tasks")
		return nil
	}
	fmt.Printf("%-20s %-30s %-12s %-9s %-15s\n", "ID", "TITLE", "STATUS", "PRIORITY", "ASSIGNED")
	fmt.Println(strings.Repeat("-", 90))
	for _, t := range tasks {
		fmt.Printf("%-20s %-30s %-12s %-9s %-15s\n",
			strVal(t["id"]),
			truncate(strVal(t["title"]), 29),
			strVal(t["status"]),
			strVal(t["priority"]),
			truncate(strVal(t["assigned_to"]), 14),
		)
	}
	return nil
}

// --- task subcommands ---

func (c *Client) cmdTask(args []string) error {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: helpdesk task <create|get|status|assign|rate|history> ...")
		os.Exit(1)
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "create":
		return c.taskCreate(rest)
	case "get":
		if len(rest) != 1 {
			return fmt.Errorf("usage: helpdesk task get <id>")
		}
		var t map[string]any
		if err := c.get("/api/v1/tasks/"+url.PathEscape(rest[0]), &t); err != nil {
			return err
		}
		printTask(t)
	case "status":
		if len(rest) != 2 {
			return fmt.Errorf("usage: helpdesk task status <id> <status>")
		}
		var t map[string]any
		body := map[string]string{"status": rest[1]}
		if err := c.do(http.MethodPatch, "/api/v1/tasks/"+url.PathEscape(rest[0])+"/status", body, &t); err != nil {
			return err
		}
		fmt.Printf("task %s is now %s\n", strVal(t["id"]), strVal(t["status"]))
	case "assign":
		if len(rest) != 2 {
			return fmt.Errorf("usage: helpdesk task assign <id> <user>")
		}
		var t map[string]any
		body := map[string]string{"assigned_to": rest[1]}
		if err := c.do(http.MethodPatch, "/api/v1/tasks/"+url.PathEscape(rest[0])+"/assign", body, &t); err != nil {
			return err
		}
		fmt.Printf("task %s assigned to %s\n", strVal(t["id"]), strVal(t["assigned_to"]))
	case "rate":
		if len(rest) < 2 {
			return fmt.Errorf("usage: helpdesk task rate <id> <1-5> [comment]")
		}
		n, err := strconv.Atoi(rest[1])
		if err != nil {
			return fmt.Errorf("rating must be a number: %w", err)
		}
		body := map[string]any{"rating": n, "comment": strings.Join(rest[2:], " ")}
		if err := c.do(http.MethodPost, "/api/v1/tasks/"+url.PathEscape(rest[0])+"/rating", body, nil); err != nil {
			return err
		}
		fmt.Printf("task %s rated %d\n", rest[0], n)
	case "history":
		if len(rest) != 1 {
			return fmt.Errorf("usage: helpdesk task history <id>")
		}
		return c.taskHistory(rest[0])
	default:
		return fmt.Errorf("unknown task subcommand: %s", sub)
	}
	return nil
}

func (c *Client) taskCreate(args []string) error {
	fs := flag.NewFlagSet("task create", flag.ContinueOnError)
	priority := fs.String("priority", "medium", "low, medium, high or critical")
	category := fs.String("category", "", "task category")
	location := fs.String("location", "", "location id")
	desc := fs.String("description", "", "task description")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: helpdesk task create [flags] <title>")
	}
	body := map[string]string{
		"title":       strings.Join(fs.Args(), " "),
		"description": *desc,
		"category":    *category,
		"location_id": *location,
		"priority":    *priority,
	}
	var result map[string]any
	if err := c.do(http.MethodPost, "/api/v1/tasks", body, &result); err != nil {
		return err
	}
	fmt.Printf("created task %s (due %s)\n", strVal(result["id"]), strVal(result["due_date"]))
	return nil
}

func (c *Client) taskHistory(id string) error {
	var result struct {
		History []map[string]any `json:"history"`
	}
	if err := c.get("/api/v1/tasks/"+url.PathEscape(id)+"/history", &result); err != nil {
		return err
	}
	if len(result.History) == 0 {
		fmt.Println("no history")
		return nil
	}
	fmt.Printf("%-25s %-16s %-15s %s\n", "TIME", "ACTION", "BY", "DETAILS")
	fmt.Println(strings.Repeat("-", 80))
	for _, r := range result.History {
		fmt.Printf("%-25s %-16s %-15s %s\n",
			strVal(r["timestamp"]),
			strVal(r["action"]),
			truncate(strVal(r["performed_by"]), 14),
			describe(r),
		)
	}
	return nil
}

// --- messages ---

func (c *Client) cmdMessages(args []string) error {
	fs := flag.NewFlagSet("messages", flag.ContinueOnError)
	taskID := fs.String("task", "", "only notifications for this task")
	limit := fs.Int("limit", 20, "maximum number of messages")
	if err := fs.Parse(args); err != nil {
		return err
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(*limit))
	if *taskID != "" {
		q.Set("task_id", *taskID)
	}
	var msgs []map[string]any
	if err := c.get("/api/v1/messages?"+q.Encode(), &msgs); err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Println("no messages")
		return nil
	}
	for _, m := range msgs {
		fmt.Printf("%s  %-20s %-16s %s\n",
			strVal(m["timestamp"]), strVal(m["task_id"]), strVal(m["action"]), strVal(m["actor"]))
	}
	return nil
}

// --- helpers ---

var taskFields = []string{
	"id", "title", "description", "category", "location_id", "priority",
	"status", "created_by", "assigned_to", "created_at", "due_date",
	"rating", "rating_comment",
}

func printTask(t map[string]any) {
	title := cases.Title(language.English)
	for _, f := range taskFields {
		v, ok := t[f]
		if !ok || v == nil || v == "" {
			continue
		}
		label := title.String(strings.ReplaceAll(f, "_", " "))
		fmt.Printf("%-15s %s\n", label+":", strVal(v))
	}
}

// describe summarizes the action-specific fields of a history record.
func describe(r map[string]any) string {
	switch strVal(r["action"]) {
	case "status_changed":
		return strVal(r["from_status"]) + " -> " + strVal(r["to_status"])
	case "assigned":
		if prev := strVal(r["previous_assignee"]); prev != "" {
			return prev + " -> " + strVal(r["new_assignee"])
		}
		return strVal(r["new_assignee"])
	case "rated":
		return strings.TrimSpace(strVal(r["rating"]) + " " + strVal(r["comment"]))
	}
	return ""
}

func strVal(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
