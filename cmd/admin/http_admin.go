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
	"strings"
	"time"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	agentID := fs.String("agent", "", "show one agent instead of world stats")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/v1/stats"
	if id := strings.TrimSpace(*agentID); id != "" {
		u = strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/v1/agents/" + url.PathEscape(id)
	}
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	finish(resp)
}

// invalidateCmd drops a room's cached flow fields, or with -x/-y/-cost
// edits one tile's structural cost first.
func invalidateCmd(args []string) {
	fs := flag.NewFlagSet("invalidate", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	room := fs.String("room", "", "room name, e.g. W0N1")
	x := fs.Int("x", -1, "tile x for a cost edit (optional)")
	y := fs.Int("y", -1, "tile y for a cost edit (optional)")
	cost := fs.Int("cost", -1, "new structural cost 0..255 (optional)")
	_ = fs.Parse(args)

	name := strings.ToUpper(strings.TrimSpace(*room))
	if name == "" {
		fmt.Fprintln(os.Stderr, "missing -room")
		os.Exit(2)
	}
	base := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/v1/rooms/" + url.PathEscape(name)
	cl := &http.Client{Timeout: 5 * time.Second}

	var (
		resp *http.Response
		err  error
	)
	if *cost >= 0 {
		if *cost > 255 || *x < 0 || *y < 0 {
			fmt.Fprintln(os.Stderr, "cost edit needs -x, -y and -cost in 0..255")
			os.Exit(2)
		}
		body, _ := json.Marshal(map[string]int{"x": *x, "y": *y, "cost": *cost})
		resp, err = cl.Post(base+"/cost", "application/json", bytes.NewReader(body))
	} else {
		resp, err = cl.Post(base+"/invalidate", "application/json", nil)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	finish(resp)
}

func finish(resp *http.Response) {
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
