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

	"clayformer.ai/internal/protocol"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	os.Exit(send(http.MethodGet, endpoint(*baseURL, "/v1/forms"), nil))
}

func stopCmd(args []string) {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	formFlag := fs.String("form", "", "form position x,y,z (required)")
	_ = fs.Parse(args)

	pos, err := parseVec3(*formFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -form:", err)
		os.Exit(2)
	}
	os.Exit(send(http.MethodPost, endpoint(*baseURL, "/v1/forms/stop"), protocol.StopRequest{Pos: pos}))
}

// holdCmd changes what the operator holds; an empty -held pauses every engine
// that needs material.
func holdCmd(args []string) {
	fs := flag.NewFlagSet("hold", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	held := fs.String("held", "", "item id to hold")
	_ = fs.Parse(args)

	os.Exit(send(http.MethodPost, endpoint(*baseURL, "/v1/operator"), protocol.OperatorRequest{Held: *held}))
}

func endpoint(base, path string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + path
}

// send prints the response body and returns the process exit code.
func send(method, u string, body any) int {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fmt.Fprintln(os.Stderr, "encode:", err)
			return 2
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, u, rd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 2
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 1
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return 1
	}
	return 0
}
