// Command chat is an interactive terminal client for the concierge API.
// Useful for poking at the assistant without a frontend.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type suggestion struct {
	Name  string `json:"name"`
	Price string `json:"price,omitempty"`
	Type  string `json:"type,omitempty"`
}

type chatResponse struct {
	Reply       string       `json:"reply"`
	Suggestions []suggestion `json:"suggested_experiences"`
}

func main() {
	apiURL := flag.String("api", "http://localhost:8080", "concierge API base URL")
	flag.Parse()

	session := uuid.NewString()
	client := &http.Client{Timeout: 90 * time.Second}

	fmt.Printf("concierge chat (session %s)\ntype a message, ctrl-d to quit\n\n", session)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		message := strings.TrimSpace(scanner.Text())
		if message == "" {
			continue
		}

		reply, err := send(client, *apiURL, session, message)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}

		fmt.Println(reply.Reply)
		for _, s := range reply.Suggestions {
			fmt.Printf("  * %s", s.Name)
			if s.Price != "" {
				fmt.Printf(" (%s)", s.Price)
			}
			fmt.Println()
		}
		fmt.Println()
	}
}

func send(client *http.Client, apiURL, session, message string) (*chatResponse, error) {
	body, err := json.Marshal(chatRequest{SessionID: session, Message: message})
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(apiURL+"/api/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api returned %s", resp.Status)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
