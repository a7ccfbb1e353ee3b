// Command can-client walks through every endpoint of the CAN channel
// server, including the validation error cases, and prints each response.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

var client = &http.Client{Timeout: 10 * time.Second}

func main() {
	baseURL := flag.String("url", "http://localhost:8000", "Base URL of the CAN channel server")
	flag.Parse()

	fmt.Println("Testing CAN Channel Server")
	fmt.Println("==================================================")

	steps := []struct {
		name string
		run  func(base string) error
	}{
		{"Home endpoint (GET /)", func(b string) error { return get(b + "/") }},
		{"Health endpoint (GET /health)", func(b string) error { return get(b + "/health") }},
		{"Channels endpoint (GET /channels)", func(b string) error { return get(b + "/channels") }},
		{"Specific channel (GET /channels/0)", func(b string) error { return get(b + "/channels/0") }},
		{"Send CAN message (POST /messages/send)", func(b string) error {
			return post(b+"/messages/send", map[string]any{
				"channel": 0,
				"can_id":  123,
				"dlc":     6,
				"data":    []int{72, 69, 76, 76, 79, 33}, // "HELLO!"
				"bitrate": 250000,
			})
		}},
		{"Start monitoring (POST /monitoring/start)", func(b string) error {
			return post(b+"/monitoring/start", map[string]any{"channel": 1, "duration": 10})
		}},
		{"Monitoring status (GET /monitoring/status)", func(b string) error { return get(b + "/monitoring/status") }},
		{"Send while monitoring (POST /messages/send)", func(b string) error {
			return post(b+"/messages/send", map[string]any{
				"channel": 0,
				"can_id":  456,
				"dlc":     5,
				"data":    []int{1, 2, 3, 4, 5},
			})
		}},
		{"Wait 3 seconds for monitoring", func(string) error {
			time.Sleep(3 * time.Second)
			return nil
		}},
		{"Received messages (GET /monitoring/messages)", func(b string) error { return get(b + "/monitoring/messages") }},
		{"Stop monitoring (POST /monitoring/stop)", func(b string) error { return post(b+"/monitoring/stop", nil) }},
		{"Validation: invalid channel", func(b string) error {
			return post(b+"/messages/send", map[string]any{"channel": 999, "can_id": 123, "data": []int{1, 2, 3}})
		}},
		{"Validation: data array too long", func(b string) error {
			return post(b+"/messages/send", map[string]any{
				"channel": 0, "can_id": 123,
				"data": []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			})
		}},
		{"Validation: CAN ID too high", func(b string) error {
			return post(b+"/messages/send", map[string]any{"channel": 0, "can_id": 3000, "data": []int{1, 2, 3}})
		}},
		{"Non-existent channel (GET /channels/999)", func(b string) error { return get(b + "/channels/999") }},
		{"Diagnostics (GET /troubleshoot)", func(b string) error { return get(b + "/troubleshoot") }},
	}

	for i, step := range steps {
		fmt.Printf("\n%d. %s:\n", i+1, step.name)
		if err := step.run(*baseURL); err != nil {
			log.Printf("Error: %v", err)
			log.Printf("Make sure the server is running at %s", *baseURL)
			os.Exit(1)
		}
	}

	fmt.Println("\n==================================================")
	fmt.Println("Testing completed")
}

func get(url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func post(url string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	resp, err := client.Post(url, "application/json", body)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Printf("Status: %d\n", resp.StatusCode)

	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		fmt.Printf("Response: %s\n", pretty.String())
	} else {
		fmt.Printf("Response: %s\n", data)
	}
	return nil
}
