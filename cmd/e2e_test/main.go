package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

func baseURL() string {
	if v := os.Getenv("E2E_BASE_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func main() {
	// Wait for server to start
	time.Sleep(2 * time.Second)

	// 1. Health Check
	checkEndpoint("GET", "/health", nil, 200)

	// 2. Register credentials; first registration queues the 7d and 30d jobs
	userID := fmt.Sprintf("e2e-user-%d", time.Now().Unix())
	registerKey(userID)

	// 3. Dashboards answer even before the worker has written anything
	checkEndpoint("GET", "/MainDashboard/", nil, 200)
	checkEndpoint("GET", "/MainDashboard/?range_type=30d", nil, 200)
	checkEndpoint("GET", "/MainDashboard/?range_type=custom", nil, 400)
	checkEndpoint("GET", "/UserDashboard/"+userID+"/?range_type=7d", nil, 200)

	// 4. Custom range is queued and can be polled
	res := checkEndpoint("GET", "/users/"+userID+"/pnl?range_type=custom&custom_start=2024-01-01&custom_end=2024-01-10", nil, 202)
	var queued map[string]string
	if err := json.Unmarshal(res, &queued); err != nil {
		log.Fatalf("decode custom response: %v", err)
	}
	checkEndpoint("GET", "/jobs/"+queued["job_id"], nil, 200)

	// 5. Reversed bounds are rejected
	checkEndpoint("GET", "/users/"+userID+"/pnl?range_type=custom&custom_start=2024-02-01&custom_end=2024-01-01", nil, 400)

	fmt.Println("ALL TESTS PASSED")
}

func checkEndpoint(method, path string, body interface{}, expectedStatus int) []byte {
	fmt.Printf("Testing %s %s...\n", method, path)
	var bodyReader io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, _ := http.NewRequest(method, baseURL()+path, bodyReader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != expectedStatus {
		log.Fatalf("Expected status %d, got %d. Body: %s", expectedStatus, resp.StatusCode, string(respBody))
	}
	fmt.Printf("Response: %s\n", string(respBody))
	return respBody
}

func registerKey(userID string) {
	fmt.Println("Registering api key...")
	reqBody := map[string]string{
		"api_key":    os.Getenv("E2E_API_KEY"),
		"secret_key": os.Getenv("E2E_SECRET_KEY"),
		"username":   userID,
	}
	if reqBody["api_key"] == "" {
		reqBody["api_key"], reqBody["secret_key"] = "e2e-key", "e2e-secret"
	}
	checkEndpoint("POST", "/users/"+userID+"/api-key", reqBody, 201)
}
