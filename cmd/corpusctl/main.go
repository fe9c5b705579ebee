// Package main implements the corpusctl CLI for manual operations against
// the corpusd HTTP server.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the corpusd HTTP server
	serverURL string
	// sessionID groups ask turns into one conversation
	sessionID string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "corpusctl",
	Short: "CLI for corpusd HTTP server operations",
	Long: `corpusctl is a command-line interface for interacting with the corpusd HTTP server.
It provides commands for ingesting documents, asking questions, and checking server health.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9180", "corpusd server URL")
	askCmd.Flags().StringVar(&sessionID, "session", "", "session ID for multi-turn conversations (default: random)")
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(healthCmd)
}

// ingestCmd indexes a document into the corpus
var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Index a document into the corpus",
	Long: `Index a text document into the corpus via the corpusd server.

The file's base name becomes its source path; re-ingesting an unchanged
file is a no-op, re-ingesting a changed file replaces its chunks.

Examples:
  # Ingest a document
  corpusctl ingest notes/election-law.md

  # Ingest from stdin under an explicit name
  cat report.txt | corpusctl ingest -`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

// askCmd asks a question over the corpus
var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question over the indexed corpus",
	Long: `Ask a question over the indexed corpus. The answer streams to stdout
as it is generated; citations print to stderr when the answer completes.

Examples:
  # One-off question
  corpusctl ask "what is the residency requirement?"

  # Multi-turn conversation
  corpusctl ask --session review "summarize chapter 3"
  corpusctl ask --session review "and chapter 4?"`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check corpusd server health",
	RunE:  runHealth,
}

// IngestRequest matches internal/http/server.go IngestRequest
type IngestRequest struct {
	SourcePath string `json:"source_path"`
	Text       string `json:"text"`
}

// IngestResponse matches internal/http/server.go IngestResponse
type IngestResponse struct {
	SourcePath string `json:"source_path"`
	Chunks     int    `json:"chunks"`
}

// AskRequest matches internal/qa Request
type AskRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

// Citation matches internal/qa Citation
type Citation struct {
	SourcePath string  `json:"source_path"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// AnswerEvent matches the final "answer" SSE event
type AnswerEvent struct {
	Text      string     `json:"text"`
	State     string     `json:"state"`
	Citations []Citation `json:"citations"`
	Attempt   struct {
		Provider string `json:"provider"`
		Model    string `json:"model"`
	} `json:"attempt"`
}

// DeltaEvent matches one "delta" SSE event
type DeltaEvent struct {
	Delta string `json:"delta"`
}

// HealthResponse matches internal/http/server.go HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

// runIngest handles the ingest command
func runIngest(cmd *cobra.Command, args []string) error {
	var content []byte
	var err error
	sourcePath := args[0]

	if sourcePath == "-" {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
		sourcePath = "stdin"
	} else {
		content, err = os.ReadFile(sourcePath)
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", sourcePath, err)
		}
		sourcePath = filepath.Base(sourcePath)
	}

	if len(content) == 0 {
		return fmt.Errorf("no content to ingest")
	}

	reqJSON, err := json.Marshal(IngestRequest{
		SourcePath: sourcePath,
		Text:       string(content),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/ingest", serverURL)
	client := &http.Client{Timeout: 60 * time.Second}

	resp, err := client.Post(url, "application/json", bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var ingestResp IngestResponse
	if err := json.NewDecoder(resp.Body).Decode(&ingestResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Indexed %s: %d chunk(s)\n", ingestResp.SourcePath, ingestResp.Chunks)
	return nil
}

// runAsk handles the ask command. The answer arrives as an SSE stream:
// "delta" events carry text as it is generated, a final "answer" event
// carries the state, citations, and attempt metadata.
func runAsk(cmd *cobra.Command, args []string) error {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	reqJSON, err := json.Marshal(AskRequest{
		SessionID: sessionID,
		Query:     args[0],
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/ask", serverURL)
	httpReq, err := http.NewRequest("POST", url, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	// No client timeout: generation streams for as long as it needs.
	client := &http.Client{}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	answer, err := consumeStream(resp.Body, os.Stdout)
	if err != nil {
		return err
	}
	if answer == nil {
		return fmt.Errorf("stream ended without a final answer")
	}

	fmt.Println()
	printAnswerFooter(answer)
	return nil
}

// consumeStream reads SSE events, writing delta text to out until the
// final answer event arrives.
func consumeStream(body io.Reader, out io.Writer) (*AnswerEvent, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			switch event {
			case "delta":
				var delta DeltaEvent
				if err := json.Unmarshal([]byte(data), &delta); err != nil {
					return nil, fmt.Errorf("failed to decode delta event: %w", err)
				}
				fmt.Fprint(out, delta.Delta)
			case "answer":
				var answer AnswerEvent
				if err := json.Unmarshal([]byte(data), &answer); err != nil {
					return nil, fmt.Errorf("failed to decode answer event: %w", err)
				}
				return &answer, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}
	return nil, nil
}

// printAnswerFooter prints citations and attempt metadata to stderr.
func printAnswerFooter(answer *AnswerEvent) {
	if answer.State != "completed" {
		fmt.Fprintf(os.Stderr, "[corpusctl] answer state: %s\n", answer.State)
	}
	for _, c := range answer.Citations {
		fmt.Fprintf(os.Stderr, "[corpusctl] cited %s chunk %d (score %.3f)\n",
			c.SourcePath, c.ChunkIndex, c.Score)
	}
	if answer.Attempt.Provider != "" {
		fmt.Fprintf(os.Stderr, "[corpusctl] answered by %s (%s)\n",
			answer.Attempt.Provider, answer.Attempt.Model)
	}
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/health", serverURL)

	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect to %s: %v\n", url, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Server Status: %s\n", healthResp.Status)
	fmt.Printf("Server URL: %s\n", serverURL)

	return nil
}
