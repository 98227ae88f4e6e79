package main

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jwhahn/studydesk/internal/config"
)

// userFlag selects which user's library and caches commands operate on.
var userFlag string

func init() {
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "", "user scope (default: default)")
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question over your uploaded course material",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/ask", map[string]string{"question": question})
		if err != nil {
			return err
		}

		var result struct {
			Answer string `json:"answer"`
			Cached bool   `json:"cached"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Cached {
			printStep("(cached answer)")
		}
		fmt.Fprintln(os.Stdout, result.Answer)
		return nil
	},
}

// --- files ---

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Manage uploaded course files",
}

var filesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded files",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/files")
		if err != nil {
			return err
		}

		var listing struct {
			Files  []string `json:"files"`
			Cached []string `json:"cached"`
		}
		if err := decodeJSON(resp, &listing); err != nil {
			return err
		}

		if len(listing.Files) == 0 {
			fmt.Fprintln(os.Stdout, "no files uploaded")
			return nil
		}

		cached := make(map[string]bool, len(listing.Cached))
		for _, name := range listing.Cached {
			cached[name] = true
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, name := range listing.Files {
			state := "pending"
			if cached[name] {
				state = "extracted"
			}
			fmt.Fprintf(w, "%s\t%s\n", name, state)
		}
		return w.Flush()
	},
}

var filesAddCmd = &cobra.Command{
	Use:   "add <path>...",
	Short: "Upload files to your library",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		for _, path := range args {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("opening %s: %w", path, err)
			}
			part, err := mw.CreateFormFile("file", filepath.Base(path))
			if err == nil {
				_, err = io.Copy(part, f)
			}
			f.Close()
			if err != nil {
				return fmt.Errorf("adding %s to upload: %w", path, err)
			}
		}
		if err := mw.Close(); err != nil {
			return err
		}

		req, err := http.NewRequest("POST", client.baseURL+"/files", &buf)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		if client.token != "" {
			req.Header.Set("Authorization", "Bearer "+client.token)
		}
		if client.user != "" {
			req.Header.Set("X-Study-User", client.user)
		}

		resp, err := client.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("server not reachable — is studydesk running? (%w)", err)
		}

		var result struct {
			Saved []string `json:"saved"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Uploaded %d file(s)", len(result.Saved))
		return nil
	},
}

var filesRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Delete an uploaded file and its cached text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete("/files/" + args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted %s", result["deleted"])
		return nil
	},
}

func init() {
	filesCmd.AddCommand(filesListCmd)
	filesCmd.AddCommand(filesAddCmd)
	filesCmd.AddCommand(filesRmCmd)
}

// --- notes ---

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Review and manage your mistake notes",
}

var notesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/notes")
		if err != nil {
			return err
		}

		var listing struct {
			Notes []struct {
				ID        string `json:"id"`
				CreatedAt string `json:"created_at"`
				Content   string `json:"content"`
			} `json:"notes"`
		}
		if err := decodeJSON(resp, &listing); err != nil {
			return err
		}

		if len(listing.Notes) == 0 {
			fmt.Fprintln(os.Stdout, "no notes recorded")
			return nil
		}

		for _, n := range listing.Notes {
			fmt.Fprintf(os.Stdout, "%s  [%s]\n%s\n\n", n.CreatedAt, n.ID, n.Content)
		}
		return nil
	},
}

var notesAddCmd = &cobra.Command{
	Use:   "add <content>",
	Short: "Record a note",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/notes", map[string]string{"content": strings.Join(args, " ")})
		if err != nil {
			return err
		}

		var result struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Recorded note %s", result.ID)
		return nil
	},
}

var notesRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a note by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete("/notes/" + args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted note %s", result["deleted"])
		return nil
	},
}

func init() {
	notesCmd.AddCommand(notesListCmd)
	notesCmd.AddCommand(notesAddCmd)
	notesCmd.AddCommand(notesRmCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "KEY\tVALUE\tENV\n")
		for _, ki := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "%s\t%s\t%s\n", ki.Key, ki.Value, ki.EnvVar)
		}
		return w.Flush()
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
