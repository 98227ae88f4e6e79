package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Poll settings are vars so tests can shrink them.
var (
	filePollInterval = 2 * time.Second
	filePollTimeout  = 120 * time.Second
)

const transcribeInstruction = "Transcribe all text in the attached document " +
	"exactly as written, preserving reading order. Output plain text only, " +
	"with no commentary."

// ExtractFile runs the remote OCR path for a local file: upload the bytes,
// poll until the file API reports it ready, ask the model to transcribe it,
// then delete the uploaded copy. Used for images and for documents whose
// local parse came up short.
func (c *Client) ExtractFile(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	mime := mimeTypeFor(path)

	info, err := c.uploadFile(ctx, data, mime)
	if err != nil {
		return "", fmt.Errorf("uploading file: %w", err)
	}
	// Remote copy is temporary regardless of transcription outcome.
	defer c.deleteFile(context.WithoutCancel(ctx), info.Name)

	info, err = c.waitActive(ctx, info)
	if err != nil {
		return "", err
	}

	text, err := c.transcribe(ctx, info)
	if err != nil {
		return "", fmt.Errorf("transcribing file: %w", err)
	}
	return text, nil
}

func (c *Client) uploadFile(ctx context.Context, data []byte, mime string) (fileInfo, error) {
	url := c.uploadURL() + "/files?uploadType=media"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fileInfo{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mime)
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fileInfo{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fileInfo{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var up uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&up); err != nil {
		return fileInfo{}, fmt.Errorf("decoding upload response: %w", err)
	}
	if up.File.MIMEType == "" {
		up.File.MIMEType = mime
	}
	return up.File, nil
}

// waitActive polls the file API until the upload finishes server-side
// processing. Gives up after filePollTimeout.
func (c *Client) waitActive(ctx context.Context, info fileInfo) (fileInfo, error) {
	deadline := time.Now().Add(filePollTimeout)
	for {
		switch info.State {
		case fileStateActive:
			return info, nil
		case fileStateFailed:
			return fileInfo{}, fmt.Errorf("file %s failed remote processing", info.Name)
		}

		if time.Now().After(deadline) {
			return fileInfo{}, fmt.Errorf("file %s not ready after %s", info.Name, filePollTimeout)
		}
		select {
		case <-ctx.Done():
			return fileInfo{}, ctx.Err()
		case <-time.After(filePollInterval):
		}

		next, err := c.getFile(ctx, info.Name)
		if err != nil {
			return fileInfo{}, fmt.Errorf("polling file state: %w", err)
		}
		if next.MIMEType == "" {
			next.MIMEType = info.MIMEType
		}
		info = next
	}
}

func (c *Client) getFile(ctx context.Context, name string) (fileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+name, nil)
	if err != nil {
		return fileInfo{}, err
	}
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fileInfo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fileInfo{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var info fileInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return fileInfo{}, err
	}
	return info, nil
}

func (c *Client) deleteFile(ctx context.Context, name string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/"+name, nil)
	if err != nil {
		return
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	if resp, err := c.httpClient.Do(req); err == nil {
		resp.Body.Close()
	}
}

func (c *Client) transcribe(ctx context.Context, info fileInfo) (string, error) {
	body, err := marshalRequest("", transcribeInstruction, []part{
		{FileData: &fileData{MIMEType: info.MIMEType, FileURI: info.URI}},
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	respBody, err := c.doWithRetry(ctx, url, body, streamingTimeout)
	if err != nil {
		return "", err
	}
	defer respBody.Close()

	var resp generateResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return responseText(resp), nil
}

// uploadURL swaps the versioned API path for the media upload prefix, e.g.
// https://host/v1beta -> https://host/upload/v1beta.
func (c *Client) uploadURL() string {
	idx := strings.LastIndex(c.baseURL, "/")
	if idx < 0 {
		return c.baseURL
	}
	return c.baseURL[:idx] + "/upload" + c.baseURL[idx:]
}

func mimeTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
