package gemini

// Wire types for the Generative Language REST API. Only the fields the
// client reads or writes are declared.

type generateRequest struct {
	SystemInstruction *content  `json:"system_instruction,omitempty"`
	Contents          []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"file_data,omitempty"`
}

type fileData struct {
	MIMEType string `json:"mime_type"`
	FileURI  string `json:"file_uri"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// File states reported by the file API while an upload is processed.
const (
	fileStateProcessing = "PROCESSING"
	fileStateActive     = "ACTIVE"
	fileStateFailed     = "FAILED"
)

type fileInfo struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType"`
	State    string `json:"state"`
}

type uploadResponse struct {
	File fileInfo `json:"file"`
}
