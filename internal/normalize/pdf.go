package normalize

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
)

// PdfToText parses scanned digests with the pdftotext CLI tool. Good enough
// for the later pdf-era years where the PDFs carry a text layer.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText parser. If binPath is empty, "pdftotext"
// is resolved from PATH.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// Parse runs pdftotext -layout on the given PDF and returns stdout. The
// -layout flag preserves the digest's column alignment, which the extraction
// prompts rely on.
func (p *PdfToText) Parse(ctx context.Context, rawPath string) (string, error) {
	cmd := exec.CommandContext(ctx, p.binPath, "-layout", rawPath, "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "normalize: pdftotext failed for %s: %s", rawPath, stderr.String())
	}

	return stdout.String(), nil
}

const (
	mistralOCREndpoint  = "https://api.mistral.ai/v1/ocr"
	defaultMistralModel = "pixtral-large-latest"
)

// MistralOCR parses scanned digests through the Mistral OCR API. Used for
// the early pdf-era years whose scans have no usable text layer.
type MistralOCR struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client

	mu    sync.Mutex
	pages int
}

// NewMistralOCR creates a MistralOCR parser. If model is empty, the default
// is used.
func NewMistralOCR(apiKey, model string) *MistralOCR {
	if model == "" {
		model = defaultMistralModel
	}
	return &MistralOCR{
		apiKey:   apiKey,
		model:    model,
		endpoint: mistralOCREndpoint,
		client:   &http.Client{},
	}
}

type mistralOCRRequest struct {
	Model    string             `json:"model"`
	Document mistralOCRDocument `json:"document"`
}

type mistralOCRDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

type mistralOCRResponse struct {
	Pages []mistralOCRPage `json:"pages"`
}

type mistralOCRPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

// Parse reads a PDF file, sends it to Mistral OCR, and returns the
// concatenated page text.
func (m *MistralOCR) Parse(ctx context.Context, rawPath string) (string, error) {
	data, err := os.ReadFile(rawPath)
	if err != nil {
		return "", eris.Wrapf(err, "normalize: read PDF %s", rawPath)
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	dataURL := "data:application/pdf;base64," + encoded

	reqBody := mistralOCRRequest{
		Model: m.model,
		Document: mistralOCRDocument{
			Type:        "document_url",
			DocumentURL: dataURL,
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", eris.Wrap(err, "normalize: marshal mistral request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", eris.Wrap(err, "normalize: create mistral request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "normalize: mistral API call")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "normalize: read mistral response")
	}

	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("normalize: mistral API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var ocrResp mistralOCRResponse
	if err := json.Unmarshal(respBody, &ocrResp); err != nil {
		return "", eris.Wrap(err, "normalize: unmarshal mistral response")
	}

	m.mu.Lock()
	m.pages += len(ocrResp.Pages)
	m.mu.Unlock()

	var sb strings.Builder
	for i, page := range ocrResp.Pages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(page.Markdown)
	}

	return sb.String(), nil
}

// PagesProcessed returns the total pages sent to the OCR API so far.
func (m *MistralOCR) PagesProcessed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pages
}
