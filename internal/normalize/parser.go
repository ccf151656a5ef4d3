// Package normalize converts downloaded digest documents from their era
// format (scanned PDF, raw mainframe text, HTML) into plain UTF-8 text
// suitable for extraction.
package normalize

import (
	"context"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sec-digest-cli/internal/config"
	"github.com/sells-group/sec-digest-cli/internal/model"
)

// Parser turns one raw document file into plain text.
type Parser interface {
	Parse(ctx context.Context, rawPath string) (string, error)
}

// PageCounter is implemented by parsers that bill per page, so a run can
// report how many pages it sent out.
type PageCounter interface {
	PagesProcessed() int
}

// NewParser returns the parser for a source format. PDF parsing dispatches
// on the configured provider.
func NewParser(format model.SourceFormat, cfg config.NormalizeConfig) (Parser, error) {
	switch format {
	case model.FormatPDF:
		switch cfg.Provider {
		case "local", "":
			return NewPdfToText(cfg.PdfToTextPath), nil
		case "mistral":
			if cfg.MistralKey == "" {
				return nil, eris.New("normalize: mistral provider requires mistral_api_key")
			}
			return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
		default:
			return nil, eris.Errorf("normalize: unknown pdf provider %q", cfg.Provider)
		}
	case model.FormatText:
		return textPassthrough{}, nil
	case model.FormatHTML:
		return NewHTMLParser(), nil
	default:
		return nil, eris.Errorf("normalize: unknown source format %q", format)
	}
}

// textPassthrough handles the 1990-2002 era, which is already plain text.
// It only normalizes line endings and strips a UTF-8 BOM if present.
type textPassthrough struct{}

func (textPassthrough) Parse(_ context.Context, rawPath string) (string, error) {
	data, err := os.ReadFile(rawPath)
	if err != nil {
		return "", eris.Wrapf(err, "normalize: read %s", rawPath)
	}
	text := strings.TrimPrefix(string(data), "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return text, nil
}
