// Package export renders finalized meetings as Word documents.
package export

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomutex/godocx"
	"github.com/gomutex/godocx/docx"

	"github.com/quirelabs/quire/internal/domain"
)

const (
	fontName    = "Calibri"
	bodySize    = 11
	headingSize = 14
	titleSize   = 16
)

// DocxWriter writes one .docx per finalized meeting into a directory.
type DocxWriter struct {
	dir    string
	logger *slog.Logger
}

// NewDocxWriter creates a writer rooted at dir. The directory is created
// on first export.
func NewDocxWriter(dir string, logger *slog.Logger) *DocxWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocxWriter{dir: dir, logger: logger}
}

// Export renders the artifact and returns the written file's path.
// Exporting the same meeting again overwrites the previous file.
func (w *DocxWriter) Export(artifact *domain.FinalArtifact) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	doc, err := godocx.NewDocument()
	if err != nil {
		return "", fmt.Errorf("new document: %w", err)
	}

	addStyled(doc.AddParagraph(""), "Meeting Minutes", true, titleSize)
	addBody(doc.AddParagraph(""), "Document: "+artifact.DocID)
	addBody(doc.AddParagraph(""), "Started: "+artifact.StartedAt.Format(time.RFC1123))
	addBody(doc.AddParagraph(""), "Ended: "+artifact.EndedAt.Format(time.RFC1123))
	if artifact.AudioRef != "" {
		addBody(doc.AddParagraph(""), "Audio: "+artifact.AudioRef)
	}

	addSection(doc, "Summary", artifact.Summary)
	addSection(doc, "Notes", artifact.Notes)
	addSection(doc, "Transcript", artifact.Transcript)

	path := filepath.Join(w.dir, artifact.MeetingID+".docx")
	if err := doc.SaveTo(path); err != nil {
		return "", fmt.Errorf("save document: %w", err)
	}
	w.logger.Debug("meeting exported", "meeting_id", artifact.MeetingID, "path", path)
	return path, nil
}

// addSection writes a heading followed by one paragraph per non-empty
// line. Empty sections are skipped entirely.
func addSection(doc *docx.RootDoc, heading, text string) {
	body := strings.TrimSpace(text)
	if body == "" {
		return
	}
	doc.AddParagraph("")
	addStyled(doc.AddParagraph(""), heading, true, headingSize)
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		addBody(doc.AddParagraph(""), line)
	}
}

func addStyled(p *docx.Paragraph, text string, bold bool, size uint64) {
	run := p.AddText(text).Font(fontName).Size(size).Color("000000")
	if bold {
		run.Bold(true)
	}
}

func addBody(p *docx.Paragraph, text string) {
	p.AddText(text).Font(fontName).Size(bodySize).Color("000000")
}
