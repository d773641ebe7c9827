package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/zimrates/rbzfx/models"
)

// TokenSource yields the positioned tokens of a downloaded bulletin.
// PDFSource reads the real file; FixtureSource replays a recorded token
// dump for development and tests.
type TokenSource interface {
	Tokens(ctx context.Context, path string) ([]models.PositionedToken, error)
}

// PDFSource extracts tokens from the first page of a bulletin PDF.
type PDFSource struct{}

func (PDFSource) Tokens(_ context.Context, path string) ([]models.PositionedToken, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bulletin %s: %w", path, err)
	}
	defer f.Close()

	// The rate table always sits on page one; later pages carry notices.
	page := reader.Page(1)
	if page.V.IsNull() {
		return nil, fmt.Errorf("bulletin %s has no pages", path)
	}
	return assembleTokens(page.Content().Text), nil
}

// assembleTokens merges per-character text fragments into word tokens.
// Characters belong to the same word while they stay on one baseline
// and leave no visible horizontal gap.
func assembleTokens(chars []pdf.Text) []models.PositionedToken {
	var tokens []models.PositionedToken
	var word strings.Builder
	var startX, lastY, rightEdge, width float64

	flush := func() {
		if word.Len() == 0 {
			return
		}
		tokens = append(tokens, models.PositionedToken{
			X:     startX,
			Y:     lastY,
			Width: width,
			Text:  encodeToken(word.String()),
		})
		word.Reset()
		width = 0
	}

	for _, c := range chars {
		if strings.TrimSpace(c.S) == "" {
			flush()
			continue
		}

		maxGap := c.FontSize * 0.35
		if maxGap == 0 {
			maxGap = 2
		}
		sameLine := word.Len() > 0 && abs(c.Y-lastY) < 0.5
		adjacent := sameLine && c.X-rightEdge <= maxGap
		if !adjacent {
			flush()
			startX = c.X
		}

		word.WriteString(c.S)
		lastY = c.Y
		rightEdge = c.X + c.W
		width = rightEdge - startX
	}
	flush()
	return tokens
}

// encodeToken percent-encodes a token the way browsers encode URL
// components; the parsing layer expects encoded text and decodes it
// itself.
func encodeToken(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// FixtureSource serves tokens from a JSON dump instead of a PDF. When
// Path is set it always replays that file, otherwise it reads the path
// it is asked for.
type FixtureSource struct {
	Path string
}

func (s FixtureSource) Tokens(_ context.Context, path string) ([]models.PositionedToken, error) {
	if s.Path != "" {
		path = s.Path
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token fixture %s: %w", path, err)
	}
	var tokens []models.PositionedToken
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("decode token fixture %s: %w", path, err)
	}
	return tokens, nil
}
