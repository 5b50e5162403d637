package scanning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zombor/tabsplit/internal/parser"
)

// observationPrompt is the shared prompt used by all LLM providers. Boxes are
// requested in normalized bottom-left coordinates and converted on the way in.
const observationPrompt = `You are a text recognition engine reading a photo of a restaurant receipt. Transcribe every line of printed text exactly as it appears, from the top of the receipt to the bottom. Do not correct, translate, summarize or add anything.

For each line return:
- "text": the exact characters of the line, including prices, percentages and punctuation
- "confidence": how sure you are of the transcription, from 0.0 to 1.0
- "box": the bounding box of the line as fractions of the image size, with the origin at the BOTTOM-LEFT corner of the image: "x" and "y" are the left and bottom edges, "width" and "height" the extent

Keep an item name and its price on the same line when they are printed on the same row.

Return ONLY valid JSON in this exact format:
{
  "lines": [
    {"text": "Burger 12.50", "confidence": 0.95, "box": {"x": 0.10, "y": 0.62, "width": 0.70, "height": 0.03}}
  ]
}

Important:
- All box values must be numbers between 0 and 1
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

type llmResponse struct {
	Lines []llmLine `json:"lines"`
}

type llmLine struct {
	Text       string      `json:"text"`
	Confidence *float64    `json:"confidence"`
	Box        parser.Rect `json:"box"`
}

// parseObservationsJSON parses an LLM response into pixel observations for
// an image of the given size.
func parseObservationsJSON(text string, size parser.Size) ([]parser.Observation, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var resp llmResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	observations := make([]parser.Observation, 0, len(resp.Lines))
	for _, l := range resp.Lines {
		t := strings.Join(strings.Fields(l.Text), " ")
		if t == "" {
			continue
		}
		// models that omit confidence are trusted as much as a clean OCR read
		confidence := 0.9
		if l.Confidence != nil {
			confidence = clampConfidence(*l.Confidence)
		}
		observations = append(observations, parser.Observation{
			Text:       t,
			Confidence: confidence,
			Box:        FromNormalizedBottomLeft(clampRect(l.Box), size),
		})
	}
	return observations, nil
}

// clampRect keeps a normalized box inside the unit square.
func clampRect(r parser.Rect) parser.Rect {
	r.X = clampConfidence(r.X)
	r.Y = clampConfidence(r.Y)
	r.Width = min(clampConfidence(r.Width), 1-r.X)
	r.Height = min(clampConfidence(r.Height), 1-r.Y)
	return r
}
