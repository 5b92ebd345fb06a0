// Package queryattrs implements the query attribute extractor: a
// heuristic-first, LLM-assisted hybrid that infers topic, doc type,
// project, and severity from a free-form query.
package queryattrs

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"memoryvault/internal/llmgateway"
	"memoryvault/pkg/types"
)

var (
	tokenPattern    = regexp.MustCompile(`[a-z0-9][a-z0-9-]*`)
	incidentPattern = regexp.MustCompile(`(?i)inc[-_ ]?\d+`)
)

const defaultExtractTimeout = 3 * time.Second

// Extractor runs the query attribute extraction pipeline.
type Extractor struct {
	gateway          *llmgateway.Gateway
	minLLMConfidence float64
	timeout          time.Duration
}

// New creates an Extractor. gateway may be nil, in which case step 4 (LLM
// assist) is skipped and heuristic output is returned as-is.
func New(gateway *llmgateway.Gateway, minLLMConfidence float64) *Extractor {
	if minLLMConfidence <= 0 {
		minLLMConfidence = 0.4
	}
	return &Extractor{gateway: gateway, minLLMConfidence: minLLMConfidence, timeout: defaultExtractTimeout}
}

// Extract runs the pipeline. It never blocks the caller longer than the
// bounded timeout; on LLM failure the heuristic output is returned
// unchanged.
func (e *Extractor) Extract(ctx context.Context, query string) types.QueryAttributes {
	attrs := types.NewQueryAttributes()
	lower := strings.ToLower(query)

	for _, kw := range tokenPattern.FindAllString(lower, -1) {
		attrs.Keywords[kw] = struct{}{}
	}

	if topic, ok := lookupSubstring(topicTable, lower); ok {
		attrs.Topic = topic
		attrs.Confidence["topic"] = 1.0
	}
	if docType, ok := lookupSubstring(docTypeTable, lower); ok {
		attrs.DocType = docType
		attrs.Confidence["doc_type"] = 1.0
	}
	if project, ok := lookupSubstring(projectTable, lower); ok {
		attrs.ProjectName = project
		attrs.Confidence["project_name"] = 1.0
	}
	if severity, ok := lookupSubstring(severityTable, lower); ok {
		attrs.Severity = severity
		attrs.Confidence["severity"] = 1.0
	}

	if incidentPattern.MatchString(lower) {
		if attrs.Topic == "" {
			attrs.Topic = "incident"
			attrs.Confidence["topic"] = 1.0
		}
		if attrs.DocType == "" {
			attrs.DocType = "incident"
			attrs.Confidence["doc_type"] = 1.0
		}
		if attrs.Severity == "" {
			attrs.Severity = "high"
			attrs.Confidence["severity"] = 1.0
		}
	}

	if e.gateway == nil || attrs.HasProjectOrTopicAndDocType() {
		return attrs
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	llmAttrs, ok := e.callLLM(ctx, query)
	if !ok {
		return attrs
	}
	e.mergeLLM(&attrs, llmAttrs)
	return attrs
}

type llmExtraction struct {
	Topic       string             `json:"topic"`
	DocType     string             `json:"doc_type"`
	ProjectName string             `json:"project_name"`
	Severity    string             `json:"severity"`
	Confidence  map[string]float64 `json:"confidence"`
}

func (e *Extractor) callLLM(ctx context.Context, query string) (llmExtraction, bool) {
	prompt := "Extract query attributes as strict JSON with keys topic, doc_type, project_name, severity, " +
		"and confidence (an object with a 0-1 float per field you set). Use empty string for unknown fields. " +
		"Respond with JSON only.\n\nQuery: " + query

	raw, err := e.gateway.ShortSummary(ctx, prompt)
	if err != nil {
		return llmExtraction{}, false
	}

	jsonText := extractJSON(raw)
	if jsonText == "" {
		return llmExtraction{}, false
	}

	var out llmExtraction
	if err := json.Unmarshal([]byte(jsonText), &out); err != nil {
		return llmExtraction{}, false
	}
	return out, true
}

// extractJSON accepts pure JSON or JSON embedded between the first `{` and
// last `}`.
func extractJSON(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return trimmed
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return s[start : end+1]
}

// mergeLLM applies LLM fields only where the heuristic left the field
// empty, or where LLM confidence clears the minimum threshold.
func (e *Extractor) mergeLLM(attrs *types.QueryAttributes, llm llmExtraction) {
	apply := func(field *string, value string, confidenceKey string) {
		if value == "" {
			return
		}
		if *field != "" {
			if conf := llm.Confidence[confidenceKey]; conf < e.minLLMConfidence {
				return
			}
		}
		*field = value
		if conf, ok := llm.Confidence[confidenceKey]; ok {
			attrs.Confidence[confidenceKey] = conf
		}
	}

	apply(&attrs.Topic, llm.Topic, "topic")
	apply(&attrs.DocType, llm.DocType, "doc_type")
	apply(&attrs.ProjectName, llm.ProjectName, "project_name")
	apply(&attrs.Severity, llm.Severity, "severity")
}
