// Package ai holds the generative fallback extractor: when deterministic
// parsing leaves a record too incomplete, the raw document text is handed to
// a model with the canonical schema as the target shape. The fallback always
// degrades to a valid record; it never raises to the caller.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"go.uber.org/zap"

	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/model"
)

const (
	defaultMaxAttempts = 2
	defaultMaxChars    = 4000

	systemPrompt = "You are an expert at extracting structured financial data " +
		"from Icelandic bank documents. Always respond with valid JSON only, " +
		"no additional text."
)

// Extractor runs the bounded retry-with-feedback loop against a Provider.
type Extractor struct {
	provider    Provider
	logger      *zap.Logger
	maxAttempts int
	maxChars    int
}

type Option func(*Extractor)

// WithMaxAttempts bounds the retry loop (including the first attempt).
func WithMaxAttempts(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithMaxChars bounds how much raw text is embedded into the prompt.
func WithMaxChars(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxChars = n
		}
	}
}

func NewExtractor(provider Provider, logger *zap.Logger, opts ...Option) *Extractor {
	e := &Extractor{
		provider:    provider,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		maxChars:    defaultMaxChars,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract asks the model for a canonical record built from rawText. The loop
// state is (attempt, last failure feedback); terminal states are an accepted
// candidate or exhaustion, which yields the empty template with identity set.
func (e *Extractor) Extract(ctx context.Context, rawText, bankName, bankID string) *model.RateRecord {
	feedback := ""

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		prompt := e.buildPrompt(rawText, bankName, feedback)

		resp, err := e.provider.Complete(ctx, systemPrompt, prompt, true)
		if err != nil {
			// The backend may not honor strict JSON enforcement; try once
			// more without it before counting the attempt as failed.
			resp, err = e.provider.Complete(ctx, systemPrompt, prompt, false)
		}
		if err != nil {
			e.logger.Warn("provider call failed",
				zap.String("bank", bankID), zap.Int("attempt", attempt), zap.Error(err))
			feedback = "The previous request failed before producing any output. " +
				"Reply with the JSON object only."
			continue
		}

		rec, failure := e.parseResponse(resp)
		if failure == "" {
			if rec.BankName == "" {
				rec.BankName = bankName
			}
			if rec.BankID == "" {
				rec.BankID = bankID
			}
			e.logger.Info("ai extraction accepted",
				zap.String("bank", bankID), zap.Int("attempt", attempt))
			return rec
		}

		e.logger.Warn("ai response rejected",
			zap.String("bank", bankID), zap.Int("attempt", attempt), zap.String("reason", failure))
		feedback = failure
	}

	e.logger.Warn("ai extraction exhausted retries, returning empty template",
		zap.String("bank", bankID), zap.Int("attempts", e.maxAttempts))
	return model.NewEmptyRecord(bankName, bankID)
}

// parseResponse validates one model reply. The returned failure string is
// empty on success, otherwise it is the feedback embedded into the next
// attempt's prompt.
func (e *Extractor) parseResponse(resp string) (*model.RateRecord, string) {
	body := stripFences(resp)
	if body == "" {
		return nil, "Your previous reply was empty. Return the filled JSON object."
	}

	if !strings.HasPrefix(strings.TrimSpace(body), "{") {
		return nil, "Your previous reply was not a JSON object. Return a single " +
			"JSON object matching the given template, with no surrounding text."
	}

	rec := &model.RateRecord{}
	if err := json.Unmarshal([]byte(body), rec); err != nil {
		repaired, rerr := jsonrepair.RepairJSON(body)
		if rerr == nil {
			rec = &model.RateRecord{}
			if err2 := json.Unmarshal([]byte(repaired), rec); err2 == nil {
				return rec, ""
			}
		}
		return nil, fmt.Sprintf("Your previous reply was not valid JSON (%v). "+
			"Return strictly valid JSON with double-quoted keys and no trailing commas.", err)
	}

	return rec, ""
}

func (e *Extractor) buildPrompt(rawText, bankName, feedback string) string {
	if len(rawText) > e.maxChars {
		// Back off to a rune boundary so the cut never splits an Icelandic
		// letter into invalid UTF-8.
		cut := e.maxChars
		for cut > 0 && !utf8.RuneStart(rawText[cut]) {
			cut--
		}
		rawText = rawText[:cut]
	}

	template, _ := json.MarshalIndent(model.NewEmptyRecord(bankName, ""), "", "  ")

	var sb strings.Builder
	fmt.Fprintf(&sb, "Extract interest rate data from this document text from %s.\n\n", bankName)
	if feedback != "" {
		fmt.Fprintf(&sb, "NOTE ON YOUR PREVIOUS ATTEMPT: %s\n\n", feedback)
	}
	sb.WriteString("RAW TEXT:\n")
	sb.WriteString(rawText)
	sb.WriteString("\n\nReturn ONLY valid JSON in this exact structure (use null for missing values, never omit a key):\n\n")
	sb.Write(template)
	sb.WriteString("\n\nIMPORTANT:\n" +
		"- Extract interest rates as bare percentages (e.g. 8.6 for 8.6%)\n" +
		"- Use null for missing values, not 0\n" +
		"- Parse Icelandic dates to YYYY-MM-DD format\n" +
		"- Common Icelandic terms:\n" +
		"  * \"vextir\" = interest\n" +
		"  * \"íbúðalán\" = mortgage\n" +
		"  * \"ökutækjalán\" = vehicle loan\n" +
		"  * \"yfirdráttur\" = overdraft\n" +
		"  * \"verðtryggt\" = indexed\n" +
		"  * \"óverðtryggt\" = unindexed\n" +
		"  * \"bundnir\" = fixed rate\n" +
		"  * \"breytilegir\" = variable rate\n" +
		"  * \"dráttarvextir\" = penalty interest\n")
	return sb.String()
}

// stripFences removes a Markdown code-fence wrapper if the model added one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "```") {
		return s
	}
	if idx := strings.Index(s, "```json"); idx >= 0 {
		s = s[idx+len("```json"):]
	} else if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+len("```"):]
	}
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
