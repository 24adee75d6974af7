package custom

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrEmptyDescription is returned by Propose for a blank description.
var ErrEmptyDescription = errors.New("description is required")

// Generator turns a prompt into text. The llm package's Client is the
// production implementation.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Builder asks a Generator for a detector script and compiles the answer.
// Nothing is returned unless the script validates and compiles.
type Builder struct {
	gen      Generator
	settings settings
}

// NewBuilder creates a Builder backed by gen.
func NewBuilder(gen Generator, opts ...Option) *Builder {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return &Builder{gen: gen, settings: s}
}

// Propose generates, validates and compiles a detector for description.
func (b *Builder) Propose(ctx context.Context, description string) (*Detector, error) {
	if strings.TrimSpace(description) == "" {
		return nil, ErrEmptyDescription
	}

	ctx, cancel := context.WithTimeout(ctx, b.settings.generateTimeout)
	defer cancel()

	text, err := b.gen.Generate(ctx, BuildPrompt(description))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	return compile(GenerateName(description), description, CleanResponse(text), b.settings)
}

// BuildPrompt returns the instruction sent to the generator.
func BuildPrompt(description string) string {
	var sb strings.Builder
	sb.WriteString("You are a cybersecurity expert. I need you to generate a Tengo script that analyzes web server log entries to detect specific security threats.\n\n")
	fmt.Fprintf(&sb, "User Request: %q\n\n", description)
	sb.WriteString("Please generate a Tengo function that:\n")
	sb.WriteString("1. Takes an array of parsed log entries as input\n")
	sb.WriteString("2. Analyzes each entry to detect the specific threat described\n")
	sb.WriteString("3. Returns an array of suspicious entries with a suspicion_reason field\n\n")
	sb.WriteString("Each log entry is a map with these string keys:\n")
	for _, f := range recordFields {
		fmt.Fprintf(&sb, "  %s\n", f)
	}
	sb.WriteString(`
Requirements:
- Return ONLY the Tengo code, no explanations
- Define the function as: detect_threats := func(entries) { ... }
- Return an array of the entries that match the threat pattern
- Set a suspicion_reason key on each returned entry explaining why it is suspicious
- Only the text, math and times modules may be imported; do not print anything
- Use text.re_match, text.contains and logical conditions as appropriate
- Be specific and accurate in detection logic and avoid false positives

Example format:
text := import("text")

detect_threats := func(entries) {
	result := []
	for entry in entries {
		if text.contains(entry.path, "something") {
			entry.suspicion_reason = "Reason for suspicion"
			result = append(result, entry)
		}
	}
	return result
}
`)
	return sb.String()
}

var (
	fenceOpeners = []*regexp.Regexp{
		regexp.MustCompile("(?i)^```tengo\\s*\\n?"),
		regexp.MustCompile("(?i)^```go\\s*\\n?"),
		regexp.MustCompile("^```\\s*\\n?"),
	}
	fenceCloser = regexp.MustCompile("\\n?```\\s*$")
)

// CleanResponse strips a surrounding markdown code fence, if any.
func CleanResponse(text string) string {
	code := strings.TrimSpace(text)
	for _, re := range fenceOpeners {
		code = re.ReplaceAllString(code, "")
	}
	code = fenceCloser.ReplaceAllString(code, "")
	return strings.TrimSpace(code)
}

var nonWordPattern = regexp.MustCompile(`[^\w\s]`)

var nameStopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true, "not": true,
	"you": true, "all": true, "can": true, "had": true, "her": true, "was": true,
	"one": true, "our": true, "out": true, "day": true, "get": true, "has": true,
	"him": true, "his": true, "how": true, "man": true, "new": true, "now": true,
	"old": true, "see": true, "two": true, "way": true, "who": true, "boy": true,
	"did": true, "its": true, "let": true, "put": true, "say": true, "she": true,
	"too": true, "use": true,
}

// GenerateName derives a short display name from a description: the first
// three significant words, title-cased, followed by "Analysis".
func GenerateName(description string) string {
	cleaned := nonWordPattern.ReplaceAllString(strings.ToLower(description), " ")

	caser := cases.Title(language.English)
	var words []string
	for _, w := range strings.Fields(cleaned) {
		if len(w) <= 2 || nameStopWords[w] {
			continue
		}
		words = append(words, caser.String(w))
		if len(words) == 3 {
			break
		}
	}
	return strings.Join(append(words, "Analysis"), " ")
}
