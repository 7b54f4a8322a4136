package responder

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"brokerdesk.sg/relay/common/llm"
)

// Tier is a class of model, from cheapest to most deliberate.
type Tier string

const (
	TierFast      Tier = "fast"
	TierStandard  Tier = "standard"
	TierReasoning Tier = "reasoning"
)

type Intent string

const (
	IntentGreeting    Intent = "greeting"
	IntentSmallTalk   Intent = "small_talk"
	IntentCalculation Intent = "calculation"
	IntentComparison  Intent = "comparison"
	IntentGeneral     Intent = "general"
)

func (i Intent) Valid() bool {
	switch i {
	case IntentGreeting, IntentSmallTalk, IntentCalculation, IntentComparison, IntentGeneral:
		return true
	}
	return false
}

// Tier maps an intent to the model class that should answer it.
func (i Intent) Tier() Tier {
	switch i {
	case IntentGreeting, IntentSmallTalk:
		return TierFast
	case IntentComparison:
		return TierReasoning
	default:
		return TierStandard
	}
}

type Classification struct {
	Intent     Intent
	Confidence float64
	Source     string // "heuristic" or "llm"
}

type Classifier interface {
	Classify(ctx context.Context, message string) Classification
}

var (
	numberPattern = regexp.MustCompile(`\d`)
	wordPattern   = regexp.MustCompile(`[a-z0-9']+`)

	comparisonWords = wordSet(
		"compare", "comparison", "comparing", "vs", "versus", "better", "recommend",
		"recommendation", "recommended", "pros", "cons", "tradeoff",
	)
	comparisonPhrases = []string{
		"which bank", "which package", "should i ", "fixed or floating", "floating or fixed",
		"difference between", "worth it", "best option", "best package",
	}
	calculationWords = wordSet(
		"calculate", "calculation", "monthly", "installment", "installments", "instalment",
		"instalments", "repayment", "tdsr", "msr", "ltv", "interest", "rate", "rates", "afford",
		"affordable", "savings", "save", "tenure", "downpayment", "cpf", "percent",
	)
	calculationPhrases = []string{
		"how much", "loan amount", "down payment", "stamp duty", "$", "%",
	}
	greetingWords  = wordSet("hi", "hello", "hey", "hiya", "morning", "afternoon", "evening", "yo")
	smallTalkWords = wordSet(
		"thanks", "thank", "ok", "okay", "great", "cool", "noted", "sure", "nice", "bye", "lol", "alright",
	)
)

// HeuristicClassifier labels messages with keyword and shape rules. It is
// cheap and always answers; low confidence means the message was ambiguous.
type HeuristicClassifier struct{}

func (HeuristicClassifier) Classify(_ context.Context, message string) Classification {
	text := " " + strings.ToLower(strings.TrimSpace(message)) + " "
	words := wordPattern.FindAllString(text, -1)

	if len(words) == 0 {
		return Classification{Intent: IntentSmallTalk, Confidence: 0.5, Source: "heuristic"}
	}

	if anyWord(words, comparisonWords) || containsAny(text, comparisonPhrases) {
		return Classification{Intent: IntentComparison, Confidence: 0.8, Source: "heuristic"}
	}

	hasNumber := numberPattern.MatchString(text)
	if anyWord(words, calculationWords) || containsAny(text, calculationPhrases) {
		conf := 0.75
		if hasNumber {
			conf = 0.9
		}
		return Classification{Intent: IntentCalculation, Confidence: conf, Source: "heuristic"}
	}

	if len(words) <= 5 {
		if greetingWords[words[0]] || strings.HasPrefix(strings.TrimSpace(text), "good ") {
			return Classification{Intent: IntentGreeting, Confidence: 0.9, Source: "heuristic"}
		}
		if anyWord(words, smallTalkWords) {
			return Classification{Intent: IntentSmallTalk, Confidence: 0.8, Source: "heuristic"}
		}
	}

	if hasNumber {
		return Classification{Intent: IntentCalculation, Confidence: 0.55, Source: "heuristic"}
	}
	return Classification{Intent: IntentGeneral, Confidence: 0.4, Source: "heuristic"}
}

func wordSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func anyWord(words []string, set map[string]bool) bool {
	for _, w := range words {
		if set[w] {
			return true
		}
	}
	return false
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

type intentResult struct {
	Intent     string  `json:"intent" jsonschema:"enum=greeting,enum=small_talk,enum=calculation,enum=comparison,enum=general"`
	Confidence float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
}

const classifierPrompt = `You label messages sent by mortgage prospects in Singapore.
Pick exactly one intent:
- greeting: hello, hi, opening pleasantries
- small_talk: thanks, acknowledgements, chit-chat with no question
- calculation: questions needing numbers (installments, rates, TDSR, loan amounts, savings)
- comparison: open-ended trade-offs between banks, packages, fixed vs floating, timing decisions
- general: anything else
Return the intent and your confidence between 0 and 1.`

// AssistedClassifier asks a structured-output model only when the heuristic
// is unsure. Any model error keeps the heuristic answer.
type AssistedClassifier struct {
	heuristic HeuristicClassifier
	client    llm.Client
	threshold float64
	timeout   time.Duration
}

func NewAssistedClassifier(client llm.Client, threshold float64, timeout time.Duration) *AssistedClassifier {
	if threshold <= 0 {
		threshold = 0.6
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &AssistedClassifier{
		client:    client,
		threshold: threshold,
		timeout:   timeout,
	}
}

func (c *AssistedClassifier) Classify(ctx context.Context, message string) Classification {
	guess := c.heuristic.Classify(ctx, message)
	if c.client == nil || guess.Confidence >= c.threshold {
		return guess
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var result intentResult
	_, err := c.client.Chat(ctx, llm.Request{
		SystemPrompt: classifierPrompt,
		UserPrompt:   message,
		SchemaName:   "intent",
		Schema:       llm.GenerateSchema[intentResult](),
		MaxTokens:    64,
		Temperature:  llm.Temp(0),
	}, &result)
	if err != nil {
		slog.WarnContext(ctx, "intent classification failed, using heuristic",
			"error", err,
			"heuristic_intent", guess.Intent)
		return guess
	}

	intent := Intent(result.Intent)
	if !intent.Valid() {
		slog.WarnContext(ctx, "intent classifier returned unknown label",
			"label", result.Intent)
		return guess
	}
	return Classification{Intent: intent, Confidence: result.Confidence, Source: "llm"}
}

func (c Classification) String() string {
	return fmt.Sprintf("%s(%.2f,%s)", c.Intent, c.Confidence, c.Source)
}
