package responder

import (
	"fmt"
	"math"
	"strings"

	"brokerdesk.sg/relay/common/llm"
	"brokerdesk.sg/relay/internal/analysis"
	"brokerdesk.sg/relay/internal/model"
)

// BuildSystemPrompt renders the persona and a lead summary into the system
// prompt. Only tone, pacing and focus are taken from the persona.
func BuildSystemPrompt(p model.BrokerPersona, brokerName string, lead model.LeadSnapshot) string {
	name := brokerName
	if name == "" {
		name = p.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a mortgage broker in Singapore chatting with a prospect on the company's website.\n", name)
	b.WriteString("Write like a person on chat: short paragraphs, no markdown headings, no bullet lists longer than three items.\n")
	b.WriteString("Never claim to be an AI. Never promise an approval or a specific bank rate; say figures are estimates.\n")
	b.WriteString("If asked for something you cannot answer, offer to arrange a call with the team.\n\n")

	b.WriteString("Communication style:\n")
	fmt.Fprintf(&b, "- Tone: %s\n", orDefault(p.Tone, "friendly and professional"))
	fmt.Fprintf(&b, "- Pacing: %s\n", orDefault(p.Pacing, "steady"))
	fmt.Fprintf(&b, "- Focus: %s\n", orDefault(p.Focus, "understanding the prospect's needs"))

	if summary := LeadSummary(lead); summary != "" {
		b.WriteString("\nWhat we know about this prospect:\n")
		b.WriteString(summary)
	}
	return b.String()
}

// LeadSummary describes the lead's situation in bands. Identity fields and
// exact figures are left out.
func LeadSummary(s model.LeadSnapshot) string {
	var lines []string
	add := func(format string, args ...any) {
		lines = append(lines, "- "+fmt.Sprintf(format, args...))
	}

	if s.LoanType != "" {
		add("Looking for: %s", humanize(string(s.LoanType)))
	}
	if property := strings.TrimSpace(s.PropertyCategory + " " + s.PropertyType); property != "" {
		add("Property: %s", property)
	}
	if s.MonthlyIncome > 0 {
		add("Monthly income: %s", incomeBand(s.MonthlyIncome.Float()))
	}
	if loan := analysis.LoanFor(s); loan > 0 {
		add("Loan size: %s", loanBand(loan))
	}
	if s.CurrentBank != "" {
		add("Current bank: %s", s.CurrentBank)
	}
	if timeline := firstNonEmpty(s.Urgency, s.PurchaseTimeline, s.LockInStatus); timeline != "" {
		add("Timeline: %s", humanize(timeline))
	}
	if s.EmploymentType != "" {
		add("Employment: %s", humanize(s.EmploymentType))
	}

	est := analysis.Analyze(s)
	if est.TDSR != nil {
		status := "within"
		if !*est.WithinTDSR {
			status = "above"
		}
		add("Estimated TDSR at the %.0f%% stress rate: %.0f%% (%s the 55%% limit)",
			analysis.StressRate, *est.TDSR*100, status)
	}
	if est.LTV != nil {
		add("Current loan-to-value: about %.0f%%", *est.LTV*100)
	}
	if est.MonthlySavings > 0 {
		add("Potential refinancing saving: around S$%s a month", roundedMoney(est.MonthlySavings))
	}

	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// buildMessages appends the new message to the most recent history turns.
// The chat backend's history usually already ends with the message being
// answered, so a duplicate last turn is dropped.
func buildMessages(history []model.ConversationTurn, message string, limit int) []llm.Message {
	if n := len(history); n > 0 {
		last := history[n-1]
		if last.Role == model.TurnRoleUser && strings.TrimSpace(last.Content) == strings.TrimSpace(message) {
			history = history[:n-1]
		}
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	msgs := make([]llm.Message, 0, len(history)+1)
	for _, turn := range history {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		role := llm.RoleUser
		if turn.Role == model.TurnRoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: turn.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: message})
}

func incomeBand(v float64) string {
	switch {
	case v < 5000:
		return "below S$5k"
	case v < 8000:
		return "S$5k to S$8k"
	case v < 12000:
		return "S$8k to S$12k"
	case v < 20000:
		return "S$12k to S$20k"
	default:
		return "S$20k and above"
	}
}

func loanBand(v float64) string {
	switch {
	case v < 500_000:
		return "below S$500k"
	case v < 1_000_000:
		return "S$500k to S$1m"
	case v < 2_000_000:
		return "S$1m to S$2m"
	default:
		return "S$2m and above"
	}
}

func roundedMoney(v float64) string {
	return fmt.Sprintf("%.0f", math.Round(v/10)*10)
}

func humanize(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "_", " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
