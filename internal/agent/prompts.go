package agent

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/ehrlich-b/palaver/internal/bus"
	"github.com/ehrlich-b/palaver/internal/llm"
)

// burningQuestionBank holds the questions each personality tag wants
// to drag the debate toward. Three are sampled per bot at construction.
// Ordered: the first tag found in the personality string wins.
var burningQuestionBank = []struct {
	tag       string
	questions []string
}{
	{"philosophical", []string{
		"What does this mean for human purpose?",
		"Are we considering the deeper implications?",
		"What assumptions are we making here?",
		"How does this change what it means to work?",
		"What are the ethical dimensions we're missing?",
	}},
	{"analytical", []string{
		"Where's the data to support this?",
		"What does the research actually show?",
		"How do we measure success here?",
		"What are the real-world numbers?",
		"What evidence contradicts this?",
	}},
	{"passionate", []string{
		"This could change everything!",
		"Why aren't we acting faster?",
		"The benefits are obvious!",
		"This is exactly what people need!",
		"We're talking about real lives here!",
	}},
	{"critical", []string{
		"What could go wrong with this?",
		"What are the hidden costs?",
		"Who gets left behind in this scenario?",
		"What problems are we creating?",
		"Are we being realistic about challenges?",
	}},
	{"diplomatic", []string{
		"How can we find common ground?",
		"What if we're both right?",
		"Can we build on each other's ideas?",
		"Where do our perspectives overlap?",
		"What would a compromise look like?",
	}},
}

// pickBurningQuestions samples three questions for the personality,
// falling back to the analytical set when nothing matches.
func pickBurningQuestions(personality string, rng *rand.Rand) []string {
	lower := strings.ToLower(personality)
	pool := burningQuestionBank[1].questions
	for _, b := range burningQuestionBank {
		if strings.Contains(lower, b.tag) {
			pool = b.questions
			break
		}
	}

	picked := make([]string, 0, 3)
	for _, i := range rng.Perm(len(pool))[:3] {
		picked = append(picked, pool[i])
	}
	return picked
}

// historyRole maps a past event to a chat role from this bot's point
// of view: its own lines are assistant turns, everything else is user.
func historyRole(sender, self string) string {
	if sender == self {
		return "assistant"
	}
	return "user"
}

// autonomousMessages builds the request for a self-initiated response:
// the situation-aware system prompt plus a generous slice of history.
func autonomousMessages(name, personality, stance, topic string, burning []string, history []bus.Event, trigger *bus.Event, kind string) []llm.Message {
	msgs := []llm.Message{{
		Role:    "system",
		Content: autonomousSystemPrompt(name, personality, stance, topic, burning, trigger, kind),
	}}

	for _, ev := range tailEvents(history, 12) {
		msgs = append(msgs, llm.Message{
			Role:    historyRole(ev.Sender, name),
			Content: fmt.Sprintf("%s: %s", ev.Sender, ev.Body),
		})
	}
	return msgs
}

func autonomousSystemPrompt(name, personality, stance, topic string, burning []string, trigger *bus.Event, kind string) string {
	var b strings.Builder

	fmt.Fprintf(&b, `You are %s, an ACTIVE and ENERGETIC debate participant!

DEBATE TOPIC: %s

YOUR IDENTITY:
- Personality: %s
- Stance: %s
- You are monitoring this conversation and DECIDED to jump in!

YOU ARE HYPERACTIVE AND EAGER TO PARTICIPATE!

YOUR BURNING QUESTIONS/INTERESTS:`, name, topic, personality, stance)
	for i, q := range burning {
		fmt.Fprintf(&b, "\n%d. %s", i+1, q)
	}

	b.WriteString(`

AUTONOMOUS DEBATE CONTEXT:
- You are NOT taking turns - you chose to respond because you felt compelled
- You have access to the FULL conversation history
- Other participants (bots and humans) can also speak at any time
- The conversation flows naturally and organically
- BE ENERGETIC AND SHOW YOUR PERSONALITY!

YOUR CURRENT SITUATION:`)

	switch {
	case kind == TriggerSilenceBreak:
		b.WriteString(`
- The conversation went silent and you're jumping in to restart it
- Break the silence with energy and a fresh perspective
- Reference recent points but add something new
- Show enthusiasm!`)
	case kind == TriggerStarter:
		b.WriteString(`
- You want to introduce a new angle or your burning question
- Shift the conversation toward something you're passionate about
- Be proactive and take charge of the direction
- Use one of your burning questions if relevant!`)
	case trigger != nil:
		fmt.Fprintf(&b, `
- You were triggered to respond by: "%s: %s..."
- React with personality and conviction
- Don't be afraid to be direct, passionate, or challenging
- Show your stance clearly!`, trigger.Sender, truncateRunes(trigger.Body, 100))
	default:
		b.WriteString(`
- Something in the recent conversation compelled you to speak
- You felt you HAD to jump in
- Be competitive but substantive`)
	}

	fmt.Fprintf(&b, `

RESPONSE GUIDELINES:
1. BE ENERGETIC AND ENGAGED - show your personality!
2. Keep responses substantial but punchy (2-4 sentences ideal)
3. Reference specific points when relevant
4. Show your stance clearly: %s
5. Don't be afraid to be direct, passionate, or challenging
6. Jump in like you're in a real heated debate
7. Use your burning questions/interests when relevant
8. Be conversational and natural!

STANCE-SPECIFIC APPROACH:`, stance)

	switch strings.ToLower(stance) {
	case "pro":
		b.WriteString("\n- ARGUE STRONGLY for the topic\n- Challenge weak arguments against it\n- Show enthusiasm for the benefits\n- Use phrases like 'Actually...' or 'But consider this...'")
	case "con":
		b.WriteString("\n- CHALLENGE the topic firmly\n- Point out flaws and problems\n- Be skeptical but substantive\n- Use phrases like 'Hold on...' or 'That's not quite right...'")
	case "neutral":
		b.WriteString("\n- ASK PROBING QUESTIONS\n- Seek deeper understanding\n- Bridge different perspectives but stay curious\n- Use phrases like 'But what about...' or 'Have we considered...'")
	}

	lower := strings.ToLower(personality)
	switch {
	case strings.Contains(lower, "philosophical"):
		b.WriteString("\n- Ask deeper questions about assumptions and implications\n- Challenge people to think more deeply\n- Show excitement about big ideas")
	case strings.Contains(lower, "analytical"):
		b.WriteString("\n- Focus on data, evidence, and logical reasoning\n- Challenge unsupported claims\n- Ask for proof and specifics")
	case strings.Contains(lower, "passionate"):
		b.WriteString("\n- Show enthusiasm and conviction in your arguments\n- Use energetic language\n- Express how much you care about this topic")
	case strings.Contains(lower, "critical"):
		b.WriteString("\n- Find flaws and problems in arguments\n- Point out what others are missing\n- Be direct about issues you see")
	case strings.Contains(lower, "diplomatic"):
		b.WriteString("\n- Find common ground while making your point\n- Build bridges between opposing views\n- Show how different perspectives can work together")
	}

	b.WriteString("\n\nYOUR BURNING QUESTIONS/INTERESTS:\n")
	for i, q := range burning {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}
	b.WriteString("\nFeel free to explore these when relevant!")

	b.WriteString("\n\nYou are EAGER to participate! Don't be shy - jump in when you have something to add! Respond as someone who genuinely cares about this topic and wants to actively engage in the debate!")

	return b.String()
}

// structuredMessages builds the request for a moderator-granted turn:
// a short system prompt plus the last few exchanges.
func structuredMessages(name, personality, stance, topic string, recent []bus.Event) []llm.Message {
	msgs := []llm.Message{{
		Role: "system",
		Content: fmt.Sprintf(`You are %s, participating in a structured debate.

DEBATE TOPIC: %s
YOUR ROLE: %s
YOUR STANCE: %s

Provide a clear, energetic response that shows your personality and stance.`, name, topic, personality, stance),
	}}

	for _, ev := range tailEvents(recent, 5) {
		msgs = append(msgs, llm.Message{
			Role:    historyRole(ev.Sender, name),
			Content: fmt.Sprintf("%s: %s", ev.Sender, ev.Body),
		})
	}
	return msgs
}

func warmupMessages() []llm.Message {
	return []llm.Message{
		{Role: "system", Content: `You are a debate participant. Respond with just "Ready" to confirm you are working.`},
		{Role: "user", Content: "Are you ready to participate in a debate?"},
	}
}

func ballotMessages(name, topic string, candidates []string) []llm.Message {
	return []llm.Message{
		{Role: "system", Content: fmt.Sprintf("You are %s, a participant in a debate on: %s. Judge the other participants fairly on the strength of their arguments, not on whether you agreed with them.", name, topic)},
		{Role: "user", Content: fmt.Sprintf("The debate has ended. Candidates: %s. Reply with only the name of the most persuasive participant.", strings.Join(candidates, ", "))},
	}
}

// fallbackLine is used when generation fails during a structured turn
// so the debate keeps moving.
func fallbackLine(topic string, rng *rand.Rand) string {
	lines := []string{
		fmt.Sprintf("I'm excited to discuss %s! Let me jump in here...", topic),
		"That's a fascinating point! I have thoughts on this...",
		fmt.Sprintf("Wait, there are some important aspects of %s we should consider!", topic),
		"I've been listening and I really want to add something here!",
	}
	return lines[rng.Intn(len(lines))]
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
