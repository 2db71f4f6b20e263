package agent

import (
	"regexp"
	"strings"
	"time"

	"github.com/ehrlich-b/palaver/internal/bus"
)

// signals are the independent trigger observations made against the
// newest message. Each true signal raises the response probability;
// a direct mention forces a response outright.
type signals struct {
	directMention    bool
	stanceChallenged bool
	questionInDomain bool
	silenceTooLong   bool
	expertiseNeeded  bool
}

func (s signals) count() int {
	n := 0
	for _, v := range []bool{s.directMention, s.stanceChallenged, s.questionInDomain, s.silenceTooLong, s.expertiseNeeded} {
		if v {
			n++
		}
	}
	return n
}

// Words that read as pushback against a pro stance.
var challengeWords = []string{
	"wrong", "disagree", "against", "oppose", "bad idea", "fails", "problem", "no", "but", "however",
}

// Words that read as endorsement, which a con stance wants to contest.
var supportWords = []string{
	"agree", "support", "favor", "good idea", "beneficial", "works", "success", "yes", "exactly", "true",
}

var questionIndicators = []string{
	"?", "what", "how", "why", "when", "where", "clarify", "explain", "think", "opinion",
}

// expertiseVocab maps a personality tag to the vocabulary that pulls
// that personality into the conversation. Ordered so detection is
// deterministic for personalities matching several tags.
var expertiseVocab = []struct {
	tag   string
	words []string
}{
	{"philosophical", []string{"meaning", "purpose", "ethics", "moral", "should", "ought", "values", "principle"}},
	{"analytical", []string{"data", "evidence", "study", "research", "statistics", "proof", "numbers", "facts"}},
	{"practical", []string{"implement", "real world", "actually", "practice", "work", "application"}},
	{"critical", []string{"assume", "problem", "issue", "concern", "risk", "wrong", "flaw"}},
	{"passionate", []string{"amazing", "incredible", "urgent", "important", "critical", "essential"}},
	{"diplomatic", []string{"balance", "compromise", "middle", "together", "common"}},
}

// detector holds the per-participant matching state compiled once at
// construction: the mention pattern and the expertise vocabulary its
// personality subscribes to.
type detector struct {
	name        string
	stance      string
	mention     *regexp.Regexp
	vocab       [][]string
	silenceOver time.Duration
}

func newDetector(name, personality, stance string, silenceOver time.Duration) *detector {
	d := &detector{
		name:        name,
		stance:      stance,
		mention:     compileMention(name),
		silenceOver: silenceOver,
	}
	lower := strings.ToLower(personality)
	for _, e := range expertiseVocab {
		if strings.Contains(lower, e.tag) {
			d.vocab = append(d.vocab, e.words)
		}
	}
	return d
}

// compileMention builds one whole-word pattern over the participant's
// name variants plus broadcast-style addresses.
func compileMention(name string) *regexp.Regexp {
	lower := strings.ToLower(name)
	variants := []string{
		lower,
		strings.TrimRight(lower, "s"), // "socrates" answers to "socrate"
		lower + ":",
		strings.ReplaceAll(lower, " ", "_"),
		strings.ReplaceAll(lower, "_", " "),
		"everyone", "all", "thoughts", "anyone",
	}

	seen := make(map[string]bool)
	var alts []string
	for _, v := range variants {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		alts = append(alts, regexp.QuoteMeta(v))
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(alts, "|") + `)\b`)
}

// analyze computes the trigger signals for msg against a short recent
// window. recentText is the joined body of the last few messages;
// history is the full stored window, used for the silence-gap signal.
func (d *detector) analyze(msg bus.Event, recentText string, history []bus.Event) signals {
	var sig signals

	contentLower := strings.ToLower(msg.Body)
	recentLower := strings.ToLower(recentText)

	if d.mention.MatchString(contentLower) {
		sig.directMention = true
	} else if strings.Contains(contentLower, "what do you think") && d.stance != "neutral" {
		sig.directMention = true
	}

	switch d.stance {
	case "pro":
		sig.stanceChallenged = containsAny(recentLower, challengeWords)
	case "con":
		sig.stanceChallenged = containsAny(recentLower, supportWords)
	case "neutral":
		sig.questionInDomain = containsAny(contentLower, questionIndicators)
	}

	// Silence before this message: gap between it and the prior event.
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Seq < msg.Seq {
			sig.silenceTooLong = msg.CreatedAt.Sub(history[i].CreatedAt) > d.silenceOver
			break
		}
	}

	for _, words := range d.vocab {
		if containsAny(contentLower, words) {
			sig.expertiseNeeded = true
			break
		}
	}

	return sig
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// archetype is the enumerated personality class used for probability
// multipliers. Classification order matters: the first matching class
// wins, so "passionate critical" scores as passionate.
type archetype int

const (
	archetypeNone archetype = iota
	archetypeAggressive
	archetypePassionate
	archetypePhilosophical
	archetypeAnalytical
	archetypeCritical
	archetypeDiplomatic
)

func classifyPersonality(personality string) archetype {
	p := strings.ToLower(personality)
	switch {
	case strings.Contains(p, "aggressive") || strings.Contains(p, "assertive"):
		return archetypeAggressive
	case strings.Contains(p, "passionate") || strings.Contains(p, "excited"):
		return archetypePassionate
	case strings.Contains(p, "thoughtful") || strings.Contains(p, "philosophical"):
		return archetypePhilosophical
	case strings.Contains(p, "analytical") || strings.Contains(p, "data-driven"):
		return archetypeAnalytical
	case strings.Contains(p, "critical"):
		return archetypeCritical
	case strings.Contains(p, "balanced") || strings.Contains(p, "diplomatic"):
		return archetypeDiplomatic
	}
	return archetypeNone
}

// multiplier scales the summed probability. Some archetypes only get
// their full boost when the matching signal fired.
func (a archetype) multiplier(sig signals) float64 {
	switch a {
	case archetypeAggressive:
		return 1.4
	case archetypePassionate:
		return 1.5
	case archetypePhilosophical:
		if sig.questionInDomain {
			return 1.6
		}
		return 1.0
	case archetypeAnalytical:
		if sig.expertiseNeeded {
			return 1.5
		}
		return 1.1
	case archetypeCritical:
		if sig.stanceChallenged {
			return 1.4
		}
		return 1.2
	case archetypeDiplomatic:
		if sig.stanceChallenged {
			return 1.3
		}
		return 1.1
	}
	return 1.0
}
