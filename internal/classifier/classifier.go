// Package classifier provides the deterministic fallback used when the remote
// evaluator cannot produce a verdict. Every function here is pure and total.
package classifier

import (
	"regexp"
	"strings"

	"github.com/ashureev/shsh-coach/internal/domain"
)

// Fixed rewrites offered with AMBER verdicts.
const (
	GreetingRewrite = "Good morning, thank you for making time to speak with me today. " +
		"My name is [your name] and I'll be leading this discovery session."
	ProblemRewrite = "Could you walk me through the biggest challenge your team is facing right now, " +
		"and how it affects your day-to-day work?"
	ClosedQuestionRewrite = "What happens when you run into that, and how does it affect the people involved?"
	AsIsRewrite           = "Could you walk me through how this process works today, step by step, " +
		"including who is involved at each stage?"
	QuestionRewrite = "Could you tell me more about how that works today and what makes it difficult?"
)

// Techniques reported by the fallback.
const (
	TechniqueIntroduction = "Professional introduction"
	TechniqueOpenEnded    = "Open-ended questioning"
	TechniqueProcess      = "Process mapping"
	TechniqueFocus        = "Staying on topic"
)

var wordPattern = regexp.MustCompile(`[a-z0-9']+`)

var casualMarkers = []string{
	"hey", "heya", "hiya", "yo", "sup", "wassup", "lol", "gonna", "wanna",
	"ya", "u", "thx", "howdy", "dude", "mate",
}

var professionalMarkers = []string{
	"thank", "appreciate", "my name", "i'm", "i am", "pleasure", "good morning",
	"good afternoon", "good evening", "nice to meet", "hello", "welcome",
}

var problemLanguage = []string{
	"problem", "challenge", "issue", "pain", "difficult", "struggl", "frustrat",
	"slow", "manual", "error", "mistake", "cost", "delay", "bottleneck", "impact",
	"goal", "improve", "concern", "risk", "complain", "fail", "why",
}

var processLanguage = []string{
	"process", "step", "workflow", "today", "currently", "current", "walk me through",
	"hand off", "handoff", "hand-off", "tool", "system", "approval", "approve",
	"end to end", "who does", "sequence", "stage", "spreadsheet", "how do you",
	"how does",
}

var openStarters = []string{
	"what", "how", "why", "tell me", "describe", "walk me through", "can you tell",
	"could you tell", "could you describe", "could you walk", "can you walk",
	"can you describe", "help me understand", "in what way", "which",
}

var closedStarters = []string{
	"is", "are", "do", "does", "did", "can", "could", "will", "would", "should",
	"have", "has", "was", "were", "am",
}

var domainVocabulary = []string{
	"user", "customer", "client", "team", "data", "report", "requirement",
	"feature", "budget", "timeline", "deadline", "stakeholder", "business",
	"project", "department", "staff", "employee", "service", "product",
}

// text is the normalised view of a message used by every rule.
type text struct {
	words  []string
	padded string
	qmark  bool
}

func normalize(raw string) text {
	lower := strings.ToLower(strings.TrimSpace(raw))
	words := wordPattern.FindAllString(lower, -1)
	return text{
		words:  words,
		padded: " " + strings.Join(words, " ") + " ",
		qmark:  strings.Contains(lower, "?"),
	}
}

// has reports whether any term starts a word (or word sequence) in t.
func (t text) has(terms []string) bool {
	for _, term := range terms {
		term = strings.Join(wordPattern.FindAllString(term, -1), " ")
		if strings.Contains(t.padded, " "+term) {
			return true
		}
	}
	return false
}

// hasWord reports whether any term appears in t as a whole word.
func (t text) hasWord(terms []string) bool {
	for _, term := range terms {
		if strings.Contains(t.padded, " "+term+" ") {
			return true
		}
	}
	return false
}

// startsWith reports whether t begins with any of the given phrases.
func (t text) startsWith(phrases []string) bool {
	for _, p := range phrases {
		p = strings.Join(wordPattern.FindAllString(p, -1), " ")
		if strings.HasPrefix(t.padded, " "+p+" ") {
			return true
		}
	}
	return false
}

func (t text) open() bool {
	return t.startsWith(openStarters)
}

func (t text) closed() bool {
	return !t.open() && t.startsWith(closedStarters)
}

// Classify returns the fallback evaluation for text in the given phase.
// projectName scopes the topic-relevance check of the Q&A phase.
func Classify(phase domain.Phase, raw, projectName string) domain.Evaluation {
	switch phase {
	case domain.PhaseProblemExploration:
		return ProblemExploration(raw)
	case domain.PhaseAsIs:
		return AsIs(raw)
	case domain.PhaseStakeholderQA:
		return Question(raw, projectName)
	default:
		return Greeting(raw)
	}
}

// Greeting flags casual openers that lack any professional marker.
//
// Rules, in order:
//  1. casual marker without professional marker → AMBER
//  2. fewer than three words without professional marker → AMBER
//  3. otherwise → GOOD
func Greeting(raw string) domain.Evaluation {
	t := normalize(raw)
	professional := t.has(professionalMarkers)
	if !professional && (t.hasWord(casualMarkers) || len(t.words) < 3) {
		return domain.Evaluation{
			Verdict:          domain.VerdictAmber,
			Message:          "That greeting is a little casual for a first meeting with a stakeholder.",
			SuggestedRewrite: GreetingRewrite,
			Reasoning:        "The message reads as informal and does not introduce you or thank the stakeholder.",
			Technique:        TechniqueIntroduction,
		}
	}
	return domain.Evaluation{
		Verdict:   domain.VerdictGood,
		Message:   "Good introduction. You set a professional tone.",
		Reasoning: "The greeting is courteous and establishes who you are.",
		Technique: TechniqueIntroduction,
	}
}

// ProblemExploration rewards open questions about the stakeholder's problem.
//
// Rules, in order:
//  1. no problem or domain vocabulary and not an open question → OUT_OF_SCOPE
//  2. closed (yes/no) question → AMBER with an open-ended rewrite
//  3. problem language and an open question → GOOD
//  4. otherwise → AMBER with a problem-focused rewrite
func ProblemExploration(raw string) domain.Evaluation {
	t := normalize(raw)
	problem := t.has(problemLanguage)
	switch {
	case !problem && !t.has(domainVocabulary) && !t.open():
		return offTopic("This does not explore the stakeholder's problem.")
	case t.closed():
		return domain.Evaluation{
			Verdict:          domain.VerdictAmber,
			Message:          "That is a yes/no question and will limit what the stakeholder tells you.",
			SuggestedRewrite: ClosedQuestionRewrite,
			Reasoning:        "Closed questions confirm assumptions instead of uncovering the problem.",
			Technique:        TechniqueOpenEnded,
		}
	case problem && t.open():
		return domain.Evaluation{
			Verdict:   domain.VerdictGood,
			Message:   "Great open question about the problem.",
			Reasoning: "It invites the stakeholder to describe the problem in their own words.",
			Technique: TechniqueOpenEnded,
		}
	default:
		return domain.Evaluation{
			Verdict:          domain.VerdictAmber,
			Message:          "Try to focus your question on the problem the stakeholder is facing.",
			SuggestedRewrite: ProblemRewrite,
			Reasoning:        "The question does not point at a challenge, pain point or goal.",
			Technique:        TechniqueOpenEnded,
		}
	}
}

// AsIs rewards questions that map the current process.
//
// Rules, in order:
//  1. process-mapping language → GOOD
//  2. no process or problem language and not a question → OUT_OF_SCOPE
//  3. otherwise → AMBER with a process-mapping rewrite
func AsIs(raw string) domain.Evaluation {
	t := normalize(raw)
	switch {
	case t.has(processLanguage):
		return domain.Evaluation{
			Verdict:   domain.VerdictGood,
			Message:   "Good, you are mapping how the process works today.",
			Reasoning: "The question asks about steps, people or tools in the current process.",
			Technique: TechniqueProcess,
		}
	case !t.has(problemLanguage) && !t.qmark && !t.open():
		return offTopic("This does not help map the current process.")
	default:
		return domain.Evaluation{
			Verdict:          domain.VerdictAmber,
			Message:          "Ask about how the work actually happens today before moving on.",
			SuggestedRewrite: AsIsRewrite,
			Reasoning:        "The question does not cover steps, hand-offs or tools of the current process.",
			Technique:        TechniqueProcess,
		}
	}
}

// Question judges a free-form stakeholder question for relevance and openness.
//
// Rules, in order:
//  1. no overlap with the project name or domain vocabulary → OUT_OF_SCOPE
//  2. closed (yes/no) question → AMBER with an open rewrite
//  3. otherwise → GOOD
func Question(raw, projectName string) domain.Evaluation {
	t := normalize(raw)
	if !relevant(t, projectName) {
		return offTopic("This question is not related to the project you are discussing.")
	}
	if t.closed() {
		return domain.Evaluation{
			Verdict:          domain.VerdictAmber,
			Message:          "That question can be answered with a yes or no.",
			SuggestedRewrite: QuestionRewrite,
			Reasoning:        "Open questions draw out detail the stakeholder may not volunteer.",
			Technique:        TechniqueOpenEnded,
		}
	}
	return domain.Evaluation{
		Verdict:   domain.VerdictGood,
		Message:   "Relevant, open question.",
		Reasoning: "The question stays on topic and leaves room for a detailed answer.",
		Technique: TechniqueOpenEnded,
	}
}

func relevant(t text, projectName string) bool {
	if t.has(domainVocabulary) || t.has(problemLanguage) || t.has(processLanguage) {
		return true
	}
	return t.has(subjectTerms(projectName))
}

// subjectTerms returns the words of the project name long enough to be meaningful.
func subjectTerms(projectName string) []string {
	var terms []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(projectName), -1) {
		if len(w) >= 4 {
			terms = append(terms, w)
		}
	}
	return terms
}

func offTopic(message string) domain.Evaluation {
	return domain.Evaluation{
		Verdict:   domain.VerdictOutOfScope,
		Message:   message,
		Reasoning: "The message falls outside the subject of this coaching session.",
		Technique: TechniqueFocus,
	}
}
