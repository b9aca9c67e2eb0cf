package engine

import (
	"context"
	"sort"
	"strings"

	"github.com/vantagechat/engage/internal/gateway"
	"github.com/vantagechat/engage/internal/pagecontext"
	"github.com/vantagechat/engage/internal/session"
)

// Section archetypes the rule-based question bank keys on.
const (
	sectionPricing      = "pricing"
	sectionFeatures     = "features"
	sectionTestimonials = "testimonials"
	sectionContact      = "contact"
	sectionHero         = "hero"
	sectionGeneric      = "generic"
)

// questionBank holds the rule-based fallback questions per section
// archetype. Selection is deterministic: the session's proactive counter
// indexes into the slice.
var questionBank = map[string][]string{
	sectionPricing: {
		"I see you're looking at our pricing — can I help you figure out which plan fits?",
		"Comparing plans? I can break down what's included in each tier.",
		"Any questions about pricing? Most teams start on the middle tier.",
	},
	sectionFeatures: {
		"Curious how any of these features would work for your team?",
		"Want a closer look at one of these capabilities?",
		"Is there a specific feature you're evaluating? Happy to go deeper.",
	},
	sectionTestimonials: {
		"These are some of our favorite customer stories — want one closer to your use case?",
		"Wondering how teams like yours use us? I can share relevant examples.",
	},
	sectionContact: {
		"Need help reaching the right person? I can point you to the fastest option.",
		"I can set up a call with the team if that's easier than the form.",
	},
	sectionHero: {
		"Welcome! Want the two-minute version of what we do?",
		"Any questions as you look around? I'm happy to help.",
	},
	sectionGeneric: {
		"Anything on this page I can explain?",
		"Questions about what you're seeing? Just ask.",
	},
}

// fallbackAnswers backs the companion-answer stage when generation fails.
var fallbackAnswers = map[string]string{
	sectionPricing:      "In short: every plan includes the core product, and the higher tiers add collaboration and security features. If you tell me your team size I can suggest a fit.",
	sectionFeatures:     "The short version: everything you see here works together out of the box, with no setup required. Ask me about any one of them for specifics.",
	sectionTestimonials: "These results are typical of teams that switch to us — most see the difference within the first month.",
	sectionContact:      "The fastest way to reach us is right here in this chat. I can also arrange a callback.",
	sectionHero:         "We help teams like yours get set up in minutes, not weeks. Scroll on for the details, or ask me anything.",
	sectionGeneric:      "Happy to expand on anything here — just ask.",
}

type followupTopic struct {
	ID   string
	Text string
}

// followupTopics cycle per session: each is used once, and the pool resets
// when exhausted.
var followupTopics = []followupTopic{
	{"pricing", "By the way — if pricing comes up, I can walk you through how the plans compare."},
	{"demo", "Would a quick demo help? I can set one up for whenever suits you."},
	{"features", "If there's a specific capability you're evaluating, ask away — that's what I'm here for."},
	{"support", "One thing people often ask: yes, support is included on every plan."},
	{"trial", "You can also just try it — the trial is free and doesn't need a card."},
}

type buttonCandidate struct {
	Text     string
	Category string
	Score    int
}

// MaybeAskAboutSection is the single entry point for contextual questions.
// Both tiers are mutually exclusive through the scheduler's in-flight slot;
// a trigger that finds the slot taken must no-op rather than queue.
func (e *Engine) MaybeAskAboutSection(ctx context.Context, snap pagecontext.Snapshot) {
	// A visitor who just sent a message is already engaged.
	if e.sched.TimeSinceLastUserMessage() < e.cfg.RecentEngagementWindow {
		return
	}
	if !e.sched.TryAcquireContextual() {
		return
	}

	if !e.cfg.AIQuestionsEnabled {
		e.askRuleBased(ctx, snap)
		return
	}

	section := snap.SectionName
	e.sched.ScheduleContextualStage(e.cfg.ContextualAskDelay, func() {
		e.runContextualAsk(context.WithoutCancel(ctx), snap, section)
	})
}

// runContextualAsk is stage one of the AI choreography: the question. Runs
// after the ask delay, so every guard is re-checked; state may have moved
// while we waited.
func (e *Engine) runContextualAsk(ctx context.Context, snap pagecontext.Snapshot, section string) {
	if e.sched.TimeSinceLastUserMessage() < e.cfg.RecentEngagementWindow {
		e.sched.ReleaseContextual()
		return
	}
	if section != "" && e.CurrentSection() != "" && e.CurrentSection() != section {
		// The visitor moved on to another section during the delay.
		e.sched.ReleaseContextual()
		return
	}

	resp := e.gateway.SendChatRequest(ctx, gateway.KindContextualQuestion, e.sessionID, e.PageURL(), map[string]any{
		"contextualQuestionGeneration": snapshotSummary(snap),
	})

	question := resp.MainText
	buttons := capButtons(resp.Buttons, e.cfg.MaxSuggestionButtons)
	if question == "" || resp.BotMode == gateway.BotModeError {
		question = e.ruleQuestion(ctx, snap)
		buttons = selectButtons(buttonCandidates(snap), e.cfg.MaxSuggestionButtons)
	}

	e.dispatchContextualQuestion(ctx, question, buttons)

	e.sched.ScheduleContextualStage(e.cfg.ContextualAnswerDelay, func() {
		e.runContextualAnswer(ctx, snap, question)
	})
}

// runContextualAnswer is stage two: a companion explanation for the question
// just asked. Always releases the in-flight slot.
func (e *Engine) runContextualAnswer(ctx context.Context, snap pagecontext.Snapshot, question string) {
	defer e.sched.ReleaseContextual()

	// If the visitor replied in the meantime, the normal reply path owns
	// the conversation now.
	if e.sched.TimeSinceLastUserMessage() < e.cfg.ContextualAnswerDelay {
		return
	}

	resp := e.gateway.SendChatRequest(ctx, gateway.KindContextual, e.sessionID, e.PageURL(), map[string]any{
		"contextual": question,
	})
	answer := resp.MainText
	if answer == "" || resp.BotMode == gateway.BotModeError {
		answer = fallbackAnswers[sectionArchetype(snap)]
	}

	e.SendProactiveMessage(ctx, ProactiveMessage{
		Text: answer,
		Kind: KindContextualAnswer,
	})
}

// askRuleBased is the fallback tier: static bank, immediate dispatch.
func (e *Engine) askRuleBased(ctx context.Context, snap pagecontext.Snapshot) {
	question := e.ruleQuestion(ctx, snap)
	buttons := selectButtons(buttonCandidates(snap), e.cfg.MaxSuggestionButtons)
	e.dispatchContextualQuestion(ctx, question, buttons)
	e.sched.ReleaseContextual()
}

func (e *Engine) dispatchContextualQuestion(ctx context.Context, question string, buttons []string) {
	e.mu.Lock()
	e.lastContextualQuestion = question
	e.mu.Unlock()

	e.recordEvent(ctx, "contextual_sent", map[string]any{"section": e.CurrentSection()})
	e.SendProactiveMessage(ctx, ProactiveMessage{
		Text:    question,
		Buttons: buttons,
		Kind:    KindContextualQuestion,
	})

	if len(buttons) > 0 {
		e.sched.ArmAutoResponse(e.cfg.AutoResponseDelay, func() {
			e.fireAutoResponse(context.WithoutCancel(ctx), question)
		})
	}
}

// fireAutoResponse synthesizes a filler answer to a contextual question the
// visitor never engaged with, then clears the question slot.
func (e *Engine) fireAutoResponse(ctx context.Context, question string) {
	if e.sched.TimeSinceLastUserMessage() < e.cfg.AutoResponseDelay {
		return
	}
	e.mu.Lock()
	current := e.lastContextualQuestion
	e.lastContextualQuestion = ""
	e.mu.Unlock()
	if current == "" || current != question {
		return
	}

	resp := e.gateway.SendChatRequest(ctx, gateway.KindAutoResponse, e.sessionID, e.PageURL(), map[string]any{
		"autoResponse": question,
	})
	text := resp.MainText
	if text == "" || resp.BotMode == gateway.BotModeError {
		text = "No rush — the short answer is that I can help with that whenever you're ready."
	}

	e.SendProactiveMessage(ctx, ProactiveMessage{
		Text: text,
		Kind: KindAutoResponse,
	})
}

// ruleQuestion picks deterministically from the static bank: the proactive
// counter indexes the archetype's questions, so tests are reproducible and
// repeat visits don't loop on one phrasing.
func (e *Engine) ruleQuestion(ctx context.Context, snap pagecontext.Snapshot) string {
	archetype := sectionArchetype(snap)
	bank := questionBank[archetype]
	if len(bank) == 0 {
		bank = questionBank[sectionGeneric]
	}
	idx := e.store.GetCounter(ctx, e.sessionID, session.CounterProactive) % len(bank)
	return bank[idx]
}

// nextFollowupTopic returns the first unused topic in fixed order, cycling
// the pool when every topic has been used.
func (e *Engine) nextFollowupTopic(ctx context.Context) followupTopic {
	used := make(map[string]bool)
	for _, id := range e.store.SetMembers(ctx, e.sessionID, session.SetFollowupTopics) {
		used[id] = true
	}

	for _, t := range followupTopics {
		if !used[t.ID] {
			e.store.AddSetMember(ctx, e.sessionID, session.SetFollowupTopics, t.ID)
			return t
		}
	}

	// Pool exhausted: reset and start over.
	e.store.ClearSet(ctx, e.sessionID, session.SetFollowupTopics)
	e.store.AddSetMember(ctx, e.sessionID, session.SetFollowupTopics, followupTopics[0].ID)
	return followupTopics[0]
}

// sectionArchetype maps a snapshot onto the question bank's keys using the
// section name first, then the aggregate content flags.
func sectionArchetype(snap pagecontext.Snapshot) string {
	name := strings.ToLower(snap.SectionName)
	switch {
	case strings.Contains(name, "pricing") || strings.Contains(name, "plan"):
		return sectionPricing
	case strings.Contains(name, "feature") || strings.Contains(name, "product"):
		return sectionFeatures
	case strings.Contains(name, "testimonial") || strings.Contains(name, "review") || strings.Contains(name, "customer"):
		return sectionTestimonials
	case strings.Contains(name, "contact") || strings.Contains(name, "support"):
		return sectionContact
	case strings.Contains(name, "hero") || strings.Contains(name, "home") || strings.Contains(name, "top"):
		return sectionHero
	}

	switch {
	case snap.HasPricing:
		return sectionPricing
	case snap.HasFeatures:
		return sectionFeatures
	case snap.HasTestimonials:
		return sectionTestimonials
	default:
		return sectionGeneric
	}
}

// buttonCandidates derives the scored suggestion pool from the snapshot.
// Order is fixed so selection stays deterministic.
func buttonCandidates(snap pagecontext.Snapshot) []buttonCandidate {
	var out []buttonCandidate
	if snap.HasPricing {
		out = append(out,
			buttonCandidate{"What's included in each plan?", "pricing", 90},
			buttonCandidate{"Is there a free trial?", "pricing", 80},
		)
	}
	if snap.HasFeatures {
		out = append(out,
			buttonCandidate{"How does this work?", "features", 75},
			buttonCandidate{"What integrations do you support?", "features", 60},
		)
	}
	if snap.HasTestimonials {
		out = append(out, buttonCandidate{"Show me similar customer stories", "social_proof", 65})
	}
	if snap.HasCTA {
		out = append(out, buttonCandidate{"How do I get started?", "conversion", 85})
	}
	out = append(out,
		buttonCandidate{"Book a demo", "booking", 70},
		buttonCandidate{"Talk to sales", "conversion", 50},
	)
	return out
}

// selectButtons picks up to max suggestions from a scored candidate list:
// deduplicated, highest score first, and once two slots are filled category
// diversity beats raw score for the rest.
func selectButtons(candidates []buttonCandidate, max int) []string {
	sorted := make([]buttonCandidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	seenText := make(map[string]bool)
	seenCategory := make(map[string]bool)
	var picked []string

	for _, c := range sorted {
		if len(picked) >= max {
			break
		}
		if seenText[c.Text] {
			continue
		}
		if len(picked) >= 2 && seenCategory[c.Category] {
			continue
		}
		seenText[c.Text] = true
		seenCategory[c.Category] = true
		picked = append(picked, c.Text)
	}

	// Fill any remaining slots by score when diversity ran out.
	for _, c := range sorted {
		if len(picked) >= max {
			break
		}
		if seenText[c.Text] {
			continue
		}
		seenText[c.Text] = true
		picked = append(picked, c.Text)
	}
	return picked
}

// snapshotSummary is the compact context payload sent for AI question
// generation.
func snapshotSummary(snap pagecontext.Snapshot) map[string]any {
	elements := make([]map[string]any, 0, len(snap.Elements))
	for _, el := range snap.Elements {
		elements = append(elements, map[string]any{
			"type":       string(el.ContentType),
			"text":       el.Text,
			"importance": el.SemanticLevel,
			"visibility": el.VisibilityPct,
		})
	}
	return map[string]any{
		"sectionName":      snap.SectionName,
		"elements":         elements,
		"hasPricing":       snap.HasPricing,
		"hasCTA":           snap.HasCTA,
		"hasTestimonials":  snap.HasTestimonials,
		"hasFeatures":      snap.HasFeatures,
		"hasMedia":         snap.HasMedia,
		"scrollPercentage": snap.ScrollPercentage,
		"timeOnPageSec":    snap.TimeOnPage.Seconds(),
	}
}
