package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantagechat/engage/internal/gateway"
	"github.com/vantagechat/engage/internal/pagecontext"
)

func pricingView() pagecontext.PageView {
	return pagecontext.PageView{
		URL:         "https://example.com/",
		SectionName: "pricing",
		Viewport:    pagecontext.Viewport{Top: 0, Height: 900},
		Elements: []pagecontext.Element{
			{Tag: "h2", Text: "Pricing", Top: 40, Height: 60},
			{Tag: "div", Text: "$29 /mo", Classes: []string{"plan-card"}, Top: 120, Height: 300},
			{Tag: "a", Text: "Get started", Classes: []string{"btn"}, Top: 460, Height: 44},
		},
		ScrollPercentage: 30,
	}
}

// degraded makes every generation request fail so the rule-based fallback
// carries the whole choreography.
func degrade(gw *fakeGateway, kinds ...gateway.RequestKind) {
	for _, k := range kinds {
		gw.respond(k, &gateway.NormalizedResponse{BotMode: gateway.BotModeError})
	}
}

func TestScrollStopOverPricingAsksContextualQuestion(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	degrade(te.gateway, gateway.KindContextualQuestion, gateway.KindContextual, gateway.KindAutoResponse)

	te.engine.HandleScroll(ctx, pricingView())
	te.clock.Advance(4 * time.Second)

	// The scroll settled; the ask stage is pending but nothing sent yet.
	assert.Empty(t, te.sink.byKind(KindContextualQuestion))
	assert.True(t, te.engine.Scheduler().ContextualInFlight())

	te.clock.Advance(time.Minute)
	questions := te.sink.byKind(KindContextualQuestion)
	require.Len(t, questions, 1)
	assert.Equal(t, "I see you're looking at our pricing — can I help you figure out which plan fits?", questions[0].Content)
	assert.Equal(t, []string{
		"What's included in each plan?",
		"How do I get started?",
		"Book a demo",
	}, questions[0].Buttons)

	// The question carried buttons, so the auto-response timer is armed.
	te.clock.Advance(30 * time.Second)
	require.Len(t, te.sink.byKind(KindAutoResponse), 1)

	// Then the companion answer lands and the slot frees up.
	te.clock.Advance(30 * time.Second)
	answers := te.sink.byKind(KindContextualAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, fallbackAnswers[sectionPricing], answers[0].Content)
	assert.False(t, te.engine.Scheduler().ContextualInFlight())
}

func TestContextualTriggersAreMutuallyExclusive(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	degrade(te.gateway, gateway.KindContextualQuestion, gateway.KindContextual, gateway.KindAutoResponse)

	snap := pricingSnapshot()
	te.engine.MaybeAskAboutSection(ctx, snap)
	te.engine.MaybeAskAboutSection(ctx, snap)
	te.engine.HandleScroll(ctx, pricingView())

	te.clock.Advance(10 * time.Minute)
	te.clock.Advance(2 * time.Minute)

	assert.Len(t, te.sink.byKind(KindContextualQuestion), 1,
		"overlapping triggers must collapse into one question")
	assert.Len(t, te.sink.byKind(KindContextualAnswer), 1)
	assert.False(t, te.engine.Scheduler().ContextualInFlight())
}

func TestContextualSuppressedRightAfterUserMessage(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.engine.SendUserMessage(ctx, "what does the pro plan include?")
	te.engine.MaybeAskAboutSection(ctx, pricingSnapshot())

	assert.False(t, te.engine.Scheduler().ContextualInFlight(),
		"a freshly engaged visitor must not be interrupted")
	te.clock.Advance(10 * time.Minute)
	assert.Empty(t, te.sink.byKind(KindContextualQuestion))
}

func TestContextualAbandonedWhenVisitorRepliesDuringDelay(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	degrade(te.gateway, gateway.KindContextualQuestion, gateway.KindContextual, gateway.KindAutoResponse)

	te.engine.MaybeAskAboutSection(ctx, pricingSnapshot())
	te.clock.Advance(55 * time.Second)
	te.engine.SendUserMessage(ctx, "actually, quick question")

	// The ask stage fires five seconds later and finds a freshly engaged
	// visitor.
	te.clock.Advance(5 * time.Second)
	assert.Empty(t, te.sink.byKind(KindContextualQuestion))
	assert.False(t, te.engine.Scheduler().ContextualInFlight())
}

func TestContextualCancelledByEarlyUserMessage(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	degrade(te.gateway, gateway.KindContextualQuestion, gateway.KindContextual, gateway.KindAutoResponse)

	// The message lands early enough that the visitor is no longer "recently
	// engaged" by the time the stage would fire; cancellation, not the fire
	// guard, has to stop it.
	te.engine.MaybeAskAboutSection(ctx, pricingSnapshot())
	te.clock.Advance(20 * time.Second)
	te.engine.SendUserMessage(ctx, "can I ask something else first?")

	te.clock.Advance(40 * time.Second)
	assert.Empty(t, te.sink.byKind(KindContextualQuestion))
	assert.False(t, te.engine.Scheduler().ContextualInFlight())
}

func TestScrollStopCancelledByUserMessage(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	degrade(te.gateway, gateway.KindContextualQuestion, gateway.KindContextual, gateway.KindAutoResponse)

	te.engine.HandleScroll(ctx, pricingView())
	te.clock.Advance(2 * time.Second)
	te.engine.SendUserMessage(ctx, "hey, over here")

	te.clock.Advance(30 * time.Minute)
	assert.Empty(t, te.sink.byKind(KindContextualQuestion),
		"a settled scroll must not start a pipeline once the visitor talks")
	assert.False(t, te.engine.Scheduler().ContextualInFlight())
}

func TestAutoResponseSkippedWhenVisitorEngagesWithQuestion(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	degrade(te.gateway, gateway.KindContextualQuestion, gateway.KindContextual, gateway.KindAutoResponse)

	te.engine.MaybeAskAboutSection(ctx, pricingSnapshot())
	te.clock.Advance(time.Minute)
	require.Len(t, te.sink.byKind(KindContextualQuestion), 1)

	// Visitor answers the question; the filler and companion answer both
	// stand down.
	te.clock.Advance(10 * time.Second)
	te.engine.SendUserMessage(ctx, "yes, tell me about the plans")

	te.clock.Advance(50 * time.Second)
	assert.Empty(t, te.sink.byKind(KindAutoResponse))
	assert.Empty(t, te.sink.byKind(KindContextualAnswer))
	assert.False(t, te.engine.Scheduler().ContextualInFlight())
}

func TestContextualDroppedWhenSectionChangesDuringDelay(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	degrade(te.gateway, gateway.KindContextualQuestion)

	te.engine.HandleSectionEnter(ctx, pricingView())

	features := pricingView()
	features.SectionName = "features"
	te.engine.HandleSectionEnter(ctx, features)

	te.clock.Advance(10 * time.Minute)
	assert.Empty(t, te.sink.byKind(KindContextualQuestion),
		"a question staged for a section the visitor left must not send")
	assert.False(t, te.engine.Scheduler().ContextualInFlight())
}

func TestRuleBasedTierDispatchesImmediately(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.AIQuestionsEnabled = false })
	ctx := context.Background()

	te.engine.MaybeAskAboutSection(ctx, pricingSnapshot())

	require.Len(t, te.sink.byKind(KindContextualQuestion), 1)
	assert.False(t, te.engine.Scheduler().ContextualInFlight())
}

func TestAIQuestionUsedWhenGenerationSucceeds(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.gateway.respond(gateway.KindContextualQuestion, &gateway.NormalizedResponse{
		MainText: "Evaluating the pro tier? I can compare it to your current setup.",
		Buttons:  []string{"Compare for me"},
		BotMode:  gateway.BotModeDefault,
	})
	degrade(te.gateway, gateway.KindContextual, gateway.KindAutoResponse)

	te.engine.MaybeAskAboutSection(ctx, pricingSnapshot())
	te.clock.Advance(time.Minute)

	questions := te.sink.byKind(KindContextualQuestion)
	require.Len(t, questions, 1)
	assert.Equal(t, "Evaluating the pro tier? I can compare it to your current setup.", questions[0].Content)
	assert.Equal(t, []string{"Compare for me"}, questions[0].Buttons)

	// Generation requests carry the structured snapshot.
	calls := te.gateway.callsByKind(gateway.KindContextualQuestion)
	require.Len(t, calls, 1)
	summary, ok := calls[0].Payload["contextualQuestionGeneration"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "pricing", summary["sectionName"])
	assert.Equal(t, true, summary["hasPricing"])
}

func TestSelectButtonsPrefersDiversityAfterTwo(t *testing.T) {
	candidates := []buttonCandidate{
		{"Plan details", "pricing", 90},
		{"Free trial?", "pricing", 80},
		{"Third pricing", "pricing", 78},
		{"Get started", "conversion", 85},
		{"Book a demo", "booking", 70},
	}

	got := selectButtons(candidates, 3)
	assert.Equal(t, []string{"Plan details", "Get started", "Book a demo"}, got)
}

func TestSelectButtonsDeduplicatesAndFills(t *testing.T) {
	candidates := []buttonCandidate{
		{"Same text", "pricing", 90},
		{"Same text", "conversion", 85},
		{"Only other", "pricing", 40},
	}

	// Diversity ran out: the second pass fills from the same category.
	got := selectButtons(candidates, 3)
	assert.Equal(t, []string{"Same text", "Only other"}, got)
}

func TestSelectButtonsRespectsCap(t *testing.T) {
	got := selectButtons(buttonCandidates(pricingSnapshot()), 2)
	assert.Len(t, got, 2)
}

func TestSectionArchetype(t *testing.T) {
	cases := []struct {
		name string
		snap pagecontext.Snapshot
		want string
	}{
		{"name wins", pagecontext.Snapshot{SectionName: "pricing-table", HasFeatures: true}, sectionPricing},
		{"plan alias", pagecontext.Snapshot{SectionName: "compare-plans"}, sectionPricing},
		{"features", pagecontext.Snapshot{SectionName: "product-features"}, sectionFeatures},
		{"reviews", pagecontext.Snapshot{SectionName: "customer-reviews"}, sectionTestimonials},
		{"contact", pagecontext.Snapshot{SectionName: "contact-us"}, sectionContact},
		{"hero", pagecontext.Snapshot{SectionName: "hero"}, sectionHero},
		{"flags fallback", pagecontext.Snapshot{SectionName: "block-7", HasPricing: true}, sectionPricing},
		{"feature flag", pagecontext.Snapshot{SectionName: "block-7", HasFeatures: true}, sectionFeatures},
		{"generic", pagecontext.Snapshot{SectionName: "block-7"}, sectionGeneric},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, sectionArchetype(tc.snap))
		})
	}
}

func TestFollowupTopicsCycleWithoutRepeats(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	var seen []string
	for i := 0; i < len(followupTopics); i++ {
		seen = append(seen, te.engine.nextFollowupTopic(ctx).ID)
	}
	assert.Equal(t, []string{"pricing", "demo", "features", "support", "trial"}, seen)

	// Exhausting the pool resets it.
	assert.Equal(t, "pricing", te.engine.nextFollowupTopic(ctx).ID)
	assert.Equal(t, "demo", te.engine.nextFollowupTopic(ctx).ID)
}
