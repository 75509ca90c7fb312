// Package orchestrator wires the full turn pipeline: route, gate, assemble,
// generate, parse, validate, commit, display.
package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"council/internal/config"
	"council/internal/debate"
	"council/internal/display"
	"council/internal/fragment"
	"council/internal/gamestate"
	"council/internal/gateway"
	"council/internal/logging"
	"council/internal/parser"
	"council/internal/persona"
	"council/internal/prompt"
	"council/internal/router"
	"council/internal/ruling"
	"council/internal/store"
	"council/internal/tier"
)

// Deps are the session's wired collaborators.
type Deps struct {
	Registry  *persona.Registry
	Router    *router.Router
	Assembler *prompt.Assembler
	Gateway   gateway.Client
	Validator *ruling.Validator
	Store     *store.Store
	State     *gamestate.Provider
	Formatter *display.Formatter
	Selector  *debate.Selector
}

// Session holds the mutable state of one play session. The progression tier
// is read-only here; the external evaluator sets it between sessions.
type Session struct {
	id   string
	cfg  *config.Config
	deps Deps

	tier    int
	seq     int
	history []prompt.HistoryTurn
	debate  *debate.Session
}

// NewSession creates a session over the given configuration and deps.
func NewSession(cfg *config.Config, deps Deps) *Session {
	if deps.Selector == nil {
		deps.Selector = debate.NewSelector(rand.New(rand.NewSource(time.Now().UnixNano())))
	}
	s := &Session{
		id:   uuid.NewString(),
		cfg:  cfg,
		deps: deps,
		tier: cfg.Campaign.Tier,
	}
	logging.Session("session %s started at tier %d", s.id, s.tier)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Tier returns the session's progression tier.
func (s *Session) Tier() int { return s.tier }

// generated is one persona's parsed output within a turn.
type generated struct {
	speaker *persona.Persona
	flow    string
	parsed  parser.Parsed
	failed  bool
}

// Turn processes one user query to completion and returns the formatted
// output. A commit failure is the only error: the turn then has no trace in
// history.
func (s *Session) Turn(ctx context.Context, query string) (string, error) {
	result := s.deps.Router.Route(ctx, query)
	logging.Session("turn: flow=%s matches=%d", result.Flow, len(result.Matches))

	if !result.Flow.Generative() {
		s.abandonDebate()
		return stageDirection(result.StageNote), nil
	}

	gates := tier.CheckAll(result.Matches, s.tier)

	var lines []string
	var active []tier.Result
	for _, g := range gates {
		if g.Confidence == tier.Blocked {
			lines = append(lines, strings.ToUpper(g.Match.Persona.DisplayName)+": "+g.Refusal)
		} else {
			active = append(active, g)
		}
	}
	if len(active) == 0 {
		s.abandonDebate()
		if len(lines) == 0 {
			return stageDirection("No advisor can help with this at the current tier."), nil
		}
		return strings.Join(lines, "\n\n"), nil
	}

	flow := result.Flow
	if flow == router.FlowDebate && len(active) == 1 {
		// One debater blocked: the refusal line is already queued and the
		// survivor answers alone.
		flow = router.FlowSingleMain
		s.abandonDebate()
	}

	if flow == router.FlowDebate {
		out, err := s.debateTurn(ctx, query, active, lines)
		return out, err
	}

	s.abandonDebate()
	out, err := s.standardTurn(ctx, query, flow, active, lines)
	return out, err
}

// standardTurn handles single-main, main-plus-support, ambiguous, and
// degraded-debate turns: one generation call, one speaker.
func (s *Session) standardTurn(ctx context.Context, query string, flow router.Flow, active []tier.Result, lines []string) (string, error) {
	speaker := active[0].Match.Persona

	evaluator := false
	for _, a := range active {
		if a.Match.Persona.Evaluator {
			evaluator = true
		}
	}

	in := prompt.Input{
		Sets:    s.fragmentSets(query, active),
		Query:   query,
		History: s.history,
		Tier:    s.tier,
	}
	if evaluator {
		in.IncludeState = true
		if rep, err := s.deps.State.Load(); err == nil {
			in.StateText, in.StateLines = rep.Text, rep.Lines
		} else {
			logging.Get(logging.CategorySession).Warn("state load failed: %v", err)
		}
	}

	params := s.cfg.Generation.Standard
	flowName := "standard"
	switch {
	case evaluator:
		params = s.cfg.Generation.Evaluator
		flowName = "evaluator"
	case flow == router.FlowAmbiguous:
		flowName = "ambiguous"
	}

	gen := s.generate(ctx, in, params, speaker, flowName)

	line, turn, ruling, err := s.resolveTurn(ctx, query, gen)
	if err != nil {
		return "", err
	}
	if err := s.deps.Store.CommitTurn(turn, ruling); err != nil {
		return "", err
	}

	s.pushHistory(query, gen)
	lines = append(lines, line)
	return strings.Join(lines, "\n\n"), nil
}

// debateTurn runs one round of a two-persona debate. The two generation
// calls run concurrently; results merge in routing order before commit.
func (s *Session) debateTurn(ctx context.Context, query string, active []tier.Result, lines []string) (string, error) {
	a, b := active[0].Match.Persona, active[1].Match.Persona

	if s.debate == nil || !s.debate.Active() || !s.debate.IsDebater(a) || !s.debate.IsDebater(b) {
		s.abandonDebate()
		s.debate = debate.NewSession(a, b, s.cfg.Debate.SoftLimit, s.cfg.Debate.HardLimit)
	} else {
		s.debate.Advance()
	}

	sceneNote := ""
	switch s.debate.State() {
	case debate.HardLimit:
		return s.forcedDecision(ctx, query, lines)
	case debate.SoftLimit:
		if s.debate.Turn() == s.cfg.Debate.SoftLimit {
			lines = append(lines, stageDirection("Positions are clear. A decision is needed."))
		}
		sceneNote = debate.SceneNote
	}

	results := make([]generated, 2)
	g, gctx := errgroup.WithContext(ctx)
	for i, gate := range active[:2] {
		i, gate := i, gate
		g.Go(func() error {
			// Both debaters' context goes into every prompt; the speaker's
			// set leads so the model knows whose voice to take.
			other := active[1-i]
			in := prompt.Input{
				Sets: []fragment.Set{
					s.fragmentSet(query, gate, []string{other.Match.Persona.DisplayName}),
					s.fragmentSet(query, other, []string{gate.Match.Persona.DisplayName}),
				},
				Query:     query,
				History:   s.history,
				Tier:      s.tier,
				SceneNote: sceneNote,
			}
			results[i] = s.generate(gctx, in, s.cfg.Generation.DebateTurn, gate.Match.Persona, "debate_turn")
			return nil
		})
	}
	_ = g.Wait()

	var commits []store.Turn
	var rulings []*store.RulingEntry
	for _, gen := range results {
		line, turn, pending, err := s.resolveTurn(ctx, query, gen)
		if err != nil {
			return "", err
		}
		lines = append(lines, line)
		commits = append(commits, turn)
		rulings = append(rulings, pending)
	}
	// Both debater records land in one transaction; a failure leaves neither.
	if err := s.deps.Store.CommitTurns(commits, rulings); err != nil {
		return "", err
	}

	s.pushHistory(query, results...)

	if s.debate.State() == debate.SoftLimit {
		if line := s.spectatorReaction(ctx, query); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n\n"), nil
}

// forcedDecision replaces debate turns at the hard limit with one short
// interrupt pressing the user to decide, then freezes the debate.
func (s *Session) forcedDecision(ctx context.Context, query string, lines []string) (string, error) {
	interruptor := s.deps.Selector.Pick(s.deps.Registry.All(), s.debate)
	s.debate.Freeze()
	if interruptor == nil {
		lines = append(lines, stageDirection("The debate has run its course. A decision is needed."))
		return strings.Join(lines, "\n\n"), nil
	}

	in := prompt.Input{
		Sets: []fragment.Set{fragment.Assemble(fragment.Input{
			Persona:    interruptor,
			Query:      query,
			Confidence: tier.Full,
		})},
		Query:   query,
		History: s.history,
		Tier:    s.tier,
	}
	gen := s.generate(ctx, in, s.cfg.Generation.DebateInterrupt, interruptor, "debate_interrupt")

	line, turn, pending, err := s.resolveTurn(ctx, query, gen)
	if err != nil {
		return "", err
	}
	if err := s.deps.Store.CommitTurn(turn, pending); err != nil {
		return "", err
	}
	s.pushHistory(query, gen)

	lines = append(lines, line)
	return strings.Join(lines, "\n\n"), nil
}

// spectatorReaction lets a bystander comment once the debate hits its soft
// limit. Failures are swallowed; a reaction is color, never load-bearing.
func (s *Session) spectatorReaction(ctx context.Context, query string) string {
	spectator := s.deps.Selector.Pick(s.deps.Registry.All(), s.debate)
	if spectator == nil {
		return ""
	}

	in := prompt.Input{
		Sets: []fragment.Set{fragment.Assemble(fragment.Input{
			Persona:       spectator,
			Query:         query,
			SpectatorOnly: true,
		})},
		Query: query,
		Tier:  s.tier,
	}
	assembled, err := s.deps.Assembler.Assemble(in)
	if err != nil {
		return ""
	}
	resp, err := s.deps.Gateway.Generate(ctx, gateway.Request{
		System:      assembled.System,
		User:        assembled.User,
		MaxTokens:   s.cfg.Generation.Spectator.MaxTokens,
		Temperature: s.cfg.Generation.Spectator.Temperature,
	})
	if err != nil {
		return ""
	}
	return s.deps.Formatter.Format(parser.Parse(resp.Text), display.FlowSpectator, "")
}

// generate assembles and runs one generation call. A gateway failure yields
// the canned fallback; the turn is still committed, recording the failure.
func (s *Session) generate(ctx context.Context, in prompt.Input, params config.FlowParams, speaker *persona.Persona, flow string) generated {
	assembled, err := s.deps.Assembler.Assemble(in)
	if err != nil {
		logging.Get(logging.CategorySession).Error("prompt assembly failed: %v", err)
		return generated{speaker: speaker, flow: flow, parsed: parser.Parsed{Chat: parser.FallbackReply, FallbackUsed: true}, failed: true}
	}

	resp, err := s.deps.Gateway.Generate(ctx, gateway.Request{
		System:      assembled.System,
		User:        assembled.User,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	})
	if err != nil {
		logging.Get(logging.CategorySession).Error("generation failed for %s: %v", speaker.DisplayName, err)
		return generated{speaker: speaker, flow: flow, parsed: parser.Parsed{Chat: parser.FallbackReply, FallbackUsed: true}, failed: true}
	}

	return generated{speaker: speaker, flow: flow, parsed: parser.Parse(resp.Text)}
}

// resolveTurn validates any action and builds the committed turn record plus
// the user-facing line.
func (s *Session) resolveTurn(ctx context.Context, query string, gen generated) (string, store.Turn, *store.RulingEntry, error) {
	var pending *store.RulingEntry
	actionStatus := ""
	reason := ""

	if gen.parsed.ActionValid && gen.parsed.Action != "" {
		outcome, err := s.deps.Validator.Validate(ctx, gen.speaker.DisplayName, gen.parsed.Action)
		if err != nil {
			return "", store.Turn{}, nil, err
		}
		actionStatus = outcome.Status()
		pending = outcome.NewRuling
		if !outcome.Executed {
			reason = outcome.Reason
		}
	}

	s.seq++
	turn := store.Turn{
		ID:           uuid.NewString(),
		SessionID:    s.id,
		Seq:          s.seq,
		Flow:         gen.flow,
		Tier:         s.tier,
		Speaker:      gen.speaker.DisplayName,
		Query:        query,
		Thought:      gen.parsed.Thought,
		Action:       gen.parsed.Action,
		ActionStatus: actionStatus,
		Chat:         gen.parsed.Chat,
		FallbackUsed: gen.parsed.FallbackUsed,
		CreatedAt:    time.Now(),
	}

	flow := display.FlowStandard
	switch {
	case gen.failed:
		flow = display.FlowError
	case gen.flow == "debate_turn":
		flow = display.FlowDebate
	case gen.flow == "debate_interrupt":
		flow = display.FlowInterrupt
	}
	line := s.deps.Formatter.Format(gen.parsed, flow, gen.speaker.DisplayName)
	if reason != "" {
		line += "\n\n" + s.deps.Formatter.System("action rejected: "+reason)
	}
	return line, turn, pending, nil
}

// fragmentSets builds the fragment selection for every active persona,
// scoping relationships to the other personas present.
func (s *Session) fragmentSets(query string, active []tier.Result) []fragment.Set {
	names := make([]string, len(active))
	for i, a := range active {
		names[i] = a.Match.Persona.DisplayName
	}
	sets := make([]fragment.Set, len(active))
	for i, a := range active {
		var others []string
		for _, n := range names {
			if n != a.Match.Persona.DisplayName {
				others = append(others, n)
			}
		}
		sets[i] = s.fragmentSet(query, a, others)
	}
	return sets
}

func (s *Session) fragmentSet(query string, gate tier.Result, others []string) fragment.Set {
	return fragment.Assemble(fragment.Input{
		Persona:    gate.Match.Persona,
		Query:      query,
		Confidence: gate.Confidence,
		OtherNames: others,
	})
}

// pushHistory appends the user query and each advisor reply, then trims to
// the rolling window.
func (s *Session) pushHistory(query string, gens ...generated) {
	s.history = append(s.history, prompt.HistoryTurn{Role: "user", Speaker: "User", Content: query})
	for _, g := range gens {
		s.history = append(s.history, prompt.HistoryTurn{
			Role:    "advisor",
			Speaker: g.speaker.DisplayName,
			Content: g.parsed.Chat,
		})
	}
	if n := s.cfg.History.Window; len(s.history) > n {
		s.history = s.history[len(s.history)-n:]
	}
}

func (s *Session) abandonDebate() {
	if s.debate != nil && s.debate.Active() {
		s.debate.Abandon()
	}
	s.debate = nil
}

func stageDirection(note string) string {
	if note == "" {
		note = "The council does not respond."
	}
	if strings.HasPrefix(note, "[") {
		return note
	}
	return fmt.Sprintf("[%s]", note)
}
