// Package orchestrator runs one conversational turn: load the session,
// apply handoffs and approvals, gather context, consult a specialist, let
// the concierge model call tools, then persist what changed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"proxie/pkg/agent/llm"
	"proxie/pkg/agent/toolloop"
	"proxie/pkg/config"
	"proxie/pkg/drafts"
	"proxie/pkg/gateway"
	"proxie/pkg/handoff"
	"proxie/pkg/logx"
	"proxie/pkg/marketplace"
	"proxie/pkg/memory"
	"proxie/pkg/prompts"
	"proxie/pkg/session"
	"proxie/pkg/specialist"
	"proxie/pkg/tools"
	"proxie/pkg/tracker"
)

// FeatureChat attributes concierge calls in usage and metrics.
const FeatureChat = "chat"

// Deps are the collaborators of an Orchestrator. Memory and Market may be
// nil.
type Deps struct {
	Completer   toolloop.Completer
	Sessions    session.Store
	Locker      *session.Locker
	Tools       *tools.Registry
	Specialists *specialist.Registry
	Market      marketplace.Marketplace
	Memory      *memory.Service
	Config      config.OrchestratorConfig
}

// TurnRequest is one inbound chat turn.
type TurnRequest struct {
	Media        []session.Media
	SessionID    string
	Role         string
	ConsumerID   string
	ProviderID   string
	EnrollmentID string
	DisplayName  string
	Message      string
	Action       string
}

// TurnResult is the reply to a turn.
type TurnResult struct {
	Data             map[string]any `json:"data,omitempty"`
	Draft            any            `json:"draft,omitempty"`
	SessionID        string         `json:"session_id"`
	Message          string         `json:"message"`
	AwaitingApproval bool           `json:"awaiting_approval"`
}

// Orchestrator serves chat turns.
type Orchestrator struct {
	completer   toolloop.Completer
	sessions    session.Store
	locker      *session.Locker
	registry    *tools.Registry
	specialists *specialist.Registry
	market      marketplace.Marketplace
	memory      *memory.Service
	extractor   *tracker.Extractor
	drafts      *drafts.Manager
	loop        *toolloop.ToolLoop
	logger      *logx.Logger
	cfg         config.OrchestratorConfig
}

// New wires an Orchestrator.
func New(d Deps) (*Orchestrator, error) {
	switch {
	case d.Completer == nil:
		return nil, errors.New("orchestrator requires a completer")
	case d.Sessions == nil:
		return nil, errors.New("orchestrator requires a session store")
	case d.Tools == nil:
		return nil, errors.New("orchestrator requires a tool registry")
	}
	locker := d.Locker
	if locker == nil {
		locker = session.NewLocker()
	}
	specialists := d.Specialists
	if specialists == nil {
		specialists = specialist.NewRegistry()
	}
	return &Orchestrator{
		completer:   d.Completer,
		sessions:    d.Sessions,
		locker:      locker,
		registry:    d.Tools,
		specialists: specialists,
		market:      d.Market,
		memory:      d.Memory,
		extractor:   tracker.NewExtractor(d.Completer),
		drafts:      drafts.NewManager(d.Tools),
		loop:        toolloop.New(logx.NewLogger("toolloop")),
		logger:      logx.NewLogger("orchestrator"),
		cfg:         d.Config,
	}, nil
}

// Sessions returns the session store.
func (o *Orchestrator) Sessions() session.Store { return o.sessions }

// turn carries the state of one HandleTurn call.
type turn struct {
	sess    *session.Session
	req     TurnRequest
	role    session.Role
	data    *tools.Envelope
	uses    []memory.ToolUse
	outcome string
	banner  string
}

// HandleTurn runs one turn. The returned result is always usable as a
// reply. The error is nil, or one of ErrInvalidRequest, ErrBudgetExceeded,
// ErrModelFailed and ErrDeadline for the transport to map to a status.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	var role session.Role
	if strings.TrimSpace(req.Role) != "" {
		r, err := session.ParseRole(req.Role)
		if err != nil {
			return &TurnResult{SessionID: req.SessionID, Message: err.Error()}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		role = r
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	media, err := ValidateMedia(req.Media)
	if err != nil {
		return &TurnResult{SessionID: req.SessionID, Message: err.Error()}, nil
	}
	req.Media = media

	if d := o.cfg.TurnTimeout.Std(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	ctx = logx.WithSessionID(ctx, req.SessionID)

	unlock, err := o.locker.Lock(ctx, req.SessionID)
	if err != nil {
		return &TurnResult{SessionID: req.SessionID, Message: toolloop.DeadlineMessage}, ErrDeadline
	}
	defer unlock()

	sess := session.Load(ctx, o.sessions, req.SessionID)
	if role == "" {
		role = sess.Role
	}
	t := &turn{sess: sess, req: req, role: role, data: tools.NewEnvelope()}
	return o.run(ctx, t)
}

func (o *Orchestrator) run(ctx context.Context, t *turn) (*TurnResult, error) {
	sess := t.sess
	o.bindIdentity(t)
	o.applyHandoff(t)
	ctx = tools.WithEnv(ctx, o.env(sess))
	o.seedMemory(ctx, sess)

	if t.req.Message == "" && len(t.req.Media) == 0 && t.req.Action == "" {
		reply := greeting(sess, t.req.DisplayName)
		sess.Greeted = true
		sess.AppendAssistant(reply)
		return o.finish(ctx, t, reply)
	}

	if t.req.Action != "" {
		return o.runAction(ctx, t)
	}

	sess.Media = append(sess.Media, t.req.Media...)
	user := t.req.Message
	if user == "" {
		user = fmt.Sprintf("I've attached %d file(s).", len(t.req.Media))
	}
	sess.AppendUser(user)

	if err := o.extractor.Apply(ctx, sess.Context, t.req.Message, string(t.role), sess.Identity.UserID(), sess.ID); err != nil {
		return o.budgetExceeded(sess), ErrBudgetExceeded
	}
	o.consultSpecialist(ctx, t)

	out := o.loop.Run(ctx, &toolloop.Config{
		Completer: o.completer,
		Executor:  roleExecutor{registry: o.registry, role: t.role},
		Request:   o.conciergeRequest(sess, t.role),
		OnResult:  func(call llm.ToolCall, res tools.Result) { o.inspect(t, call, res) },
		MaxRounds: o.cfg.MaxToolRounds,
	})
	for _, m := range out.Messages {
		sess.Append(session.Message{Role: m.Role, Content: m.Content, ToolCalls: m.ToolCalls, ToolCallID: m.ToolCallID, Name: m.Name})
	}

	switch out.Kind {
	case toolloop.OutcomeLLMError:
		// Tools that already ran may have changed the marketplace, so
		// their effect on the session must be stored.
		if len(out.Executions) > 0 {
			o.save(ctx, sess)
		}
		if errors.Is(out.Err, gateway.ErrBudgetExceeded) {
			return o.budgetExceeded(sess), ErrBudgetExceeded
		}
		o.logger.Error("❌ concierge failed for session %s: %v", sess.ID, out.Err)
		return &TurnResult{SessionID: sess.ID, Message: ModelFailedMessage, AwaitingApproval: sess.AwaitingApproval()}, ErrModelFailed
	case toolloop.OutcomeDeadline:
		res, err := o.finish(ctx, t, out.Content)
		if err == nil {
			err = ErrDeadline
		}
		return res, err
	case toolloop.OutcomeSuccess, toolloop.OutcomeIterationLimit:
	}

	if (t.role == session.RoleConsumer || t.role == session.RoleGuest) && drafts.Detect(out.Content) {
		sess.RequestDraft = drafts.NewRequestDraft(sess.Context, sess.Media, sess.Analysis)
		o.logger.Info("📝 Request draft ready for approval in session %s", sess.ID)
	}
	return o.finish(ctx, t, out.Content)
}

func (o *Orchestrator) bindIdentity(t *turn) {
	id := &t.sess.Identity
	if t.req.ConsumerID != "" {
		id.ConsumerID = t.req.ConsumerID
	}
	if t.req.ProviderID != "" {
		id.ProviderID = t.req.ProviderID
	}
	if t.req.EnrollmentID != "" {
		id.EnrollmentID = t.req.EnrollmentID
	}
	if t.req.DisplayName != "" {
		t.sess.DisplayName = t.req.DisplayName
	}
}

// applyHandoff switches the session role. A session with no transcript
// takes the requested role silently.
func (o *Orchestrator) applyHandoff(t *turn) {
	sess := t.sess
	if t.role == sess.Role {
		return
	}
	if len(sess.Messages) == 0 {
		sess.Role = t.role
		return
	}
	if ok, banner := handoff.Check(sess, t.role, t.req.DisplayName); ok {
		o.logger.Info("🔀 Session %s handoff %s -> %s", sess.ID, sess.Role, t.role)
		sess.AppendAssistant(banner)
		t.banner = banner
	}
	sess.Role = t.role
	sess.MemoryLoaded = false
}

func (o *Orchestrator) env(sess *session.Session) tools.Env {
	return tools.Env{
		SessionID:    sess.ID,
		ConsumerID:   sess.Identity.ConsumerID,
		ProviderID:   sess.Identity.ProviderID,
		EnrollmentID: sess.Identity.EnrollmentID,
		AuthID:       sess.Identity.AuthID,
		RequestID:    sess.Context.Facts.RequestID,
	}
}

// seedMemory loads the stored profile and long-lived memory once per
// session and again after a handoff.
func (o *Orchestrator) seedMemory(ctx context.Context, sess *session.Session) {
	if sess.MemoryLoaded {
		return
	}
	sess.MemoryLoaded = true
	if sess.Extra == nil {
		sess.Extra = map[string]any{}
	}
	delete(sess.Extra, extraMemorySummary)

	switch sess.Role {
	case session.RoleConsumer:
		id := sess.Identity.ConsumerID
		if id == "" {
			return
		}
		if o.market != nil {
			if c, err := o.market.Consumer(ctx, id); err == nil {
				sess.Context.UpdateFromProfile(c.Profile())
				if sess.DisplayName == "" {
					sess.DisplayName = c.Name
				}
			} else {
				o.logger.Debug("no profile for consumer %s: %v", id, err)
			}
		}
		if o.memory != nil {
			cc, err := o.memory.GetConsumerContext(ctx, id)
			if err != nil {
				o.logger.Warn("memory unavailable for consumer %s: %v", id, err)
				return
			}
			if cc.Summary != memory.NoHistorySummary {
				sess.Extra[extraMemorySummary] = cc.Summary
			}
		}
	case session.RoleProvider:
		id := sess.Identity.ProviderID
		if id == "" || o.memory == nil {
			return
		}
		pc, err := o.memory.GetProviderContext(ctx, id)
		if err != nil {
			o.logger.Warn("memory unavailable for provider %s: %v", id, err)
			return
		}
		sess.Extra[extraMemorySummary] = pc.Summary()
	case session.RoleGuest, session.RoleEnrollment:
	}
}

const extraMemorySummary = "memory_summary"

func greeting(sess *session.Session, displayName string) string {
	name := displayName
	if name == "" {
		name = sess.DisplayName
	}
	if name == "" {
		name = sess.Context.String(tracker.KeyName)
	}
	if first, _, _ := strings.Cut(strings.TrimSpace(name), " "); first != "" {
		return fmt.Sprintf("Welcome back, %s! 👋 How can I help you today?", first)
	}
	return "Hi! 👋 I'm Proxie. Tell me what you need and I'll find the right pro for you."
}

func (o *Orchestrator) runAction(ctx context.Context, t *turn) (*TurnResult, error) {
	sess := t.sess
	var use *memory.ToolUse
	switch t.req.Action {
	case drafts.ActionApproveRequest:
		if sess.RequestDraft != nil {
			use = &memory.ToolUse{Name: tools.ToolCreateServiceRequest, Args: drafts.RequestArgs(sess.RequestDraft)}
		}
	case drafts.ActionSubmitOffer:
		if d := sess.OfferDraft; d != nil {
			use = &memory.ToolUse{Name: tools.ToolSubmitOffer, Args: map[string]any{"request_id": d.RequestID, "price": d.Price}}
		}
	}

	before := sess.LastApproved
	res := o.drafts.Handle(ctx, sess, t.req.Action)
	sess.AppendAssistant(res.Message)
	for k, v := range res.Data {
		t.data.Set(k, v)
	}

	if use != nil {
		use.OK = sess.LastApproved != nil && sess.LastApproved != before
		if use.OK {
			t.uses = append(t.uses, *use)
			switch t.req.Action {
			case drafts.ActionApproveRequest:
				t.outcome = memory.OutcomeRequestPosted
			case drafts.ActionSubmitOffer:
				t.outcome = memory.OutcomeOfferSent
			}
		}
	}
	return o.finish(ctx, t, res.Message)
}

// consultSpecialist routes consumer turns to a domain specialist and folds
// its analysis into the context. Failures skip the specialist.
func (o *Orchestrator) consultSpecialist(ctx context.Context, t *turn) {
	if t.role != session.RoleConsumer && t.role != session.RoleGuest {
		return
	}
	sess := t.sess
	key, ok := o.specialists.Route(t.req.Message)
	if !ok && len(t.req.Media) > 0 && sess.Context.Facts.ServiceType != "" {
		if s, found := o.specialists.FindForService(sess.Context.Facts.ServiceType); found {
			key, ok = s.Key(), true
		}
	}
	if !ok {
		return
	}

	f := &sess.Context.Facts
	in := specialist.Input{
		ServiceType:       f.ServiceType,
		Description:       t.req.Message,
		Location:          f.Location,
		Timing:            f.Timing,
		MediaDescriptions: mediaDescriptions(sess.Media),
	}
	if f.BudgetMin != nil {
		in.Budget.Min = *f.BudgetMin
	}
	if f.BudgetMax != nil {
		in.Budget.Max = *f.BudgetMax
	}
	analysis, err := o.specialists.Analyze(ctx, key, in)
	if err != nil {
		o.logger.Warn("specialist %s failed, continuing without it: %v", key, err)
		return
	}
	sess.Analysis = analysis
	sess.AppendAssistant(analysis.Summary())

	source := tracker.SourceConversation
	if len(t.req.Media) > 0 {
		source = tracker.SourceMedia
	}
	sess.Context.UpdateFromExtraction(analysis.Enriched, source)
	o.logger.Debug("🧠 %s specialist analyzed session %s", key, sess.ID)
}

func intentFor(role session.Role) tracker.Intent {
	switch role {
	case session.RoleProvider:
		return tracker.IntentOffer
	case session.RoleEnrollment:
		return tracker.IntentEnrollment
	case session.RoleGuest, session.RoleConsumer:
	}
	return tracker.IntentServiceRequest
}

func (o *Orchestrator) conciergeRequest(sess *session.Session, role session.Role) gateway.Request {
	intent := intentFor(role)
	sess.Intent = intent
	ctxt := sess.Context
	msgs := []llm.CompletionMessage{
		llm.NewSystemMessage(prompts.System(role, ctxt.KnownSummary(), ctxt.MissingRequired(intent), ctxt.MissingOptional(intent))),
	}
	if summary, ok := sess.Extra[extraMemorySummary].(string); ok && summary != "" {
		msgs = append(msgs, llm.NewSystemMessage("What we remember about this user: "+summary))
	}
	msgs = append(msgs, sess.Transcript()...)

	req := gateway.NewRequest(FeatureChat, msgs)
	req.Tools = o.registry.Definitions(role)
	req.UserID = sess.Identity.UserID()
	req.SessionID = sess.ID
	return req
}

// inspect folds one tool result into the turn and the session.
func (o *Orchestrator) inspect(t *turn, call llm.ToolCall, res tools.Result) {
	t.data.Add(call.Name, res)
	args, _ := call.Params()
	t.uses = append(t.uses, memory.ToolUse{Name: call.Name, Args: args, OK: res.IsOK()})
	if !res.IsOK() {
		return
	}
	sess := t.sess
	v := res.Value()
	switch call.Name {
	case tools.ToolDraftOffer:
		if d, ok := offerDraftFrom(v["offer_draft"]); ok {
			sess.OfferDraft = d
		}
	case tools.ToolCreateServiceRequest:
		sess.RequestDraft = nil
		if id, ok := v["request_id"].(string); ok && id != "" {
			sess.Context.Set(tracker.KeyRequestID, id, tracker.SourceCurrent)
			sess.LastApproved = &session.Approval{At: time.Now().UTC(), Action: drafts.ActionApproveRequest, ArtifactID: id}
		}
		t.outcome = memory.OutcomeRequestPosted
	case tools.ToolUpdateRequestDetails:
		if details, ok := v["details"].(map[string]any); ok {
			sess.Context.UpdateFromExtraction(details, tracker.SourceCurrent)
		}
	case tools.ToolAcceptOffer:
		if _, ok := v["booking_id"]; ok {
			t.outcome = memory.OutcomeBookingConfirmed
		}
	case tools.ToolSubmitOffer:
		sess.OfferDraft = nil
		t.outcome = memory.OutcomeOfferSent
	}
}

func offerDraftFrom(raw any) (*session.OfferDraft, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, false
	}
	d := &session.OfferDraft{CreatedAt: time.Now().UTC()}
	d.RequestID, _ = m["request_id"].(string)
	d.AvailableDate, _ = m["available_date"].(string)
	d.AvailableTime, _ = m["available_time"].(string)
	d.Message, _ = m["message"].(string)
	d.Price, _ = m["price"].(float64)
	return d, d.RequestID != "" && d.Price > 0
}

func (o *Orchestrator) budgetExceeded(sess *session.Session) *TurnResult {
	o.logger.Warn("🚫 turn blocked by LLM budget for session %s", sess.ID)
	return &TurnResult{SessionID: sess.ID, Message: gateway.ErrBudgetExceeded.Error(), AwaitingApproval: false}
}

// save stores sess with a context that survives the turn deadline.
func (o *Orchestrator) save(ctx context.Context, sess *session.Session) {
	if err := o.sessions.Save(context.WithoutCancel(ctx), sess); err != nil {
		o.logger.Error("❌ failed to save session %s: %v", sess.ID, err)
	}
}

// finish shapes the reply, updates memory and saves the session. Writes use
// a context that survives the turn deadline.
func (o *Orchestrator) finish(ctx context.Context, t *turn, reply string) (*TurnResult, error) {
	sess := t.sess
	persistCtx := context.WithoutCancel(ctx)

	clean, buttons, hint := ParseUI(reply)
	if len(buttons) > 0 {
		t.data.Set("buttons", buttons)
	}
	data := t.data.Data()
	if hint != "" {
		if _, set := data["ui_hint"]; !set {
			if data == nil {
				data = map[string]any{}
			}
			data["ui_hint"] = hint
		}
	}
	if t.banner != "" && !strings.Contains(clean, t.banner) {
		clean = t.banner + "\n\n" + clean
	}

	o.updateMemory(persistCtx, t, clean)

	o.save(persistCtx, sess)

	res := &TurnResult{
		SessionID:        sess.ID,
		Message:          clean,
		Data:             data,
		AwaitingApproval: sess.AwaitingApproval(),
	}
	switch {
	case sess.RequestDraft != nil:
		res.Draft = sess.RequestDraft
	case sess.OfferDraft != nil:
		res.Draft = sess.OfferDraft
	}
	return res, nil
}

func (o *Orchestrator) updateMemory(ctx context.Context, t *turn, reply string) {
	if o.memory == nil {
		return
	}
	sess := t.sess
	in := memory.Interaction{
		SessionID: sess.ID,
		Intent:    string(sess.Intent),
		Input:     t.req.Message,
		Output:    reply,
		Outcome:   t.outcome,
		Tools:     t.uses,
	}
	var err error
	switch sess.Role {
	case session.RoleConsumer:
		if id := sess.Identity.ConsumerID; id != "" {
			err = o.memory.UpdateConsumerMemory(ctx, id, in)
		}
	case session.RoleProvider:
		if id := sess.Identity.ProviderID; id != "" {
			err = o.memory.UpdateProviderMemory(ctx, id, in)
		}
	case session.RoleGuest, session.RoleEnrollment:
	}
	if err != nil {
		o.logger.Warn("memory update failed for session %s: %v", sess.ID, err)
	}
}

// roleExecutor refuses tools outside the role's set.
type roleExecutor struct {
	registry *tools.Registry
	role     session.Role
}

func (r roleExecutor) Execute(ctx context.Context, name, argsJSON string) tools.Result {
	if !r.registry.Allowed(r.role, name) {
		return tools.Fail("tool %s is not available in %s mode", name, r.role)
	}
	return r.registry.Execute(ctx, name, argsJSON)
}
