// Package drafts detects request summaries in assistant replies, snapshots
// them as drafts and executes the approval actions that publish them.
package drafts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"proxie/pkg/logx"
	"proxie/pkg/session"
	"proxie/pkg/specialist"
	"proxie/pkg/tools"
	"proxie/pkg/tracker"
)

// Actions.
const (
	ActionApproveRequest   = "approve_request"
	ActionEditRequest      = "edit_request"
	ActionCancelRequest    = "cancel_request"
	ActionSubmitOffer      = "submit_offer"
	ActionSubmitEnrollment = "submit_enrollment"
)

// Reply texts.
const (
	MsgRequestPosted    = "Done! ✅ Your request has been posted! I'll notify you as soon as providers respond. Based on your criteria, you should hear back within a few hours!"
	MsgAlreadyPosted    = "Your request is already posted ✅. I'll let you know as soon as providers respond."
	MsgNoRequestDraft   = "There's no draft request to approve. Let me help you create one!"
	MsgEditRequest      = "No problem! What would you like to change?"
	MsgRequestCancelled = "Request cancelled. Is there something else I can help you with?"
	MsgOfferSent        = "Your offer has been sent! ✅ I'll let you know when the consumer responds."
	MsgAlreadySent      = "That offer was already sent ✅."
	MsgNoOfferDraft     = "There's no offer draft to submit. Ask me to draft one for a lead first."
	MsgNoEnrollment     = "There's no enrollment in progress to submit."
	MsgUnknownAction    = "I didn't understand that action."
)

// phrases mark an assistant reply as a request summary.
//
//nolint:gochecknoglobals // static phrase list
var phrases = []string{
	"here's your request",
	"here is your request",
	"request summary",
	"would you like to post",
	"ready to post",
	"shall i post",
}

// Detect reports whether text presents a request for approval.
func Detect(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// detailKeys are the facts carried in a draft's details.
//
//nolint:gochecknoglobals // static key list
var detailKeys = []string{tracker.KeyAddress, tracker.KeyCity, tracker.KeyPreferredTime, tracker.KeyPreferences}

// NewRequestDraft snapshots the request facet of t. A missing service type
// falls back to the specialist's subtype, then "Service".
func NewRequestDraft(t *tracker.Tracker, media []session.Media, analysis *specialist.Analysis) *session.RequestDraft {
	f := &t.Facts
	d := &session.RequestDraft{
		CreatedAt:     time.Now().UTC(),
		ServiceType:   f.ServiceType,
		Location:      f.Location,
		Timing:        f.Timing,
		PreferredDate: f.PreferredDate,
		Budget:        session.Budget{Min: copyFloat(f.BudgetMin), Max: copyFloat(f.BudgetMax)},
		Details:       map[string]any{},
	}
	if d.Location == "" {
		d.Location = t.String(tracker.KeyCity)
	}
	if d.ServiceType == "" && analysis != nil {
		d.ServiceType = analysis.ServiceSubtype
	}
	if d.ServiceType == "" {
		d.ServiceType = "Service"
	}
	d.ServiceCategory = d.ServiceType
	if analysis != nil && analysis.Specialist != "" {
		d.ServiceCategory = analysis.Specialist
		d.SpecialistNotes = append(d.SpecialistNotes, analysis.Notes...)
		if analysis.HairType != "" {
			d.Details["hair_type"] = analysis.HairType
		}
		if analysis.ServiceSubtype != "" {
			d.Details["service_subtype"] = analysis.ServiceSubtype
		}
	}
	for _, key := range detailKeys {
		v, ok := f.Get(key)
		if !ok {
			continue
		}
		if prefs, isMap := v.(map[string]any); isMap {
			snapshot := make(map[string]any, len(prefs))
			for k, pv := range prefs {
				snapshot[k] = pv
			}
			v = snapshot
		}
		d.Details[key] = v
	}
	if len(d.Details) == 0 {
		d.Details = nil
	}
	d.Description = describe(d)
	if len(media) > 0 {
		d.Media = append([]session.Media(nil), media...)
	}
	return d
}

func describe(d *session.RequestDraft) string {
	desc := d.ServiceType
	if d.Location != "" {
		desc += " in " + d.Location
	}
	if d.Timing != "" {
		desc += ", " + strings.ReplaceAll(d.Timing, "_", " ")
	}
	return desc
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Executor runs tools on behalf of an approval.
type Executor interface {
	Execute(ctx context.Context, name, argsJSON string) tools.Result
}

// ActionResult is the reply to an action.
type ActionResult struct {
	Data    map[string]any
	Message string
}

// Manager executes approval actions against a session. The caller holds
// the session lock and persists the session afterwards.
type Manager struct {
	exec   Executor
	logger *logx.Logger
	now    func() time.Time
}

// NewManager creates a manager executing through exec.
func NewManager(exec Executor) *Manager {
	return &Manager{
		exec:   exec,
		logger: logx.NewLogger("drafts"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Handle runs action against sess.
func (m *Manager) Handle(ctx context.Context, sess *session.Session, action string) ActionResult {
	switch action {
	case ActionApproveRequest:
		return m.approveRequest(ctx, sess)
	case ActionEditRequest:
		sess.RequestDraft = nil
		return ActionResult{Message: MsgEditRequest}
	case ActionCancelRequest:
		sess.RequestDraft = nil
		sess.Context.ClearRequest()
		sess.Media = nil
		sess.Analysis = nil
		return ActionResult{Message: MsgRequestCancelled}
	case ActionSubmitOffer:
		return m.submitOffer(ctx, sess)
	case ActionSubmitEnrollment:
		return m.submitEnrollment(ctx, sess)
	}
	m.logger.Warn("unknown action %q in session %s", action, sess.ID)
	return ActionResult{Message: MsgUnknownAction}
}

// RequestArgs renders d as create_service_request arguments.
func RequestArgs(d *session.RequestDraft) map[string]any {
	args := map[string]any{
		"service_type":     d.ServiceType,
		"service_category": d.ServiceCategory,
		"description":      d.Description,
		"location":         d.Location,
	}
	if d.Budget.Min != nil {
		args["budget_min"] = *d.Budget.Min
	}
	if d.Budget.Max != nil {
		args["budget_max"] = *d.Budget.Max
	}
	if d.Timing != "" {
		args["timing"] = d.Timing
	}
	if d.PreferredDate != "" {
		args["preferred_date"] = d.PreferredDate
	}
	if len(d.Details) > 0 {
		args["details"] = d.Details
	}
	if len(d.Media) > 0 {
		urls := make([]string, 0, len(d.Media))
		for _, media := range d.Media {
			urls = append(urls, media.URL)
		}
		args["media"] = urls
	}
	return args
}

func (m *Manager) execute(ctx context.Context, name string, args map[string]any) tools.Result {
	b, err := json.Marshal(args)
	if err != nil {
		return tools.Fail("invalid %s arguments: %v", name, err)
	}
	return m.exec.Execute(ctx, name, string(b))
}

func (m *Manager) approved(sess *session.Session, action, id string) {
	sess.LastApproved = &session.Approval{At: m.now(), Action: action, ArtifactID: id}
}

func (m *Manager) approveRequest(ctx context.Context, sess *session.Session) ActionResult {
	d := sess.RequestDraft
	if d == nil {
		if last := sess.LastApproved; last != nil && last.Action == ActionApproveRequest {
			return ActionResult{
				Message: MsgAlreadyPosted,
				Data:    map[string]any{"request_id": last.ArtifactID},
			}
		}
		return ActionResult{Message: MsgNoRequestDraft}
	}

	res := m.execute(ctx, tools.ToolCreateServiceRequest, RequestArgs(d))
	sess.RequestDraft = nil
	if !res.IsOK() {
		m.logger.Error("failed to post request for session %s: %s", sess.ID, res.Message())
		return ActionResult{Message: "Sorry, there was an error posting your request: " + res.Message()}
	}
	id := fmt.Sprint(res.Value()["request_id"])
	m.approved(sess, ActionApproveRequest, id)
	sess.Context.Set(tracker.KeyRequestID, id, tracker.SourceCurrent)
	m.logger.Info("📮 Posted request %s for session %s", id, sess.ID)
	return ActionResult{
		Message: MsgRequestPosted,
		Data:    map[string]any{"request_id": id, "ui_hint": tools.HintRequestCreated},
	}
}

func (m *Manager) submitOffer(ctx context.Context, sess *session.Session) ActionResult {
	d := sess.OfferDraft
	if d == nil {
		if last := sess.LastApproved; last != nil && last.Action == ActionSubmitOffer {
			return ActionResult{Message: MsgAlreadySent, Data: map[string]any{"offer_id": last.ArtifactID}}
		}
		return ActionResult{Message: MsgNoOfferDraft}
	}

	args := map[string]any{"request_id": d.RequestID, "price": d.Price}
	if d.AvailableDate != "" {
		args["date"] = d.AvailableDate
	}
	if d.AvailableTime != "" {
		args["time"] = d.AvailableTime
	}
	if d.Message != "" {
		args["message"] = d.Message
	}
	res := m.execute(ctx, tools.ToolSubmitOffer, args)
	if !res.IsOK() {
		// The draft stays so the provider can fix it and retry.
		m.logger.Error("failed to submit offer for session %s: %s", sess.ID, res.Message())
		return ActionResult{Message: "Sorry, there was an error submitting your offer: " + res.Message()}
	}
	sess.OfferDraft = nil
	id := fmt.Sprint(res.Value()["offer_id"])
	m.approved(sess, ActionSubmitOffer, id)
	m.logger.Info("📨 Submitted offer %s for request %s", id, d.RequestID)
	return ActionResult{
		Message: MsgOfferSent,
		Data:    map[string]any{"offer": res.Value(), "ui_hint": tools.HintOfferSubmitted},
	}
}

func (m *Manager) submitEnrollment(ctx context.Context, sess *session.Session) ActionResult {
	if sess.Identity.EnrollmentID == "" {
		return ActionResult{Message: MsgNoEnrollment}
	}
	res := m.execute(ctx, tools.ToolSubmitEnrollment, map[string]any{})
	if !res.IsOK() {
		return ActionResult{Message: "Sorry, there was an error submitting your enrollment: " + res.Message()}
	}
	v := res.Value()
	if pid, ok := v["provider_id"].(string); ok && pid != "" {
		sess.Identity.ProviderID = pid
	}
	m.approved(sess, ActionSubmitEnrollment, sess.Identity.EnrollmentID)
	msg, _ := v["message"].(string)
	if msg == "" {
		msg = "Your enrollment has been submitted."
	}
	return ActionResult{
		Message: msg,
		Data:    map[string]any{"enrollment_result": v, "ui_hint": tools.HintEnrollmentComplete},
	}
}
