package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"invite-checkout/internal/api"
	"invite-checkout/internal/payment"
	"invite-checkout/internal/referral"
	"invite-checkout/internal/widget"
	"invite-checkout/models"
	"invite-checkout/utils"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Step is where a checkout session stands.
type Step string

const (
	StepTierSelection    Step = "tier_selection"
	StepAddOnSelection   Step = "addon_selection"
	StepTableSelection   Step = "table_selection"
	StepContactForm      Step = "contact_form"
	StepPaymentPending   Step = "payment_pending"
	StepPaymentSubmitted Step = "payment_submitted"
	StepStatusPolling    Step = "status_polling"
	StepApproved         Step = "approved"
	StepRejected         Step = "rejected"
)

// validNext lists the steps reachable from each step.
var validNext = map[Step][]Step{
	StepTierSelection:    {StepAddOnSelection, StepStatusPolling},
	StepAddOnSelection:   {StepAddOnSelection, StepTableSelection, StepContactForm},
	StepTableSelection:   {StepAddOnSelection, StepContactForm},
	StepContactForm:      {StepAddOnSelection, StepTableSelection, StepPaymentPending},
	StepPaymentPending:   {StepPaymentSubmitted},
	StepPaymentSubmitted: {StepPaymentPending, StepStatusPolling},
	StepStatusPolling:    {StepApproved, StepRejected},
	StepApproved:         {},
	StepRejected:         {},
}

func (s Step) CanTransitionTo(next Step) bool {
	for _, n := range validNext[s] {
		if n == next {
			return true
		}
	}
	return false
}

func (s Step) Terminal() bool {
	return s == StepApproved || s == StepRejected
}

// DefaultPaymentContainer and DefaultStatusContainer are the element ids the
// page renders the bricks into.
const (
	DefaultPaymentContainer = "paymentBrick_container"
	DefaultStatusContainer  = "statusScreenBrick_container"
)

// PurchaseAPI is the part of the backend the session calls directly.
type PurchaseAPI interface {
	InitiatePurchase(ctx context.Context, req models.PurchaseRequest) (models.PurchaseResponse, error)
	ReserveTable(ctx context.Context, req models.TableReservationRequest) error
}

// PaymentRouter sends one submit to one payment endpoint.
type PaymentRouter interface {
	Route(ctx context.Context, order payment.Order, payload models.SubmitPayload) (models.PaymentResult, error)
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Pricing *PricingEngine
	API     PurchaseAPI
	Router  PaymentRouter
	Poller  *Poller
	Widget  widget.Config
	Metrics Metrics
	Log     logrus.FieldLogger
	// PIIKey keys the phone fingerprints written to logs.
	PIIKey []byte
}

// Session is one buyer's checkout. Every exported method is safe for
// concurrent use; network calls run outside the lock with the loading flag
// set, and a second action while loading is refused with ErrBusy.
type Session struct {
	id   string
	deps Deps
	log  logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	host     *widget.RemoteHost
	adapter  *widget.Adapter
	referral *referral.Context

	mu         sync.Mutex
	step       Step
	sel        models.Selection
	quote      Quote
	amount     decimal.Decimal
	confirmed  bool
	contact    models.ContactInfo
	purchaseID string
	paymentID  string
	status     models.PaymentStatus
	pix        *models.PixCharge
	loading    bool
	lastErr    *UserError
	fatalErr   *UserError
	widgetOn   bool
	stopPoll   context.CancelFunc
	pollDone   chan struct{}
	closed     bool
	lastActive time.Time
	updatedAt  time.Time
}

// NewSession starts a session at tier selection. rc may be nil.
func NewSession(id string, deps Deps, rc *referral.Context) *Session {
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if rc == nil {
		rc = referral.NewContext("")
	}
	log := deps.Log.WithField("session_id", id)
	host := widget.NewRemoteHost()
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()

	return &Session{
		id:         id,
		deps:       deps,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		host:       host,
		adapter:    widget.NewAdapter(host, deps.Widget, log),
		referral:   rc,
		step:       StepTierSelection,
		sel:        models.Selection{AddOns: models.NewAddOnSet()},
		status:     models.StatusPending,
		lastActive: now,
		updatedAt:  now,
	}
}

func (s *Session) ID() string { return s.id }

// Referral exposes the session's referral context so the host can keep it in
// sync with the device's stored code.
func (s *Session) Referral() *referral.Context { return s.referral }

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Touch marks the session as used now.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// guard checks the common preconditions of a mutating action. Callers hold mu.
func (s *Session) guard(allowed ...Step) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.loading {
		return newUserError(KindBusy, ErrBusy)
	}
	if s.fatalErr != nil {
		return s.fatalErr
	}
	for _, a := range allowed {
		if s.step == a {
			return nil
		}
	}
	return newUserError(KindState, fmt.Errorf("%w: %s", ErrInvalidTransition, s.step))
}

// moveTo changes step. Callers hold mu.
func (s *Session) moveTo(next Step) {
	if s.step != next && !s.step.CanTransitionTo(next) {
		// every call site checks its own preconditions
		s.log.WithFields(logrus.Fields{"from": s.step, "to": next}).Error("unexpected step transition")
	}
	s.deps.Metrics.TrackTransition(string(s.step), string(next))
	s.log.WithFields(logrus.Fields{"from": s.step, "to": next}).Debug("step")
	s.step = next
	s.updatedAt = time.Now()
}

// requote refreshes the client-side quote. Callers hold mu.
func (s *Session) requote() error {
	q, err := s.deps.Pricing.ComputeTotal(s.sel)
	if err != nil {
		return err
	}
	s.quote = q
	if !s.confirmed {
		s.amount = q.Total
	}
	return nil
}

// clearTableIfInvalid drops the chosen table when the selection no longer
// needs it or the tier may not sit there. Callers hold mu.
func (s *Session) clearTableIfInvalid() {
	if !s.sel.HasTable() {
		return
	}
	if !s.sel.RequiresTable() || !IsSelectable(s.sel.TableID, s.sel.Tier) {
		s.log.WithField("table_id", s.sel.TableID.String()).Debug("clearing table")
		s.sel.TableID = models.NoTable
	}
}

// ChooseTier sets the tier and moves to add-on selection. Leaving Box drops the
// table it bundled; a table the new tier may not use is cleared.
func (s *Session) ChooseTier(tier models.InvitationTier) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(StepTierSelection, StepAddOnSelection, StepTableSelection, StepContactForm); err != nil {
		return s.viewLocked(), err
	}
	if s.purchaseID != "" {
		return s.viewLocked(), newUserError(KindState, ErrPurchaseLocked)
	}
	if !tier.Valid() {
		return s.viewLocked(), newUserError(KindValidation, fmt.Errorf("%w: %q", models.ErrUnknownTier, tier)).
			withMessage("Escolha um tipo de convite válido.")
	}

	prev := s.sel.Tier
	addOns := s.sel.AddOns
	if prev == models.TierBox && tier != models.TierBox {
		addOns = addOns.Without(models.AddOnTable)
	}
	s.sel = models.Selection{Tier: tier, AddOns: addOns, TableID: s.sel.TableID}.Normalize()
	s.clearTableIfInvalid()

	if err := s.requote(); err != nil {
		return s.viewLocked(), err
	}
	s.lastErr = nil
	s.moveTo(StepAddOnSelection)
	return s.viewLocked(), nil
}

// SetAddOns replaces the add-on set. Box keeps its bundled table.
func (s *Session) SetAddOns(addOns models.AddOnSet) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(StepAddOnSelection); err != nil {
		return s.viewLocked(), err
	}
	s.sel = models.Selection{Tier: s.sel.Tier, AddOns: addOns, TableID: s.sel.TableID}.Normalize()
	s.clearTableIfInvalid()

	if err := s.requote(); err != nil {
		return s.viewLocked(), err
	}
	s.updatedAt = time.Now()
	return s.viewLocked(), nil
}

// Continue advances from add-ons to table selection (when a table is needed)
// or to the contact form, and from table selection to the contact form once a
// table is chosen.
func (s *Session) Continue() (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(StepAddOnSelection, StepTableSelection); err != nil {
		return s.viewLocked(), err
	}

	switch {
	case s.step == StepAddOnSelection && s.sel.RequiresTable():
		s.moveTo(StepTableSelection)
	case s.sel.RequiresTable() && !s.sel.HasTable():
		return s.viewLocked(), newUserError(KindValidation, ErrTableRequired).withMessage("Escolha uma mesa para continuar.")
	default:
		s.moveTo(StepContactForm)
	}
	return s.viewLocked(), nil
}

// SelectTable picks a table locally. Nothing is claimed until the contact form
// is submitted.
func (s *Session) SelectTable(id models.TableID) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(StepTableSelection, StepContactForm); err != nil {
		return s.viewLocked(), err
	}
	if !s.sel.RequiresTable() {
		return s.viewLocked(), newUserError(KindState, fmt.Errorf("%w: no table in selection", ErrInvalidTransition))
	}
	if !id.Valid() {
		return s.viewLocked(), newUserError(KindValidation, fmt.Errorf("%w: %d", models.ErrInvalidTable, int(id))).
			withMessage("Mesa inválida.")
	}
	if !IsSelectable(id, s.sel.Tier) {
		return s.viewLocked(), newUserError(KindValidation, fmt.Errorf("%w: %s", ErrTableNotSelectable, id)).
			withMessage("Esta mesa não está disponível para o seu convite.")
	}

	s.sel.TableID = id
	s.lastErr = nil
	s.updatedAt = time.Now()
	return s.viewLocked(), nil
}

// Chart renders the seating chart for the session's tier.
func (s *Session) Chart() ([]ChartSection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sel.Tier.Valid() {
		return nil, newUserError(KindState, ErrTierRequired).withMessage("Escolha um tipo de convite primeiro.")
	}
	return Chart(s.sel.Tier, s.sel.TableID), nil
}

// SubmitContact validates the form, initiates the purchase (once) and claims
// the table. The server's amount replaces the local quote. A failed claim
// sends the buyer back to table selection with the form and purchase kept.
func (s *Session) SubmitContact(ctx context.Context, contact models.ContactInfo) (View, error) {
	s.mu.Lock()
	if err := s.guard(StepContactForm); err != nil {
		defer s.mu.Unlock()
		return s.viewLocked(), err
	}

	s.contact = contact.Normalize()
	if err := s.contact.Validate(); err != nil {
		ue := newUserError(KindValidation, err)
		s.lastErr = ue
		defer s.mu.Unlock()
		return s.viewLocked(), ue
	}
	if s.sel.RequiresTable() && !s.sel.HasTable() {
		ue := newUserError(KindValidation, ErrTableRequired).withMessage("Escolha uma mesa para continuar.")
		s.lastErr = ue
		defer s.mu.Unlock()
		return s.viewLocked(), ue
	}

	s.loading = true
	s.lastErr = nil
	purchaseID := s.purchaseID
	sel := s.sel
	req := models.PurchaseRequest{
		ContactInfo:  s.contact,
		Tier:         sel.Tier,
		Table:        sel.AddOns.Has(models.AddOnTable),
		Parking:      sel.AddOns.Has(models.AddOnParking),
		TableID:      sel.TableID,
		Amount:       s.quote.Total,
		ReferralCode: s.referral.Code(),
	}
	s.mu.Unlock()

	log := s.log.WithFields(logrus.Fields{
		"tier":  sel.Tier,
		"phone": utils.MaskPII(s.deps.PIIKey, req.Phone),
	})

	var resp models.PurchaseResponse
	var initErr error
	if purchaseID == "" {
		resp, initErr = s.deps.API.InitiatePurchase(ctx, req)
		if initErr == nil {
			purchaseID = resp.PurchaseID
			log = log.WithField("purchase_id", purchaseID)
			if !resp.Amount.IsZero() && !resp.Amount.Equal(req.Amount) {
				log.WithFields(logrus.Fields{
					"local_amount":  req.Amount.StringFixed(2),
					"server_amount": resp.Amount.StringFixed(2),
				}).Warn("server amount differs from quote")
			}
		}
	}

	var reserveErr error
	if initErr == nil && sel.RequiresTable() {
		reserveErr = s.deps.API.ReserveTable(ctx, models.TableReservationRequest{
			TableID:    sel.TableID,
			PurchaseID: purchaseID,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false

	if s.closed {
		return s.viewLocked(), ErrSessionClosed
	}

	if initErr != nil {
		log.WithError(initErr).Error("purchase initiation failed")
		s.lastErr = newUserError(KindInitiation, initErr)
		return s.viewLocked(), s.lastErr
	}

	if s.purchaseID == "" {
		s.purchaseID = purchaseID
		if !resp.Amount.IsZero() {
			s.amount = resp.Amount
		}
		s.confirmed = true
		log.WithField("amount", s.amount.StringFixed(2)).Info("purchase initiated")
	}

	if reserveErr != nil {
		log.WithError(reserveErr).WithField("table_id", sel.TableID.String()).Warn("table reservation failed")
		s.sel.TableID = models.NoTable
		s.moveTo(StepTableSelection)
		s.lastErr = newUserError(KindReservation, reserveErr)
		return s.viewLocked(), s.lastErr
	}

	s.moveTo(StepPaymentPending)
	return s.viewLocked(), nil
}

// StartWidget mounts the brick that fits the current step: the payment form
// while payment is pending, the status screen once a payment exists. Mounting
// runs in the background; the page follows the returned instructions.
func (s *Session) StartWidget() (WidgetView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return WidgetView{}, ErrSessionClosed
	}
	if s.fatalErr != nil {
		return s.widgetViewLocked(), s.fatalErr
	}

	var brick widget.BrickConfig
	switch {
	case s.step == StepPaymentPending:
		brick = s.adapter.Config().PaymentBrick(DefaultPaymentContainer, s.amount)
	case s.paymentID != "" && (s.step == StepStatusPolling || s.step.Terminal()):
		brick = s.adapter.Config().StatusScreenBrick(DefaultStatusContainer, s.paymentID, s.amount)
	default:
		return s.widgetViewLocked(), newUserError(KindState, fmt.Errorf("%w: widget at %s", ErrInvalidTransition, s.step))
	}

	if s.adapter.Mounted(brick.Kind) || s.adapter.Mounting(brick.Kind) {
		return s.widgetViewLocked(), nil
	}
	s.widgetOn = true
	go func() {
		if err := s.adapter.Mount(s.ctx, brick); err != nil && !errors.Is(err, widget.ErrClosed) && !errors.Is(err, context.Canceled) {
			s.ReportWidgetError(err)
		}
	}()
	return s.widgetViewLocked(), nil
}

// HandleWidgetEvent applies an event relayed by the page.
func (s *Session) HandleWidgetEvent(ctx context.Context, ev widget.Event) (View, error) {
	if err := s.host.Apply(ev); err != nil {
		return s.View(), newUserError(KindValidation, err).withMessage("Evento inválido.")
	}

	sig, err := s.adapter.Translate(ev)
	if err != nil {
		return s.View(), newUserError(KindState, err)
	}

	switch sig.Kind {
	case widget.SignalSubmit:
		return s.SubmitPayment(ctx, sig.Payload)
	case widget.SignalError:
		s.ReportWidgetError(sig.Err)
	case widget.SignalReady:
		s.log.WithField("brick", sig.Brick).Debug("widget ready")
	case widget.SignalBinChange:
		s.log.WithField("bin", sig.BIN).Debug("card bin changed")
	case widget.SignalCardToken:
		s.log.Debug("card token received")
	}
	return s.View(), nil
}

// SubmitPayment sends the widget's payload to exactly one payment endpoint. A
// failure returns the session to payment pending; any answer moves it to
// status polling.
func (s *Session) SubmitPayment(ctx context.Context, payload models.SubmitPayload) (View, error) {
	s.mu.Lock()
	if err := s.guard(StepPaymentPending); err != nil {
		defer s.mu.Unlock()
		return s.viewLocked(), err
	}

	s.loading = true
	s.lastErr = nil
	s.moveTo(StepPaymentSubmitted)
	order := payment.Order{
		PurchaseID:   s.purchaseID,
		Amount:       s.amount,
		Contact:      s.contact,
		ReferralCode: s.referral.Code(),
	}
	s.mu.Unlock()

	method := payload.Method()
	log := s.log.WithFields(logrus.Fields{"purchase_id": order.PurchaseID, "method": method})

	res, err := s.deps.Router.Route(ctx, order, payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false

	if err != nil {
		kind := KindPayment
		if api.IsValidation(err) || errors.Is(err, payment.ErrMissingToken) || errors.Is(err, payment.ErrUnsupportedMethod) {
			kind = KindPaymentValidation
		}
		s.deps.Metrics.TrackPaymentAttempt(string(method), string(kind))
		log.WithError(err).WithField("kind", kind).Error("payment creation failed")

		if !s.closed {
			s.moveTo(StepPaymentPending)
		}
		s.lastErr = newUserError(kind, err)
		return s.viewLocked(), s.lastErr
	}

	s.deps.Metrics.TrackPaymentAttempt(string(method), "ok")
	log.WithFields(logrus.Fields{"payment_id": res.PaymentID, "status": res.Status}).Info("payment created")

	s.paymentID = res.PaymentID
	s.status = res.Status
	s.pix = res.Pix
	if s.closed {
		return s.viewLocked(), ErrSessionClosed
	}
	s.moveTo(StepStatusPolling)
	s.startPollingLocked()
	return s.viewLocked(), nil
}

// ReportWidgetError records a widget failure: fatal ones block the payment
// step, the rest leave it open for another try.
func (s *Session) ReportWidgetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if widget.IsFatal(err) {
		s.log.WithError(err).Error("payment widget failed")
		s.fatalErr = newUserError(KindFatal, err)
		var werr *widget.Error
		if errors.As(err, &werr) && werr.Detail != "" {
			s.fatalErr.Details = werr.Detail
		}
		return
	}

	s.log.WithError(err).Warn("payment widget error")
	ue := newUserError(KindPayment, err)
	var werr *widget.Error
	if errors.As(err, &werr) && werr.Detail != "" {
		ue.Details = werr.Detail
	}
	s.lastErr = ue
	s.updatedAt = time.Now()
}

// Resume re-enters a purchase that already exists, skipping straight to status
// polling. Only a fresh session can resume.
func (s *Session) Resume(purchaseID string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(StepTierSelection); err != nil {
		return s.viewLocked(), err
	}
	if purchaseID == "" {
		return s.viewLocked(), newUserError(KindValidation, errors.New("purchase id is required")).
			withMessage("Compra não informada.")
	}

	s.purchaseID = purchaseID
	s.confirmed = true
	s.log.WithField("purchase_id", purchaseID).Info("resuming purchase")
	s.moveTo(StepStatusPolling)
	s.startPollingLocked()
	return s.viewLocked(), nil
}

// RetryPolling restarts an abandoned watch.
func (s *Session) RetryPolling() (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(StepStatusPolling); err != nil {
		return s.viewLocked(), err
	}
	if s.stopPoll != nil {
		return s.viewLocked(), nil
	}
	s.lastErr = nil
	s.startPollingLocked()
	return s.viewLocked(), nil
}

// startPollingLocked starts the poll task. Callers hold mu.
func (s *Session) startPollingLocked() {
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	s.stopPoll = cancel
	s.pollDone = done

	updates := s.deps.Poller.Watch(ctx, WatchRequest{
		PurchaseID: s.purchaseID,
		Amount:     s.amount,
		Referral:   s.referral,
	})

	go func() {
		defer close(done)
		for u := range updates {
			s.applyUpdate(u)
		}
		s.mu.Lock()
		if s.pollDone == done {
			s.stopPoll = nil
		}
		s.mu.Unlock()
		cancel()
	}()
}

func (s *Session) applyUpdate(u StatusUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if u.Err != nil {
		s.lastErr = newUserError(KindPolling, u.Err)
		s.updatedAt = time.Now()
		return
	}

	s.status = u.Result.Status
	if u.Result.PaymentID != "" {
		s.paymentID = u.Result.PaymentID
	}
	if s.amount.IsZero() && u.Result.Amount != nil {
		s.amount = *u.Result.Amount
	}
	s.updatedAt = time.Now()

	switch u.Result.Status {
	case models.StatusApproved:
		s.moveTo(StepApproved)
	case models.StatusRejected:
		s.moveTo(StepRejected)
	}
}

// WaitPolling blocks until the current poll task ends or ctx is done.
func (s *Session) WaitPolling(ctx context.Context) error {
	s.mu.Lock()
	done := s.pollDone
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels the poll timer, aborts widget retries and removes the widget
// script. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.adapter.Close()
	s.log.Debug("session closed")
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
