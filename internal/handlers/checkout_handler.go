package handlers

import (
	"context"
	"errors"
	"net/http"

	"invite-checkout/internal/referral"
	"invite-checkout/internal/widget"
	"invite-checkout/models"
	"invite-checkout/security"
	"invite-checkout/services"

	"github.com/labstack/echo/v5"
	"github.com/sirupsen/logrus"
)

const (
	HeaderSessionID = "X-Session-ID"
	HeaderDeviceID  = "X-Device-ID"

	sessionKey = "session"
)

// ReferralStore keeps the seller code a device arrived with.
type ReferralStore interface {
	referral.Watcher
	Get(ctx context.Context, deviceID string) (string, error)
	Set(ctx context.Context, deviceID, code string) (string, error)
}

type CheckoutHandler struct {
	registry  *services.Registry
	referrals ReferralStore
	health    func(ctx context.Context) error
	log       logrus.FieldLogger
}

// NewCheckoutHandler wires the session endpoints. referrals and health may be
// nil.
func NewCheckoutHandler(registry *services.Registry, referrals ReferralStore, health func(ctx context.Context) error, log logrus.FieldLogger) *CheckoutHandler {
	return &CheckoutHandler{
		registry:  registry,
		referrals: referrals,
		health:    health,
		log:       log,
	}
}

// Register mounts the routes. entryLimit guards session creation and referral
// capture, contactLimit throttles purchase initiation. Either may be nil.
func (h *CheckoutHandler) Register(e *echo.Echo, entryLimit, contactLimit echo.MiddlewareFunc) {
	e.GET("/health", h.Health)

	api := e.Group("/api")
	api.POST("/sessions", h.CreateSession, optional(entryLimit)...)
	api.POST("/referral", h.SaveReferral, optional(entryLimit)...)

	s := api.Group("/session", h.withSession)
	s.GET("", h.GetSession)
	s.DELETE("", h.CloseSession)
	s.POST("/tier", h.ChooseTier)
	s.POST("/addons", h.SetAddOns)
	s.POST("/continue", h.Continue)
	s.GET("/tables", h.Tables)
	s.POST("/table", h.SelectTable)
	s.POST("/contact", h.SubmitContact, optional(contactLimit)...)
	s.GET("/widget", h.StartWidget)
	s.POST("/widget/events", h.WidgetEvent)
	s.POST("/resume", h.Resume)
	s.POST("/poll/retry", h.RetryPolling)
}

func optional(mw echo.MiddlewareFunc) []echo.MiddlewareFunc {
	if mw == nil {
		return nil
	}
	return []echo.MiddlewareFunc{mw}
}

func (h *CheckoutHandler) withSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(HeaderSessionID)
		s, err := h.registry.Get(id)
		if err != nil {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": "Sessão não encontrada. Recarregue a página.",
				"kind":  "not_found",
			})
		}
		c.Set(sessionKey, s)
		c.Set(security.SessionKey, id)
		return next(c)
	}
}

func session(c echo.Context) *services.Session {
	return c.Get(sessionKey).(*services.Session)
}

func badRequest(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, map[string]string{
		"error":   "Requisição inválida.",
		"kind":    string(services.KindValidation),
		"details": err.Error(),
	})
}

func statusFor(kind services.ErrorKind) int {
	switch kind {
	case services.KindValidation, services.KindPaymentValidation:
		return http.StatusUnprocessableEntity
	case services.KindBusy, services.KindReservation, services.KindState:
		return http.StatusConflict
	case services.KindInitiation, services.KindPayment, services.KindPolling:
		return http.StatusBadGateway
	case services.KindFatal:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respond renders the view, or the error alongside the view it left behind.
func (h *CheckoutHandler) respond(c echo.Context, v services.View, err error) error {
	if err == nil {
		return c.JSON(http.StatusOK, v)
	}

	if errors.Is(err, services.ErrSessionClosed) {
		return c.JSON(http.StatusGone, map[string]string{
			"error": "Sessão encerrada. Recarregue a página.",
			"kind":  "closed",
		})
	}

	ue, ok := services.AsUserError(err)
	if !ok {
		h.log.WithError(err).WithField("session_id", v.ID).Error("unclassified checkout error")
		return c.JSON(http.StatusInternalServerError, map[string]any{
			"error":   "Erro inesperado. Tente novamente.",
			"kind":    "internal",
			"session": v,
		})
	}
	return c.JSON(statusFor(ue.Kind), map[string]any{
		"error":   ue.Message,
		"kind":    ue.Kind,
		"details": ue.Details,
		"session": v,
	})
}

type createSessionRequest struct {
	ReferralCode      string `json:"referral_code"`
	ExternalReference string `json:"external_reference"`
}

// CreateSession opens a checkout. The referral code comes from the request or,
// failing that, from what the device stored earlier; the session then follows
// later changes made from other tabs.
func (h *CheckoutHandler) CreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}

	ctx := c.Request().Context()
	device := c.Request().Header.Get(HeaderDeviceID)
	code, err := referral.NormalizeCode(req.ReferralCode)
	if err != nil {
		h.log.WithError(err).Warn("ignoring malformed referral code")
		code = ""
	}

	if h.referrals != nil && device != "" {
		if code != "" {
			if _, err := h.referrals.Set(ctx, device, code); err != nil {
				h.log.WithError(err).Warn("referral code not stored")
			}
		} else if stored, err := h.referrals.Get(ctx, device); err != nil {
			h.log.WithError(err).Warn("referral lookup failed")
		} else {
			code = stored
		}
	}

	rc := referral.NewContext(code)
	s := h.registry.Create(rc)
	if h.referrals != nil && device != "" {
		if err := rc.Follow(s.Context(), h.referrals, device); err != nil {
			h.log.WithError(err).WithField("session_id", s.ID()).Warn("referral sync unavailable")
		}
	}

	c.Response().Header().Set(HeaderSessionID, s.ID())
	if req.ExternalReference != "" {
		v, err := s.Resume(req.ExternalReference)
		if err != nil {
			return h.respond(c, v, err)
		}
		return c.JSON(http.StatusCreated, v)
	}
	return c.JSON(http.StatusCreated, s.View())
}

type referralRequest struct {
	Code string `json:"code"`
}

// SaveReferral stores the device's seller code. Open sessions of the device
// pick it up through the change feed.
func (h *CheckoutHandler) SaveReferral(c echo.Context) error {
	var req referralRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	if h.referrals == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "Indicação indisponível.",
			"kind":  "unavailable",
		})
	}

	code, err := h.referrals.Set(c.Request().Context(), c.Request().Header.Get(HeaderDeviceID), req.Code)
	switch {
	case errors.Is(err, referral.ErrInvalidCode), errors.Is(err, referral.ErrMissingDevice):
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{
			"error":   "Código de vendedor inválido.",
			"kind":    string(services.KindValidation),
			"details": err.Error(),
		})
	case err != nil:
		h.log.WithError(err).Error("referral code not stored")
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "Não foi possível salvar o código.",
			"kind":  "unavailable",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"code": code})
}

func (h *CheckoutHandler) GetSession(c echo.Context) error {
	return c.JSON(http.StatusOK, session(c).View())
}

func (h *CheckoutHandler) CloseSession(c echo.Context) error {
	h.registry.Close(session(c).ID())
	return c.NoContent(http.StatusNoContent)
}

type tierRequest struct {
	Tier string `json:"tier"`
}

func (h *CheckoutHandler) ChooseTier(c echo.Context) error {
	var req tierRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	v, err := session(c).ChooseTier(models.InvitationTier(req.Tier))
	return h.respond(c, v, err)
}

type addOnsRequest struct {
	AddOns []string `json:"add_ons"`
}

func (h *CheckoutHandler) SetAddOns(c echo.Context) error {
	var req addOnsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	set := models.NewAddOnSet()
	for _, raw := range req.AddOns {
		a, err := models.ParseAddOn(raw)
		if err != nil {
			return badRequest(c, err)
		}
		set = set.With(a)
	}
	v, err := session(c).SetAddOns(set)
	return h.respond(c, v, err)
}

func (h *CheckoutHandler) Continue(c echo.Context) error {
	v, err := session(c).Continue()
	return h.respond(c, v, err)
}

func (h *CheckoutHandler) Tables(c echo.Context) error {
	s := session(c)
	sections, err := s.Chart()
	if err != nil {
		return h.respond(c, s.View(), err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"sections": sections,
		"selected": s.View().TableID,
	})
}

type tableRequest struct {
	TableID string `json:"table_id"`
}

func (h *CheckoutHandler) SelectTable(c echo.Context) error {
	var req tableRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	id, err := models.ParseTableID(req.TableID)
	if err != nil {
		return badRequest(c, err)
	}
	v, err := session(c).SelectTable(id)
	return h.respond(c, v, err)
}

func (h *CheckoutHandler) SubmitContact(c echo.Context) error {
	var contact models.ContactInfo
	if err := c.Bind(&contact); err != nil {
		return badRequest(c, err)
	}
	v, err := session(c).SubmitContact(c.Request().Context(), contact)
	return h.respond(c, v, err)
}

func (h *CheckoutHandler) StartWidget(c echo.Context) error {
	s := session(c)
	wv, err := s.StartWidget()
	if err != nil {
		return h.respond(c, s.View(), err)
	}
	return c.JSON(http.StatusOK, wv)
}

func (h *CheckoutHandler) WidgetEvent(c echo.Context) error {
	var ev widget.Event
	if err := c.Bind(&ev); err != nil {
		return badRequest(c, err)
	}
	v, err := session(c).HandleWidgetEvent(c.Request().Context(), ev)
	return h.respond(c, v, err)
}

type resumeRequest struct {
	ExternalReference string `json:"external_reference"`
}

func (h *CheckoutHandler) Resume(c echo.Context) error {
	var req resumeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	v, err := session(c).Resume(req.ExternalReference)
	return h.respond(c, v, err)
}

func (h *CheckoutHandler) RetryPolling(c echo.Context) error {
	v, err := session(c).RetryPolling()
	return h.respond(c, v, err)
}

func (h *CheckoutHandler) Health(c echo.Context) error {
	if h.health != nil {
		if err := h.health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":   "healthy",
		"sessions": h.registry.Len(),
	})
}
