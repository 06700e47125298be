// README: Ride handlers; every action is delegated to the ride client and answered with the resulting snapshot.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"orbix/internal/gateway"
	"orbix/internal/modules/navigator"
	"orbix/internal/modules/pricing"
	"orbix/internal/modules/ride"
	"orbix/internal/realtime"
	"orbix/internal/service"
	"orbix/internal/types"
)

// RideActions is what the control API drives.
type RideActions interface {
	Role() types.Role
	Session() ride.Session
	LastFinished() (ride.Session, bool)
	Screen() navigator.ScreenID
	Banner() (navigator.Banner, bool)
	Offers() []ride.Offer
	Notices() []service.Notice
	ConnectionStatus() realtime.Status

	RequestRide(ctx context.Context, req service.RideRequest) (ride.Session, error)
	PlanTrip(ctx context.Context, req service.TripRequest) (service.TripPlan, error)
	AcceptOffer(ctx context.Context, rideID types.ID) (ride.Session, error)
	SubmitOTP(ctx context.Context, otp string) (ride.Session, error)
	StartWaiting(ctx context.Context) (ride.Session, error)
	EndWaiting(ctx context.Context) (ride.Session, error)
	EndRide(ctx context.Context) (ride.Session, error)
	FinalizeFare(ctx context.Context, fees map[string]types.Money) (pricing.Fare, error)
	Pay(ctx context.Context, req service.PayRequest) (gateway.Receipt, error)
	Cancel(ctx context.Context, reason string) error
	Rate(ctx context.Context, stars int, comment string) error
	DismissError()
	Detach()
	Resume()
	Logout() error
}

var _ RideActions = (*service.RideClient)(nil)

type RideHandler struct {
	rides RideActions
}

func NewRideHandler(rides RideActions) *RideHandler {
	return &RideHandler{rides: rides}
}

type snapshotResp struct {
	Role         types.Role         `json:"role"`
	Session      ride.Session       `json:"session"`
	Screen       navigator.ScreenID `json:"screen"`
	Banner       *navigator.Banner  `json:"banner,omitempty"`
	Connection   realtime.Status    `json:"connection"`
	LastFinished *ride.Session      `json:"lastFinished,omitempty"`
}

func (h *RideHandler) snapshot() snapshotResp {
	resp := snapshotResp{
		Role:       h.rides.Role(),
		Session:    h.rides.Session(),
		Screen:     h.rides.Screen(),
		Connection: h.rides.ConnectionStatus(),
	}
	if b, ok := h.rides.Banner(); ok {
		resp.Banner = &b
	}
	if last, ok := h.rides.LastFinished(); ok {
		resp.LastFinished = &last
	}
	return resp
}

func (h *RideHandler) Get(c *gin.Context) {
	writeJSON(c, http.StatusOK, h.snapshot())
}

func (h *RideHandler) Offers(c *gin.Context) {
	offers := h.rides.Offers()
	if offers == nil {
		offers = []ride.Offer{}
	}
	writeJSON(c, http.StatusOK, map[string]any{"offers": offers})
}

func (h *RideHandler) Notices(c *gin.Context) {
	notices := h.rides.Notices()
	if notices == nil {
		notices = []service.Notice{}
	}
	writeJSON(c, http.StatusOK, map[string]any{"notices": notices})
}

func (h *RideHandler) Request(c *gin.Context) {
	var req service.RideRequest
	if !bindJSON(c, &req) {
		return
	}
	if _, err := h.rides.RequestRide(c.Request.Context(), req); err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, h.snapshot())
}

func (h *RideHandler) Quote(c *gin.Context) {
	var req service.TripRequest
	if !bindJSON(c, &req) {
		return
	}
	plan, err := h.rides.PlanTrip(c.Request.Context(), req)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, plan)
}

func (h *RideHandler) AcceptOffer(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing ride id")
		return
	}
	if _, err := h.rides.AcceptOffer(c.Request.Context(), types.ID(id)); err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, h.snapshot())
}

type otpReq struct {
	OTP string `json:"otp"`
}

func (h *RideHandler) SubmitOTP(c *gin.Context) {
	var req otpReq
	if !bindJSON(c, &req) {
		return
	}
	if _, err := h.rides.SubmitOTP(c.Request.Context(), req.OTP); err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, h.snapshot())
}

func (h *RideHandler) StartWaiting(c *gin.Context) {
	h.act(c, h.rides.StartWaiting)
}

func (h *RideHandler) EndWaiting(c *gin.Context) {
	h.act(c, h.rides.EndWaiting)
}

func (h *RideHandler) End(c *gin.Context) {
	h.act(c, h.rides.EndRide)
}

func (h *RideHandler) act(c *gin.Context, fn func(context.Context) (ride.Session, error)) {
	if _, err := fn(c.Request.Context()); err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, h.snapshot())
}

type fareReq struct {
	Fees map[string]types.Money `json:"fees"`
}

func (h *RideHandler) FinalizeFare(c *gin.Context) {
	var req fareReq
	if !bindJSON(c, &req) {
		return
	}
	fare, err := h.rides.FinalizeFare(c.Request.Context(), req.Fees)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"fare": fare, "total": fare.Total()})
}

func (h *RideHandler) Pay(c *gin.Context) {
	var req service.PayRequest
	if !bindJSON(c, &req) {
		return
	}
	receipt, err := h.rides.Pay(c.Request.Context(), req)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"receipt": receipt, "ride": h.snapshot()})
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *RideHandler) Cancel(c *gin.Context) {
	var req cancelReq
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	if err := h.rides.Cancel(c.Request.Context(), strings.TrimSpace(req.Reason)); err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, h.snapshot())
}

type ratingReq struct {
	Stars   int    `json:"stars"`
	Comment string `json:"comment"`
}

func (h *RideHandler) Rate(c *gin.Context) {
	var req ratingReq
	if !bindJSON(c, &req) {
		return
	}
	if err := h.rides.Rate(c.Request.Context(), req.Stars, req.Comment); err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, h.snapshot())
}

func (h *RideHandler) Dismiss(c *gin.Context) {
	h.rides.DismissError()
	writeJSON(c, http.StatusOK, h.snapshot())
}

func (h *RideHandler) Detach(c *gin.Context) {
	h.rides.Detach()
	writeJSON(c, http.StatusOK, h.snapshot())
}

func (h *RideHandler) Resume(c *gin.Context) {
	h.rides.Resume()
	writeJSON(c, http.StatusOK, h.snapshot())
}

func (h *RideHandler) Logout(c *gin.Context) {
	if err := h.rides.Logout(); err != nil {
		writeAppError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
