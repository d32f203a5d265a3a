package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"presensi/internal/auth"
	"presensi/internal/card"
	"presensi/internal/config"
	"presensi/internal/gate"
	"presensi/internal/ledger"
	"presensi/internal/metrics"
	"presensi/internal/notify"
	"presensi/internal/session"
	"presensi/internal/store"
	"presensi/internal/verify"
)

// deviceStore is the slice of the device repository the handlers need.
type deviceStore interface {
	Upsert(ctx context.Context, deviceID, schoolID string) error
	SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error
	RefreshTokenUsable(ctx context.Context, token string, now time.Time) (bool, error)
	RevokeRefreshToken(ctx context.Context, token string) error
}

type api struct {
	cfg      config.App
	issuer   *session.Issuer
	sessions *session.Repository
	checkins *verify.Repository
	gate     *verify.Service
	tracker  *gate.Tracker
	cards    *card.Registry
	cardRepo *card.Repository
	gateRepo *gate.Repository
	ledger   *ledger.Repository
	devices  deviceStore
	redis    *store.Redis
}

// registerDevice enrolls a gate reader and issues its device tokens.
func (a *api) registerDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
		SchoolID string `json:"school_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := a.devices.Upsert(c.Request.Context(), req.DeviceID, req.SchoolID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "device registration failed"})
		return
	}

	tokens, err := auth.Issue(req.DeviceID, auth.RoleDevice, a.cfg.JWTIssuer, a.cfg.JWTSigningKey, a.cfg.AccessTTL, a.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	_ = a.devices.SaveRefreshToken(c.Request.Context(), req.DeviceID, tokens.RefreshToken, tokens.RefreshExp)

	c.JSON(http.StatusCreated, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

// openSession opens an attendance window and returns the scannable token.
func (a *api) openSession(c *gin.Context) {
	var req struct {
		ClassID         string   `json:"class_id" binding:"required"`
		SubjectID       string   `json:"subject_id" binding:"required"`
		DurationMinutes int      `json:"duration_minutes" binding:"required"`
		RadiusMeters    float64  `json:"radius_meters"`
		Latitude        *float64 `json:"latitude"`
		Longitude       *float64 `json:"longitude"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, _ := auth.ClaimsFrom(c)

	s, token, err := a.issuer.Open(c.Request.Context(), session.OpenRequest{
		ClassID:         req.ClassID,
		SubjectID:       req.SubjectID,
		TeacherID:       claims.Subject,
		DurationMinutes: req.DurationMinutes,
		RadiusMeters:    req.RadiusMeters,
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
	})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrBadDuration), errors.Is(err, session.ErrBadRadius):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrLocationUnavailable):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "location unavailable", "reason": "location_unavailable"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session open failed"})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": s, "token": token})
}

// getSession returns authoritative session state.
func (a *api) getSession(c *gin.Context) {
	s, err := a.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s})
}

// sessionQR renders the session token as a QR PNG for the teacher screen.
func (a *api) sessionQR(c *gin.Context) {
	s, err := a.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	token, err := session.EncodeToken(session.TokenPayload{
		SessionID: s.ID, ClassID: s.ClassID, SubjectID: s.SubjectID, ValidUntil: s.EndTime,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token encode failed"})
		return
	}
	png, err := session.QRPNG(token, a.cfg.QRSizePixels)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "qr render failed"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// listClassSessions returns a class's sessions for a date, newest first.
func (a *api) listClassSessions(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date required"})
		return
	}
	sessions, err := a.sessions.ListByClassDate(c.Request.Context(), c.Param("id"), date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// getCheckin returns one student's check-in against a session, if any.
func (a *api) getCheckin(c *gin.Context) {
	ci, err := a.checkins.GetCheckIn(c.Request.Context(), c.Param("id"), c.Param("student"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ci == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no check-in recorded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkin": ci})
}

// refreshDevice rotates a gate reader's token pair. The presented
// refresh token is revoked whether or not a new pair gets issued.
func (a *api) refreshDevice(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := auth.Parse(req.RefreshToken, a.cfg.JWTSigningKey, a.cfg.JWTIssuer)
	if err != nil || claims.Role != auth.RoleDevice {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	usable, err := a.devices.RefreshTokenUsable(c.Request.Context(), req.RefreshToken, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token check failed"})
		return
	}
	if !usable {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	_ = a.devices.RevokeRefreshToken(c.Request.Context(), req.RefreshToken)

	tokens, err := auth.Issue(claims.Subject, auth.RoleDevice, a.cfg.JWTIssuer, a.cfg.JWTSigningKey, a.cfg.AccessTTL, a.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	_ = a.devices.SaveRefreshToken(c.Request.Context(), claims.Subject, tokens.RefreshToken, tokens.RefreshExp)

	c.JSON(http.StatusOK, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

// listSessionCheckins returns the scans recorded against a session.
func (a *api) listSessionCheckins(c *gin.Context) {
	res, err := a.checkins.ListBySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkins": res})
}

// scan verifies a presented QR token against its session.
func (a *api) scan(c *gin.Context) {
	var req struct {
		Token     string   `json:"token" binding:"required"`
		StudentID string   `json:"student_id" binding:"required"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var loc *verify.Location
	if req.Latitude != nil && req.Longitude != nil {
		loc = &verify.Location{Latitude: *req.Latitude, Longitude: *req.Longitude}
	}

	res, err := a.gate.Verify(c.Request.Context(), req.Token, req.StudentID, time.Now().UTC(), loc)
	if err != nil {
		metrics.Scans.WithLabelValues("persistence_failure").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed, please retry"})
		return
	}

	if res.Accepted {
		metrics.Scans.WithLabelValues(string(res.Status)).Inc()
		c.JSON(http.StatusOK, gin.H{"accepted": true, "status": res.Status})
		return
	}

	metrics.Scans.WithLabelValues(string(res.Reason)).Inc()
	switch res.Reason {
	case verify.ReasonAlreadyCheckedIn:
		// A neutral confirmation, not an error banner.
		c.JSON(http.StatusOK, gin.H{
			"accepted": false, "reason": res.Reason,
			"message": "already checked in for this session",
		})
	case verify.ReasonExpired:
		c.JSON(http.StatusGone, gin.H{
			"accepted": false, "reason": res.Reason,
			"message": "session has ended, ask your teacher for a fresh code",
		})
	case verify.ReasonOutOfRange:
		c.JSON(http.StatusForbidden, gin.H{
			"accepted": false, "reason": res.Reason,
			"distance_meters": res.DistanceMeters, "allowed_meters": res.AllowedMeters,
			"message": fmt.Sprintf("too far from class: %.0f m away, allowed %.0f m", res.DistanceMeters, res.AllowedMeters),
		})
	case verify.ReasonLocationUnavailable:
		c.JSON(http.StatusBadRequest, gin.H{
			"accepted": false, "reason": res.Reason,
			"message": "this session needs your location, enable GPS and rescan",
		})
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"accepted": false, "reason": verify.ReasonInvalidToken,
			"message": "code not recognized, rescan the QR",
		})
	}
}

// gateCheckIn records a manual gate entry.
func (a *api) gateCheckIn(c *gin.Context) {
	var req struct {
		StudentID string `json:"student_id" binding:"required"`
		SchoolID  string `json:"school_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := a.tracker.CheckIn(c.Request.Context(), req.StudentID, req.SchoolID, gate.MethodManual, time.Now().UTC())
	if err != nil {
		if errors.Is(err, gate.ErrAlreadyCheckedInToday) {
			c.JSON(http.StatusConflict, gin.H{
				"reason": "already_checked_in_today", "message": "already checked in today",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "check-in failed, please retry"})
		return
	}
	metrics.GateEvents.WithLabelValues("check_in").Inc()
	c.JSON(http.StatusCreated, gin.H{"record": rec})
}

// gateCheckOut closes the day's gate record.
func (a *api) gateCheckOut(c *gin.Context) {
	var req struct {
		RecordID string `json:"record_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := a.tracker.CheckOut(c.Request.Context(), req.RecordID, gate.MethodManual, time.Now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, gate.ErrNotCheckedIn):
			c.JSON(http.StatusNotFound, gin.H{"reason": "not_checked_in", "message": "no open check-in for that record"})
		case errors.Is(err, gate.ErrAlreadyCheckedOut):
			c.JSON(http.StatusConflict, gin.H{"reason": "already_checked_out", "message": "already checked out today"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "check-out failed, please retry"})
		}
		return
	}
	metrics.GateEvents.WithLabelValues("check_out").Inc()
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

// tap handles one card presentation from a gate reader.
func (a *api) tap(c *gin.Context) {
	var req struct {
		CardUID string `json:"card_uid" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	deviceID := claims.Subject

	res, err := a.tracker.Tap(c.Request.Context(), req.CardUID, deviceID, time.Now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, card.ErrCardNotFound):
			metrics.Taps.WithLabelValues("card_not_found").Inc()
			c.JSON(http.StatusNotFound, gin.H{"reason": "card_not_found", "message": "card is not registered"})
		case errors.Is(err, gate.ErrCardNotActive):
			metrics.Taps.WithLabelValues("card_not_active").Inc()
			c.JSON(http.StatusForbidden, gin.H{"reason": "card_not_active", "message": "card is not active"})
		case errors.Is(err, gate.ErrAlreadyCheckedInToday):
			metrics.Taps.WithLabelValues("cycle_spent").Inc()
			c.JSON(http.StatusConflict, gin.H{"reason": "already_checked_in_today", "message": "today's check-in and check-out are done"})
		default:
			metrics.Taps.WithLabelValues("persistence_failure").Inc()
			c.JSON(http.StatusInternalServerError, gin.H{"error": "tap failed, please retry"})
		}
		return
	}
	metrics.Taps.WithLabelValues(string(res.TapType)).Inc()
	c.JSON(http.StatusOK, gin.H{"student_id": res.StudentID, "tap_type": res.TapType, "record": res.Record})
}

// listGateRecords returns a school's gate day sheet.
func (a *api) listGateRecords(c *gin.Context) {
	schoolID := c.Query("school_id")
	date := c.Query("date")
	if schoolID == "" || date == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "school_id and date required"})
		return
	}
	recs, err := a.gateRepo.ListRecords(c.Request.Context(), schoolID, date, 0, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

// registerCard binds a card UID to a student.
func (a *api) registerCard(c *gin.Context) {
	var req struct {
		CardUID   string `json:"card_uid" binding:"required"`
		StudentID string `json:"student_id" binding:"required"`
		SchoolID  string `json:"school_id" binding:"required"`
		Notes     string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cd, err := a.cards.Register(c.Request.Context(), req.CardUID, req.StudentID, req.SchoolID, req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, card.ErrDuplicateCard):
			c.JSON(http.StatusConflict, gin.H{"reason": "duplicate_card", "message": "card uid already registered"})
		case errors.Is(err, card.ErrBadUID):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "card registration failed"})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"card": cd})
}

// getCard returns a card binding.
func (a *api) getCard(c *gin.Context) {
	cd, err := a.cards.Lookup(c.Request.Context(), c.Param("uid"))
	if err != nil {
		if errors.Is(err, card.ErrCardNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "card not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"card": cd})
}

// setCardStatus moves a card to a new status by admin action.
func (a *api) setCardStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
		Notes  string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := a.cards.SetStatus(c.Request.Context(), c.Param("uid"), card.Status(req.Status), req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, card.ErrBadStatus):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, card.ErrCardNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "card not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "status update failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"card_uid": card.NormalizeUID(c.Param("uid")), "status": req.Status})
}

// unregisterCard removes a binding; tap history stays.
func (a *api) unregisterCard(c *gin.Context) {
	if err := a.cards.Unregister(c.Request.Context(), c.Param("uid")); err != nil {
		if errors.Is(err, card.ErrCardNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "card not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unregister failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// listCards lists a school's card bindings.
func (a *api) listCards(c *gin.Context) {
	schoolID := c.Query("school_id")
	if schoolID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "school_id required"})
		return
	}
	cards, err := a.cardRepo.List(c.Request.Context(), schoolID, 0, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cards": cards})
}

// liveEvents streams attendance events to dashboards over SSE. The
// subscription is read-only; it refreshes summaries and drives nothing.
func (a *api) liveEvents(c *gin.Context) {
	sub := a.redis.Subscribe(c.Request.Context(), notify.EventsChannel)
	defer sub.Close()
	ch := sub.Channel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("attendance", msg.Payload)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// listLedger returns one class's attendance ledger for a date.
func (a *api) listLedger(c *gin.Context) {
	classID := c.Query("class_id")
	date := c.Query("date")
	if classID == "" || date == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "class_id and date required"})
		return
	}
	entries, err := a.ledger.ListByClassDate(c.Request.Context(), classID, date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
