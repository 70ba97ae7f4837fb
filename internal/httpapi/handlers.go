package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"quote-engine/internal/pricing"
	"quote-engine/internal/quote"
	"quote-engine/internal/receipt"
	"quote-engine/internal/session"
	"quote-engine/pkg/api"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// capabilities handles GET /v1/capabilities
func (s *Server) capabilities(c *gin.Context) {
	table := s.dispatcher.Table()
	c.JSON(http.StatusOK, api.Capabilities{
		Scheme:           table.Scheme(),
		RateVersion:      table.Version(),
		Tiers:            table.Tiers(),
		OffloadSupported: s.dispatcher.OffloadSupported(),
		Rules:            s.evaluator.Rules(),
	})
}

// createQuote handles POST /v1/quotes. Fields the body leaves out take their
// defaults; nothing is kept after the response.
func (s *Server) createQuote(c *gin.Context) {
	cfg := pricing.DefaultConfiguration(s.dispatcher.Table())
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}
	if !cfg.HasRooms() {
		s.fail(c, fmt.Errorf("quote: %w: at least one room is required", quote.ErrInvalidInput))
		return
	}

	store := s.newStore()
	if err := store.Restore(cfg); err != nil {
		s.fail(c, err)
		return
	}
	snap, offloaded, err := store.Refresh(c.Request.Context(), s.dispatcher)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.toQuote(snap, offloaded))
}

// createSession handles POST /v1/sessions
func (s *Server) createSession(c *gin.Context) {
	c.JSON(http.StatusCreated, api.Session{ID: s.sessions.NewID()})
}

// getSession handles GET /v1/sessions/:id
func (s *Server) getSession(c *gin.Context) {
	id := c.Param("id")
	store, err := s.sessions.Open(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.toSession(id, store))
}

// patchSession handles PATCH /v1/sessions/:id. A patch applies completely
// or not at all.
func (s *Server) patchSession(c *gin.Context) {
	var patch api.SessionPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}

	id := c.Param("id")
	ctx := c.Request.Context()
	store, release, err := s.sessions.Acquire(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer release()

	draft, upgraded, err := s.draft(store, patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := store.Restore(draft); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.sessions.Save(ctx, id, store); err != nil {
		s.logger.Error("Failed to save session", zap.String("session_id", id), zap.Error(err))
		s.fail(c, err)
		return
	}

	resp := s.toSession(id, store)
	if resp.Quote != nil {
		resp.Quote.TierUpgraded = upgraded
	}
	c.JSON(http.StatusOK, resp)
}

// draft applies patch to a fork of the session's store. The fork
// goes through the same enforcement as the session, so upgraded reports
// whether any step raised the tier.
func (s *Server) draft(store *quote.Store, patch api.SessionPatch) (pricing.ServiceConfiguration, bool, error) {
	scratch := store.Fork()

	var upgraded bool
	cancel := scratch.Subscribe(quote.EventResultChanged, func(ev quote.Event) {
		upgraded = upgraded || ev.Snapshot.TierUpgraded
	})
	defer cancel()

	if err := applyPatch(scratch, patch); err != nil {
		return pricing.ServiceConfiguration{}, false, err
	}
	snap, ok := scratch.Snapshot()
	if !ok {
		return pricing.ServiceConfiguration{}, false, fmt.Errorf("patch: %w", quote.ErrNoConfiguration)
	}
	return snap.Configuration, upgraded, nil
}

// applyPatch runs the setters in an order where each one's preconditions
// (a configuration exists, the top tier, a hazardous level) are already in place.
func applyPatch(store *quote.Store, p api.SessionPatch) error {
	rooms := make([]string, 0, len(p.Rooms))
	for room := range p.Rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	for _, room := range rooms {
		if err := store.SetRoomCount(room, p.Rooms[room]); err != nil {
			return err
		}
	}

	steps := []func() error{}
	if p.PropertyAttributes != nil {
		steps = append(steps, func() error { return store.SetPropertyAttributes(*p.PropertyAttributes) })
	}
	if p.Tier != nil {
		steps = append(steps, func() error { return store.SetTier(*p.Tier) })
	}
	if p.CleanlinessLevel != nil {
		steps = append(steps, func() error { return store.SetCleanliness(*p.CleanlinessLevel) })
	}
	if p.Frequency != nil {
		steps = append(steps, func() error { return store.SetFrequency(*p.Frequency) })
	}
	if p.PaymentFrequency != nil {
		steps = append(steps, func() error { return store.SetPaymentFrequency(*p.PaymentFrequency) })
	}
	if p.SelectedAddOns != nil {
		steps = append(steps, func() error { return store.SetAddOns(*p.SelectedAddOns) })
	}
	if p.SelectedExclusiveServices != nil {
		steps = append(steps, func() error { return store.SetExclusiveServices(*p.SelectedExclusiveServices) })
	}
	if p.WaiverSigned != nil {
		steps = append(steps, func() error { return store.SetWaiverSigned(*p.WaiverSigned) })
	}
	if p.VideoRecording != nil {
		steps = append(steps, func() error { return store.SetVideoRecording(*p.VideoRecording) })
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// confirmSession handles POST /v1/sessions/:id/confirm. The price is
// recomputed through the dispatcher; a configuration change that lands
// meanwhile makes the result stale.
func (s *Server) confirmSession(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	store, err := s.sessions.Open(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	snap, offloaded, err := store.Refresh(ctx, s.dispatcher)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, api.Session{ID: id, Quote: s.toQuote(snap, offloaded)})
}

// sessionReceipt handles GET /v1/sessions/:id/receipt?format=text|xlsx
func (s *Server) sessionReceipt(c *gin.Context) {
	id := c.Param("id")
	store, err := s.sessions.Open(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	snap, ok := store.Snapshot()
	if !ok {
		s.fail(c, quote.ErrNoConfiguration)
		return
	}

	r := s.toReceipt(id, snap)
	switch format := c.DefaultQuery("format", "text"); format {
	case "text":
		c.String(http.StatusOK, receipt.Text(r))
	case "xlsx":
		var buf bytes.Buffer
		if err := receipt.WriteXLSX(&buf, r); err != nil {
			s.fail(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="quote-%s.xlsx"`, id))
		c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
	default:
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid format. Must be one of: text, xlsx"})
	}
}

// checkoutSession handles DELETE /v1/sessions/:id. It returns the final
// quote and forgets the session.
func (s *Server) checkoutSession(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	store, release, err := s.sessions.Acquire(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer release()

	snap, err := store.Checkout()
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.sessions.Drop(ctx, id); err != nil {
		s.logger.Warn("Failed to drop session", zap.String("session_id", id), zap.Error(err))
	}

	c.JSON(http.StatusOK, api.Session{ID: id, Quote: s.toQuote(snap, false)})
}

func (s *Server) newStore() *quote.Store {
	return quote.NewStore(s.dispatcher.Table(), s.evaluator, s.logger)
}

func (s *Server) toQuote(snap quote.Snapshot, offloaded bool) *api.Quote {
	table := s.dispatcher.Table()
	return &api.Quote{
		Configuration: snap.Configuration,
		Result:        snap.Result,
		Enforcement:   snap.Enforcement,
		TierUpgraded:  snap.TierUpgraded,
		Generation:    snap.Generation,
		Offloaded:     offloaded,
		Scheme:        table.Scheme(),
		RateVersion:   table.Version(),
	}
}

func (s *Server) toSession(id string, store *quote.Store) api.Session {
	resp := api.Session{ID: id}
	if snap, ok := store.Snapshot(); ok {
		resp.Quote = s.toQuote(snap, false)
	}
	return resp
}

func (s *Server) toReceipt(id string, snap quote.Snapshot) receipt.Receipt {
	table := s.dispatcher.Table()
	return receipt.Receipt{
		Reference:     id,
		IssuedAt:      s.now(),
		Scheme:        table.Scheme(),
		RateVersion:   table.Version(),
		Configuration: snap.Configuration,
		Result:        snap.Result,
		Notice:        snap.Enforcement.Message,
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrInvalidID):
		status = http.StatusBadRequest
	case errors.Is(err, quote.ErrInvalidInput):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, quote.ErrNoConfiguration):
		status = http.StatusNotFound
	case errors.Is(err, quote.ErrStaleResult):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, api.ErrorResponse{Error: "internal error"})
		return
	}
	c.JSON(status, api.ErrorResponse{Error: err.Error()})
}
