package statemachine

import (
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gridcon-pcs/internal/gridcon/errcatalog"
)

// ErrorHandler recovers the unit from device faults: it collects the active
// error codes, acknowledges them when possible and power cycles the unit
// through the hard reset contactor otherwise.
type ErrorHandler struct {
	cfg     Config
	catalog Catalog
	logger  zerolog.Logger

	state         ErrorState
	active        map[uint32]time.Time
	ackAttempts   int
	resetAttempts int
	resetStarted  time.Time
	unrecoverable bool
}

// ErrorResult is the outcome of one error handler cycle.
type ErrorResult struct {
	Command            Command
	ErrorCodeFeedback  uint32
	HardResetContactor bool
	Done               bool
}

func NewErrorHandler(cfg Config, catalog Catalog) *ErrorHandler {
	return &ErrorHandler{
		cfg:     cfg,
		catalog: catalog,
		logger:  log.With().Str("component", "errorhandler").Logger(),
		active:  map[uint32]time.Time{},
	}
}

func (h *ErrorHandler) State() ErrorState  { return h.state }
func (h *ErrorHandler) AckAttempts() int   { return h.ackAttempts }
func (h *ErrorHandler) ResetAttempts() int { return h.resetAttempts }
func (h *ErrorHandler) Unrecoverable() bool {
	return h.unrecoverable
}

// ActiveErrors returns the collected error codes in ascending order.
func (h *ErrorHandler) ActiveErrors() []uint32 {
	codes := make([]uint32, 0, len(h.active))
	for code := range h.active {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// Begin starts a new error handling pass.
func (h *ErrorHandler) Begin(now time.Time) {
	h.logger.Debug().Time("at", now).Msg("error handling started")
	h.state = ErrorReadErrors
	h.active = map[uint32]time.Time{}
	h.resetStarted = time.Time{}
}

// ResetCounters forgets earlier acknowledge and hard reset attempts. Called
// once the unit has run stable.
func (h *ErrorHandler) ResetCounters() {
	h.ackAttempts = 0
	h.resetAttempts = 0
}

// Reset clears everything including the unrecoverable flag.
func (h *ErrorHandler) Reset() {
	h.ResetCounters()
	h.unrecoverable = false
	h.state = ErrorReadErrors
	h.active = map[uint32]time.Time{}
	h.resetStarted = time.Time{}
}

func (h *ErrorHandler) transition(to ErrorState) {
	if h.state == to {
		return
	}
	h.logger.Info().Str("from", h.state.String()).Str("to", to.String()).Msg("error handling state changed")
	h.state = to
}

// Step runs one cycle. rawErrorCode is the content of the CCU error code register.
func (h *ErrorHandler) Step(now time.Time, rawErrorCode uint32) ErrorResult {
	switch h.state {
	case ErrorReadErrors:
		h.readErrors(now, rawErrorCode)
	case ErrorHandleErrors:
		h.handleErrors()
	case ErrorAcknowledgeErrors:
		return h.acknowledgeErrors()
	case ErrorHardReset:
		return h.hardReset(now)
	case ErrorHandlingNotPossible:
		h.unrecoverable = true
	case ErrorFinishErrorHandling:
		h.active = map[uint32]time.Time{}
		h.transition(ErrorReadErrors)
		return ErrorResult{Done: true}
	}
	return ErrorResult{}
}

func (h *ErrorHandler) readErrors(now time.Time, rawErrorCode uint32) {
	if code := errcatalog.Identifier(rawErrorCode); code != 0 {
		if _, seen := h.active[code]; !seen {
			h.active[code] = now
			h.logger.Warn().Str("code", hexCode(code)).Msg("device error observed")
		}
	}

	// the settling window runs from the newest first sighting; with nothing
	// seen there is nothing to wait for
	var newest time.Time
	for _, firstSeen := range h.active {
		if firstSeen.After(newest) {
			newest = firstSeen
		}
	}
	if !newest.IsZero() && now.Sub(newest) < h.cfg.SettlingWindow {
		return
	}
	h.transition(ErrorHandleErrors)
}

func (h *ErrorHandler) handleErrors() {
	acknowledgeable := true
	for code := range h.active {
		if !h.catalog.Acknowledgeable(code) {
			acknowledgeable = false
			break
		}
	}

	switch {
	case acknowledgeable && h.ackAttempts < h.cfg.MaxAcknowledgeAttempts:
		h.transition(ErrorAcknowledgeErrors)
	case h.resetAttempts < h.cfg.MaxHardResetAttempts:
		h.ackAttempts = 0
		h.resetAttempts++
		h.resetStarted = time.Time{}
		h.transition(ErrorHardReset)
	default:
		h.logger.Error().
			Int("ack_attempts", h.ackAttempts).
			Int("hard_reset_attempts", h.resetAttempts).
			Msg("automatic error recovery exhausted")
		h.unrecoverable = true
		h.transition(ErrorHandlingNotPossible)
	}
}

func (h *ErrorHandler) acknowledgeErrors() ErrorResult {
	h.ackAttempts++

	codes := h.ActiveErrors()
	if len(codes) == 0 {
		h.transition(ErrorFinishErrorHandling)
		return ErrorResult{}
	}

	code := codes[0]
	delete(h.active, code)
	h.logger.Info().Str("code", hexCode(code)).Int("attempt", h.ackAttempts).Msg("acknowledging device error")

	if len(h.active) == 0 {
		h.transition(ErrorFinishErrorHandling)
	}
	return ErrorResult{Command: CommandAcknowledge, ErrorCodeFeedback: code}
}

func (h *ErrorHandler) hardReset(now time.Time) ErrorResult {
	if h.resetStarted.IsZero() {
		h.resetStarted = now
		h.logger.Warn().Int("attempt", h.resetAttempts).Msg("hard reset started")
	}

	elapsed := now.Sub(h.resetStarted)
	switch {
	case elapsed < h.cfg.HardResetSwitchOff:
		return ErrorResult{HardResetContactor: true}
	case elapsed < h.cfg.HardResetDuration:
		return ErrorResult{}
	}

	h.resetStarted = time.Time{}
	h.ackAttempts = 0
	h.transition(ErrorFinishErrorHandling)
	return ErrorResult{}
}

func hexCode(code uint32) string {
	return errcatalog.Entry{Code: code}.Hex()
}
