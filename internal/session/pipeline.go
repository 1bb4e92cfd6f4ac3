package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voxline/assistant-ws/internal/monitoring"
)

// startRequest begins the text-in → generated-text → optional audio
// pipeline for one text-input frame. A second text-input while a prior
// request is in flight supersedes it: the prior request context is
// cancelled and its late frames are suppressed by response id.
func (r *Registry) startRequest(rec *Record, text string) {
	if strings.TrimSpace(text) == "" {
		r.send(rec, errorFrame(CodeEmptyText, "text must not be empty"))
		return
	}

	responseID := uuid.NewString()

	rec.mu.Lock()
	if rec.cancelRequest != nil {
		rec.cancelRequest()
	}
	reqCtx, cancel := context.WithCancel(rec.ctx)
	rec.inFlightResponseID = responseID
	rec.cancelRequest = cancel
	rec.mu.Unlock()

	r.send(rec, Outbound{Type: TypeResponseQueued, ResponseID: responseID})

	r.wg.Add(1)
	go r.runPipeline(rec, reqCtx, responseID, text)
}

// interrupt cancels whichever stage is in flight. Cancellation is
// advisory: an already-issued collaborator call may run to completion,
// but its result is discarded.
func (r *Registry) interrupt(rec *Record) {
	rec.mu.Lock()
	cancelled := rec.inFlightResponseID
	cancel := rec.cancelRequest
	rec.inFlightResponseID = ""
	rec.cancelRequest = nil
	rec.mu.Unlock()

	if cancel != nil {
		cancel()
		monitoring.PipelineInterrupts.Inc()
	}

	r.logger.Info().
		Str("client_id", rec.ID).
		Str("response_id", cancelled).
		Msg("Request interrupted")

	r.send(rec, Outbound{Type: TypeOutInterrupt, ResponseID: cancelled})
}

func (r *Registry) runPipeline(rec *Record, reqCtx context.Context, responseID, text string) {
	defer r.wg.Done()
	defer monitoring.RecoverPanic(r.logger, "pipeline", map[string]any{
		"client_id":   rec.ID,
		"response_id": responseID,
	})

	if reqCtx.Err() != nil {
		return
	}

	principal := rec.Principal()

	// Stage 1: response generation.
	genCtx, cancelGen := context.WithTimeout(reqCtx, r.cfg.GenerationTimeout)
	start := time.Now()
	reply, err := r.responder.Generate(genCtx, text, principal)
	cancelGen()
	monitoring.PipelineStageDuration.WithLabelValues("generation").Observe(time.Since(start).Seconds())

	// Interrupted, superseded, or torn down while the call was in
	// flight: discard the late result silently.
	if reqCtx.Err() != nil || rec.InFlightResponseID() != responseID {
		return
	}

	if err != nil {
		code := CodeGenerationFailed
		kind := "failure"
		if errors.Is(err, context.DeadlineExceeded) {
			code = CodeGenerationTimeout
			kind = "timeout"
		}
		monitoring.PipelineFailures.WithLabelValues("generation", kind).Inc()
		r.logger.Warn().
			Err(err).
			Str("client_id", rec.ID).
			Str("response_id", responseID).
			Msg("Response generation failed")
		r.sendPipelineError(rec, responseID, code, err.Error())
		r.clearInFlight(rec, responseID)
		return
	}

	if err := r.send(rec, Outbound{Type: TypeFullText, Text: reply, ResponseID: responseID}); err != nil {
		r.clearInFlight(rec, responseID)
		return
	}

	if principal == nil || !principal.AudioEnabled {
		r.clearInFlight(rec, responseID)
		return
	}

	// Stage 2: speech synthesis. Failures here are reported without
	// discarding the already-delivered text result.
	if r.synthesizer == nil {
		monitoring.PipelineFailures.WithLabelValues("synthesis", "unavailable").Inc()
		r.sendPipelineError(rec, responseID, CodeSynthesisFailed, "speech synthesis unavailable")
		r.clearInFlight(rec, responseID)
		return
	}

	if reqCtx.Err() != nil || rec.InFlightResponseID() != responseID {
		return
	}

	r.send(rec, Outbound{Type: TypeSynthesisStarted, ResponseID: responseID})

	synthCtx, cancelSynth := context.WithTimeout(reqCtx, r.cfg.SynthesisTimeout)
	start = time.Now()
	audioURL, err := r.synthesizer.Synthesize(synthCtx, reply, principal)
	cancelSynth()
	monitoring.PipelineStageDuration.WithLabelValues("synthesis").Observe(time.Since(start).Seconds())

	if reqCtx.Err() != nil || rec.InFlightResponseID() != responseID {
		return
	}

	if err != nil {
		code := CodeSynthesisFailed
		kind := "failure"
		if errors.Is(err, context.DeadlineExceeded) {
			code = CodeSynthesisTimeout
			kind = "timeout"
		}
		monitoring.PipelineFailures.WithLabelValues("synthesis", kind).Inc()
		r.logger.Warn().
			Err(err).
			Str("client_id", rec.ID).
			Str("response_id", responseID).
			Msg("Speech synthesis failed")
		r.sendPipelineError(rec, responseID, code, err.Error())
		r.clearInFlight(rec, responseID)
		return
	}

	r.send(rec, Outbound{Type: TypeSynthesisComplete, ResponseID: responseID})
	r.send(rec, Outbound{Type: TypeAudioURL, AudioURL: audioURL, ResponseID: responseID})
	r.clearInFlight(rec, responseID)
}

func (r *Registry) sendPipelineError(rec *Record, responseID, code, message string) {
	frame := errorFrame(code, message)
	frame.ResponseID = responseID
	r.send(rec, frame)
}

// clearInFlight releases the in-flight slot if it still belongs to
// responseID. A newer request keeps its own slot untouched.
func (r *Registry) clearInFlight(rec *Record, responseID string) {
	rec.mu.Lock()
	if rec.inFlightResponseID == responseID {
		rec.inFlightResponseID = ""
		if rec.cancelRequest != nil {
			rec.cancelRequest()
			rec.cancelRequest = nil
		}
	}
	rec.mu.Unlock()
}
