package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"tryon/internal/domain"
	"tryon/internal/imagegen"
	"tryon/internal/middleware"
	"tryon/internal/persistence"
	"tryon/internal/tryon"
)

type tryOnResponse struct {
	JobID          string                   `json:"job_id"`
	OutputURLs     []string                 `json:"output_urls"`
	ProcessingTime string                   `json:"processing_time"`
	Saved          bool                     `json:"saved"`
	Generation     *domain.GenerationRecord `json:"generation,omitempty"`
	Warning        string                   `json:"warning,omitempty"`
}

type statusEvent struct {
	Phase imagegen.Phase `json:"phase"`
	Label string         `json:"label"`
}

// TryOn runs a generation for the caller. Clients that accept
// text/event-stream receive phase updates while the job runs.
func (a *App) TryOn(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	req, err := a.parseTryOn(w, r)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	req.UserID = userID

	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		result, err := a.Service.GenerateTryOn(r.Context(), req, nil)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		a.json(w, http.StatusOK, newTryOnResponse(result))
		return
	}

	stream, err := newSSEWriter(w)
	if err != nil {
		a.error(w, http.StatusNotAcceptable, "not_acceptable", err.Error())
		return
	}
	tag := middleware.LocaleTag(r.Context())
	onStatus := func(p imagegen.Phase) {
		if err := stream.event("status", statusEvent{Phase: p, Label: p.Label(tag)}); err != nil {
			a.Logger.Debug().Err(err).Msg("tryon: status event dropped")
		}
	}
	result, err := a.Service.GenerateTryOn(r.Context(), req, onStatus)
	if err != nil {
		code, errCode, message := classify(err)
		a.Logger.Warn().Err(err).Int("status", code).Msg("tryon: stream failed")
		_ = stream.event("error", errorResponse{Error: errCode, Message: message})
		return
	}
	_ = stream.event("result", newTryOnResponse(result))
}

func newTryOnResponse(result *tryon.Result) tryOnResponse {
	resp := tryOnResponse{
		JobID:          result.JobID,
		OutputURLs:     result.OutputURLs,
		ProcessingTime: persistence.FormatProcessingTime(result.ProcessingTime),
		Saved:          result.Saved(),
		Generation:     result.Record,
	}
	if result.PersistenceErr != nil {
		resp.Warning = "generated but not saved to history"
	}
	return resp
}

func (a *App) parseTryOn(w http.ResponseWriter, r *http.Request) (tryon.GenerateRequest, error) {
	var req tryon.GenerateRequest
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	if err := r.ParseMultipartForm(a.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit)
		}
		return req, errors.New("invalid multipart payload")
	}
	var err error
	if req.ModelImage, err = formImage(r, "model_image"); err != nil {
		return req, err
	}
	if req.GarmentImage, err = formImage(r, "garment_image"); err != nil {
		return req, err
	}
	req.Category = domain.Category(strings.TrimSpace(r.FormValue("category")))
	req.Mode = domain.Mode(strings.TrimSpace(r.FormValue("mode")))
	if req.Mode == "" {
		req.Mode = domain.ModeBalanced
	}
	if raw := strings.TrimSpace(r.FormValue("num_samples")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return req, errors.New("num_samples must be an integer")
		}
		req.NumSamples = n
	}
	return req, nil
}

func formImage(r *http.Request, field string) (domain.Image, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return domain.Image{}, fmt.Errorf("%s is required", field)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return domain.Image{}, fmt.Errorf("read %s: %w", field, err)
	}
	if len(data) == 0 {
		return domain.Image{}, fmt.Errorf("%s is empty", field)
	}
	return domain.Image{
		Name:     header.Filename,
		MIMEType: header.Header.Get("Content-Type"),
		Data:     data,
	}, nil
}
