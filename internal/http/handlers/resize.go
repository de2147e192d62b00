package handlers

import (
	"errors"
	"net/http"
	"strings"

	"tryon/internal/imagedata"
	"tryon/internal/imageprep"
	"tryon/internal/tryon"
)

const (
	MsgMissingOptions = "Missing resize options"
	MsgMissingImage   = "Missing image data"
	MsgResizeFailed   = "Failed to resize image"
	MsgImageTooLarge  = "Image dimensions too large"
)

// Resize re-encodes an image according to the requested options.
func (a *App) Resize(w http.ResponseWriter, r *http.Request) {
	var req imageprep.ResizeRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Options == nil {
		a.json(w, http.StatusBadRequest, errorBody{
			Error:   MsgMissingOptions,
			Details: []tryon.FieldError{{Field: "options", Message: MsgMissingOptions}},
		})
		return
	}
	if strings.TrimSpace(req.ImageB64) == "" {
		a.json(w, http.StatusBadRequest, errorBody{
			Error:   MsgMissingImage,
			Details: []tryon.FieldError{{Field: "imageB64", Message: MsgMissingImage}},
		})
		return
	}

	data, err := imagedata.DecodeLoose(req.ImageB64)
	if err != nil {
		a.internalError(w, r, MsgResizeFailed, err)
		return
	}
	out, err := imageprep.Resize(data, *req.Options)
	if err != nil {
		if errors.Is(err, imageprep.ErrInvalidOptions) {
			a.json(w, http.StatusBadRequest, errorBody{
				Error:   MsgInvalidRequest,
				Details: []tryon.FieldError{{Field: "options", Message: err.Error()}},
			})
			return
		}
		if errors.Is(err, imageprep.ErrImageTooLarge) {
			a.json(w, http.StatusBadRequest, errorBody{
				Error:   MsgImageTooLarge,
				Details: []tryon.FieldError{{Field: "imageB64", Message: err.Error()}},
			})
			return
		}
		a.internalError(w, r, MsgResizeFailed, err)
		return
	}

	a.json(w, http.StatusOK, imageprep.ResizeResponse{
		ResizedB64: imagedata.EncodeAs(out.MIME, out.Data),
		Metadata:   out.Metadata,
		ResizeInfo: out.Info,
	})
}
