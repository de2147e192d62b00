package tryon

import (
	"fmt"
	"strings"

	"tryon/internal/imagedata"
)

// Messages reported per offending field.
const (
	MsgMissingModel       = "Missing model image"
	MsgMissingApparel     = "At least one apparel image required"
	MsgEmptyApparel       = "Apparel image must not be empty"
	MsgInvalidModelFormat = "Invalid model image format"
	MsgInvalidApparel     = "Invalid apparel image format"
)

// FieldError names one offending field and why it was rejected.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError enumerates every offending field of a request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validate checks the structure of req. Every image must be a non-empty image
// data URI with a well-formed base64 payload. It returns nil when req is valid.
func Validate(req Request) *ValidationError {
	var fields []FieldError

	switch {
	case strings.TrimSpace(req.ModelImage) == "":
		fields = append(fields, FieldError{Field: "modelImage", Message: MsgMissingModel})
	case !imagedata.Valid(req.ModelImage):
		fields = append(fields, FieldError{Field: "modelImage", Message: MsgInvalidModelFormat})
	}

	if len(req.ApparelImages) == 0 {
		fields = append(fields, FieldError{Field: "apparelImages", Message: MsgMissingApparel})
	}
	for i, img := range req.ApparelImages {
		field := fmt.Sprintf("apparelImages[%d]", i)
		switch {
		case strings.TrimSpace(img) == "":
			fields = append(fields, FieldError{Field: field, Message: MsgEmptyApparel})
		case !imagedata.Valid(img):
			fields = append(fields, FieldError{Field: field, Message: MsgInvalidApparel})
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}
