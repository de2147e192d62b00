// Package tryon holds the try-on request/result shapes and the structural
// validation applied before any expensive server-side work.
package tryon

// Request is a single try-on submission: one model photo and one or more
// apparel photos, each as an image data URI.
type Request struct {
	ModelImage    string   `json:"modelImage"`
	ApparelImages []string `json:"apparelImages"`
}

// Result is the composited image returned by a provider, as an image data URI.
type Result struct {
	ImageData string `json:"img_generated"`
}
