package watermark

import "fmt"

// SourceNotFoundError means the original image does not exist.
type SourceNotFoundError struct {
	Path string
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("source image %s not found", e.Path)
}

// ImageProcessingError wraps any failure while producing a derivative.
// Op is one of read, decode, font, logo, encode, write.
type ImageProcessingError struct {
	Op   string
	Path string
	Err  error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("watermark %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ImageProcessingError) Unwrap() error {
	return e.Err
}
