package core

import "github.com/orrn/label-api/internal/driver"

const imageField = "image"

// PrintRequest is one submission: the base64 image plus every other request
// field, forwarded untouched to the converter.
type PrintRequest struct {
	Image   string
	Options map[string]any
}

type PrintResult struct {
	Success bool               `json:"success"`
	Error   string             `json:"error,omitempty"`
	Result  *driver.SendResult `json:"result,omitempty"`

	JobID string `json:"-"`
	Err   error  `json:"-"`
}

// PrinterSettings identifies the one printer this process drives.
type PrinterSettings struct {
	Model      string
	Backend    string
	Identifier string
}

func failure(err error) PrintResult {
	return PrintResult{Success: false, Error: err.Error(), Err: err}
}

// ParsePrintRequest splits a decoded JSON body into the image and the
// passthrough options.
func ParsePrintRequest(body map[string]any) (PrintRequest, error) {
	raw, ok := body[imageField]
	if !ok || raw == nil {
		return PrintRequest{}, ErrImageRequired
	}

	image, ok := raw.(string)
	if !ok {
		return PrintRequest{}, ErrInvalidImageField
	}

	options := make(map[string]any, len(body))
	for k, v := range body {
		if k == imageField {
			continue
		}
		options[k] = v
	}

	return PrintRequest{Image: image, Options: options}, nil
}
