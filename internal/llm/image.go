package llm

import (
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
)

// Image is an inline image part.
type Image struct {
	MIMEType string
	Data     []byte
}

var dataURIRe = regexp.MustCompile(`^data:(image/(?:jpeg|jpg|png|webp|gif|heic|heif));base64,(.+)$`)

// ErrInvalidDataURI is returned for photos that are not a base64 image
// data URI with a recognized MIME type.
var ErrInvalidDataURI = errors.New("photo is not a base64 image data URI with a recognized type")

// ParseDataURI decodes "data:image/<type>;base64,<payload>".
func ParseDataURI(uri string) (Image, error) {
	m := dataURIRe.FindStringSubmatch(strings.TrimSpace(uri))
	if m == nil {
		return Image{}, ErrInvalidDataURI
	}
	data, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return Image{}, errors.Join(ErrInvalidDataURI, err)
	}
	if len(data) == 0 {
		return Image{}, ErrInvalidDataURI
	}
	mime := m[1]
	if mime == "image/jpg" {
		mime = "image/jpeg"
	}
	return Image{MIMEType: mime, Data: data}, nil
}

// DataURI encodes an image back into data URI form.
func (i Image) DataURI() string {
	return "data:" + i.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}
