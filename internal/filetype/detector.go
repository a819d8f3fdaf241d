package filetype

import (
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

const MIMEPDF = "application/pdf"

// Info describes what an upload actually is, judged by its magic bytes.
type Info struct {
	MIMEType    string
	Extension   string
	Supported   bool
	Description string
}

// Detector sniffs uploads before they reach the codec.
type Detector struct{}

func New() *Detector {
	return &Detector{}
}

// DetectBytes classifies data. The filename a client sent is never trusted.
func (d *Detector) DetectBytes(data []byte) *Info {
	mtype := mimetype.Detect(data)
	info := &Info{MIMEType: mtype.String(), Extension: mtype.Extension()}
	d.classify(info, mtype)
	log.Debug().Str("mime", info.MIMEType).Bool("supported", info.Supported).Msg("detected file type")
	return info
}

func (d *Detector) classify(info *Info, mtype *mimetype.MIME) {
	switch {
	case mtype.Is(MIMEPDF):
		info.MIMEType = MIMEPDF
		info.Supported = true
		info.Description = "PDF document"
	case mtype.Is("application/zip"), mtype.Is("application/x-ole-storage"):
		info.Description = "Office or archive file, convert to PDF first"
	default:
		info.Description = fmt.Sprintf("Unsupported file type: %s", info.MIMEType)
	}
}

// CheckPDF returns an error naming the detected type when data is not a PDF.
func (d *Detector) CheckPDF(name string, data []byte) error {
	info := d.DetectBytes(data)
	if info.Supported {
		return nil
	}
	return fmt.Errorf("%s: %s", name, info.Description)
}
