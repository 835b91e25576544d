package metafile

import (
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/dharsanguruparan/ScanDrop/internal/model"
)

// ocrEnvelope is the scanning provider's OCR payload: base64-encoded JSON
// holding a metadata_file list of (name, value) pairs.
type ocrEnvelope struct {
	MetadataFile []ocrPair `json:"metadata_file"`
}

type ocrPair struct {
	Name  string `json:"metadata_field_name"`
	Value string `json:"metadata_field_value"`
}

// parseOcrData decodes the ocr_data field. Empty input means no OCR fields.
func parseOcrData(encoded string) ([]model.OcrField, error) {
	if encoded == "" {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	var payload ocrEnvelope
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, err
	}
	if payload.MetadataFile == nil {
		return nil, errors.New("ocr data has no metadata_file list")
	}
	fields := make([]model.OcrField, 0, len(payload.MetadataFile))
	for _, pair := range payload.MetadataFile {
		if pair.Name == "" {
			return nil, errors.New("ocr field with empty name")
		}
		fields = append(fields, model.OcrField{Name: pair.Name, Value: pair.Value})
	}
	return fields, nil
}
