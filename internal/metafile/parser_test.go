package metafile

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ScanDrop/internal/fail"
	"github.com/dharsanguruparan/ScanDrop/internal/model"
)

type metaItem struct {
	DCN      string
	FileName string
	DocType  string
	OcrData  string
}

func metadataJSON(t *testing.T, classification string, items []metaItem) []byte {
	t.Helper()
	rawItems := make([]map[string]any, 0, len(items))
	for _, item := range items {
		m := map[string]any{
			"document_control_number": item.DCN,
			"file_name":               item.FileName,
			"document_type":           item.DocType,
			"scanning_date":           "2024-06-24T09:00:00Z",
		}
		if item.OcrData != "" {
			m["ocr_data"] = item.OcrData
		}
		rawItems = append(rawItems, m)
	}
	payload := map[string]any{
		"po_box":               "PO 1234",
		"jurisdiction":         "SSCS",
		"classification":       classification,
		"delivery_date":        "2024-06-24T08:00:00Z",
		"opening_date":         "2024-06-24T08:30:00Z",
		"zip_file_createddate": "2024-06-24T07:00:00Z",
		"scannable_items":      rawItems,
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return data
}

func innerZip(t *testing.T, metadata []byte, pdfNames ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	if metadata != nil {
		f, err := w.Create("1111002.metadata")
		require.NoError(t, err)
		_, err = f.Write(metadata)
		require.NoError(t, err)
	}
	for _, name := range pdfNames {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte("%PDF-fake " + name))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func requireKind(t *testing.T, err error, kind fail.Kind) {
	t.Helper()
	require.Error(t, err)
	got, ok := fail.KindOf(err)
	require.True(t, ok, "error %v carries no failure kind", err)
	require.Equal(t, kind, got)
}

func TestParse_Success(t *testing.T) {
	meta := metadataJSON(t, "New_Application", []metaItem{
		{DCN: "1111001", FileName: "a.pdf", DocType: "Form"},
		{DCN: "1111002", FileName: "b.pdf", DocType: "other"},
	})
	env, pdfs, err := NewParser().Parse("sscs", "env.zip", innerZip(t, meta, "a.pdf", "b.pdf"))
	require.NoError(t, err)
	require.Equal(t, model.StatusCreated, env.Status)
	require.Equal(t, model.ClassificationNewApplication, env.Classification)
	require.Equal(t, "sscs", env.Container)
	require.Len(t, env.ScannableItems, 2)
	require.Equal(t, model.DocTypeForm, env.ScannableItems[0].DocumentType)
	require.Len(t, pdfs, 2)
}

func TestParse_MissingPdfNamesOffendingFile(t *testing.T) {
	meta := metadataJSON(t, "new_application", []metaItem{
		{DCN: "1", FileName: "a.pdf", DocType: "other"},
		{DCN: "2", FileName: "b.pdf", DocType: "other"},
		{DCN: "3", FileName: "c.pdf", DocType: "other"},
	})
	_, _, err := NewParser().Parse("sscs", "env.zip", innerZip(t, meta, "a.pdf", "b.pdf"))
	requireKind(t, err, fail.NoPdfFileFound)
	require.Contains(t, err.Error(), "c.pdf")
	require.NotContains(t, err.Error(), "a.pdf,")
}

func TestParse_UndeclaredPdfNamesOffendingFile(t *testing.T) {
	meta := metadataJSON(t, "new_application", []metaItem{
		{DCN: "1", FileName: "a.pdf", DocType: "other"},
	})
	_, _, err := NewParser().Parse("sscs", "env.zip", innerZip(t, meta, "a.pdf", "stray.pdf"))
	requireKind(t, err, fail.MetadataNotFound)
	require.Contains(t, err.Error(), "stray.pdf")
}

func TestParse_DisallowedDocumentTypes(t *testing.T) {
	items := []metaItem{
		{DCN: "1", FileName: "a.pdf", DocType: "form"},
		{DCN: "2", FileName: "b.pdf", DocType: "form"},
		{DCN: "3", FileName: "c.pdf", DocType: "sscs1"},
	}
	meta := metadataJSON(t, "supplementary_evidence", items)
	_, _, err := NewParser().Parse("sscs", "env.zip", innerZip(t, meta, "a.pdf", "b.pdf", "c.pdf"))
	requireKind(t, err, fail.DisallowedDocumentTypes)
	// Deduplicated, first-occurrence order.
	require.Contains(t, err.Error(), "[Form, SSCS1]")
	// Once metadata decodes, failures carry the po_box for notifications.
	require.Equal(t, "PO 1234", fail.AsError(err).PoBox)
}

func TestParse_SameItemsAllowedUnderOtherClassifications(t *testing.T) {
	for _, classification := range []string{"new_application", "exception"} {
		items := []metaItem{{DCN: "1", FileName: "a.pdf", DocType: "form"}}
		meta := metadataJSON(t, classification, items)
		_, _, err := NewParser().Parse("sscs", "env.zip", innerZip(t, meta, "a.pdf"))
		require.NoError(t, err, "classification %s", classification)
	}
}

func TestParse_UnexpectedEntryRejected(t *testing.T) {
	meta := metadataJSON(t, "new_application", []metaItem{{DCN: "1", FileName: "a.pdf", DocType: "other"}})
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("1111002.metadata")
	require.NoError(t, err)
	_, err = f.Write(meta)
	require.NoError(t, err)
	f, err = w.Create("a.pdf")
	require.NoError(t, err)
	_, err = f.Write([]byte("%PDF-"))
	require.NoError(t, err)
	f, err = w.Create("notes.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, _, parseErr := NewParser().Parse("sscs", "env.zip", buf.Bytes())
	requireKind(t, parseErr, fail.ZipProcessingFailed)
}

func TestParse_NoMetadataRejected(t *testing.T) {
	_, _, err := NewParser().Parse("sscs", "env.zip", innerZip(t, nil, "a.pdf"))
	requireKind(t, err, fail.ZipProcessingFailed)
}

func TestParse_MissingRequiredFields(t *testing.T) {
	payload := map[string]any{
		"jurisdiction":    "SSCS",
		"classification":  "new_application",
		"scannable_items": []map[string]any{{"file_name": "a.pdf", "document_control_number": "1", "document_type": "other"}},
	}
	meta, err := json.Marshal(payload)
	require.NoError(t, err)
	_, _, parseErr := NewParser().Parse("sscs", "env.zip", innerZip(t, meta, "a.pdf"))
	requireKind(t, parseErr, fail.InvalidMetafile)
}

func TestParse_MalformedMetadataJSON(t *testing.T) {
	_, _, err := NewParser().Parse("sscs", "env.zip", innerZip(t, []byte("{not json"), "a.pdf"))
	requireKind(t, err, fail.InvalidMetafile)
}

func TestParse_OcrData(t *testing.T) {
	ocr := base64.StdEncoding.EncodeToString([]byte(`{"metadata_file":[
		{"metadata_field_name":"first_name","metadata_field_value":"Jo"},
		{"metadata_field_name":"last_name","metadata_field_value":"Bloggs"}
	]}`))
	meta := metadataJSON(t, "supplementary_evidence_with_ocr", []metaItem{
		{DCN: "1", FileName: "a.pdf", DocType: "other", OcrData: ocr},
	})
	env, _, err := NewParser().Parse("sscs", "env.zip", innerZip(t, meta, "a.pdf"))
	require.NoError(t, err)
	require.Equal(t, []model.OcrField{
		{Name: "first_name", Value: "Jo"},
		{Name: "last_name", Value: "Bloggs"},
	}, env.ScannableItems[0].OcrData)
}

func TestParse_MalformedOcrData(t *testing.T) {
	cases := map[string]string{
		"not base64": "!!!not-base64!!!",
		"not json":   base64.StdEncoding.EncodeToString([]byte("nonsense")),
		"no list":    base64.StdEncoding.EncodeToString([]byte(`{"something_else":[]}`)),
	}
	for name, ocr := range cases {
		t.Run(name, func(t *testing.T) {
			meta := metadataJSON(t, "supplementary_evidence_with_ocr", []metaItem{
				{DCN: "1", FileName: "a.pdf", DocType: "other", OcrData: ocr},
			})
			_, _, err := NewParser().Parse("sscs", "env.zip", innerZip(t, meta, "a.pdf"))
			requireKind(t, err, fail.OcrDataParse)
			fe := fail.AsError(err)
			require.Equal(t, "1", fe.DocumentControlNumber)
		})
	}
}

func TestParse_ClassificationCaseInsensitive(t *testing.T) {
	meta := metadataJSON(t, "EXCEPTION", []metaItem{{DCN: "1", FileName: "a.pdf", DocType: "other"}})
	env, _, err := NewParser().Parse("sscs", "env.zip", innerZip(t, meta, "a.pdf"))
	require.NoError(t, err)
	require.Equal(t, model.ClassificationException, env.Classification)
}
