package models

import (
	"encoding/json"

	"bitbucket.org/mmdatafocus/dairy_backend/ledger"
)

// structToDocument flattens a typed record into the loosely-typed document
// shape the ledger stores. Decimals become strings and timestamps RFC3339
// strings; the tolerant read-side parsers accept both.
func structToDocument(v interface{}) ledger.Document {
	data, err := json.Marshal(v)
	if err != nil {
		return ledger.Document{}
	}
	doc := ledger.Document{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return ledger.Document{}
	}
	return doc
}
