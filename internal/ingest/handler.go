package ingest

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pollux-gateway/pollux/internal/store"
)

// ResourceAddHandler implements the resource:add batch ingest routes:
// accepts either a single Record or a JSON array, submits each to sink,
// and answers 202 once every record has been handed off (ingestion
// itself, including the initial refresh, happens asynchronously).
func ResourceAddHandler(provider store.Provider, sink Sink) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := decodeRecords(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid credential payload"})
			return
		}
		for _, rec := range records {
			sink.Ingest(rec.toCredential(provider))
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func decodeRecords(r *http.Request) ([]Record, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	var list []Record
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}

	var single Record
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, err
	}
	return []Record{single}, nil
}
