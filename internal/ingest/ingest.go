// Package ingest is the Credential Store's intake path: a one-shot
// directory scan at startup (cred_path) and the resource:add HTTP
// batch endpoint, both funneling into the Scheduler's Ingest message.
package ingest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pollux-gateway/pollux/internal/store"
)

// Sink is satisfied by a Scheduler: Ingest refreshes, upserts, and
// enqueues (or disables) a credential.
type Sink interface {
	Ingest(c store.Credential)
}

// Record is the JSON shape accepted both from a scanned file and from
// a resource:add POST body.
type Record struct {
	Identity     string `json:"identity"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
	AccessToken  string `json:"access_token"`
}

// ScanDirectory reads every *.json file in dir, parses it as a Record
// (or a list of Records), and submits each to sink. Parse errors on
// individual files are logged and skipped rather than aborting the scan.
func ScanDirectory(dir string, provider store.Provider, sink Sink, log *slog.Logger) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("ingest: read cred_path %s: %w", dir, err)
	}

	count := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		records, err := parseFile(path)
		if err != nil {
			log.Warn("ingest: skipping unparsable credential file", "path", path, "err", err)
			continue
		}
		for _, r := range records {
			sink.Ingest(r.toCredential(provider))
			count++
		}
	}
	log.Info("ingest: startup scan complete", "dir", dir, "provider", provider, "count", count)
	return nil
}

func parseFile(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list []Record
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var single Record
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, err
	}
	return []Record{single}, nil
}

func (r Record) toCredential(provider store.Provider) store.Credential {
	return store.Credential{
		Provider:     provider,
		Identity:     identityFor(r),
		ClientID:     r.ClientID,
		ClientSecret: r.ClientSecret,
		RefreshToken: r.RefreshToken,
		AccessToken:  r.AccessToken,
		Status:       store.StatusEnabled,
	}
}

func identityFor(r Record) string {
	if r.Identity != "" {
		return r.Identity
	}
	return r.RefreshToken
}
