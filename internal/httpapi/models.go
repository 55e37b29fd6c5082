package httpapi

import (
	"encoding/json"
	"net/http"
)

// modelsResponse renders a model-name list in both the Gemini and the
// OpenAI-compatible "models" shapes, so one catalog slice backs every
// GET .../models route.
type geminiModel struct {
	Name string `json:"name"`
}

func writeGeminiModels(w http.ResponseWriter, names []string) {
	models := make([]geminiModel, len(names))
	for i, n := range names {
		models[i] = geminiModel{Name: "models/" + n}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"models": models})
}

type openAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

func writeOpenAIModels(w http.ResponseWriter, names []string, ownedBy string) {
	models := make([]openAIModel, len(names))
	for i, n := range names {
		models[i] = openAIModel{ID: n, Object: "model", OwnedBy: ownedBy}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": models})
}

// ModelsHandler lists the configured model catalog for a provider in
// the Gemini list shape.
func ModelsHandler(names []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeGeminiModels(w, names)
	}
}

// OpenAIModelsHandler lists the same catalog in the OpenAI-compatible shape.
func OpenAIModelsHandler(names []string, ownedBy string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeOpenAIModels(w, names, ownedBy)
	}
}

// CodexModelsHandler lists Codex's model catalog in the OpenAI shape,
// which is Codex's native shape.
func CodexModelsHandler(names []string) http.HandlerFunc {
	return OpenAIModelsHandler(names, "openai")
}
