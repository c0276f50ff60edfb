package embeddingtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-occluder/internal/embedding"
)

// Server is a fake face embedding service backed by a Provider.
type Server struct {
	*httptest.Server

	provider embedding.Provider
	ready    atomic.Bool
	model    string
}

type wireFace struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"`
	DetScore  float64   `json:"det_score"`
}

// NewServer starts a fake service. Its models start loaded.
func NewServer(provider embedding.Provider) *Server {
	s := &Server{provider: provider, model: "fake-face"}
	s.ready.Store(true)

	r := chi.NewRouter()
	r.Get("/health", s.health)
	r.Post("/embed/face", s.embedFace)

	s.Server = httptest.NewServer(r)
	return s
}

// SetReady toggles whether /health reports the models as loaded.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"models_loaded": s.ready.Load(),
	})
}

func (s *Server) embedFace(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	faces, err := s.provider.DetectAll(r.Context(), data)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	out := make([]wireFace, 0, len(faces))
	for _, f := range faces {
		out = append(out, wireFace{
			FaceIndex: f.Index,
			Dim:       len(f.Descriptor),
			Embedding: f.Descriptor,
			BBox:      f.BBox,
			DetScore:  f.Score,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"faces_count": len(out),
		"faces":       out,
		"model":       s.model,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
